// Copyright (C) 2021 Toitware ApS.
//
// This library is free software; you can redistribute it and/or
// modify it under the terms of the GNU Lesser General Public
// License as published by the Free Software Foundation; version
// 2.1 only.
//
// This library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the GNU
// Lesser General Public License for more details.
//
// The license can be found in the file `LICENSE` in the top level
// directory of this repository.

package compman

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Names(t *testing.T) {
	t.Run("Normalize", func(t *testing.T) {
		assert.Equal(t, "espressif/led_strip", NormalizeName(" LED_Strip ", DefaultNamespace))
		assert.Equal(t, "other/x", NormalizeName("Other/X", DefaultNamespace))
		assert.Equal(t, "idf", NormalizeName("IDF", DefaultNamespace))
		assert.Equal(t, "local", NormalizeName("local", ""))
	})

	t.Run("Build", func(t *testing.T) {
		assert.Equal(t, "espressif__led_strip", BuildName("espressif/led_strip"))
		assert.Equal(t, "led_strip", ShortName("espressif/led_strip"))
		assert.Equal(t, "led_strip", ShortName("led_strip"))
		assert.Equal(t, "led_strip", shortBuildName("espressif__led_strip"))
		assert.Equal(t, "led_strip", shortBuildName("led_strip"))
	})

	t.Run("Validate", func(t *testing.T) {
		for _, name := range []string{"idf", "cjson", "espressif/led_strip", "a1/b-2", "ab_cd-ef"} {
			assert.NoError(t, ValidateName(name), name)
		}
		for _, name := range []string{"", "a", "a/b/c", "Upper", "with space", "-lead", "trail_", "dou__ble", "x/", "espressif/a"} {
			assert.Error(t, ValidateName(name), name)
		}
	})
}

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
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toitlang/idfcomp/pkg/semver"
)

func Test_ParseConstraints(t *testing.T) {
	t.Run("Entries", func(t *testing.T) {
		c, err := ParseConstraints(`
# Pinned for the release.
espressif/cjson>=1.7;led_strip ~2.4   # Needed by the demo.
other/lib==1.0.0
cjson<2.0
`, DefaultNamespace)
		require.NoError(t, err)
		assert.Len(t, c, 3)

		cjson := c["espressif/cjson"]
		assert.True(t, cjson.Contains(semver.MustParse("1.7.0")))
		assert.True(t, cjson.Contains(semver.MustParse("1.9.3")))
		assert.False(t, cjson.Contains(semver.MustParse("2.0.0")))
		assert.False(t, cjson.Contains(semver.MustParse("1.6.0")))

		strip := c["espressif/led_strip"]
		assert.True(t, strip.Contains(semver.MustParse("2.4.5")))
		assert.False(t, strip.Contains(semver.MustParse("2.5.0")))

		v, ok := c["other/lib"].IsExact()
		require.True(t, ok)
		assert.Equal(t, "1.0.0", v.String())
	})

	t.Run("Empty", func(t *testing.T) {
		c, err := ParseConstraints("  \n# nothing\n;", DefaultNamespace)
		require.NoError(t, err)
		assert.Empty(t, c)
	})

	t.Run("Errors", func(t *testing.T) {
		for _, s := range []string{"cjson", "cjson >>1.0", ">=1.0", "cj.son>=1.0"} {
			t.Run(s, func(t *testing.T) {
				_, err := ParseConstraints(s, DefaultNamespace)
				require.Error(t, err)
				assert.True(t, errors.Is(err, semver.ErrInvalidRange))
				assert.Equal(t, ExitBadInput, ExitCode(err))
			})
		}
	})
}

func Test_LoadConstraints(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "constraints.txt")
	require.NoError(t, os.WriteFile(p, []byte("espressif/a>=1.0\n# comment\nb<3.0\n"), 0644))

	c, err := LoadConstraints(Settings{
		ConstraintFiles:  []string{p},
		Constraints:      "a<2.0",
		DefaultNamespace: DefaultNamespace,
	})
	require.NoError(t, err)
	a := c["espressif/a"]
	assert.True(t, a.Contains(semver.MustParse("1.5.0")))
	assert.False(t, a.Contains(semver.MustParse("2.0.0")))
	assert.False(t, a.Contains(semver.MustParse("0.9.0")))
	assert.True(t, c["espressif/b"].Contains(semver.MustParse("2.9.9")))

	t.Run("MissingFile", func(t *testing.T) {
		_, err := LoadConstraints(Settings{ConstraintFiles: []string{filepath.Join(dir, "missing.txt")}})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrEnvironment))
	})
}

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

package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_String(t *testing.T) {
	t.Run("zero value", func(t *testing.T) {
		var s String
		assert.False(t, s.Contains("a"))
		assert.Empty(t, s.Sorted())
		s.Add("b", "a", "b")
		assert.True(t, s.Contains("a"))
		assert.Equal(t, []string{"a", "b"}, s.Sorted())
	})

	t.Run("duplicates", func(t *testing.T) {
		assert.Empty(t, DuplicatesFold([]string{"a", "b"}))
		assert.Equal(t, []string{"A"}, DuplicatesFold([]string{"a", "A", "b", "a"}))
		assert.Equal(t, []string{"B", "A"}, DuplicatesFold([]string{"a", "b", "B", "A"}))
	})
}

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

package hashtree

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFiles(t *testing.T, root string, files map[string]string) {
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
}

func sha(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func Test_ListFiles(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"CMakeLists.txt":          "x",
		"src/a.c":                 "a",
		"src/sub/b.c":             "b",
		"include/a.h":             "h",
		".git/HEAD":               "ref",
		".component_hash":         "abc",
		"build/out.o":             "o",
		"src/__pycache__/x.pyc":   "p",
		"sdkconfig":               "s",
		"docs/readme.md":          "d",
		"managed_components/m/x":  "m",
		"examples/build/ignore.o": "o",
	})

	t.Run("Defaults", func(t *testing.T) {
		files, err := ListFiles(root, Filter{})
		require.NoError(t, err)
		assert.Equal(t, []string{
			"CMakeLists.txt",
			"docs/readme.md",
			"include/a.h",
			"src/a.c",
			"src/sub/b.c",
		}, files)
	})

	t.Run("Include and exclude", func(t *testing.T) {
		files, err := ListFiles(root, Filter{
			Include: []string{"src/**/*", "CMakeLists.txt"},
			Exclude: []string{"**/sub/**"},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"CMakeLists.txt", "src/a.c"}, files)
	})

	t.Run("Gitignore", func(t *testing.T) {
		writeFiles(t, root, map[string]string{".gitignore": "docs/\n*.h\n"})
		defer os.Remove(filepath.Join(root, ".gitignore"))
		files, err := ListFiles(root, Filter{UseGitignore: true})
		require.NoError(t, err)
		assert.Equal(t, []string{".gitignore", "CMakeLists.txt", "src/a.c", "src/sub/b.c"}, files)
	})
}

func Test_HashDir(t *testing.T) {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{
		"b.txt":     "bbb",
		"a/x.txt":   "xxx",
		".git/HEAD": "ignored",
	})

	h, err := HashDir(root, Filter{})
	require.NoError(t, err)
	expected := sha("a/x.txt" + sha("xxx") + "b.txt" + sha("bbb"))
	assert.Equal(t, expected, h)
	assert.True(t, IsValidHash(h))

	t.Run("Hash file is excluded", func(t *testing.T) {
		require.NoError(t, WriteHashFile(root, h))
		h2, err := HashDir(root, Filter{})
		require.NoError(t, err)
		assert.Equal(t, h, h2)
		read, err := ReadHashFile(root)
		require.NoError(t, err)
		assert.Equal(t, h, read)
	})

	t.Run("Content change", func(t *testing.T) {
		writeFiles(t, root, map[string]string{"b.txt": "changed"})
		h2, err := HashDir(root, Filter{})
		require.NoError(t, err)
		assert.NotEqual(t, h, h2)
	})

	t.Run("Empty directory", func(t *testing.T) {
		h, err := HashDir(t.TempDir(), Filter{})
		require.NoError(t, err)
		assert.Equal(t, sha(""), h)
	})

	t.Run("Invalid pattern", func(t *testing.T) {
		_, err := HashDir(root, Filter{Include: []string{"[a"}})
		assert.Error(t, err)
	})
}

func Test_IsValidHash(t *testing.T) {
	assert.True(t, IsValidHash(sha("x")))
	assert.False(t, IsValidHash("abc"))
	assert.False(t, IsValidHash(sha("x")[:63]+"G"))
}

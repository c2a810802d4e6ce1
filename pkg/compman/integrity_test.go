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
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toitlang/idfcomp/pkg/hashtree"
)

func Test_ValidateManagedComponent(t *testing.T) {
	newComponent := func(t *testing.T, files map[string]string) (string, string) {
		dir := t.TempDir()
		writeFiles(t, dir, files)
		hash, err := hashtree.HashDir(dir, ComponentFilter(dir))
		require.NoError(t, err)
		require.NoError(t, hashtree.WriteHashFile(dir, hash))
		return dir, hash
	}
	files := map[string]string{
		"CMakeLists.txt": "idf_component_register(SRCS \"a.c\")\n",
		"a.c":            "int a;\n",
		"include/a.h":    "extern int a;\n",
	}

	t.Run("OK", func(t *testing.T) {
		dir, hash := newComponent(t, files)
		status, recorded, err := ValidateManagedComponent(dir)
		require.NoError(t, err)
		assert.Equal(t, StatusOK, status)
		assert.Equal(t, hash, recorded)
	})

	t.Run("Untracked", func(t *testing.T) {
		dir := t.TempDir()
		writeFiles(t, dir, files)
		status, recorded, err := ValidateManagedComponent(dir)
		require.NoError(t, err)
		assert.Equal(t, StatusUntracked, status)
		assert.Empty(t, recorded)
	})

	t.Run("ChangedFile", func(t *testing.T) {
		dir, _ := newComponent(t, files)
		writeFiles(t, dir, map[string]string{"a.c": "int a = 1;\n"})
		status, _, err := ValidateManagedComponent(dir)
		require.NoError(t, err)
		assert.Equal(t, StatusModified, status)
	})

	t.Run("AddedFile", func(t *testing.T) {
		dir, _ := newComponent(t, files)
		writeFiles(t, dir, map[string]string{"b.c": ""})
		status, _, err := ValidateManagedComponent(dir)
		require.NoError(t, err)
		assert.Equal(t, StatusModified, status)
	})

	t.Run("IgnoredFile", func(t *testing.T) {
		dir, _ := newComponent(t, files)
		writeFiles(t, dir, map[string]string{"build/out.o": "x", ".DS_Store": "x"})
		status, _, err := ValidateManagedComponent(dir)
		require.NoError(t, err)
		assert.Equal(t, StatusOK, status)
	})

	t.Run("FileRules", func(t *testing.T) {
		withManifest := map[string]string{
			ManifestName: "files:\n  exclude: [\"docs/**/*\"]\n",
			"a.c":        "int a;\n",
		}
		dir, _ := newComponent(t, withManifest)
		writeFiles(t, dir, map[string]string{"docs/index.md": "# Docs\n"})
		status, _, err := ValidateManagedComponent(dir)
		require.NoError(t, err)
		assert.Equal(t, StatusOK, status)
	})

	t.Run("CorruptHashFile", func(t *testing.T) {
		dir, _ := newComponent(t, files)
		garbage := make([]byte, 64)
		_, err := rand.Read(garbage)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(filepath.Join(dir, hashtree.HashFileName), garbage, 0644))
		status, _, err := ValidateManagedComponent(dir)
		require.NoError(t, err)
		assert.Equal(t, StatusModified, status)
	})

	t.Run("UnreadableHashFile", func(t *testing.T) {
		dir := t.TempDir()
		writeFiles(t, dir, files)
		// A directory in place of the hash file can't be read, even by root.
		require.NoError(t, os.Mkdir(filepath.Join(dir, hashtree.HashFileName), 0755))
		status, recorded, err := ValidateManagedComponent(dir)
		require.NoError(t, err)
		assert.Equal(t, StatusUntracked, status)
		assert.Empty(t, recorded)
	})

	t.Run("IsModified", func(t *testing.T) {
		assert.True(t, Settings{}.isModified(StatusModified))
		assert.False(t, Settings{}.isModified(StatusUntracked))
		assert.False(t, Settings{}.isModified(StatusOK))
		assert.True(t, Settings{StrictChecksum: true}.isModified(StatusUntracked))
		assert.False(t, Settings{OverwriteManagedComponents: true}.isModified(StatusModified))
	})

	assert.Equal(t, "modified", StatusModified.String())
}

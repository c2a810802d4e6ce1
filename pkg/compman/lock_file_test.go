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
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testHash = "0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcdef"

func Test_LockFile(t *testing.T) {
	newLockFile := func(p string) *LockFile {
		lf := NewLockFile(p)
		lf.ManifestHash = testHash
		lf.Target = "esp32"
		lf.DirectDependencies = []string{"espressif/b", "idf"}
		lf.Dependencies["espressif/b"] = LockEntry{
			ComponentHash: testHash,
			Dependencies: []LockDependency{
				{Name: "espressif/a", Require: "private", Version: "^1.0"},
			},
			Source:  SourceSpec{Type: KindRegistry, RegistryURL: DefaultRegistryURL},
			Version: "2.0.0",
		}
		lf.Dependencies["espressif/a"] = LockEntry{
			ComponentHash: testHash,
			Source:        SourceSpec{Type: KindRegistry, RegistryURL: DefaultRegistryURL},
			Targets:       []string{"esp32"},
			Version:       "1.1.0",
		}
		lf.Dependencies["idf"] = LockEntry{
			Source:  SourceSpec{Type: KindToolchain},
			Version: "5.1.2",
		}
		return lf
	}

	t.Run("ReadWrite", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), LockFileName)
		lf := newLockFile(p)
		require.NoError(t, lf.WriteToFile())

		read, err := ReadLockFile(p)
		require.NoError(t, err)
		assert.Equal(t, lf, read)
		assert.Equal(t, []string{"espressif/a", "espressif/b", "idf"}, read.Names())
		assert.False(t, read.HasLocal())

		b, err := os.ReadFile(p)
		require.NoError(t, err)
		content := string(b)
		// Keys are written in a stable order.
		assert.Less(t, strings.Index(content, "dependencies:"), strings.Index(content, "direct_dependencies:"))
		assert.Less(t, strings.Index(content, "manifest_hash:"), strings.Index(content, "target:"))
		assert.Less(t, strings.Index(content, "espressif/a:"), strings.Index(content, "espressif/b:"))
		assert.Contains(t, content, "version: 2.0.0\n")
	})

	t.Run("Untouched", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), LockFileName)
		require.NoError(t, newLockFile(p).WriteToFile())
		old := time.Now().Add(-time.Hour).Truncate(time.Second)
		require.NoError(t, os.Chtimes(p, old, old))

		require.NoError(t, newLockFile(p).WriteToFile())
		info, err := os.Stat(p)
		require.NoError(t, err)
		assert.True(t, info.ModTime().Equal(old))
	})

	t.Run("Local", func(t *testing.T) {
		lf := newLockFile("")
		lf.Dependencies["mine"] = LockEntry{Source: SourceSpec{Type: KindLocal, Path: "../mine"}, Version: "*"}
		assert.True(t, lf.HasLocal())
		assert.NoError(t, lf.Validate())
	})

	t.Run("Invalid", func(t *testing.T) {
		tests := []struct {
			name    string
			change  func(lf *LockFile)
			problem string
		}{
			{"MissingHash", func(lf *LockFile) {
				e := lf.Dependencies["espressif/a"]
				e.ComponentHash = ""
				lf.Dependencies["espressif/a"] = e
			}, "dependencies.espressif/a: missing or invalid component_hash"},
			{"BadHash", func(lf *LockFile) {
				e := lf.Dependencies["espressif/a"]
				e.ComponentHash = "abc"
				lf.Dependencies["espressif/a"] = e
			}, "component_hash"},
			{"LocalWithoutPath", func(lf *LockFile) {
				lf.Dependencies["x"] = LockEntry{Source: SourceSpec{Type: KindLocal}, Version: "*"}
			}, "local source without path"},
			{"UnknownType", func(lf *LockFile) {
				lf.Dependencies["x"] = LockEntry{Source: SourceSpec{Type: "ftp"}, Version: "1.0.0"}
			}, "unknown source type 'ftp'"},
			{"MissingVersion", func(lf *LockFile) {
				lf.Dependencies["x"] = LockEntry{Source: SourceSpec{Type: KindToolchain}}
			}, "missing version"},
			{"FormatVersion", func(lf *LockFile) {
				lf.Version = "3.0.0"
			}, "unsupported lock file version"},
		}
		for _, test := range tests {
			t.Run(test.name, func(t *testing.T) {
				lf := newLockFile("")
				test.change(lf)
				err := lf.Validate()
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidManifest))
				assert.Contains(t, err.Error(), test.problem)
			})
		}
	})

	t.Run("ReadInvalid", func(t *testing.T) {
		dir := t.TempDir()
		p := filepath.Join(dir, LockFileName)
		require.NoError(t, os.WriteFile(p, []byte("dependencies: [\n"), 0644))
		_, err := ReadLockFile(p)
		assert.True(t, errors.Is(err, ErrInvalidManifest))

		_, err = ReadLockFile(filepath.Join(dir, "missing.lock"))
		assert.True(t, os.IsNotExist(err))
	})
}

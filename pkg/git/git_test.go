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

package git

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireGit(t *testing.T) {
	// The file transport of go-git runs 'git-upload-pack'.
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

func commitFiles(t *testing.T, repo *gogit.Repository, dir string, files map[string]string, msg string) string {
	wt, err := repo.Worktree()
	require.NoError(t, err)
	for rel, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
		_, err := wt.Add(rel)
		require.NoError(t, err)
	}
	hash, err := wt.Commit(msg, &gogit.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return hash.String()
}

func Test_Mirror(t *testing.T) {
	requireGit(t)
	ctx := context.Background()

	srcDir := t.TempDir()
	src, err := gogit.PlainInit(srcDir, false)
	require.NoError(t, err)
	first := commitFiles(t, src, srcDir, map[string]string{
		"idf_component.yml":    "version: 1.0.0\n",
		"components/foo/foo.c": "foo",
		"components/foo/CMake": "cmake",
		"README.md":            "readme",
	}, "first")
	head, err := src.Head()
	require.NoError(t, err)
	_, err = src.CreateTag("v1.0.0", head.Hash(), nil)
	require.NoError(t, err)
	second := commitFiles(t, src, srcDir, map[string]string{"README.md": "changed"}, "second")

	mirrorDir := filepath.Join(t.TempDir(), "mirror")
	repo, err := Mirror(ctx, mirrorDir, MirrorOptions{URL: srcDir})
	require.NoError(t, err)

	t.Run("Resolve", func(t *testing.T) {
		branch, err := repo.DefaultBranch(ctx)
		require.NoError(t, err)
		id, err := repo.ResolveRef(ctx, branch)
		require.NoError(t, err)
		assert.Equal(t, second, id)

		id, err = repo.ResolveRef(ctx, "")
		require.NoError(t, err)
		assert.Equal(t, second, id)

		id, err = repo.ResolveRef(ctx, "v1.0.0")
		require.NoError(t, err)
		assert.Equal(t, first, id)

		id, err = repo.ResolveRef(ctx, first)
		require.NoError(t, err)
		assert.Equal(t, first, id)

		_, err = repo.ResolveRef(ctx, "does-not-exist")
		assert.True(t, errors.Is(err, ErrRefNotFound))
	})

	t.Run("ReadFile", func(t *testing.T) {
		content, err := repo.ReadFile(first, "README.md")
		require.NoError(t, err)
		assert.Equal(t, "readme", string(content))
		_, err = repo.ReadFile(first, "missing.txt")
		assert.True(t, errors.Is(err, os.ErrNotExist))
	})

	t.Run("Export", func(t *testing.T) {
		dest := t.TempDir()
		require.NoError(t, repo.Export(ctx, second, dest, ExportOptions{}))
		content, err := os.ReadFile(filepath.Join(dest, "README.md"))
		require.NoError(t, err)
		assert.Equal(t, "changed", string(content))
		assert.FileExists(t, filepath.Join(dest, "components", "foo", "foo.c"))
		assert.NoDirExists(t, filepath.Join(dest, ".git"))
	})

	t.Run("Export sub path", func(t *testing.T) {
		dest := t.TempDir()
		require.NoError(t, repo.Export(ctx, first, dest, ExportOptions{SubPath: "components/foo"}))
		entries, err := os.ReadDir(dest)
		require.NoError(t, err)
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		assert.ElementsMatch(t, []string{"foo.c", "CMake"}, names)

		err = repo.Export(ctx, first, t.TempDir(), ExportOptions{SubPath: "nope"})
		assert.Error(t, err)
	})

	t.Run("Reopen", func(t *testing.T) {
		third := commitFiles(t, src, srcDir, map[string]string{"new.txt": "new"}, "third")
		reopened, err := Mirror(ctx, mirrorDir, MirrorOptions{URL: srcDir})
		require.NoError(t, err)
		_, err = reopened.ResolveRef(ctx, third)
		assert.Error(t, err)

		fetched, err := Mirror(ctx, mirrorDir, MirrorOptions{URL: srcDir, Fetch: true})
		require.NoError(t, err)
		id, err := fetched.ResolveRef(ctx, third)
		require.NoError(t, err)
		assert.Equal(t, third, id)
	})
}

func Test_ResolveSubmoduleURL(t *testing.T) {
	assert.Equal(t, "https://github.com/org/lib.git", resolveSubmoduleURL("https://github.com/org/app.git", "../lib.git"))
	assert.Equal(t, "https://example.com/x.git", resolveSubmoduleURL("https://github.com/org/app.git", "https://example.com/x.git"))
	assert.Equal(t, filepath.Join("/repos", "lib"), resolveSubmoduleURL("/repos/app", "../lib"))
}

func Test_NormalizeURL(t *testing.T) {
	assert.Equal(t, "https://github.com/espressif/esp-idf", NormalizeURL("github.com/espressif/esp-idf"))
	assert.Equal(t, "git@github.com:espressif/esp-idf.git", NormalizeURL("git@github.com:espressif/esp-idf.git"))
	assert.Equal(t, "/tmp/repo", NormalizeURL("/tmp/repo"))
}

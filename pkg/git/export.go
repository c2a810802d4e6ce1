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
	"fmt"
	"io"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/filemode"
	"github.com/go-git/go-git/v5/plumbing/object"
)

// SubmoduleOpener returns the mirror for a submodule URL.
type SubmoduleOpener func(ctx context.Context, url string) (*Repo, error)

type ExportOptions struct {
	// SubPath restricts the export to a directory of the repository.
	SubPath string
	// OpenSubmodule is used to get the content of submodules. If nil,
	// submodules are skipped.
	OpenSubmodule SubmoduleOpener
}

// Export writes the tree of the given commit into [dest].
// The destination directory must exist.
func (r *Repo) Export(ctx context.Context, commitID string, dest string, options ExportOptions) error {
	root, err := r.commitTree(commitID)
	if err != nil {
		return err
	}
	var modules map[string]*config.Submodule
	if options.OpenSubmodule != nil {
		modules, err = readModules(root)
		if err != nil {
			return err
		}
	}
	tree := root
	prefix := ""
	if options.SubPath != "" {
		prefix = strings.Trim(path.Clean(filepath.ToSlash(options.SubPath)), "/")
		tree, err = root.Tree(prefix)
		if err != nil {
			return fmt.Errorf("path '%s' not found in commit %s of '%s'", options.SubPath, commitID, r.url)
		}
	}
	e := exporter{
		repo:    r,
		modules: modules,
		open:    options.OpenSubmodule,
	}
	return e.exportTree(ctx, tree, prefix, dest)
}

type exporter struct {
	repo    *Repo
	modules map[string]*config.Submodule
	open    SubmoduleOpener
}

func readModules(root *object.Tree) (map[string]*config.Submodule, error) {
	f, err := root.File(".gitmodules")
	if err == object.ErrFileNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	content, err := f.Contents()
	if err != nil {
		return nil, err
	}
	modules := config.NewModules()
	if err := modules.Unmarshal([]byte(content)); err != nil {
		return nil, err
	}
	result := map[string]*config.Submodule{}
	for _, m := range modules.Submodules {
		result[path.Clean(m.Path)] = m
	}
	return result, nil
}

// resolveSubmoduleURL resolves relative submodule URLs ('../lib.git')
// against the URL of the super project.
func resolveSubmoduleURL(base string, rel string) string {
	if !strings.HasPrefix(rel, "./") && !strings.HasPrefix(rel, "../") {
		return rel
	}
	if u, err := url.Parse(base); err == nil && u.Scheme != "" {
		u.Path = path.Join(u.Path, rel)
		return u.String()
	}
	return filepath.Join(base, filepath.FromSlash(rel))
}

func (e *exporter) exportTree(ctx context.Context, tree *object.Tree, repoPath string, dest string) error {
	for _, entry := range tree.Entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		target := filepath.Join(dest, entry.Name)
		entryPath := path.Join(repoPath, entry.Name)
		switch entry.Mode {
		case filemode.Dir:
			sub, err := e.repo.repository.TreeObject(entry.Hash)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(target, 0755); err != nil {
				return err
			}
			if err := e.exportTree(ctx, sub, entryPath, target); err != nil {
				return err
			}
		case filemode.Submodule:
			if err := e.exportSubmodule(ctx, entryPath, entry.Hash, target); err != nil {
				return err
			}
		case filemode.Symlink:
			blob, err := e.repo.repository.BlobObject(entry.Hash)
			if err != nil {
				return err
			}
			linkTarget, err := readBlob(blob)
			if err != nil {
				return err
			}
			if err := os.Symlink(string(linkTarget), target); err != nil {
				return err
			}
		default:
			blob, err := e.repo.repository.BlobObject(entry.Hash)
			if err != nil {
				return err
			}
			perm := os.FileMode(0644)
			if entry.Mode == filemode.Executable {
				perm = 0755
			}
			if err := writeBlob(blob, target, perm); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *exporter) exportSubmodule(ctx context.Context, repoPath string, hash plumbing.Hash, target string) error {
	if e.open == nil {
		return nil
	}
	m, ok := e.modules[repoPath]
	if !ok {
		return fmt.Errorf("submodule '%s' is missing from .gitmodules", repoPath)
	}
	sub, err := e.open(ctx, resolveSubmoduleURL(e.repo.url, m.URL))
	if err != nil {
		return fmt.Errorf("failed to fetch submodule '%s': %w", repoPath, err)
	}
	if err := os.MkdirAll(target, 0755); err != nil {
		return err
	}
	return sub.Export(ctx, hash.String(), target, ExportOptions{OpenSubmodule: e.open})
}

func readBlob(blob *object.Blob) ([]byte, error) {
	r, err := blob.Reader()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

func writeBlob(blob *object.Blob, target string, perm os.FileMode) error {
	r, err := blob.Reader()
	if err != nil {
		return err
	}
	defer r.Close()
	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

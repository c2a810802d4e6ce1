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
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/toitlang/idfcomp/pkg/git"
	"github.com/toitlang/idfcomp/pkg/hashtree"
	"github.com/toitlang/idfcomp/pkg/semver"
	"github.com/toitlang/idfcomp/pkg/solver"
	"go.trai.ch/zerr"
)

var zeroVersion = semver.MustParse("0.0.0")

// GitSource provides a component stored in a git repository.
type GitSource struct {
	url     string
	subPath string
	// ref is the branch, tag, or commit. Empty means the default branch.
	ref   string
	cache Cache
	ui    UI

	mu       sync.Mutex
	mirrors  map[string]*git.Repo
	versions map[string][]ComponentVersion
}

// NewGitSource creates a source for the component at subPath of the
// repository.
func NewGitSource(repoURL string, subPath string, ref string, cache Cache, ui UI) *GitSource {
	if ref == AnyVersion {
		ref = ""
	}
	return &GitSource{
		url:      repoURL,
		subPath:  strings.Trim(path.Clean("/"+filepath.ToSlash(subPath)), "/"),
		ref:      ref,
		cache:    cache,
		ui:       ui,
		mirrors:  map[string]*git.Repo{},
		versions: map[string][]ComponentVersion{},
	}
}

func (s *GitSource) Kind() SourceKind { return KindGit }

// HashKey identifies the repository and the directory in it. The ref is
// not part of the key: the cache entries of a component are distinguished
// by commit.
func (s *GitSource) HashKey() string {
	return "git:" + s.url + "#" + s.subPath
}

func (s *GitSource) Downloadable() bool { return true }

func (s *GitSource) NormalizedName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func (s *GitSource) Spec() SourceSpec {
	return SourceSpec{Type: KindGit, Git: s.url, Path: s.subPath}
}

// Ref returns the requested ref.
func (s *GitSource) Ref() string {
	return s.ref
}

// mirror returns the up-to-date bare mirror of the repository at repoURL.
// Each mirror is fetched at most once per source.
func (s *GitSource) mirror(ctx context.Context, repoURL string) (*git.Repo, error) {
	if repo, ok := s.mirrors[repoURL]; ok {
		return repo, nil
	}
	dir := s.cache.GitMirrorPath(repoURL)
	var repo *git.Repo
	err := s.cache.WithLock(ctx, dir, func() error {
		var err error
		repo, err = git.Mirror(ctx, dir, git.MirrorOptions{
			URL:   repoURL,
			Fetch: true,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSource, err)
	}
	s.mirrors[repoURL] = repo
	return repo, nil
}

func (s *GitSource) export(ctx context.Context, repo *git.Repo, commit string, dest string) error {
	return repo.Export(ctx, commit, dest, git.ExportOptions{
		SubPath: s.subPath,
		OpenSubmodule: func(ctx context.Context, url string) (*git.Repo, error) {
			return s.mirror(ctx, url)
		},
	})
}

// Versions resolves the ref to a commit. The commit is exported into the
// cache, so that its content hash is known before the component is
// fetched.
func (s *GitSource) Versions(ctx context.Context, name string, rng semver.Range) ([]ComponentVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.versions[name]; ok {
		return cached, nil
	}
	repo, err := s.mirror(ctx, s.url)
	if err != nil {
		return nil, err
	}
	commit, err := repo.ResolveRef(ctx, s.ref)
	if errors.Is(err, git.ErrRefNotFound) {
		return nil, zerr.With(zerr.Wrap(solver.ErrPackageNotFound, fmt.Sprintf("ref '%s' not found in '%s'", s.ref, s.url)), "component", name)
	} else if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSource, err)
	}

	var manifest *Manifest
	b, err := repo.ReadFile(commit, path.Join(s.subPath, ManifestName))
	if err == nil {
		manifest, err = ParseManifest(b, ManifestOptions{UI: s.ui})
		if err != nil {
			return nil, zerr.With(err, "component", name)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	hash, err := s.exportToCache(ctx, repo, name, commit, manifest.Filter())
	if err != nil {
		return nil, err
	}
	cv := ComponentVersion{
		Version:       zeroVersion,
		Label:         commit,
		ComponentHash: hash,
		Dependencies:  DependencyMap{},
	}
	if manifest != nil {
		cv.Targets = manifest.Targets
		if manifest.Dependencies != nil {
			cv.Dependencies = manifest.Dependencies
		}
	}
	result := []ComponentVersion{cv}
	if !rng.Contains(cv.Version) {
		result = nil
	}
	s.versions[name] = result
	return result, nil
}

// exportToCache exports the commit into the component cache and returns
// its content hash.
func (s *GitSource) exportToCache(ctx context.Context, repo *git.Repo, name string, commit string, filter hashtree.Filter) (string, error) {
	parent := s.cache.SourceDir(s)
	if err := os.MkdirAll(parent, 0755); err != nil {
		return "", err
	}
	tmp, err := os.MkdirTemp(parent, ".export-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmp)
	if err := s.export(ctx, repo, commit, tmp); err != nil {
		return "", fmt.Errorf("%w: exporting %s of '%s': %w", ErrSource, commit, s.url, err)
	}
	hash, err := hashtree.HashDir(tmp, filter)
	if err != nil {
		return "", err
	}
	final := s.cache.ComponentPath(s, name, commit, hash)
	err = s.cache.WithLock(ctx, final, func() error {
		exists, err := isDirectory(final)
		if err != nil || exists {
			return err
		}
		return os.Rename(tmp, final)
	})
	return hash, err
}

func (s *GitSource) Fetch(ctx context.Context, c *SolvedComponent, dest string) (string, error) {
	if !git.IsCommitID(c.Version) {
		return "", fmt.Errorf("%w: '%s' is not a commit of '%s'", ErrSource, c.Version, s.url)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	repo, err := s.mirror(ctx, s.url)
	if err != nil {
		return "", err
	}
	if err := s.export(ctx, repo, c.Version, dest); err != nil {
		return "", fmt.Errorf("%w: exporting '%s': %w", ErrSource, c, err)
	}
	return dest, nil
}

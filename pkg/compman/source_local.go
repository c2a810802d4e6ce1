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
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/toitlang/idfcomp/pkg/semver"
	"github.com/toitlang/idfcomp/pkg/solver"
	"go.trai.ch/zerr"
)

// LocalSource provides a component that is used in place from a directory.
type LocalSource struct {
	path string
	ui   UI

	mu       sync.Mutex
	versions map[string][]ComponentVersion
}

// NewLocalSource creates a source for the directory p. Relative paths are
// resolved against baseDir, which is the directory of the manifest that
// declared the dependency.
func NewLocalSource(p string, baseDir string, ui UI) (*LocalSource, error) {
	if !filepath.IsAbs(p) {
		if baseDir == "" {
			return nil, zerr.With(zerr.Wrap(ErrSource, "relative path without a directory to resolve it against"), "path", p)
		}
		p = filepath.Join(baseDir, p)
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return nil, err
	}
	return &LocalSource{
		path:     abs,
		ui:       ui,
		versions: map[string][]ComponentVersion{},
	}, nil
}

func (s *LocalSource) Kind() SourceKind { return KindLocal }

func (s *LocalSource) HashKey() string { return "local:" + s.path }

func (s *LocalSource) Downloadable() bool { return false }

func (s *LocalSource) NormalizedName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Spec returns the absolute path. The lock file stores it relative to the
// project.
func (s *LocalSource) Spec() SourceSpec {
	return SourceSpec{Type: KindLocal, Path: s.path}
}

// Dir returns the directory of the component.
func (s *LocalSource) Dir() string {
	return s.path
}

// Versions returns the single version of the directory: the version of
// its manifest, or '*'.
func (s *LocalSource) Versions(ctx context.Context, name string, rng semver.Range) ([]ComponentVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cached, ok := s.versions[name]; ok {
		return filterVersions(cached, rng), nil
	}
	exists, err := isDirectory(s.path)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, zerr.With(zerr.Wrap(solver.ErrPackageNotFound, fmt.Sprintf("directory '%s' doesn't exist", s.path)), "component", name)
	}
	if base := filepath.Base(s.path); base != ShortName(name) {
		s.ui.ReportWarning("The directory '%s' of the component '%s' has a different name. The build system uses the directory name", s.path, name)
	}
	manifest, err := ReadManifestIfExists(s.path, ManifestOptions{UI: s.ui})
	if err != nil {
		return nil, zerr.With(err, "component", name)
	}
	cv := ComponentVersion{
		Version:      zeroVersion,
		Label:        AnyVersion,
		Dependencies: DependencyMap{},
		Dir:          s.path,
	}
	if manifest != nil {
		if manifest.Version != "" {
			v, err := semver.ParseLenient(manifest.Version)
			if err != nil {
				return nil, zerr.With(err, "component", name)
			}
			cv.Version = v
			cv.Label = v.String()
		}
		cv.Targets = manifest.Targets
		if manifest.Dependencies != nil {
			cv.Dependencies = manifest.Dependencies
		}
	}
	s.versions[name] = []ComponentVersion{cv}
	return filterVersions(s.versions[name], rng), nil
}

func filterVersions(versions []ComponentVersion, rng semver.Range) []ComponentVersion {
	var result []ComponentVersion
	for _, cv := range versions {
		if rng.Contains(cv.Version) {
			result = append(result, cv)
		}
	}
	return result
}

func (s *LocalSource) Fetch(ctx context.Context, c *SolvedComponent, dest string) (string, error) {
	return s.path, nil
}

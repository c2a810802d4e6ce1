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
	"os"
	"path/filepath"
	"regexp"

	"github.com/toitlang/idfcomp/pkg/semver"
	"github.com/toitlang/idfcomp/pkg/solver"
	"go.trai.ch/zerr"
)

var versionCmakeRegexp = regexp.MustCompile(`set\s*\(\s*IDF_VERSION_(MAJOR|MINOR|PATCH)\s+(\d+)\s*\)`)

// DetectIDFVersion reads the toolchain version from
// 'tools/cmake/version.cmake' of the toolchain at idfPath.
func DetectIDFVersion(idfPath string) (semver.Version, error) {
	if idfPath == "" {
		return semver.Version{}, zerr.Wrap(ErrEnvironment, "IDF_PATH is not set")
	}
	p := filepath.Join(idfPath, "tools", "cmake", "version.cmake")
	b, err := os.ReadFile(p)
	if err != nil {
		return semver.Version{}, fmt.Errorf("%w: can't determine the toolchain version: %w", ErrEnvironment, err)
	}
	parts := map[string]string{}
	for _, m := range versionCmakeRegexp.FindAllStringSubmatch(string(b), -1) {
		parts[m[1]] = m[2]
	}
	if parts["MAJOR"] == "" || parts["MINOR"] == "" || parts["PATCH"] == "" {
		return semver.Version{}, zerr.With(zerr.Wrap(ErrEnvironment, "incomplete toolchain version"), "file", p)
	}
	return semver.Parse(parts["MAJOR"] + "." + parts["MINOR"] + "." + parts["PATCH"])
}

// ToolchainSource provides the pseudo-component 'idf': the toolchain
// itself. Dependencies on it constrain the toolchain version.
type ToolchainSource struct {
	idfPath string
	version string
}

// NewToolchainSource creates the source for the toolchain at idfPath. If
// version isn't empty, it overrides the detected version.
func NewToolchainSource(idfPath string, version string) *ToolchainSource {
	return &ToolchainSource{
		idfPath: idfPath,
		version: version,
	}
}

func (s *ToolchainSource) Kind() SourceKind { return KindToolchain }

func (s *ToolchainSource) HashKey() string { return string(KindToolchain) }

func (s *ToolchainSource) Downloadable() bool { return false }

func (s *ToolchainSource) NormalizedName(name string) string { return ToolchainName }

func (s *ToolchainSource) Spec() SourceSpec {
	return SourceSpec{Type: KindToolchain}
}

// Version returns the version of the toolchain.
func (s *ToolchainSource) Version() (semver.Version, error) {
	if s.version != "" {
		v, err := semver.ParseLenient(s.version)
		if err != nil {
			return semver.Version{}, fmt.Errorf("%w: invalid toolchain version '%s': %w", ErrEnvironment, s.version, err)
		}
		return v, nil
	}
	return DetectIDFVersion(s.idfPath)
}

func (s *ToolchainSource) Versions(ctx context.Context, name string, rng semver.Range) ([]ComponentVersion, error) {
	if name != ToolchainName {
		return nil, zerr.Wrap(solver.ErrPackageNotFound, fmt.Sprintf("the toolchain doesn't provide '%s'", name))
	}
	v, err := s.Version()
	if err != nil {
		return nil, err
	}
	if !rng.Contains(v) {
		return nil, nil
	}
	return []ComponentVersion{{
		Version:      v,
		Label:        v.String(),
		Dependencies: DependencyMap{},
		Dir:          s.idfPath,
	}}, nil
}

func (s *ToolchainSource) Fetch(ctx context.Context, c *SolvedComponent, dest string) (string, error) {
	return s.idfPath, nil
}

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

	"github.com/toitlang/idfcomp/pkg/semver"
)

// SourceKind is the type of a source as written in the lock file.
type SourceKind string

const (
	KindRegistry  SourceKind = "service"
	KindGit       SourceKind = "git"
	KindLocal     SourceKind = "local"
	KindToolchain SourceKind = "idf"
)

// AnyVersion is the version label of components without version.
const AnyVersion = "*"

// ComponentVersion is a version of a component offered by a source.
type ComponentVersion struct {
	// Version is used by the solver. Components without semantic version
	// (git commits, local directories without version) use 0.0.0.
	Version semver.Version
	// Label is the version as recorded in the lock file: the semantic
	// version, a commit id, or '*'.
	Label         string
	ComponentHash string
	// URL is the download location of registry components.
	URL          string
	Dependencies DependencyMap
	// Targets lists the supported targets. Empty means all.
	Targets       []string
	Yanked        bool
	YankedMessage string
	// UnknownKeys are build metadata keys that this tool doesn't support.
	UnknownKeys []string
	// Dir is the directory of local components.
	Dir string
}

// Source provides the versions and the content of components.
type Source interface {
	Kind() SourceKind
	// HashKey identifies the source. Two sources with the same key are
	// interchangeable.
	HashKey() string
	// Downloadable is false if the components of the source are used in
	// place.
	Downloadable() bool
	// NormalizedName returns the canonical name of a component of this
	// source.
	NormalizedName(name string) string
	// Versions returns the versions of the component that are in the
	// range, highest first. Returns an error matching
	// solver.ErrPackageNotFound if the source doesn't have the component.
	Versions(ctx context.Context, name string, rng semver.Range) ([]ComponentVersion, error)
	// Fetch writes the component into dest, which must be an existing empty
	// directory, and returns the directory of the component. Sources that
	// aren't downloadable return their directory and ignore dest.
	Fetch(ctx context.Context, c *SolvedComponent, dest string) (string, error)
	// Spec returns the lock file representation of the source.
	Spec() SourceSpec
}

// SourceSpec is the lock file representation of a source. The fields are
// in alphabetical order.
type SourceSpec struct {
	Git         string     `yaml:"git,omitempty"`
	Path        string     `yaml:"path,omitempty"`
	RegistryURL string     `yaml:"registry_url,omitempty"`
	Type        SourceKind `yaml:"type"`
}

// SolvedComponent is a component version selected by the solver.
type SolvedComponent struct {
	Name          string
	Source        Source
	Version       string
	ComponentHash string
	Dependencies  []LockDependency
	Targets       []string
}

func (c *SolvedComponent) String() string {
	return fmt.Sprintf("%s@%s", c.Name, c.Version)
}

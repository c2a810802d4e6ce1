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

package solver

import (
	"context"

	"github.com/toitlang/idfcomp/pkg/semver"
	"go.trai.ch/zerr"
)

// ErrPackageNotFound must be returned (possibly wrapped) by a Source that
// doesn't know a package.
var ErrPackageNotFound = zerr.New("package not found")

// Candidate is a version of a package that the solver may select.
type Candidate struct {
	Version       semver.Version
	Yanked        bool
	YankedMessage string
	// Targets lists the supported chip targets. Empty means all targets.
	Targets []string
	// UnknownKeys lists build metadata keys that this tool doesn't
	// understand. Candidates with unknown keys are never selected.
	UnknownKeys []string
}

// Dependency is an edge of the dependency graph.
type Dependency struct {
	Package Package
	Range   semver.Range
	// AllowPrerelease lets the solver pick pre-releases of the package even
	// if the range doesn't name one.
	AllowPrerelease bool
}

// Source provides the versions and dependencies of packages.
//
// The solver asks for the same data at most once per solve.
type Source interface {
	Versions(ctx context.Context, p Package) ([]Candidate, error)
	Dependencies(ctx context.Context, p Package, v semver.Version) ([]Dependency, error)
}

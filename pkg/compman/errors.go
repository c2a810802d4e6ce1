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
	"fmt"
	"path/filepath"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/toitlang/idfcomp/pkg/ifclause"
	"github.com/toitlang/idfcomp/pkg/semver"
	"github.com/toitlang/idfcomp/pkg/solver"
	"go.trai.ch/zerr"
)

// Error kinds. Every error returned by this package matches at most one
// of them with errors.Is.
var (
	ErrInvalidManifest        = zerr.New("invalid manifest")
	ErrUnsolvableRequirements = zerr.New("unsolvable requirements")
	ErrSource                 = zerr.New("source error")
	ErrIntegrity              = zerr.New("integrity error")
	ErrModifiedComponent      = zerr.New("modified managed component")
	ErrEnvironment            = zerr.New("environment error")
)

// ManifestError lists the problems of a manifest.
type ManifestError struct {
	Path     string
	Problems []string
}

func (e *ManifestError) Error() string {
	where := "manifest"
	if e.Path != "" {
		where = e.Path
	}
	if len(e.Problems) == 1 {
		return fmt.Sprintf("invalid %s: %s", where, e.Problems[0])
	}
	return fmt.Sprintf("invalid %s:\n  %s", where, strings.Join(e.Problems, "\n  "))
}

func (e *ManifestError) Is(target error) bool {
	return target == ErrInvalidManifest
}

// ModifiedComponentError is returned when a managed component was changed
// by the user and would have to be deleted or overwritten.
type ModifiedComponentError struct {
	Name string
	// Dir is the directory of the component.
	Dir string
}

func (e *ModifiedComponentError) Error() string {
	base := filepath.Base(e.Dir)
	managed := filepath.Base(filepath.Dir(e.Dir))
	from := shellescape.Quote(managed + "/" + base)
	to := shellescape.Quote("components/" + base)
	return fmt.Sprintf("the managed component '%s' in '%s' was modified. "+
		"To keep the changes, move it to the project's components: 'mv %s %s'. "+
		"To discard them, delete the '%s' file in the component's directory",
		e.Name, e.Dir, from, to, ".component_hash")
}

func (e *ModifiedComponentError) Is(target error) bool {
	return target == ErrModifiedComponent
}

// IntegrityError is returned when content doesn't match its recorded hash.
type IntegrityError struct {
	Name     string
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("content of '%s' doesn't match its hash: expected %s, got %s", e.Name, e.Expected, e.Actual)
}

func (e *IntegrityError) Is(target error) bool {
	return target == ErrIntegrity
}

// Exit codes of the command line tool.
const (
	ExitOK       = 0
	ExitFatal    = 1
	ExitBadInput = 2
)

// ExitCode returns the process exit code for the given error.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrInvalidManifest),
		errors.Is(err, semver.ErrInvalidRange),
		errors.Is(err, semver.ErrInvalidVersion),
		errors.Is(err, ifclause.ErrSyntax):
		return ExitBadInput
	}
	return ExitFatal
}

// unsolvable wraps a solver failure so that it matches both
// ErrUnsolvableRequirements and the solver's own error type.
type unsolvable struct {
	*solver.NoSolutionError
}

func (e unsolvable) Is(target error) bool {
	return target == ErrUnsolvableRequirements || e.NoSolutionError.Is(target)
}

func (e unsolvable) Unwrap() error {
	return e.NoSolutionError
}

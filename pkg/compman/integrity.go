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
	"github.com/toitlang/idfcomp/pkg/hashtree"
)

// ComponentStatus is the state of a managed component directory.
type ComponentStatus int

const (
	// StatusOK means the content matches the recorded hash.
	StatusOK ComponentStatus = iota
	// StatusUntracked means there is no hash file.
	StatusUntracked
	// StatusModified means the content differs from the recorded hash.
	StatusModified
)

func (s ComponentStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusUntracked:
		return "untracked"
	case StatusModified:
		return "modified"
	}
	return "unknown"
}

// ComponentFilter returns the file rules of the component in dir. The
// rules of a broken or missing manifest are the defaults.
func ComponentFilter(dir string) hashtree.Filter {
	m, err := ReadManifestIfExists(dir, ManifestOptions{
		ExampleMode: true,
		LookupEnv:   func(string) (string, bool) { return "", false },
	})
	if err != nil {
		return hashtree.Filter{}
	}
	return m.Filter()
}

// ValidateManagedComponent compares the content of the component in dir
// with its hash file. Returns the status and the recorded hash.
// A hash file that can't be read counts as missing.
func ValidateManagedComponent(dir string) (ComponentStatus, string, error) {
	recorded, err := hashtree.ReadHashFile(dir)
	if err != nil {
		return StatusUntracked, "", nil
	}
	if !hashtree.IsValidHash(recorded) {
		return StatusModified, recorded, nil
	}
	actual, err := hashtree.HashDir(dir, ComponentFilter(dir))
	if err != nil {
		return StatusModified, recorded, err
	}
	if actual != recorded {
		return StatusModified, recorded, nil
	}
	return StatusOK, recorded, nil
}

// isModified returns true if the status forbids replacing or deleting the
// component.
func (s Settings) isModified(status ComponentStatus) bool {
	if s.OverwriteManagedComponents {
		return false
	}
	return status == StatusModified || (status == StatusUntracked && s.StrictChecksum)
}

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
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/toitlang/idfcomp/pkg/hashtree"
	"github.com/toitlang/idfcomp/pkg/semver"
	"gopkg.in/yaml.v2"
)

// A lock file records the result of a solve: the exact version and source
// of every component of the project. It is meant to be checked in, so that
// all developers build with the same components. As such it must not
// contain absolute paths to components inside the project.

const (
	LockFileName = "dependencies.lock"
	// LockFileVersion is the format version written by this tool.
	LockFileVersion = "2.0.0"
)

// LockFile represents a lock file. The fields are in alphabetical order, so
// that the written file is stable.
type LockFile struct {
	// The path to the lock file. If any.
	path string `yaml:"-"`

	Dependencies map[string]LockEntry `yaml:"dependencies,omitempty"`
	// DirectDependencies are the names of the components the project's
	// manifests depend on.
	DirectDependencies []string `yaml:"direct_dependencies,omitempty"`
	// ManifestHash is the hash of the project's manifests at the time of
	// the solve.
	ManifestHash string `yaml:"manifest_hash"`
	Target       string `yaml:"target"`
	Version      string `yaml:"version"`
}

// LockEntry corresponds to a solved component.
type LockEntry struct {
	// ComponentHash is required for downloadable sources.
	ComponentHash string           `yaml:"component_hash,omitempty"`
	Dependencies  []LockDependency `yaml:"dependencies,omitempty"`
	Source        SourceSpec       `yaml:"source"`
	Targets       []string         `yaml:"targets,omitempty"`
	// Version is the semantic version, the commit id of git components,
	// or '*'.
	Version string `yaml:"version"`
}

// LockDependency is a dependency edge of a solved component.
type LockDependency struct {
	Name string `yaml:"name"`
	// Require is 'public', 'private', or 'no'.
	Require string `yaml:"require"`
	// Version is the range of the dependency.
	Version string `yaml:"version"`
}

// NewLockFile creates an empty lock file that will be written to path.
func NewLockFile(path string) *LockFile {
	return &LockFile{
		path:         path,
		Dependencies: map[string]LockEntry{},
		Version:      LockFileVersion,
	}
}

// ReadLockFile reads the lock-file at the given path.
func ReadLockFile(path string) (*LockFile, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var res LockFile
	if err := yaml.Unmarshal(b, &res); err != nil {
		return nil, &ManifestError{Path: path, Problems: []string{err.Error()}}
	}
	res.path = path
	if res.Dependencies == nil {
		res.Dependencies = map[string]LockEntry{}
	}
	if err := res.Validate(); err != nil {
		return nil, err
	}
	return &res, nil
}

// Path returns the location of the lock file.
func (lf *LockFile) Path() string {
	return lf.path
}

// Validate checks the entries of the lock file.
func (lf *LockFile) Validate() error {
	var problems []string
	if lf.Version != "" {
		v, err := semver.Parse(lf.Version)
		if err != nil {
			problems = append(problems, fmt.Sprintf("version: %v", err))
		} else if v.Major() != semver.MustParse(LockFileVersion).Major() {
			problems = append(problems, fmt.Sprintf("version: unsupported lock file version '%s'", lf.Version))
		}
	}
	for _, name := range lf.Names() {
		entry := lf.Dependencies[name]
		switch entry.Source.Type {
		case KindRegistry, KindGit:
			if !hashtree.IsValidHash(entry.ComponentHash) {
				problems = append(problems, fmt.Sprintf("dependencies.%s: missing or invalid component_hash", name))
			}
		case KindLocal:
			if entry.Source.Path == "" {
				problems = append(problems, fmt.Sprintf("dependencies.%s: local source without path", name))
			}
		case KindToolchain:
		default:
			problems = append(problems, fmt.Sprintf("dependencies.%s: unknown source type '%s'", name, entry.Source.Type))
		}
		if entry.Version == "" {
			problems = append(problems, fmt.Sprintf("dependencies.%s: missing version", name))
		}
	}
	if len(problems) > 0 {
		return &ManifestError{Path: lf.path, Problems: problems}
	}
	return nil
}

// Names returns the names of the locked components in sorted order.
func (lf *LockFile) Names() []string {
	names := make([]string, 0, len(lf.Dependencies))
	for name := range lf.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasLocal returns true if a component is used in place from a directory.
// Such components can change without the manifests changing.
func (lf *LockFile) HasLocal() bool {
	for _, entry := range lf.Dependencies {
		if entry.Source.Type == KindLocal {
			return true
		}
	}
	return false
}

// Bytes returns the YAML content of the lock file.
func (lf *LockFile) Bytes() ([]byte, error) {
	return yaml.Marshal(lf)
}

func (lf *LockFile) WriteToFile() error {
	// Write the YAML to memory first, and then compare it with any
	// existing file.
	// We don't want to touch files if they don't change.
	b, err := lf.Bytes()
	if err != nil {
		return err
	}
	return writeFileIfChanged(lf.path, b)
}

// ComputeManifestHash returns the hash of the normalized content of the
// given manifests. The order of the manifests matters.
func ComputeManifestHash(manifests []*Manifest) (string, error) {
	trees := make([]map[string]interface{}, 0, len(manifests))
	for _, m := range manifests {
		tree, err := m.Tree()
		if err != nil {
			return "", err
		}
		trees = append(trees, tree)
	}
	// Maps are encoded with sorted keys.
	b, err := json.Marshal(trees)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

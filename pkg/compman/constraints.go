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
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/toitlang/idfcomp/pkg/semver"
	"go.trai.ch/zerr"
)

// Constraints narrow the version ranges of registry components, without
// adding dependencies. Keys are normalized component names.
type Constraints map[string]semver.Range

var constraintRegexp = regexp.MustCompile(`^([A-Za-z0-9_/-]+)\s*(.*)$`)

// add intersects the constraint with an existing one for the same name.
func (c Constraints) add(name string, rng semver.Range) {
	if existing, ok := c[name]; ok {
		rng = existing.Intersect(rng)
	}
	c[name] = rng
}

// parseConstraint parses a 'name range' entry, like 'espressif/cjson>=1.0'.
func parseConstraint(entry string, defaultNamespace string) (string, semver.Range, error) {
	m := constraintRegexp.FindStringSubmatch(strings.TrimSpace(entry))
	if m == nil {
		return "", semver.Range{}, zerr.With(zerr.Wrap(semver.ErrInvalidRange, "invalid constraint"), "constraint", entry)
	}
	name := NormalizeName(m[1], defaultNamespace)
	rangeStr := strings.TrimSpace(m[2])
	if rangeStr == "" {
		return "", semver.Range{}, zerr.With(zerr.Wrap(semver.ErrInvalidRange, "constraint without version range"), "constraint", entry)
	}
	rng, err := semver.ParseRange(rangeStr)
	if err != nil {
		return "", semver.Range{}, zerr.With(err, "constraint", entry)
	}
	return name, rng, nil
}

// ParseConstraints parses a list of constraints separated by ';' or
// newlines. Text after a '#' is a comment.
func ParseConstraints(s string, defaultNamespace string) (Constraints, error) {
	result := Constraints{}
	if err := result.parse(s, defaultNamespace); err != nil {
		return nil, err
	}
	return result, nil
}

func (c Constraints) parse(s string, defaultNamespace string) error {
	for _, line := range strings.Split(s, "\n") {
		if i := strings.Index(line, "#"); i >= 0 {
			line = line[:i]
		}
		for _, entry := range strings.Split(line, ";") {
			if strings.TrimSpace(entry) == "" {
				continue
			}
			name, rng, err := parseConstraint(entry, defaultNamespace)
			if err != nil {
				return err
			}
			c.add(name, rng)
		}
	}
	return nil
}

// LoadConstraints reads the constraint files and the constraints of the
// settings. Entries for the same component are intersected.
func LoadConstraints(settings Settings) (Constraints, error) {
	result := Constraints{}
	for _, p := range settings.ConstraintFiles {
		f, err := os.Open(p)
		if err != nil {
			return nil, fmt.Errorf("%w: constraint file: %w", ErrEnvironment, err)
		}
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			if err := result.parse(scanner.Text(), settings.DefaultNamespace); err != nil {
				f.Close()
				return nil, zerr.With(err, "file", p)
			}
		}
		err = scanner.Err()
		f.Close()
		if err != nil {
			return nil, err
		}
	}
	if err := result.parse(settings.Constraints, settings.DefaultNamespace); err != nil {
		return nil, err
	}
	return result, nil
}

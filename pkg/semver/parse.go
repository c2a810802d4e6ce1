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

package semver

import (
	"fmt"
	"regexp"
	"strings"

	"go.trai.ch/zerr"
)

// Operators recognized in range expressions, longest first.
var operators = []string{"==", "!=", "<=", ">=", "~=", "=", "<", ">", "^", "~"}

// partialRegexp matches versions where trailing segments may be missing or
// wildcards ('1', '1.2', '1.x', '1.2.*').
var partialRegexp = regexp.MustCompile(`^v?([0-9]+)(?:\.([0-9]+|[xX*]))?(?:\.([0-9]+|[xX*]))?$`)

func invalidRange(str string, reason string) error {
	return zerr.With(zerr.Wrap(ErrInvalidRange, fmt.Sprintf("cannot parse %q: %s", str, reason)), "range", str)
}

// ParseRange parses a range expression.
//
// Clauses separated by ',' (or whitespace) are intersected, alternatives
// separated by '||' are unioned.
func ParseRange(str string) (Range, error) {
	s := strings.TrimSpace(str)
	if s == "" {
		return Range{}, invalidRange(str, "empty expression")
	}
	result := Empty()
	for _, alt := range strings.Split(s, "||") {
		alt = strings.TrimSpace(alt)
		if alt == "" {
			return Range{}, invalidRange(str, "empty alternative")
		}
		r, err := parseConjunction(alt)
		if err != nil {
			return Range{}, invalidRange(str, err.Error())
		}
		result = result.Union(r)
	}
	return result, nil
}

// MustParseRange is like ParseRange but panics on error.
func MustParseRange(str string) Range {
	r, err := ParseRange(str)
	if err != nil {
		panic(err)
	}
	return r
}

func parseConjunction(s string) (Range, error) {
	clauses, err := splitClauses(s)
	if err != nil {
		return Range{}, err
	}
	result := Any()
	for _, c := range clauses {
		r, err := parseClause(c.op, c.version)
		if err != nil {
			return Range{}, err
		}
		result = result.Intersect(r)
	}
	return result, nil
}

type clause struct {
	op      string
	version string
}

// splitClauses tokenizes '>= 1.0, <2.0' or '>=1.0 <2.0' into clauses.
func splitClauses(s string) ([]clause, error) {
	var result []clause
	rest := s
	for {
		rest = strings.TrimLeft(rest, " \t,")
		if rest == "" {
			break
		}
		op := ""
		for _, candidate := range operators {
			if strings.HasPrefix(rest, candidate) {
				op = candidate
				break
			}
		}
		rest = strings.TrimLeft(rest[len(op):], " \t")
		end := strings.IndexAny(rest, " \t,")
		if end < 0 {
			end = len(rest)
		}
		v := rest[:end]
		if v == "" {
			return nil, fmt.Errorf("missing version after %q", op)
		}
		result = append(result, clause{op: op, version: v})
		rest = rest[end:]
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("no clauses")
	}
	return result, nil
}

// partial is a version where the minor and patch may be unspecified.
type partial struct {
	full    Version
	precise int // Number of specified segments, 3 for a full version.
}

func parsePartial(s string) (partial, error) {
	if v, err := Parse(s); err == nil {
		return partial{full: v, precise: 3}, nil
	}
	m := partialRegexp.FindStringSubmatch(s)
	if m == nil {
		return partial{}, fmt.Errorf("invalid version %q", s)
	}
	precise := 1
	minor, patch := "0", "0"
	if m[2] != "" && !isWildcard(m[2]) {
		precise = 2
		minor = m[2]
		if m[3] != "" && !isWildcard(m[3]) {
			precise = 3
			patch = m[3]
		}
	} else if m[3] != "" && !isWildcard(m[3]) {
		return partial{}, fmt.Errorf("invalid version %q", s)
	}
	v, err := Parse(m[1] + "." + minor + "." + patch)
	if err != nil {
		return partial{}, err
	}
	return partial{full: v, precise: precise}, nil
}

func isWildcard(s string) bool {
	return s == "x" || s == "X" || s == "*"
}

// next returns the first version past all versions matched by the partial.
func (p partial) next() Version {
	switch p.precise {
	case 1:
		return p.full.bumpMajor()
	case 2:
		return p.full.bumpMinor()
	}
	return p.full.bumpPatch()
}

func parseClause(op string, vStr string) (Range, error) {
	if isWildcard(vStr) {
		if op != "" && op != "==" && op != "=" {
			return Range{}, fmt.Errorf("wildcard cannot be used with %q", op)
		}
		return Any(), nil
	}
	p, err := parsePartial(vStr)
	if err != nil {
		return Range{}, err
	}
	v := p.full
	switch op {
	case "", "=", "==":
		if p.precise < 3 {
			return Between(v, p.next()), nil
		}
		return Exact(v), nil
	case "!=":
		if p.precise < 3 {
			return Between(v, p.next()).Complement(), nil
		}
		return Exact(v).Complement(), nil
	case "<":
		return Below(v), nil
	case "<=":
		if p.precise < 3 {
			return Below(p.next()), nil
		}
		return newRange(interval{lo: bound{unbounded: true}, hi: bound{v: v, inclusive: true}}), nil
	case ">":
		if p.precise < 3 {
			return AtLeast(p.next()), nil
		}
		return newRange(interval{lo: bound{v: v}, hi: bound{unbounded: true}}), nil
	case ">=":
		return AtLeast(v), nil
	case "^":
		return Between(v, caretUpper(v, p.precise)), nil
	case "~":
		if p.precise == 1 {
			return Between(v, v.bumpMajor()), nil
		}
		return Between(v, v.bumpMinor()), nil
	case "~=":
		// Compatible release: the last specified segment may grow.
		if p.precise <= 2 {
			return Between(v, v.bumpMajor()), nil
		}
		return Between(v, v.bumpMinor()), nil
	}
	return Range{}, fmt.Errorf("unknown operator %q", op)
}

// caretUpper keeps the left-most non-zero segment fixed.
func caretUpper(v Version, precise int) Version {
	switch {
	case v.Major() > 0 || precise == 1:
		return v.bumpMajor()
	case v.Minor() > 0 || precise == 2:
		return v.bumpMinor()
	}
	return v.bumpPatch()
}

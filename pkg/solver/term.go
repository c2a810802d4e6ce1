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
	"github.com/toitlang/idfcomp/pkg/semver"
)

// Package identifies a node of the dependency graph.
//
// Components with the same name but different sources are different
// packages.
type Package struct {
	Name string
	// Source is empty for the default registry.
	Source string
}

// Root is the package that represents the project.
var Root = Package{Name: "$root"}

func (p Package) String() string {
	if p.Source == "" {
		return p.Name
	}
	return p.Name + " (" + p.Source + ")"
}

// Term is a statement about a package: if positive, the package must be
// selected with a version in the range. If negative, the package must not
// be selected with a version in the range.
type Term struct {
	Package  Package
	Range    semver.Range
	Positive bool
}

func (t Term) Negate() Term {
	return Term{Package: t.Package, Range: t.Range, Positive: !t.Positive}
}

type setRelation int

const (
	relationSubset setRelation = iota
	relationDisjoint
	relationOverlapping
)

// relation returns how the set of selections allowed by t relates to
// the one allowed by other. Both terms must refer to the same package.
func (t Term) relation(other Term) setRelation {
	if other.Positive {
		if t.Positive {
			if other.Range.AllowsAll(t.Range) {
				return relationSubset
			}
			if !t.Range.AllowsAny(other.Range) {
				return relationDisjoint
			}
			return relationOverlapping
		}
		if t.Range.AllowsAll(other.Range) {
			return relationDisjoint
		}
		return relationOverlapping
	}
	if t.Positive {
		if !other.Range.AllowsAny(t.Range) {
			return relationSubset
		}
		if other.Range.AllowsAll(t.Range) {
			return relationDisjoint
		}
		return relationOverlapping
	}
	if t.Range.AllowsAll(other.Range) {
		return relationSubset
	}
	return relationOverlapping
}

// satisfies returns true if every selection allowed by t is allowed by other.
func (t Term) satisfies(other Term) bool {
	return t.Package == other.Package && t.relation(other) == relationSubset
}

// intersect returns the term that allows the selections allowed by both
// terms. Returns false if the intersection is empty.
func (t Term) intersect(other Term) (Term, bool) {
	var result Term
	switch {
	case t.Positive != other.Positive:
		positive, negative := t, other
		if !t.Positive {
			positive, negative = other, t
		}
		result = Term{Package: t.Package, Range: positive.Range.Difference(negative.Range), Positive: true}
	case t.Positive:
		result = Term{Package: t.Package, Range: t.Range.Intersect(other.Range), Positive: true}
	default:
		result = Term{Package: t.Package, Range: t.Range.Union(other.Range), Positive: false}
	}
	if result.Range.IsEmpty() {
		return Term{}, false
	}
	return result, true
}

// intersectOrEmpty is like intersect, but returns an empty positive term
// instead of failing. An empty positive term satisfies every term.
func (t Term) intersectOrEmpty(other Term) Term {
	result, ok := t.intersect(other)
	if !ok {
		return Term{Package: t.Package, Range: semver.Empty(), Positive: true}
	}
	return result
}

// difference returns the selections allowed by t but not by other.
func (t Term) difference(other Term) (Term, bool) {
	return t.intersect(other.Negate())
}

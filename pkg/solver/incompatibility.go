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

// Cause is the reason an incompatibility exists.
type Cause int

const (
	// CauseRoot is the initial incompatibility: the project must be selected.
	CauseRoot Cause = iota
	// CauseDependency comes from a dependency of a package version.
	CauseDependency
	// CauseConflict is derived during conflict resolution.
	CauseConflict
	// CauseNoVersions means that no version satisfies a constraint.
	CauseNoVersions
	// CausePackageNotFound means that the source doesn't know the package.
	CausePackageNotFound
)

func (c Cause) String() string {
	switch c {
	case CauseRoot:
		return "root"
	case CauseDependency:
		return "dependency"
	case CauseConflict:
		return "conflict"
	case CauseNoVersions:
		return "no versions"
	case CausePackageNotFound:
		return "package not found"
	}
	return "unknown"
}

// incompatID indexes an incompatibility in the arena.
type incompatID int

const noCause incompatID = -1

// incompatibility is a set of terms that must not all be true.
type incompatibility struct {
	terms []Term
	cause Cause
	// Set for CauseConflict.
	conflict incompatID
	other    incompatID
	// Set for CausePackageNotFound.
	message string
}

// arena owns all incompatibilities of a solve. Derived incompatibilities
// refer to their causes by ID, which keeps the cause graph free of
// pointers.
type arena struct {
	items []incompatibility
}

func (a *arena) add(inc incompatibility) incompatID {
	a.items = append(a.items, inc)
	return incompatID(len(a.items) - 1)
}

func (a *arena) get(id incompatID) *incompatibility {
	return &a.items[id]
}

func newExternal(cause Cause, terms ...Term) incompatibility {
	return incompatibility{terms: terms, cause: cause, conflict: noCause, other: noCause}
}

// newConflict builds a derived incompatibility.
//
// The positive root term is dropped, since it is always satisfied, and terms
// that refer to the same package are merged.
func newConflict(terms []Term, conflict incompatID, other incompatID) incompatibility {
	if len(terms) != 1 {
		filtered := terms[:0:0]
		for _, t := range terms {
			if t.Positive && t.Package == Root {
				continue
			}
			filtered = append(filtered, t)
		}
		terms = filtered
	}
	if len(terms) > 2 || (len(terms) == 2 && terms[0].Package == terms[1].Package) {
		var order []Package
		byPackage := map[Package]Term{}
		for _, t := range terms {
			if existing, ok := byPackage[t.Package]; ok {
				byPackage[t.Package] = existing.intersectOrEmpty(t)
				continue
			}
			order = append(order, t.Package)
			byPackage[t.Package] = t
		}
		terms = make([]Term, 0, len(order))
		for _, p := range order {
			terms = append(terms, byPackage[p])
		}
	}
	return incompatibility{terms: terms, cause: CauseConflict, conflict: conflict, other: other}
}

func (inc *incompatibility) isFailure() bool {
	return len(inc.terms) == 0 || (len(inc.terms) == 1 && inc.terms[0].Package == Root)
}

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
	"fmt"

	"github.com/toitlang/idfcomp/pkg/semver"
)

type assignment struct {
	term          Term
	decisionLevel int
	index         int
	// noCause for decisions.
	cause incompatID
}

func (a assignment) isDecision() bool {
	return a.cause == noCause
}

// partialSolution is the ordered list of decisions and derivations made
// so far.
type partialSolution struct {
	assignments []assignment
	decisions   map[Package]semver.Version
	// The intersection of all positive (resp. negative) assignments per
	// package. A package only has an entry in one of the two.
	positive map[Package]Term
	negative map[Package]Term

	attempted    int
	backtracking bool
}

func newPartialSolution() *partialSolution {
	return &partialSolution{
		decisions: map[Package]semver.Version{},
		positive:  map[Package]Term{},
		negative:  map[Package]Term{},
		attempted: 1,
	}
}

func (ps *partialSolution) decisionLevel() int {
	return len(ps.decisions)
}

// unsatisfied returns the packages that have a positive derivation but no
// decision yet, in the order they were first derived.
func (ps *partialSolution) unsatisfied() []Term {
	var result []Term
	seen := map[Package]bool{}
	for _, a := range ps.assignments {
		p := a.term.Package
		if seen[p] {
			continue
		}
		if _, decided := ps.decisions[p]; decided {
			continue
		}
		if term, ok := ps.positive[p]; ok {
			seen[p] = true
			result = append(result, term)
		}
	}
	return result
}

func (ps *partialSolution) decide(p Package, v semver.Version) {
	if ps.backtracking {
		ps.attempted++
	}
	ps.backtracking = false
	ps.decisions[p] = v
	ps.assign(assignment{
		term:          Term{Package: p, Range: semver.Exact(v), Positive: true},
		decisionLevel: ps.decisionLevel(),
		index:         len(ps.assignments),
		cause:         noCause,
	})
}

func (ps *partialSolution) derive(term Term, cause incompatID) {
	ps.assign(assignment{
		term:          term,
		decisionLevel: ps.decisionLevel(),
		index:         len(ps.assignments),
		cause:         cause,
	})
}

func (ps *partialSolution) assign(a assignment) {
	ps.assignments = append(ps.assignments, a)
	ps.register(a)
}

// backtrack removes all assignments above the given decision level.
func (ps *partialSolution) backtrack(level int) {
	ps.backtracking = true
	removed := map[Package]bool{}
	for len(ps.assignments) > 0 {
		last := ps.assignments[len(ps.assignments)-1]
		if last.decisionLevel <= level {
			break
		}
		ps.assignments = ps.assignments[:len(ps.assignments)-1]
		removed[last.term.Package] = true
		if last.isDecision() {
			delete(ps.decisions, last.term.Package)
		}
	}
	for p := range removed {
		delete(ps.positive, p)
		delete(ps.negative, p)
	}
	for _, a := range ps.assignments {
		if removed[a.term.Package] {
			ps.register(a)
		}
	}
}

func (ps *partialSolution) register(a assignment) {
	p := a.term.Package
	if old, ok := ps.positive[p]; ok {
		ps.positive[p] = old.intersectOrEmpty(a.term)
		return
	}
	term := a.term
	if old, ok := ps.negative[p]; ok {
		term = a.term.intersectOrEmpty(old)
	}
	if term.Positive {
		delete(ps.negative, p)
		ps.positive[p] = term
	} else {
		ps.negative[p] = term
	}
}

// satisfier returns the earliest assignment such that the assignments up
// to and including it satisfy term.
func (ps *partialSolution) satisfier(term Term) assignment {
	var accumulated *Term
	for _, a := range ps.assignments {
		if a.term.Package != term.Package {
			continue
		}
		if accumulated == nil {
			t := a.term
			accumulated = &t
		} else {
			t := accumulated.intersectOrEmpty(a.term)
			accumulated = &t
		}
		if accumulated.satisfies(term) {
			return a
		}
	}
	panic(fmt.Sprintf("term %s is not satisfied", term.Package))
}

func (ps *partialSolution) satisfies(term Term) bool {
	return ps.relation(term) == relationSubset
}

func (ps *partialSolution) relation(term Term) setRelation {
	if positive, ok := ps.positive[term.Package]; ok {
		return positive.relation(term)
	}
	if negative, ok := ps.negative[term.Package]; ok {
		return negative.relation(term)
	}
	return relationOverlapping
}

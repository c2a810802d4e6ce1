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

// Package solver implements the PubGrub version solving algorithm.
//
// See https://github.com/dart-lang/pub/blob/master/doc/solver.md for a
// description of the algorithm. Incompatibilities are kept in an arena and
// refer to each other by index.
package solver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/toitlang/idfcomp/pkg/semver"
)

var rootVersion = semver.MustParse("0.0.0")

// Options configure a solve.
type Options struct {
	// Target is the chip target. Candidates that don't support it are
	// skipped. Empty accepts all targets.
	Target string
	// RootName is used for the project in error messages.
	RootName string
	// Logger receives a trace of the solver's steps at debug level.
	Logger *log.Logger
}

// Solution is the result of a successful solve.
type Solution struct {
	Decisions map[Package]semver.Version
	// Warnings about the selection, for example selected yanked versions.
	Warnings []string
	// Attempted is the number of solutions tried. It is larger than one if
	// the solver had to backtrack.
	Attempted int
}

// Packages returns the selected packages sorted by name.
func (s *Solution) Packages() []Package {
	result := make([]Package, 0, len(s.Decisions))
	for p := range s.Decisions {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Name != result[j].Name {
			return result[i].Name < result[j].Name
		}
		return result[i].Source < result[j].Source
	})
	return result
}

type candidates struct {
	list []Candidate
	err  error
}

type depsKey struct {
	pkg     Package
	version string
}

type solver struct {
	ctx      context.Context
	source   Source
	opts     Options
	rootDeps []Dependency

	arena     arena
	byPackage map[Package][]incompatID
	solution  *partialSolution

	candidates map[Package]candidates
	deps       map[depsKey][]Dependency
	// The dependency ranges and pre-release opt-ins seen for each package.
	// Only those of currently decided versions count.
	optIns map[Package][]optIn

	hints    map[Package][]string
	warnings []string
}

// Solve finds versions for the transitive dependencies of the project.
//
// Returns a *NoSolutionError if the dependencies can't be satisfied. Errors
// of the source (other than ErrPackageNotFound) abort the solve.
func Solve(ctx context.Context, source Source, deps []Dependency, opts Options) (*Solution, error) {
	if opts.RootName == "" {
		opts.RootName = "project"
	}
	s := &solver{
		ctx:        ctx,
		source:     source,
		opts:       opts,
		rootDeps:   deps,
		byPackage:  map[Package][]incompatID{},
		solution:   newPartialSolution(),
		candidates: map[Package]candidates{},
		deps:       map[depsKey][]Dependency{},
		optIns:     map[Package][]optIn{},
		hints:      map[Package][]string{},
	}
	s.addIncompatibility(newExternal(CauseRoot, Term{Package: Root, Range: semver.Any(), Positive: false}))

	next, ok := Root, true
	for ok {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := s.propagate(next); err != nil {
			return nil, err
		}
		var err error
		next, ok, err = s.choosePackageVersion()
		if err != nil {
			return nil, err
		}
	}

	decisions := map[Package]semver.Version{}
	for p, v := range s.solution.decisions {
		if p != Root {
			decisions[p] = v
		}
	}
	return &Solution{
		Decisions: decisions,
		Warnings:  s.warnings,
		Attempted: s.solution.attempted,
	}, nil
}

func (s *solver) debugf(format string, args ...interface{}) {
	if s.opts.Logger != nil {
		s.opts.Logger.Debugf(format, args...)
	}
}

func (s *solver) addIncompatibility(inc incompatibility) incompatID {
	id := s.arena.add(inc)
	s.register(id)
	return id
}

func (s *solver) register(id incompatID) {
	for _, t := range s.arena.get(id).terms {
		s.byPackage[t.Package] = append(s.byPackage[t.Package], id)
	}
}

type propagation int

const (
	propagationNone propagation = iota
	propagationDerived
	propagationConflict
)

func (s *solver) propagate(start Package) error {
	changed := []Package{start}
	for len(changed) > 0 {
		p := changed[0]
		changed = changed[1:]
		ids := s.byPackage[p]
		// Later incompatibilities tend to be more general, so look at them
		// first.
		for i := len(ids) - 1; i >= 0; i-- {
			result, derived := s.propagateIncompatibility(ids[i])
			if result == propagationConflict {
				rootCause, err := s.resolveConflict(ids[i])
				if err != nil {
					return err
				}
				changed = changed[:0]
				if result, derived := s.propagateIncompatibility(rootCause); result == propagationDerived {
					changed = append(changed, derived)
				}
				break
			}
			if result == propagationDerived && !containsPackage(changed, derived) {
				changed = append(changed, derived)
			}
		}
	}
	return nil
}

func containsPackage(list []Package, p Package) bool {
	for _, q := range list {
		if q == p {
			return true
		}
	}
	return false
}

// propagateIncompatibility derives the inverse of the only term of the
// incompatibility that isn't satisfied yet, if there is exactly one.
func (s *solver) propagateIncompatibility(id incompatID) (propagation, Package) {
	var unsatisfied Term
	found := false
	for _, term := range s.arena.get(id).terms {
		switch s.solution.relation(term) {
		case relationDisjoint:
			return propagationNone, Package{}
		case relationOverlapping:
			if found {
				return propagationNone, Package{}
			}
			unsatisfied = term
			found = true
		}
	}
	if !found {
		return propagationConflict, Package{}
	}
	s.debugf("derived: %s", s.describeTerm(unsatisfied.Negate()))
	s.solution.derive(unsatisfied.Negate(), id)
	return propagationDerived, unsatisfied.Package
}

// resolveConflict finds the root cause of a satisfied incompatibility and
// backjumps to the decision level where it becomes relevant.
func (s *solver) resolveConflict(id incompatID) (incompatID, error) {
	s.debugf("conflict: %s", s.describe(id))
	newIncompatibility := false
	for !s.arena.get(id).isFailure() {
		terms := append([]Term(nil), s.arena.get(id).terms...)

		mostRecentIndex := -1
		var mostRecentSatisfier assignment
		var difference *Term
		previousSatisfierLevel := 1

		for i, term := range terms {
			satisfier := s.solution.satisfier(term)
			switch {
			case mostRecentIndex == -1:
				mostRecentIndex = i
				mostRecentSatisfier = satisfier
			case mostRecentSatisfier.index < satisfier.index:
				previousSatisfierLevel = max(previousSatisfierLevel, mostRecentSatisfier.decisionLevel)
				mostRecentIndex = i
				mostRecentSatisfier = satisfier
				difference = nil
			default:
				previousSatisfierLevel = max(previousSatisfierLevel, satisfier.decisionLevel)
			}

			if mostRecentIndex == i {
				// The satisfier might only satisfy the term together with
				// earlier assignments.
				difference = nil
				if d, ok := mostRecentSatisfier.term.difference(term); ok {
					difference = &d
					previousSatisfierLevel = max(previousSatisfierLevel, s.solution.satisfier(d.Negate()).decisionLevel)
				}
			}
		}

		if previousSatisfierLevel < mostRecentSatisfier.decisionLevel || mostRecentSatisfier.isDecision() {
			s.solution.backtrack(previousSatisfierLevel)
			if newIncompatibility {
				s.register(id)
			}
			return id, nil
		}

		var newTerms []Term
		for i, t := range terms {
			if i != mostRecentIndex {
				newTerms = append(newTerms, t)
			}
		}
		for _, t := range s.arena.get(mostRecentSatisfier.cause).terms {
			if t.Package != mostRecentSatisfier.term.Package {
				newTerms = append(newTerms, t)
			}
		}
		if difference != nil {
			newTerms = append(newTerms, difference.Negate())
		}
		id = s.arena.add(newConflict(newTerms, id, mostRecentSatisfier.cause))
		newIncompatibility = true
		s.debugf("thus: %s", s.describe(id))
	}
	return id, s.failure(id)
}

// candidatesFor returns the versions of p, highest first.
func (s *solver) candidatesFor(p Package) ([]Candidate, error) {
	if p == Root {
		return []Candidate{{Version: rootVersion}}, nil
	}
	if c, ok := s.candidates[p]; ok {
		return c.list, c.err
	}
	list, err := s.source.Versions(s.ctx, p)
	if err == nil {
		list = append([]Candidate(nil), list...)
		sort.SliceStable(list, func(i, j int) bool {
			return list[j].Version.Less(list[i].Version)
		})
	}
	s.candidates[p] = candidates{list: list, err: err}
	return list, err
}

func (s *solver) dependenciesOf(p Package, v semver.Version) ([]Dependency, error) {
	if p == Root {
		return s.rootDeps, nil
	}
	key := depsKey{pkg: p, version: v.String()}
	if deps, ok := s.deps[key]; ok {
		return deps, nil
	}
	deps, err := s.source.Dependencies(s.ctx, p, v)
	if err != nil {
		return nil, err
	}
	s.deps[key] = deps
	return deps, nil
}

func (s *solver) supportsTarget(c Candidate) bool {
	if s.opts.Target == "" || len(c.Targets) == 0 {
		return true
	}
	for _, t := range c.Targets {
		if t == s.opts.Target {
			return true
		}
	}
	return false
}

// optIn is a dependency on a package, declared by a version of another
// package.
type optIn struct {
	from       Package
	version    semver.Version
	rng        semver.Range
	prerelease bool
}

func (o optIn) same(other optIn) bool {
	return o.from == other.from && o.version.Equal(other.version) &&
		o.prerelease == other.prerelease && o.rng.String() == other.rng.String()
}

func (s *solver) addOptIn(p Package, o optIn) {
	for _, existing := range s.optIns[p] {
		if existing.same(o) {
			return
		}
	}
	s.optIns[p] = append(s.optIns[p], o)
}

// active returns whether the version that declared the dependency is
// still part of the partial solution.
func (s *solver) active(o optIn) bool {
	v, ok := s.solution.decisions[o.from]
	return ok && v.Equal(o.version)
}

func (s *solver) allowsPrerelease(p Package, r semver.Range, v semver.Version) bool {
	if r.AllowsPrereleaseOf(v) {
		return true
	}
	for _, o := range s.optIns[p] {
		if !s.active(o) {
			continue
		}
		if o.prerelease || o.rng.AllowsPrereleaseOf(v) {
			return true
		}
	}
	return false
}

// eligible returns whether c may be selected for a package constrained
// to r.
func (s *solver) eligible(p Package, r semver.Range, c Candidate) bool {
	if !r.Contains(c.Version) {
		return false
	}
	if p == Root {
		return true
	}
	if len(c.UnknownKeys) > 0 || !s.supportsTarget(c) {
		return false
	}
	if c.Version.IsPrerelease() && !s.allowsPrerelease(p, r, c.Version) {
		return false
	}
	if c.Yanked {
		exact, ok := r.IsExact()
		return ok && exact.Equal(c.Version)
	}
	return true
}

func (s *solver) countVersions(term Term) (int, error) {
	list, err := s.candidatesFor(term.Package)
	if errors.Is(err, ErrPackageNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	count := 0
	for _, c := range list {
		if s.eligible(term.Package, term.Range, c) {
			count++
		}
	}
	return count, nil
}

// choosePackageVersion decides on the next package. The package with the
// fewest eligible versions goes first, so that conflicts are found early.
func (s *solver) choosePackageVersion() (Package, bool, error) {
	unsatisfied := s.solution.unsatisfied()
	if len(unsatisfied) == 0 {
		return Package{}, false, nil
	}
	var term Term
	bestCount := -1
	for _, t := range unsatisfied {
		count, err := s.countVersions(t)
		if err != nil {
			return Package{}, false, err
		}
		if bestCount == -1 || count < bestCount {
			term = t
			bestCount = count
		}
	}
	p := term.Package

	list, err := s.candidatesFor(p)
	if errors.Is(err, ErrPackageNotFound) {
		inc := newExternal(CausePackageNotFound, Term{Package: p, Range: semver.Any(), Positive: true})
		inc.message = err.Error()
		s.addIncompatibility(inc)
		return p, true, nil
	}
	if err != nil {
		return Package{}, false, err
	}

	var chosen *Candidate
	for i := range list {
		if s.eligible(p, term.Range, list[i]) {
			chosen = &list[i]
			break
		}
	}
	if chosen == nil {
		s.explainNoVersions(p, term.Range, list)
		s.addIncompatibility(newExternal(CauseNoVersions, term))
		return p, true, nil
	}

	deps, err := s.dependenciesOf(p, chosen.Version)
	if err != nil {
		return Package{}, false, err
	}
	conflict := false
	for _, dep := range deps {
		if dep.Package == p {
			continue
		}
		s.addOptIn(dep.Package, optIn{
			from:       p,
			version:    chosen.Version,
			rng:        dep.Range,
			prerelease: dep.AllowPrerelease,
		})
		id := s.addIncompatibility(newExternal(CauseDependency,
			Term{Package: p, Range: semver.Exact(chosen.Version), Positive: true},
			Term{Package: dep.Package, Range: dep.Range, Positive: false}))
		// If the dependency is already contradicted, selecting the version
		// would cause a conflict. Propagation will steer away from it.
		satisfied := true
		for _, t := range s.arena.get(id).terms {
			if t.Package != p && !s.solution.satisfies(t) {
				satisfied = false
				break
			}
		}
		conflict = conflict || satisfied
	}
	if !conflict {
		s.debugf("selecting %s %s", s.describePackage(p), chosen.Version)
		s.solution.decide(p, chosen.Version)
		if chosen.Yanked {
			msg := fmt.Sprintf("%s %s is yanked", p, chosen.Version)
			if chosen.YankedMessage != "" {
				msg += ": " + chosen.YankedMessage
			}
			s.warnings = append(s.warnings, msg)
		}
	}
	return p, true, nil
}

// explainNoVersions records hints for why none of the versions of p in r
// could be selected.
func (s *solver) explainNoVersions(p Package, r semver.Range, list []Candidate) {
	contained := 0
	yanked := 0
	prerelease := 0
	otherTargets := map[string]bool{}
	var unknownKeys []string
	for _, c := range list {
		if !r.Contains(c.Version) {
			continue
		}
		contained++
		switch {
		case len(c.UnknownKeys) > 0:
			unknownKeys = append(unknownKeys, c.UnknownKeys...)
		case !s.supportsTarget(c):
			for _, t := range c.Targets {
				otherTargets[t] = true
			}
		case c.Version.IsPrerelease() && !s.allowsPrerelease(p, r, c.Version):
			prerelease++
		case c.Yanked:
			yanked++
		}
	}
	if contained == 0 {
		return
	}
	if len(otherTargets) > 0 {
		var targets []string
		for t := range otherTargets {
			targets = append(targets, t)
		}
		sort.Strings(targets)
		s.addHint(p, fmt.Sprintf("%s has suitable versions for other targets: %s; is your current target %s set correctly?",
			p, strings.Join(targets, ", "), s.opts.Target))
	}
	if prerelease == contained {
		s.addHint(p, fmt.Sprintf("%s has only pre-release versions matching %s; to allow pre-releases, set pre_release: true", p, r))
	}
	if yanked == contained {
		s.addHint(p, fmt.Sprintf("all versions of %s are yanked", p))
	}
	if len(unknownKeys) > 0 {
		sort.Strings(unknownKeys)
		s.addHint(p, fmt.Sprintf("some versions of %s use build metadata keys that this tool doesn't support (%s); upgrade the component manager to use them",
			p, strings.Join(dedupe(unknownKeys), ", ")))
	}
}

func dedupe(sorted []string) []string {
	var result []string
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			result = append(result, s)
		}
	}
	return result
}

func (s *solver) addHint(p Package, hint string) {
	for _, h := range s.hints[p] {
		if h == hint {
			return
		}
	}
	s.hints[p] = append(s.hints[p], hint)
}

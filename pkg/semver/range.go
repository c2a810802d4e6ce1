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
	"sort"
	"strings"
)

// bound is one end of an interval. An unbounded lower end is -inf, an
// unbounded upper end is +inf.
type bound struct {
	v         Version
	inclusive bool
	unbounded bool
}

type interval struct {
	lo bound
	hi bound
}

// Range is a set of versions, represented as a sorted list of disjoint
// intervals.
//
// Ranges also remember the cores of pre-release versions named at their
// endpoints. A pre-release is only allowed by a range if its core is one
// of those.
type Range struct {
	intervals []interval
	preCores  []string
}

// Any returns the range that contains every version.
func Any() Range {
	return Range{intervals: []interval{{lo: bound{unbounded: true}, hi: bound{unbounded: true}}}}
}

// Empty returns the range that contains no version.
func Empty() Range {
	return Range{}
}

// Exact returns the range that only contains v.
func Exact(v Version) Range {
	return newRange(interval{
		lo: bound{v: v, inclusive: true},
		hi: bound{v: v, inclusive: true},
	})
}

// AtLeast returns '>=v'.
func AtLeast(v Version) Range {
	return newRange(interval{lo: bound{v: v, inclusive: true}, hi: bound{unbounded: true}})
}

// Below returns '<v'.
func Below(v Version) Range {
	return newRange(interval{lo: bound{unbounded: true}, hi: bound{v: v}})
}

// Between returns '>=lo,<hi'.
func Between(lo, hi Version) Range {
	return newRange(interval{lo: bound{v: lo, inclusive: true}, hi: bound{v: hi}})
}

func newRange(ivs ...interval) Range {
	r := Range{}
	for _, iv := range ivs {
		if iv.isEmpty() {
			continue
		}
		r.intervals = append(r.intervals, iv)
		r.addPreCore(iv.lo)
		r.addPreCore(iv.hi)
	}
	r.normalize()
	return r
}

func (r *Range) addPreCore(b bound) {
	if b.unbounded || !b.v.IsPrerelease() {
		return
	}
	r.preCores = mergePreCores(r.preCores, []string{b.v.coreString()})
}

func mergePreCores(a, b []string) []string {
	if len(b) == 0 {
		return a
	}
	seen := map[string]bool{}
	var result []string
	for _, list := range [][]string{a, b} {
		for _, c := range list {
			if !seen[c] {
				seen[c] = true
				result = append(result, c)
			}
		}
	}
	sort.Strings(result)
	return result
}

// compareLo orders lower bounds: -inf first, and at the same version an
// inclusive bound starts earlier than an exclusive one.
func compareLo(a, b bound) int {
	switch {
	case a.unbounded && b.unbounded:
		return 0
	case a.unbounded:
		return -1
	case b.unbounded:
		return 1
	}
	if c := a.v.Compare(b.v); c != 0 {
		return c
	}
	switch {
	case a.inclusive == b.inclusive:
		return 0
	case a.inclusive:
		return -1
	}
	return 1
}

// compareHi orders upper bounds: +inf last, and at the same version an
// exclusive bound ends earlier than an inclusive one.
func compareHi(a, b bound) int {
	switch {
	case a.unbounded && b.unbounded:
		return 0
	case a.unbounded:
		return 1
	case b.unbounded:
		return -1
	}
	if c := a.v.Compare(b.v); c != 0 {
		return c
	}
	switch {
	case a.inclusive == b.inclusive:
		return 0
	case a.inclusive:
		return 1
	}
	return -1
}

func (iv interval) isEmpty() bool {
	if iv.lo.unbounded || iv.hi.unbounded {
		return false
	}
	c := iv.lo.v.Compare(iv.hi.v)
	if c > 0 {
		return true
	}
	if c == 0 {
		return !(iv.lo.inclusive && iv.hi.inclusive)
	}
	return false
}

func (iv interval) contains(v Version) bool {
	if !iv.lo.unbounded {
		c := v.Compare(iv.lo.v)
		if c < 0 || (c == 0 && !iv.lo.inclusive) {
			return false
		}
	}
	if !iv.hi.unbounded {
		c := v.Compare(iv.hi.v)
		if c > 0 || (c == 0 && !iv.hi.inclusive) {
			return false
		}
	}
	return true
}

// touches returns whether b starts before or right where a ends, so that
// the two intervals can be merged.
func touches(a, b interval) bool {
	if a.hi.unbounded || b.lo.unbounded {
		return true
	}
	c := a.hi.v.Compare(b.lo.v)
	if c > 0 {
		return true
	}
	if c == 0 {
		return a.hi.inclusive || b.lo.inclusive
	}
	return false
}

func (r *Range) normalize() {
	if len(r.intervals) == 0 {
		return
	}
	sort.SliceStable(r.intervals, func(i, j int) bool {
		return compareLo(r.intervals[i].lo, r.intervals[j].lo) < 0
	})
	merged := []interval{r.intervals[0]}
	for _, iv := range r.intervals[1:] {
		last := &merged[len(merged)-1]
		if touches(*last, iv) {
			if compareHi(iv.hi, last.hi) > 0 {
				last.hi = iv.hi
			}
			continue
		}
		merged = append(merged, iv)
	}
	r.intervals = merged
}

// IsEmpty returns true if the range contains no version.
func (r Range) IsEmpty() bool {
	return len(r.intervals) == 0
}

// IsAny returns true if the range contains every version.
func (r Range) IsAny() bool {
	return len(r.intervals) == 1 && r.intervals[0].lo.unbounded && r.intervals[0].hi.unbounded
}

// IsExact returns the version if the range contains exactly one version.
func (r Range) IsExact() (Version, bool) {
	if len(r.intervals) != 1 {
		return Version{}, false
	}
	iv := r.intervals[0]
	if iv.lo.unbounded || iv.hi.unbounded || !iv.lo.inclusive || !iv.hi.inclusive {
		return Version{}, false
	}
	if !iv.lo.v.Equal(iv.hi.v) {
		return Version{}, false
	}
	return iv.lo.v, true
}

// Contains is the set membership test used by the range algebra.
func (r Range) Contains(v Version) bool {
	for _, iv := range r.intervals {
		if iv.contains(v) {
			return true
		}
	}
	return false
}

// Allows is like Contains, but only accepts a pre-release if the range
// names a pre-release of the same MAJOR.MINOR.PATCH at one of its
// endpoints.
func (r Range) Allows(v Version) bool {
	if !r.Contains(v) {
		return false
	}
	if !v.IsPrerelease() {
		return true
	}
	return r.AllowsPrereleaseOf(v)
}

// AllowsPrereleaseOf returns whether the range explicitly opted into
// pre-releases of v's core.
func (r Range) AllowsPrereleaseOf(v Version) bool {
	core := v.coreString()
	for _, c := range r.preCores {
		if c == core {
			return true
		}
	}
	return false
}

// HasPrereleaseEndpoint returns true if any endpoint names a pre-release.
func (r Range) HasPrereleaseEndpoint() bool {
	return len(r.preCores) > 0
}

// Intersect returns the versions contained in both ranges.
func (r Range) Intersect(other Range) Range {
	result := Range{preCores: mergePreCores(r.preCores, other.preCores)}
	i, j := 0, 0
	for i < len(r.intervals) && j < len(other.intervals) {
		a, b := r.intervals[i], other.intervals[j]
		lo := a.lo
		if compareLo(b.lo, lo) > 0 {
			lo = b.lo
		}
		hi := a.hi
		if compareHi(b.hi, hi) < 0 {
			hi = b.hi
		}
		iv := interval{lo: lo, hi: hi}
		if !iv.isEmpty() {
			result.intervals = append(result.intervals, iv)
		}
		if compareHi(a.hi, b.hi) < 0 {
			i++
		} else {
			j++
		}
	}
	result.normalize()
	return result
}

// Union returns the versions contained in either range.
func (r Range) Union(other Range) Range {
	result := Range{preCores: mergePreCores(r.preCores, other.preCores)}
	result.intervals = append(result.intervals, r.intervals...)
	result.intervals = append(result.intervals, other.intervals...)
	result.normalize()
	return result
}

// Complement returns the versions not contained in r.
func (r Range) Complement() Range {
	result := Range{preCores: r.preCores}
	lo := bound{unbounded: true}
	for _, iv := range r.intervals {
		if !iv.lo.unbounded {
			gap := interval{lo: lo, hi: bound{v: iv.lo.v, inclusive: !iv.lo.inclusive}}
			if !gap.isEmpty() {
				result.intervals = append(result.intervals, gap)
			}
		}
		if iv.hi.unbounded {
			return result
		}
		lo = bound{v: iv.hi.v, inclusive: !iv.hi.inclusive}
	}
	result.intervals = append(result.intervals, interval{lo: lo, hi: bound{unbounded: true}})
	return result
}

// Difference returns the versions in r that are not in other.
func (r Range) Difference(other Range) Range {
	result := r.Intersect(other.Complement())
	result.preCores = r.preCores
	return result
}

// AllowsAll returns true if every version of other is contained in r.
func (r Range) AllowsAll(other Range) bool {
	return other.Difference(r).IsEmpty()
}

// AllowsAny returns true if r and other share at least one version.
func (r Range) AllowsAny(other Range) bool {
	return !r.Intersect(other).IsEmpty()
}

// Equal returns whether both ranges contain the same versions.
func (r Range) Equal(other Range) bool {
	return r.AllowsAll(other) && other.AllowsAll(r)
}

// String returns the canonical form of the range. Intervals are sorted by
// their lower bound and joined with ' || '.
func (r Range) String() string {
	if r.IsEmpty() {
		return "<empty>"
	}
	parts := make([]string, 0, len(r.intervals))
	for _, iv := range r.intervals {
		parts = append(parts, iv.String())
	}
	return strings.Join(parts, " || ")
}

func (iv interval) String() string {
	switch {
	case iv.lo.unbounded && iv.hi.unbounded:
		return "*"
	case !iv.lo.unbounded && !iv.hi.unbounded && iv.lo.v.Equal(iv.hi.v):
		return "==" + iv.lo.v.String()
	}
	var parts []string
	if !iv.lo.unbounded {
		op := ">"
		if iv.lo.inclusive {
			op = ">="
		}
		parts = append(parts, op+iv.lo.v.String())
	}
	if !iv.hi.unbounded {
		op := "<"
		if iv.hi.inclusive {
			op = "<="
		}
		parts = append(parts, op+iv.hi.v.String())
	}
	return strings.Join(parts, ",")
}

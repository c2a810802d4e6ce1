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
	"strings"

	"go.trai.ch/zerr"
)

// ErrNoSolution is matched by every *NoSolutionError.
var ErrNoSolution = zerr.New("version solving failed")

// Leaf is an external fact that contributed to a failed solve.
type Leaf struct {
	Cause       Cause
	Description string
}

// NoSolutionError is returned when the dependencies can't be satisfied.
type NoSolutionError struct {
	w     *writer
	root  incompatID
	hints []string
}

func (s *solver) failure(id incompatID) error {
	w := &writer{arena: &s.arena, rootName: s.opts.RootName}
	e := &NoSolutionError{w: w, root: id}
	seen := map[Package]bool{}
	for _, leafID := range w.leaves(id) {
		for _, t := range s.arena.get(leafID).terms {
			if seen[t.Package] {
				continue
			}
			seen[t.Package] = true
			e.hints = append(e.hints, s.hints[t.Package]...)
		}
	}
	return e
}

func (e *NoSolutionError) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Explanation())
	for _, h := range e.hints {
		sb.WriteString("\n")
		sb.WriteString(h)
	}
	return sb.String()
}

// Is makes the error match ErrNoSolution.
func (e *NoSolutionError) Is(target error) bool {
	return target == ErrNoSolution
}

// Hints returns suggestions on how to fix the failure.
func (e *NoSolutionError) Hints() []string {
	return e.hints
}

// AddHint appends a suggestion that the caller knows about, for example
// conditions that removed dependencies before the solve.
func (e *NoSolutionError) AddHint(hint string) {
	for _, h := range e.hints {
		if h == hint {
			return
		}
	}
	e.hints = append(e.hints, hint)
}

// Leaves returns the external incompatibilities the failure derives from.
func (e *NoSolutionError) Leaves() []Leaf {
	var result []Leaf
	for _, id := range e.w.leaves(e.root) {
		result = append(result, Leaf{
			Cause:       e.w.arena.get(id).cause,
			Description: e.w.describe(id),
		})
	}
	return result
}

// Explanation returns the derivation of the failure, one step per line.
func (e *NoSolutionError) Explanation() string {
	return e.w.write(e.root)
}

type line struct {
	message string
	number  int
}

// writer renders the derivation graph of a failure as prose.
type writer struct {
	arena    *arena
	rootName string

	root        incompatID
	derivations map[incompatID]int
	lines       []line
	lineNumbers map[incompatID]int
}

// leaves returns the external incompatibilities reachable from id, in
// depth-first order without duplicates.
func (w *writer) leaves(id incompatID) []incompatID {
	var result []incompatID
	seen := map[incompatID]bool{}
	var visit func(incompatID)
	visit = func(id incompatID) {
		if seen[id] {
			return
		}
		seen[id] = true
		inc := w.arena.get(id)
		if inc.cause == CauseConflict {
			visit(inc.conflict)
			visit(inc.other)
			return
		}
		result = append(result, id)
	}
	visit(id)
	return result
}

func (w *writer) packageName(p Package) string {
	if p == Root {
		return w.rootName
	}
	return p.String()
}

func (w *writer) terse(t Term, allowEvery bool) string {
	if t.Package == Root {
		return w.rootName
	}
	if allowEvery && t.Range.IsAny() {
		return "every version of " + w.packageName(t.Package)
	}
	if v, ok := t.Range.IsExact(); ok {
		return w.packageName(t.Package) + " " + v.String()
	}
	return w.packageName(t.Package) + " " + t.Range.String()
}

func (w *writer) terseRef(t Term) string {
	if t.Range.IsAny() {
		return w.packageName(t.Package)
	}
	return w.terse(t, false)
}

func (w *writer) describe(id incompatID) string {
	inc := w.arena.get(id)
	terms := inc.terms
	switch inc.cause {
	case CauseDependency:
		return w.terse(terms[0], true) + " depends on " + w.terse(terms[1], false)
	case CauseNoVersions:
		return fmt.Sprintf("no versions of %s match %s", w.packageName(terms[0].Package), terms[0].Range)
	case CausePackageNotFound:
		return fmt.Sprintf("%s doesn't exist (%s)", w.packageName(terms[0].Package), inc.message)
	case CauseRoot:
		return w.rootName + " is required"
	}
	if inc.isFailure() {
		return "version solving failed"
	}

	if len(terms) == 1 {
		if terms[0].Positive {
			return w.terseRef(terms[0]) + " is forbidden"
		}
		return w.terseRef(terms[0]) + " is required"
	}

	if len(terms) == 2 && terms[0].Positive == terms[1].Positive {
		if terms[0].Positive {
			return w.terseRef(terms[0]) + " is incompatible with " + w.terseRef(terms[1])
		}
		return "either " + w.terse(terms[0], false) + " or " + w.terse(terms[1], false)
	}

	var positive, negative []string
	var positiveTerm Term
	for _, t := range terms {
		if t.Positive {
			positiveTerm = t
			positive = append(positive, w.terse(t, false))
		} else {
			negative = append(negative, w.terse(t, false))
		}
	}
	switch {
	case len(positive) == 1 && len(negative) > 0:
		return w.terse(positiveTerm, true) + " requires " + strings.Join(negative, " or ")
	case len(positive) > 0 && len(negative) > 0:
		return "if " + strings.Join(positive, " and ") + " then " + strings.Join(negative, " or ")
	case len(positive) > 0:
		return "one of " + strings.Join(positive, " or ") + " must be false"
	}
	return "one of " + strings.Join(negative, " or ") + " must be true"
}

func (w *writer) and(a incompatID, b incompatID, aLine int, bLine int) string {
	var sb strings.Builder
	sb.WriteString(w.describe(a))
	if aLine != 0 {
		fmt.Fprintf(&sb, " (%d)", aLine)
	}
	sb.WriteString(" and ")
	sb.WriteString(w.describe(b))
	if bLine != 0 {
		fmt.Fprintf(&sb, " (%d)", bLine)
	}
	return sb.String()
}

func (w *writer) countDerivations(id incompatID) {
	if _, ok := w.derivations[id]; ok {
		w.derivations[id]++
		return
	}
	w.derivations[id] = 1
	inc := w.arena.get(id)
	if inc.cause == CauseConflict {
		w.countDerivations(inc.conflict)
		w.countDerivations(inc.other)
	}
}

func (w *writer) write(root incompatID) string {
	w.root = root
	w.derivations = map[incompatID]int{}
	w.lineNumbers = map[incompatID]int{}
	w.lines = nil
	w.countDerivations(root)

	if w.arena.get(root).cause == CauseConflict {
		w.visit(root, false)
	} else {
		w.emit(root, fmt.Sprintf("Because %s, version solving failed.", w.describe(root)), false)
	}

	padding := 0
	if len(w.lineNumbers) > 0 {
		padding = len(fmt.Sprintf("(%d) ", len(w.lineNumbers)))
	}

	var sb strings.Builder
	lastWasEmpty := false
	for _, l := range w.lines {
		if l.message == "" {
			if !lastWasEmpty {
				sb.WriteString("\n")
			}
			lastWasEmpty = true
			continue
		}
		lastWasEmpty = false
		prefix := strings.Repeat(" ", padding)
		if l.number != 0 {
			prefix = fmt.Sprintf("%-*s", padding, fmt.Sprintf("(%d)", l.number))
		}
		sb.WriteString(prefix)
		sb.WriteString(l.message)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func (w *writer) emit(id incompatID, message string, numbered bool) {
	if numbered {
		number := len(w.lineNumbers) + 1
		w.lineNumbers[id] = number
		w.lines = append(w.lines, line{message: message, number: number})
		return
	}
	w.lines = append(w.lines, line{message: message})
}

func (w *writer) isDerived(id incompatID) bool {
	return w.arena.get(id).cause == CauseConflict
}

func (w *writer) isSingleLine(id incompatID) bool {
	inc := w.arena.get(id)
	return !w.isDerived(inc.conflict) && !w.isDerived(inc.other)
}

func (w *writer) isCollapsible(id incompatID) bool {
	if w.derivations[id] > 1 {
		return false
	}
	inc := w.arena.get(id)
	conflictDerived := w.isDerived(inc.conflict)
	otherDerived := w.isDerived(inc.other)
	if conflictDerived == otherDerived {
		return false
	}
	complex := inc.other
	if conflictDerived {
		complex = inc.conflict
	}
	_, numbered := w.lineNumbers[complex]
	return !numbered
}

// visit writes the derivation of id, a derived incompatibility.
func (w *writer) visit(id incompatID, conclusion bool) {
	numbered := conclusion || w.derivations[id] > 1
	conjunction := "And"
	if conclusion || id == w.root {
		conjunction = "So,"
	}
	text := w.describe(id)
	inc := w.arena.get(id)
	conflict, other := inc.conflict, inc.other

	switch {
	case w.isDerived(conflict) && w.isDerived(other):
		conflictLine, hasConflictLine := w.lineNumbers[conflict]
		otherLine, hasOtherLine := w.lineNumbers[other]
		switch {
		case hasConflictLine && hasOtherLine:
			w.emit(id, fmt.Sprintf("Because %s, %s.", w.and(conflict, other, conflictLine, otherLine), text), numbered)
		case hasConflictLine || hasOtherLine:
			withLine, withoutLine, number := conflict, other, conflictLine
			if !hasConflictLine {
				withLine, withoutLine, number = other, conflict, otherLine
			}
			w.visit(withoutLine, false)
			w.emit(id, fmt.Sprintf("%s because %s (%d), %s.", conjunction, w.describe(withLine), number, text), numbered)
		default:
			singleLineConflict := w.isSingleLine(conflict)
			singleLineOther := w.isSingleLine(other)
			if singleLineConflict || singleLineOther {
				first, second := other, conflict
				if singleLineOther {
					first, second = conflict, other
				}
				w.visit(first, false)
				w.visit(second, false)
				w.emit(id, fmt.Sprintf("Thus, %s.", text), numbered)
			} else {
				w.visit(conflict, true)
				w.lines = append(w.lines, line{})
				w.visit(other, false)
				w.emit(id, fmt.Sprintf("%s because %s (%d), %s.", conjunction, w.describe(conflict), w.lineNumbers[conflict], text), numbered)
			}
		}

	case w.isDerived(conflict) || w.isDerived(other):
		derived, external := conflict, other
		if !w.isDerived(conflict) {
			derived, external = other, conflict
		}
		if derivedLine, ok := w.lineNumbers[derived]; ok {
			w.emit(id, fmt.Sprintf("Because %s, %s.", w.and(external, derived, 0, derivedLine), text), numbered)
		} else if w.isCollapsible(derived) {
			d := w.arena.get(derived)
			collapsedDerived, collapsedExternal := d.conflict, d.other
			if !w.isDerived(d.conflict) {
				collapsedDerived, collapsedExternal = d.other, d.conflict
			}
			w.visit(collapsedDerived, false)
			w.emit(id, fmt.Sprintf("%s because %s, %s.", conjunction, w.and(collapsedExternal, external, 0, 0), text), numbered)
		} else {
			w.visit(derived, false)
			w.emit(id, fmt.Sprintf("%s because %s, %s.", conjunction, w.describe(external), text), numbered)
		}

	default:
		w.emit(id, fmt.Sprintf("Because %s, %s.", w.and(conflict, other, 0, 0), text), numbered)
	}
}

// Helpers for the debug trace.

func (s *solver) describe(id incompatID) string {
	w := &writer{arena: &s.arena, rootName: s.opts.RootName}
	return w.describe(id)
}

func (s *solver) describeTerm(t Term) string {
	w := &writer{arena: &s.arena, rootName: s.opts.RootName}
	if t.Positive {
		return w.terse(t, false)
	}
	return "not " + w.terse(t, false)
}

func (s *solver) describePackage(p Package) string {
	w := &writer{rootName: s.opts.RootName}
	return w.packageName(p)
}

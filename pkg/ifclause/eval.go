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

package ifclause

import (
	"encoding/json"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/toitlang/idfcomp/pkg/semver"
	"go.trai.ch/zerr"
)

// Facts are the build facts if-clauses are evaluated against.
type Facts struct {
	IDFVersion semver.Version
	Target     string
	// Config contains the values of the kconfig options, as found in the
	// JSON configuration of the build: bools, numbers, and strings.
	Config map[string]interface{}
}

// LoadConfigJSON reads a kconfig JSON file ('sdkconfig.json').
func LoadConfigJSON(path string) (map[string]interface{}, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	result := map[string]interface{}{}
	if err := json.Unmarshal(b, &result); err != nil {
		return nil, zerr.With(zerr.Wrap(err, "invalid kconfig JSON"), "path", path)
	}
	return result, nil
}

// Eval evaluates the expression.
//
// If the expression refers to a configuration option that isn't set,
// returns a *MissingKconfigError.
func (e *Expr) Eval(f Facts) (bool, error) {
	return e.root.eval(&f)
}

func (n *orNode) eval(f *Facts) (bool, error) {
	l, err := n.left.eval(f)
	if err != nil || l {
		return l, err
	}
	return n.right.eval(f)
}

func (n *andNode) eval(f *Facts) (bool, error) {
	l, err := n.left.eval(f)
	if err != nil || !l {
		return l, err
	}
	return n.right.eval(f)
}

type valueKind int

const (
	kindVersion valueKind = iota
	kindString
	kindBool
	kindInt
)

type value struct {
	kind valueKind
	ver  semver.Version
	str  string
	b    bool
	n    int64
}

func (lv lvalue) resolve(f *Facts) (value, error) {
	switch lv.kind {
	case lvIDFVersion:
		if !f.IDFVersion.IsValid() {
			return value{}, zerr.Wrap(ErrMissingFact, "idf_version is unknown")
		}
		return value{kind: kindVersion, ver: f.IDFVersion}, nil
	case lvTarget:
		if f.Target == "" {
			return value{}, zerr.Wrap(ErrMissingFact, "target is unknown")
		}
		return value{kind: kindString, str: f.Target}, nil
	case lvConfig:
		raw, ok := f.Config[lv.name]
		if !ok {
			return value{}, &MissingKconfigError{Name: lv.name}
		}
		return configValue(lv.name, raw)
	}
	return value{kind: kindString, str: lv.name}, nil
}

func configValue(name string, raw interface{}) (value, error) {
	switch v := raw.(type) {
	case bool:
		return value{kind: kindBool, b: v}, nil
	case string:
		return value{kind: kindString, str: v}, nil
	case int:
		return value{kind: kindInt, n: int64(v)}, nil
	case int64:
		return value{kind: kindInt, n: v}, nil
	case float64:
		if v != math.Trunc(v) {
			return value{}, typeMismatch("kconfig option %s has non-integer value %v", name, v)
		}
		return value{kind: kindInt, n: int64(v)}, nil
	}
	return value{}, typeMismatch("kconfig option %s has unsupported value %v", name, raw)
}

func (n *comparison) eval(f *Facts) (bool, error) {
	left, err := n.left.resolve(f)
	if err != nil {
		return false, err
	}
	return compare(left, n.op, n.right, n)
}

func compare(left value, op string, right literal, where node) (bool, error) {
	switch left.kind {
	case kindVersion:
		if op == "=" {
			op = "=="
		}
		rng, err := semver.ParseRange(op + right.text)
		if err != nil {
			return false, err
		}
		return rng.Contains(left.ver), nil

	case kindBool:
		b, err := strconv.ParseBool(right.text)
		if err != nil {
			return false, typeMismatch("%s: %s is not a boolean", where, right)
		}
		switch op {
		case "==", "=":
			return left.b == b, nil
		case "!=":
			return left.b != b, nil
		}
		return false, typeMismatch("%s: operator %s is not supported for booleans", where, op)

	case kindInt:
		r, err := strconv.ParseInt(right.text, 0, 64)
		if err != nil {
			return false, typeMismatch("%s: %s is not an integer", where, right)
		}
		switch op {
		case "==", "=":
			return left.n == r, nil
		case "!=":
			return left.n != r, nil
		case "<":
			return left.n < r, nil
		case "<=":
			return left.n <= r, nil
		case ">":
			return left.n > r, nil
		case ">=":
			return left.n >= r, nil
		}
		return false, typeMismatch("%s: operator %s is not supported for integers", where, op)
	}

	switch op {
	case "==", "=":
		return left.str == right.text, nil
	case "!=":
		return left.str != right.text, nil
	}
	return false, typeMismatch("%s: operator %s is not supported for strings", where, op)
}

func (n *membership) eval(f *Facts) (bool, error) {
	left, err := n.left.resolve(f)
	if err != nil {
		return false, err
	}
	found := false
	if n.substr != nil {
		if left.kind != kindString {
			return false, typeMismatch("%s: substring test requires a string", n)
		}
		found = strings.Contains(n.substr.text, left.str)
	} else {
		for _, item := range n.items {
			eq, err := compare(left, "==", item, n)
			if err != nil {
				return false, err
			}
			if eq {
				found = true
				break
			}
		}
	}
	if n.negate {
		return !found, nil
	}
	return found, nil
}

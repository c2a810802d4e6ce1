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
	"errors"

	"github.com/toitlang/idfcomp/pkg/ifclause"
	"go.trai.ch/zerr"
)

// Resolution is the outcome of evaluating the conditions of a dependency
// against the build facts.
type Resolution struct {
	// Applies is false if the dependency is absent for this build.
	Applies bool
	// Version is the version range (or git ref) to use.
	Version string
	// MissingKconfig lists the configuration options that the conditions
	// referred to, but that weren't set.
	MissingKconfig []string
}

// evalCondition evaluates an if-clause. A missing kconfig option makes the
// condition false and is recorded.
func evalCondition(clause string, facts ifclause.Facts, res *Resolution) (bool, error) {
	expr, err := ifclause.Parse(clause)
	if err != nil {
		return false, err
	}
	ok, err := expr.Eval(facts)
	var missing *ifclause.MissingKconfigError
	if errors.As(err, &missing) {
		res.MissingKconfig = append(res.MissingKconfig, missing.Name)
		return false, nil
	}
	if err != nil {
		return false, zerr.With(err, "if", clause)
	}
	return ok, nil
}

// Resolve evaluates the 'matches' and 'rules' of the dependency.
//
// The first true entry of 'matches' is selected. If none is true, the
// dependency is absent. Then every entry of 'rules' must be true, or the
// dependency is absent. The version of the selected match, and after it
// the version of the last rule that has one, replace the dependency's own
// version.
func (d *DependencySpec) Resolve(facts ifclause.Facts) (Resolution, error) {
	res := Resolution{Version: d.VersionSpec()}
	if len(d.Matches) > 0 {
		selected := false
		for _, m := range d.Matches {
			ok, err := evalCondition(m.If, facts, &res)
			if err != nil {
				return res, err
			}
			if ok {
				selected = true
				if m.Version != "" {
					res.Version = m.Version
				}
				break
			}
		}
		if !selected {
			return res, nil
		}
	}
	for _, r := range d.Rules {
		ok, err := evalCondition(r.If, facts, &res)
		if err != nil {
			return res, err
		}
		if !ok {
			return res, nil
		}
		if r.Version != "" {
			res.Version = r.Version
		}
	}
	res.Applies = true
	return res, nil
}

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
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.trai.ch/zerr"
)

// Tier is the precedence of a component location. When two locations
// provide a component with the same name, the higher tier wins.
type Tier int

const (
	TierToolchainComponents Tier = iota
	TierToolchainManaged
	TierProjectManaged
	TierExtraComponents
	TierProjectComponents
)

func (t Tier) String() string {
	switch t {
	case TierToolchainComponents:
		return "toolchain components"
	case TierToolchainManaged:
		return "toolchain managed components"
	case TierProjectManaged:
		return "project managed components"
	case TierExtraComponents:
		return "extra component directories"
	case TierProjectComponents:
		return "project components"
	}
	return fmt.Sprintf("tier %d", int(t))
}

// TieredComponent is a component directory found in a tier.
type TieredComponent struct {
	// Name is the build name of the component.
	Name string
	Dir  string
	Tier Tier
}

// ScanComponentDir lists the components in dir: every sub-directory that
// isn't hidden. A missing directory has no components.
func ScanComponentDir(dir string, tier Tier) ([]TieredComponent, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	var result []TieredComponent
	for _, entry := range entries {
		if !entry.IsDir() || strings.HasPrefix(entry.Name(), ".") {
			continue
		}
		result = append(result, TieredComponent{
			Name: entry.Name(),
			Dir:  filepath.Join(dir, entry.Name()),
			Tier: tier,
		})
	}
	return result, nil
}

// MergeTiers merges the components of all tiers. Components are keyed by
// their short name: 'espressif__led_strip' and 'led_strip' collide. The
// component of the higher tier wins. Two components with the same name in
// the same tier are an error.
func MergeTiers(components []TieredComponent) (map[string]TieredComponent, error) {
	result := map[string]TieredComponent{}
	for _, c := range components {
		key := shortBuildName(c.Name)
		existing, ok := result[key]
		if !ok || existing.Tier < c.Tier {
			result[key] = c
			continue
		}
		if existing.Tier == c.Tier {
			return nil, zerr.With(zerr.Wrap(ErrEnvironment, fmt.Sprintf("two components named '%s' in %s: '%s' and '%s'", key, c.Tier, existing.Dir, c.Dir)), "component", key)
		}
	}
	return result, nil
}

// overriddenNames returns the short names of the components in the tiers
// that take precedence over managed components, sorted.
func overriddenNames(merged map[string]TieredComponent) []string {
	var names []string
	for key, c := range merged {
		if c.Tier > TierProjectManaged {
			names = append(names, key)
		}
	}
	sort.Strings(names)
	return names
}

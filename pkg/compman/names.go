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
	"regexp"
	"strings"
)

// ToolchainName is the name of the dependency on the toolchain itself.
const ToolchainName = "idf"

var slugRegexp = regexp.MustCompile(`^[a-z0-9]+(?:[_-][a-z0-9]+)*$`)

// validateSlug checks one segment of a component name.
func validateSlug(s string) error {
	if len(s) < 2 || len(s) > 64 {
		return fmt.Errorf("'%s' must be between 2 and 64 characters long", s)
	}
	if !slugRegexp.MatchString(s) {
		return fmt.Errorf("'%s' may only contain lowercase letters, digits, '_' and '-', and must not start, end, or repeat a separator", s)
	}
	return nil
}

// ValidateName checks a component name, with or without namespace.
func ValidateName(name string) error {
	if name == ToolchainName {
		return nil
	}
	parts := strings.Split(name, "/")
	if len(parts) > 2 {
		return fmt.Errorf("'%s' has more than one namespace", name)
	}
	for _, part := range parts {
		if err := validateSlug(part); err != nil {
			return err
		}
	}
	return nil
}

// NormalizeName lowercases the name and adds the default namespace if the
// name doesn't have one.
func NormalizeName(name string, defaultNamespace string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == ToolchainName || strings.Contains(name, "/") || defaultNamespace == "" {
		return name
	}
	return defaultNamespace + "/" + name
}

// ShortName returns the name without its namespace.
func ShortName(name string) string {
	return name[strings.LastIndex(name, "/")+1:]
}

// BuildName returns the name used for directories and by the build system:
// 'namespace/name' becomes 'namespace__name'.
func BuildName(name string) string {
	return strings.ReplaceAll(name, "/", "__")
}

// shortBuildName strips the namespace of a build name.
func shortBuildName(buildName string) string {
	if i := strings.LastIndex(buildName, "__"); i >= 0 {
		return buildName[i+2:]
	}
	return buildName
}

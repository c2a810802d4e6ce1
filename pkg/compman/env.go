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
	"strings"
)

// configPrefix starts a kconfig reference of an if-clause. It is not an
// environment variable.
const configPrefix = "CONFIG{"

func isIdentChar(c byte, first bool) bool {
	return c == '_' || 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z' || !first && '0' <= c && c <= '9'
}

// expandEnv replaces '$VAR' and '${VAR}' with the values of lookup.
// '$$' is an escaped '$'.
//
// References to unknown variables are kept verbatim and their names are
// returned in missing.
func expandEnv(s string, lookup func(string) (string, bool)) (result string, missing []string, err error) {
	if !strings.Contains(s, "$") {
		return s, nil, nil
	}
	var sb strings.Builder
	replace := func(name string, ref string) {
		if value, ok := lookup(name); ok {
			sb.WriteString(value)
			return
		}
		missing = append(missing, name)
		sb.WriteString(ref)
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '$' {
			sb.WriteByte(c)
			continue
		}
		rest := s[i+1:]
		switch {
		case strings.HasPrefix(rest, "$"):
			sb.WriteByte('$')
			i++
		case strings.HasPrefix(rest, configPrefix):
			sb.WriteByte('$')
		case strings.HasPrefix(rest, "{"):
			end := strings.IndexByte(rest, '}')
			if end < 0 {
				return "", nil, fmt.Errorf("unterminated variable reference in '%s'", s)
			}
			name := rest[1:end]
			if name == "" {
				return "", nil, fmt.Errorf("empty variable reference in '%s'", s)
			}
			replace(name, s[i:i+end+2])
			i += end + 1
		default:
			n := 0
			for n < len(rest) && isIdentChar(rest[n], n == 0) {
				n++
			}
			if n == 0 {
				sb.WriteByte('$')
				continue
			}
			replace(rest[:n], "$"+rest[:n])
			i += n
		}
	}
	return sb.String(), missing, nil
}

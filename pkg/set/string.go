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

package set

import (
	"sort"
	"strings"
)

// String is a set of strings. The zero value is an empty set that can be
// added to through a pointer.
type String map[string]struct{}

func NewString(strs ...string) String {
	res := String{}
	for _, s := range strs {
		res[s] = struct{}{}
	}
	return res
}

func (s *String) Add(strs ...string) {
	if *s == nil {
		*s = String{}
	}

	for _, str := range strs {
		(*s)[str] = struct{}{}
	}
}

func (s String) Contains(str string) bool {
	if s == nil {
		return false
	}

	_, exists := s[str]
	return exists
}

// Sorted returns the elements in ascending order.
func (s String) Sorted() []string {
	res := make([]string, 0, len(s))
	for k := range s {
		res = append(res, k)
	}
	sort.Strings(res)
	return res
}

// DuplicatesFold returns the entries of strs that appear more than once,
// ignoring case. Each duplicate is reported once, in the order of its
// second occurrence.
func DuplicatesFold(strs []string) []string {
	seen := String{}
	reported := String{}
	var res []string
	for _, str := range strs {
		key := strings.ToLower(str)
		if seen.Contains(key) {
			if !reported.Contains(key) {
				reported.Add(key)
				res = append(res, str)
			}
			continue
		}
		seen.Add(key)
	}
	return res
}

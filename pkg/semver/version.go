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
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/hashicorp/go-version"
	"go.trai.ch/zerr"
)

var (
	// ErrInvalidVersion is returned when a string is not a valid component version.
	ErrInvalidVersion = zerr.New("invalid version")
	// ErrInvalidRange is returned when a range expression cannot be parsed.
	ErrInvalidRange = zerr.New("invalid version range")
)

// Version is a semantic version extended with an optional revision.
//
// The textual form is MAJOR.MINOR.PATCH[~REV][-PRE][+BUILD]. The
// revision may also follow the pre-release ('1.0.0-rc1~1').
type Version struct {
	core     *version.Version
	revision int64
	pre      []string
	build    string
}

var versionRegexp = regexp.MustCompile(`^v?([0-9]+\.[0-9]+\.[0-9]+)` +
	`(?:~([0-9]+))?` +
	`(?:-([0-9A-Za-z-]+(?:\.[0-9A-Za-z-]+)*))?` +
	`(?:~([0-9]+))?` +
	`(?:\+([0-9A-Za-z-]+(?:\.[0-9A-Za-z-]+)*))?$`)

var lenientRegexp = regexp.MustCompile(`^v?([0-9]+)(?:\.([0-9]+))?(?:\.([0-9]+))?(.*)$`)

func invalidVersion(str string) error {
	return zerr.With(zerr.Wrap(ErrInvalidVersion, fmt.Sprintf("cannot parse %q", str)), "version", str)
}

// Parse parses a full version.
func Parse(str string) (Version, error) {
	s := strings.TrimSpace(str)
	m := versionRegexp.FindStringSubmatch(s)
	if m == nil {
		return Version{}, invalidVersion(str)
	}
	if m[2] != "" && m[4] != "" {
		return Version{}, invalidVersion(str)
	}
	core, err := version.NewSemver(m[1])
	if err != nil {
		return Version{}, invalidVersion(str)
	}
	v := Version{
		core:  core,
		build: m[5],
	}
	rev := m[2]
	if rev == "" {
		rev = m[4]
	}
	if rev != "" {
		v.revision, err = strconv.ParseInt(rev, 10, 64)
		if err != nil {
			return Version{}, invalidVersion(str)
		}
	}
	if m[3] != "" {
		v.pre = strings.Split(m[3], ".")
	}
	return v, nil
}

// MustParse is like Parse but panics on error.
func MustParse(str string) Version {
	v, err := Parse(str)
	if err != nil {
		panic(err)
	}
	return v
}

// ParseLenient accepts partial versions like '5.1' or 'v5' and pads
// the missing segments with 0.
func ParseLenient(str string) (Version, error) {
	s := strings.TrimSpace(str)
	m := lenientRegexp.FindStringSubmatch(s)
	if m == nil {
		return Version{}, invalidVersion(str)
	}
	minor, patch := m[2], m[3]
	if minor == "" {
		minor = "0"
	}
	if patch == "" {
		patch = "0"
	}
	v, err := Parse(m[1] + "." + minor + "." + patch + m[4])
	if err != nil {
		return Version{}, invalidVersion(str)
	}
	return v, nil
}

// IsValid returns whether the zero value was produced by a successful parse.
func (v Version) IsValid() bool {
	return v.core != nil
}

func (v Version) segments() []int64 {
	if v.core == nil {
		return []int64{0, 0, 0}
	}
	return v.core.Segments64()
}

func (v Version) Major() int64 { return v.segments()[0] }
func (v Version) Minor() int64 { return v.segments()[1] }
func (v Version) Patch() int64 { return v.segments()[2] }

// Revision returns the '~REV' suffix, or 0 if there is none.
func (v Version) Revision() int64 { return v.revision }

// Prerelease returns the pre-release identifiers joined with '.'.
func (v Version) Prerelease() string { return strings.Join(v.pre, ".") }

// Build returns the build metadata. It does not participate in ordering.
func (v Version) Build() string { return v.build }

// IsPrerelease returns true if the version has a pre-release tag.
func (v Version) IsPrerelease() bool { return len(v.pre) > 0 }

// Core returns the MAJOR.MINOR.PATCH part of the version.
func (v Version) Core() Version {
	return Version{core: v.core}
}

// String returns the canonical representation (without a leading 'v').
func (v Version) String() string {
	s := v.coreString()
	if len(v.pre) > 0 {
		s += "-" + v.Prerelease()
	}
	if v.revision > 0 {
		s += "~" + strconv.FormatInt(v.revision, 10)
	}
	if v.build != "" {
		s += "+" + v.build
	}
	return s
}

func (v Version) coreString() string {
	seg := v.segments()
	return fmt.Sprintf("%d.%d.%d", seg[0], seg[1], seg[2])
}

// Compare returns -1, 0, or 1 if v is smaller, equal, or greater than other.
//
// The core is compared first, then the pre-release (a release is greater
// than any of its pre-releases), then the revision. Build metadata is
// ignored.
func (v Version) Compare(other Version) int {
	if v.core == nil || other.core == nil {
		switch {
		case v.core == nil && other.core == nil:
			return 0
		case v.core == nil:
			return -1
		default:
			return 1
		}
	}
	if c := v.core.Compare(other.core); c != 0 {
		return c
	}
	if c := comparePre(v.pre, other.pre); c != 0 {
		return c
	}
	switch {
	case v.revision < other.revision:
		return -1
	case v.revision > other.revision:
		return 1
	}
	return 0
}

func (v Version) Less(other Version) bool  { return v.Compare(other) < 0 }
func (v Version) Equal(other Version) bool { return v.Compare(other) == 0 }

func comparePre(a, b []string) int {
	switch {
	case len(a) == 0 && len(b) == 0:
		return 0
	case len(a) == 0:
		return 1
	case len(b) == 0:
		return -1
	}
	for i := 0; i < len(a) && i < len(b); i++ {
		if c := compareIdentifier(a[i], b[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	}
	return 0
}

// compareIdentifier follows semver: numeric identifiers compare numerically
// and have lower precedence than alphanumeric ones.
func compareIdentifier(a, b string) int {
	ai, aErr := strconv.ParseUint(a, 10, 64)
	bi, bErr := strconv.ParseUint(b, 10, 64)
	aNum, bNum := aErr == nil, bErr == nil
	switch {
	case aNum && bNum:
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		}
		return 0
	case aNum:
		return -1
	case bNum:
		return 1
	}
	return strings.Compare(a, b)
}

// bumpMajor returns the smallest release greater than all versions
// with the same major.
func (v Version) bumpMajor() Version {
	return fromSegments(v.Major()+1, 0, 0)
}

func (v Version) bumpMinor() Version {
	return fromSegments(v.Major(), v.Minor()+1, 0)
}

func (v Version) bumpPatch() Version {
	return fromSegments(v.Major(), v.Minor(), v.Patch()+1)
}

func fromSegments(major, minor, patch int64) Version {
	core, err := version.NewSemver(fmt.Sprintf("%d.%d.%d", major, minor, patch))
	if err != nil {
		panic(err)
	}
	return Version{core: core}
}

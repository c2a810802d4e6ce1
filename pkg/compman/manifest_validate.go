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
	"net/url"
	"regexp"
	"strings"

	"github.com/toitlang/idfcomp/pkg/ifclause"
	"github.com/toitlang/idfcomp/pkg/semver"
	"github.com/toitlang/idfcomp/pkg/set"
)

// ValidateOptions configure Manifest.Validate.
type ValidateOptions struct {
	// Upload enables the checks for manifests of published components:
	// the version is required, targets must be known, and if-clauses
	// must parse.
	Upload bool
}

var (
	tagRegexp       = regexp.MustCompile(`^[A-Za-z0-9_-]{3,32}$`)
	commitSHARegexp = regexp.MustCompile(`^[0-9a-f]{40}$`)
	// scp-like git URLs: 'git@github.com:espressif/repo.git'.
	scpURLRegexp = regexp.MustCompile(`^[A-Za-z0-9_.-]+@[A-Za-z0-9_.-]+:[^\s]+$`)
)

var requireValues = set.NewString("public", "private", "no", "false")

type validator struct {
	opts     ValidateOptions
	problems []string
}

func (v *validator) problem(field string, format string, a ...interface{}) {
	v.problems = append(v.problems, field+": "+fmt.Sprintf(format, a...))
}

// Validate checks the manifest and returns a *ManifestError listing all
// problems.
func (m *Manifest) Validate(opts ValidateOptions) error {
	v := &validator{opts: opts}

	if m.Name != "" {
		if err := ValidateName(strings.ToLower(m.Name)); err != nil {
			v.problem("name", "%v", err)
		}
	}
	if m.Version != "" {
		// Published versions must be complete. Project manifests may
		// use '1.0'.
		parse := semver.ParseLenient
		if opts.Upload {
			parse = semver.Parse
		}
		if _, err := parse(m.Version); err != nil {
			v.problem("version", "invalid version '%s'", m.Version)
		}
	} else if opts.Upload {
		v.problem("version", "required for upload")
	}

	v.unique("maintainers", m.Maintainers)
	v.unique("tags", m.Tags)
	for _, tag := range m.Tags {
		if !tagRegexp.MatchString(tag) {
			v.problem("tags", "invalid tag '%s': must be 3 to 32 letters, digits, '_' or '-'", tag)
		}
	}
	v.unique("targets", m.Targets)
	if opts.Upload {
		for _, target := range m.Targets {
			if !isKnownTarget(strings.ToLower(target)) {
				v.problem("targets", "unknown target '%s'", target)
			}
		}
	}

	v.httpURL("url", m.URL)
	v.httpURL("documentation", m.Documentation)
	v.httpURL("issues", m.Issues)
	v.httpURL("discussion", m.Discussion)
	if m.Repository != "" && !isGitURL(m.Repository) {
		v.problem("repository", "invalid git URL '%s'", m.Repository)
	}
	if m.RepositoryInfo != nil {
		if m.Repository == "" {
			v.problem("repository_info", "requires 'repository'")
		}
		if sha := m.RepositoryInfo.CommitSHA; sha != "" && !commitSHARegexp.MatchString(sha) {
			v.problem("repository_info.commit_sha", "invalid commit '%s'", sha)
		}
	}
	for i, e := range m.Examples {
		if strings.TrimSpace(e.Path) == "" {
			v.problem(fmt.Sprintf("examples[%d].path", i), "must not be empty")
		}
	}
	if m.Files != nil {
		for _, pattern := range append(append([]string{}, m.Files.Include...), m.Files.Exclude...) {
			if strings.TrimSpace(pattern) == "" {
				v.problem("files", "empty pattern")
			}
		}
	}

	for _, name := range m.Dependencies.Names() {
		v.dependency(name, m.Dependencies[name])
	}

	if len(v.problems) == 0 {
		return nil
	}
	return &ManifestError{Path: m.path, Problems: v.problems}
}

func (v *validator) unique(field string, values []string) {
	for _, dup := range set.DuplicatesFold(values) {
		v.problem(field, "duplicate entry '%s'", dup)
	}
}

func (v *validator) httpURL(field string, s string) {
	if s == "" {
		return
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		v.problem(field, "invalid URL '%s': must be http or https", s)
	}
}

func isGitURL(s string) bool {
	if scpURLRegexp.MatchString(s) {
		return true
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "http", "https", "ssh", "git", "git+ssh":
		return u.Host != ""
	case "file":
		return u.Path != ""
	}
	return false
}

func (v *validator) dependency(name string, d *DependencySpec) {
	field := "dependencies." + name
	if name != ToolchainName && d.Path == "" && d.Git == "" && d.OverridePath == "" {
		if err := ValidateName(name); err != nil {
			v.problem(field, "invalid component name: %v", err)
		}
	}
	if d.Public != nil && d.Require != "" {
		v.problem(field, "'public' and 'require' can't be used together")
	}
	if d.Require != "" && !requireValues.Contains(d.Require) {
		v.problem(field+".require", "must be one of 'public', 'private', 'no', or 'false', got '%s'", d.Require)
	}
	if d.GitPath != "" && d.Git == "" {
		v.problem(field+".git-path", "only valid with 'git'")
	}
	if d.Path != "" && (d.Git != "" || d.RegistryURL != "") {
		v.problem(field+".path", "local dependencies can't have a 'git' or 'registry_url'")
	}
	if d.Git != "" && d.RegistryURL != "" {
		v.problem(field, "'git' and 'registry_url' can't be used together")
	}
	if d.Git != "" {
		if !isGitURL(d.Git) {
			v.problem(field+".git", "invalid git URL '%s'", d.Git)
		}
	} else if d.Path == "" {
		// For git dependencies the version is a ref.
		v.versionRange(field+".version", d.VersionSpec())
	}
	for i, c := range d.Matches {
		v.conditional(fmt.Sprintf("%s.matches[%d]", field, i), c, d.Git == "")
	}
	for i, c := range d.Rules {
		v.conditional(fmt.Sprintf("%s.rules[%d]", field, i), c, d.Git == "")
	}
}

func (v *validator) versionRange(field string, s string) {
	if _, err := semver.ParseRange(s); err != nil {
		v.problem(field, "invalid range '%s'", s)
	}
}

func (v *validator) conditional(field string, c Conditional, checkVersion bool) {
	if strings.TrimSpace(c.If) == "" {
		v.problem(field+".if", "must not be empty")
	} else if v.opts.Upload {
		if _, err := ifclause.Parse(c.If); err != nil {
			v.problem(field+".if", "%v", err)
		}
	}
	if c.Version != "" && checkVersion {
		v.versionRange(field+".version", c.Version)
	}
}

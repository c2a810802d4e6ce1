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

// Package hashtree computes the canonical content hash of a component
// directory.
//
// The hash is the SHA-256 over the sorted relative POSIX paths of all
// included files, each followed by the hex SHA-256 of the file's content.
package hashtree

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-git/v5/plumbing/format/gitignore"
	"github.com/gobwas/glob"
)

// HashFileName is the name of the file that records the content hash of
// a materialized component.
const HashFileName = ".component_hash"

// DefaultInclude is used when a filter doesn't specify any include pattern.
var DefaultInclude = []string{"**/*"}

// DefaultExclude is always added to the exclude patterns of a filter.
var DefaultExclude = []string{
	"**/.DS_Store",
	"**/.git/**/*",
	"**/__pycache__/**/*",
	"**/*.pyc",
	"**/.idea/**/*",
	"**/.vscode/**/*",
	"**/.settings/**/*",
	"**/sdkconfig",
	"**/sdkconfig.old",
	"**/dist/**/*",
	"**/build/**/*",
	"**/managed_components/**/*",
	"**/dependencies.lock",
	"**/" + HashFileName,
}

// Filter selects the files of a component that contribute to its hash.
type Filter struct {
	Include      []string
	Exclude      []string
	UseGitignore bool
}

type matcher struct {
	include []glob.Glob
	exclude []glob.Glob
	ignore  gitignore.Matcher
}

// expandDoubleStar returns all variants of the pattern where '**/' either
// stays or is removed, so that '**/' also matches zero directories.
func expandDoubleStar(pattern string) []string {
	idx := strings.Index(pattern, "**/")
	if idx < 0 {
		return []string{pattern}
	}
	prefix := pattern[:idx]
	var result []string
	for _, rest := range expandDoubleStar(pattern[idx+3:]) {
		result = append(result, prefix+"**/"+rest, prefix+rest)
	}
	return result
}

func compileAll(patterns []string) ([]glob.Glob, error) {
	var result []glob.Glob
	for _, p := range patterns {
		p = strings.TrimPrefix(filepath.ToSlash(p), "./")
		for _, variant := range expandDoubleStar(p) {
			g, err := glob.Compile(variant, '/')
			if err != nil {
				return nil, fmt.Errorf("invalid pattern '%s': %w", p, err)
			}
			result = append(result, g)
		}
	}
	return result, nil
}

func newMatcher(root string, f Filter) (*matcher, error) {
	include := f.Include
	if len(include) == 0 {
		include = DefaultInclude
	}
	exclude := append(append([]string{}, f.Exclude...), DefaultExclude...)
	m := &matcher{}
	var err error
	if m.include, err = compileAll(include); err != nil {
		return nil, err
	}
	if m.exclude, err = compileAll(exclude); err != nil {
		return nil, err
	}
	if f.UseGitignore {
		ps, err := gitignore.ReadPatterns(osfs.New(root), nil)
		if err != nil {
			return nil, err
		}
		m.ignore = gitignore.NewMatcher(ps)
	}
	return m, nil
}

func matchAny(globs []glob.Glob, rel string) bool {
	for _, g := range globs {
		if g.Match(rel) {
			return true
		}
	}
	return false
}

func (m *matcher) accepts(rel string) bool {
	if !matchAny(m.include, rel) || matchAny(m.exclude, rel) {
		return false
	}
	if m.ignore != nil && m.ignore.Match(strings.Split(rel, "/"), false) {
		return false
	}
	return true
}

// ListFiles returns the sorted relative POSIX paths of the files in root
// that are selected by the filter.
func ListFiles(root string, f Filter) ([]string, error) {
	m, err := newMatcher(root, f)
	if err != nil {
		return nil, err
	}
	var result []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if d.IsDir() {
			if rel == "." {
				return nil
			}
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			if m.ignore != nil && m.ignore.Match(strings.Split(rel, "/"), true) {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			info, err := os.Stat(p)
			if err != nil || info.IsDir() {
				// Dangling links and links to directories don't contribute.
				return nil
			}
		}
		if m.accepts(rel) {
			result = append(result, rel)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(result)
	return result, nil
}

// HashFile returns the hex SHA-256 of the file's content.
func HashFile(p string) (string, error) {
	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashDir computes the content hash of the directory.
func HashDir(root string, f Filter) (string, error) {
	files, err := ListFiles(root, f)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	for _, rel := range files {
		fileHash, err := HashFile(filepath.Join(root, filepath.FromSlash(rel)))
		if err != nil {
			return "", err
		}
		io.WriteString(h, rel)
		io.WriteString(h, fileHash)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// IsValidHash returns whether s is 64 lowercase hex characters.
func IsValidHash(s string) bool {
	if len(s) != 64 {
		return false
	}
	for _, c := range s {
		if !('0' <= c && c <= '9' || 'a' <= c && c <= 'f') {
			return false
		}
	}
	return true
}

// ReadHashFile reads the '.component_hash' file of a materialized component.
// The content is returned as is (minus surrounding whitespace), even if it
// isn't a well-formed hash: a corrupted file must not match.
func ReadHashFile(dir string) (string, error) {
	b, err := os.ReadFile(filepath.Join(dir, HashFileName))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// WriteHashFile writes the '.component_hash' file.
func WriteHashFile(dir string, hash string) error {
	return os.WriteFile(filepath.Join(dir, HashFileName), []byte(hash), 0644)
}

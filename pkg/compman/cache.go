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
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alexflint/go-filemutex"
	"github.com/cespare/xxhash/v2"
)

// Cache is the shared cache of downloaded components and git mirrors.
// It is safe to use from multiple processes: writers of an entry hold a
// file lock.
type Cache struct {
	options *cacheOptions
}

type cacheOptions struct {
	// The root of the cache.
	path string
	// How long to wait for a lock held by another process.
	lockTimeout time.Duration
}

func (o *cacheOptions) apply(options ...CacheOption) {
	for _, option := range options {
		option.applyCacheOption(o)
	}
}

type CacheOption interface {
	applyCacheOption(*cacheOptions)
}

// WithCachePath sets the root directory of the cache.
func WithCachePath(path string) CacheOption {
	return cachePath(path)
}

type cachePath string

func (p cachePath) applyCacheOption(o *cacheOptions) {
	o.path = string(p)
}

// WithLockTimeout sets how long to wait for locks held by other processes.
func WithLockTimeout(d time.Duration) CacheOption {
	return lockTimeout(d)
}

type lockTimeout time.Duration

func (d lockTimeout) applyCacheOption(o *cacheOptions) {
	o.lockTimeout = time.Duration(d)
}

// DefaultCachePath returns the cache directory used when none is
// configured.
func DefaultCachePath() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "Espressif", "ComponentManager")
}

func NewCache(options ...CacheOption) Cache {
	option := &cacheOptions{
		lockTimeout: 3 * time.Minute,
	}
	option.apply(options...)
	if option.path == "" {
		option.path = DefaultCachePath()
	}
	return Cache{
		options: option,
	}
}

// Path returns the root of the cache.
func (c Cache) Path() string {
	return c.options.path
}

// GitMirrorPath returns the location of the bare mirror of a repository.
// The location only depends on the host and the path of the URL, so that
// 'https://' and 'ssh://' URLs of the same repository share a mirror.
func (c Cache) GitMirrorPath(repoURL string) string {
	host, p := splitRepoURL(repoURL)
	sum := sha256.Sum256([]byte(host + "\x00" + p))
	return filepath.Join(c.options.path, "git", hex.EncodeToString(sum[:]))
}

func splitRepoURL(repoURL string) (string, string) {
	s := strings.TrimSuffix(strings.TrimRight(repoURL, "/"), ".git")
	if m := scpURLRegexp.FindString(s); m != "" {
		// 'git@host:path'.
		rest := s[strings.Index(s, "@")+1:]
		colon := strings.Index(rest, ":")
		return strings.ToLower(rest[:colon]), strings.TrimPrefix(rest[colon+1:], "/")
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return "", filepath.ToSlash(s)
	}
	return strings.ToLower(u.Hostname()), strings.TrimPrefix(u.Path, "/")
}

// SourceDir returns the directory of the cached components of a source.
func (c Cache) SourceDir(src Source) string {
	key := fmt.Sprintf("%s_%016x", src.Kind(), xxhash.Sum64String(src.HashKey()))
	return filepath.Join(c.options.path, key)
}

// ComponentPath returns the cache location of a component version.
func (c Cache) ComponentPath(src Source, name string, version string, hash string) string {
	entry := BuildName(name) + "_" + sanitizeVersion(version)
	if hash != "" {
		entry += "_" + hash
	}
	return filepath.Join(c.SourceDir(src), entry)
}

func sanitizeVersion(v string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*':
			return '_'
		}
		return r
	}, v)
}

const readmeContent string = `# Component Cache Directory

This directory contains components that have been downloaded by
the component manager, and mirrors of git repositories.

Generally, the component manager is able to download these components
again. It is thus safe to remove the content of this directory.
`

// ensureDir creates the cache directory with a README that explains it.
func (c Cache) ensureDir() error {
	root := c.options.path
	stat, err := os.Stat(root)
	if err == nil && !stat.IsDir() {
		return fmt.Errorf("cache path already exists but is not a directory: '%s'", root)
	}
	if err == nil {
		return nil
	}
	if !os.IsNotExist(err) {
		return err
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(root, "README.md"), []byte(readmeContent), 0644)
}

// WithLock runs f while holding the file lock of the cache entry at p.
func (c Cache) WithLock(ctx context.Context, p string, f func() error) error {
	if err := c.ensureDir(); err != nil {
		return err
	}
	return withFileLock(ctx, p+".lock", c.options.lockTimeout, f)
}

// lockPollInterval is the delay between two attempts to take a file lock.
const lockPollInterval = 20 * time.Millisecond

// withFileLock runs f while holding the advisory lock at lockPath.
func withFileLock(ctx context.Context, lockPath string, timeout time.Duration, f func() error) error {
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return err
	}
	m, err := filemutex.New(lockPath)
	if err != nil {
		return err
	}
	// Close releases the lock as well.
	defer m.Close()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	for {
		err := m.TryLock()
		if err == nil {
			break
		}
		if !errors.Is(err, filemutex.AlreadyLocked) {
			return err
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("unable to acquire lock %s: %w", lockPath, ctx.Err())
		case <-time.After(lockPollInterval):
		}
	}
	return f()
}

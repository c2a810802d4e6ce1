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
	"os"
	"path/filepath"
	"sync"

	"github.com/toitlang/idfcomp/pkg/hashtree"
	"golang.org/x/sync/errgroup"
)

// Fetcher materializes solved components in the managed components
// directory of a project. Downloads go through the shared cache.
type Fetcher struct {
	cache       Cache
	managedPath string
	jobs        int
	ui          UI
}

func NewFetcher(cache Cache, managedPath string, jobs int, ui UI) *Fetcher {
	if jobs <= 0 {
		jobs = 1
	}
	return &Fetcher{
		cache:       cache,
		managedPath: managedPath,
		jobs:        jobs,
		ui:          ui,
	}
}

// ManagedDir returns the directory of a downloadable component.
func (f *Fetcher) ManagedDir(name string) string {
	return filepath.Join(f.managedPath, BuildName(name))
}

// FetchAll fetches the components in parallel and returns their
// directories, keyed by component name. The first error cancels the
// remaining fetches.
func (f *Fetcher) FetchAll(ctx context.Context, components []*SolvedComponent) (map[string]string, error) {
	var mu sync.Mutex
	result := map[string]string{}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(f.jobs)
	for _, c := range components {
		c := c
		g.Go(func() error {
			dir, err := f.Fetch(ctx, c)
			if err != nil {
				return err
			}
			mu.Lock()
			result[c.Name] = dir
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

// Fetch returns the directory of the component, fetching it if necessary.
//
// The managed copy is written next to its final location and moved into
// place once complete, with its '.component_hash' file. An interrupted
// fetch never leaves a partial component behind.
func (f *Fetcher) Fetch(ctx context.Context, c *SolvedComponent) (string, error) {
	if !c.Source.Downloadable() {
		return c.Source.Fetch(ctx, c, "")
	}
	dest := f.ManagedDir(c.Name)
	status, recorded, err := ValidateManagedComponent(dest)
	if err == nil && status == StatusOK && recorded == c.ComponentHash {
		return dest, nil
	}

	cached, err := f.fetchIntoCache(ctx, c)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(f.managedPath, 0755); err != nil {
		return "", err
	}
	tmp, err := os.MkdirTemp(f.managedPath, "."+BuildName(c.Name)+"-")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmp)
	if err := copyDir(cached, tmp); err != nil {
		return "", err
	}
	if err := hashtree.WriteHashFile(tmp, c.ComponentHash); err != nil {
		return "", err
	}
	if err := replaceDir(tmp, dest); err != nil {
		return "", err
	}
	f.ui.ReportInfo("Fetched %s", c)
	return dest, nil
}

// fetchIntoCache returns the cache entry of the component, downloading it
// if it isn't in the cache yet. The content is verified against the
// component hash before it enters the cache.
func (f *Fetcher) fetchIntoCache(ctx context.Context, c *SolvedComponent) (string, error) {
	entry := f.cache.ComponentPath(c.Source, c.Name, c.Version, c.ComponentHash)
	err := f.cache.WithLock(ctx, entry, func() error {
		exists, err := isDirectory(entry)
		if err != nil {
			return err
		}
		if exists {
			actual, err := hashtree.HashDir(entry, ComponentFilter(entry))
			if err == nil && actual == c.ComponentHash {
				return nil
			}
			debugf(ctx, "cache entry of %s is stale, fetching again", c)
			if err := os.RemoveAll(entry); err != nil {
				return err
			}
		}

		parent := filepath.Dir(entry)
		if err := os.MkdirAll(parent, 0755); err != nil {
			return err
		}
		tmp, err := os.MkdirTemp(parent, ".fetch-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(tmp)
		debugf(ctx, "fetching %s from %s", c, c.Source.HashKey())
		if _, err := c.Source.Fetch(ctx, c, tmp); err != nil {
			return err
		}
		actual, err := hashtree.HashDir(tmp, ComponentFilter(tmp))
		if err != nil {
			return err
		}
		if actual != c.ComponentHash {
			return &IntegrityError{Name: c.String(), Expected: c.ComponentHash, Actual: actual}
		}
		return os.Rename(tmp, entry)
	})
	if err != nil {
		return "", err
	}
	return entry, nil
}

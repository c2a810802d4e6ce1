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
	"path/filepath"
	"strings"
	"sync"

	"github.com/toitlang/idfcomp/pkg/registry"
	"go.trai.ch/zerr"
)

// sources creates the sources of a pipeline. Sources with the same
// identity are shared, so that their memoized metadata is only fetched
// once.
type sources struct {
	settings Settings
	cache    Cache
	client   *registry.Client
	ui       UI

	mu     sync.Mutex
	byKey  map[string]Source
	idf    *ToolchainSource
	defReg *RegistrySource
}

func newSources(settings Settings, cache Cache, client *registry.Client, ui UI) *sources {
	return &sources{
		settings: settings,
		cache:    cache,
		client:   client,
		ui:       ui,
		byKey:    map[string]Source{},
	}
}

// sourceKey is the identity of a source within a pipeline. Git sources
// that point to different refs of the same directory are different.
func sourceKey(src Source) string {
	if g, ok := src.(*GitSource); ok {
		return g.HashKey() + "@" + g.Ref()
	}
	return src.HashKey()
}

// intern returns the shared source with the same identity as src.
func (s *sources) intern(src Source) Source {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := sourceKey(src)
	if existing, ok := s.byKey[key]; ok {
		return existing
	}
	s.byKey[key] = src
	return src
}

func (s *sources) toolchain() *ToolchainSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.idf == nil {
		s.idf = NewToolchainSource(s.settings.IDFPath, s.settings.IDFVersion)
	}
	return s.idf
}

func (s *sources) isDefaultRegistry(registryURL string) bool {
	u := strings.TrimRight(registryURL, "/")
	return u == "" || u == strings.TrimRight(s.settings.RegistryURL, "/")
}

// registrySource returns the source for the registry at registryURL. The
// storage mirrors of the settings only apply to the default registry.
func (s *sources) registrySource(registryURL string) *RegistrySource {
	if s.isDefaultRegistry(registryURL) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.defReg == nil {
			mirrors := append(append([]string{}, s.settings.LocalStorageURLs...), s.settings.StorageURLs...)
			s.defReg = NewRegistrySource(s.settings.RegistryURL, mirrors, s.settings.DefaultNamespace, s.client, s.ui)
			s.byKey[s.defReg.HashKey()] = s.defReg
		}
		return s.defReg
	}
	src := NewRegistrySource(registryURL, nil, s.settings.DefaultNamespace, s.client, s.ui)
	return s.intern(src).(*RegistrySource)
}

// forDependency returns the source of a dependency declared in a manifest.
func (s *sources) forDependency(name string, d *DependencySpec) (Source, error) {
	switch {
	case name == ToolchainName:
		return s.toolchain(), nil
	case d.OverridePath != "":
		src, err := NewLocalSource(d.OverridePath, d.Dir(), s.ui)
		if err != nil {
			return nil, zerr.With(err, "dependency", name)
		}
		return s.intern(src), nil
	case d.Path != "":
		src, err := NewLocalSource(d.Path, d.Dir(), s.ui)
		if err != nil {
			return nil, zerr.With(err, "dependency", name)
		}
		return s.intern(src), nil
	case d.Git != "":
		return s.intern(NewGitSource(d.Git, d.GitPath, d.VersionSpec(), s.cache, s.ui)), nil
	}
	return s.registrySource(d.RegistryURL), nil
}

// fromSpec returns the source recorded in a lock file. Relative local
// paths are resolved against the project root.
func (s *sources) fromSpec(spec SourceSpec, projectRoot string) (Source, error) {
	switch spec.Type {
	case KindToolchain:
		return s.toolchain(), nil
	case KindRegistry:
		return s.registrySource(spec.RegistryURL), nil
	case KindGit:
		if spec.Git == "" {
			return nil, zerr.Wrap(ErrSource, "git source without repository")
		}
		return s.intern(NewGitSource(spec.Git, spec.Path, "", s.cache, s.ui)), nil
	case KindLocal:
		if spec.Path == "" {
			return nil, zerr.Wrap(ErrSource, "local source without path")
		}
		p := spec.Path
		if !filepath.IsAbs(p) {
			p = filepath.Join(projectRoot, filepath.FromSlash(p))
		}
		src, err := NewLocalSource(p, "", s.ui)
		if err != nil {
			return nil, err
		}
		return s.intern(src), nil
	}
	return nil, zerr.Wrap(ErrSource, fmt.Sprintf("unknown source type '%s'", spec.Type))
}

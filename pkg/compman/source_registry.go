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
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/toitlang/idfcomp/pkg/archive"
	"github.com/toitlang/idfcomp/pkg/registry"
	"github.com/toitlang/idfcomp/pkg/semver"
	"github.com/toitlang/idfcomp/pkg/set"
	"github.com/toitlang/idfcomp/pkg/solver"
	"go.trai.ch/zerr"
)

// knownBuildMetadataKeys are the build metadata keys this tool
// understands. Versions that declare other keys are skipped.
var knownBuildMetadataKeys = set.NewString("idf_version", "targets")

// RegistrySource provides the components of a component registry.
type RegistrySource struct {
	registryURL      string
	storageURLs      []string
	defaultNamespace string
	client           *registry.Client
	ui               UI

	mu sync.Mutex
	// The online storage announced by the registry, once known.
	apiStorage *string
	components map[string]*registry.Component
}

// NewRegistrySource creates the source for the registry at registryURL.
// The storage mirrors are queried in order before the registry's own
// storage. Local paths are converted to 'file://' URLs.
func NewRegistrySource(registryURL string, storageURLs []string, defaultNamespace string, client *registry.Client, ui UI) *RegistrySource {
	var mirrors []string
	for _, s := range storageURLs {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if !strings.Contains(s, "://") {
			s = registry.FileURL(s)
		}
		mirrors = append(mirrors, s)
	}
	return &RegistrySource{
		registryURL:      strings.TrimRight(registryURL, "/"),
		storageURLs:      mirrors,
		defaultNamespace: defaultNamespace,
		client:           client,
		ui:               ui,
		components:       map[string]*registry.Component{},
	}
}

func (s *RegistrySource) Kind() SourceKind { return KindRegistry }

func (s *RegistrySource) HashKey() string { return "service:" + s.registryURL }

func (s *RegistrySource) Downloadable() bool { return true }

func (s *RegistrySource) NormalizedName(name string) string {
	return NormalizeName(name, s.defaultNamespace)
}

func (s *RegistrySource) Spec() SourceSpec {
	return SourceSpec{Type: KindRegistry, RegistryURL: s.registryURL}
}

// RegistryURL returns the URL of the registry.
func (s *RegistrySource) RegistryURL() string {
	return s.registryURL
}

// onlineStorage returns the storage URL announced by the registry's API.
func (s *RegistrySource) onlineStorage(ctx context.Context) (string, error) {
	if s.apiStorage != nil {
		return *s.apiStorage, nil
	}
	info, err := s.client.API(ctx, s.registryURL)
	if err != nil {
		return "", err
	}
	storage := info.ComponentsBaseURL
	if storage == "" {
		storage = s.registryURL
	}
	s.apiStorage = &storage
	return storage, nil
}

// component fetches the metadata of a component, trying the mirrors in
// order. A failing mirror is reported and the next one is tried.
func (s *RegistrySource) component(ctx context.Context, name string) (*registry.Component, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if comp, ok := s.components[name]; ok {
		return comp, nil
	}

	// A component is only reported as missing if at least one location
	// answered. If all of them failed, it's a source error.
	var failures []string
	queried := 0
	tryMirror := func(storage string) *registry.Component {
		queried++
		comp, err := s.client.Component(ctx, storage, name)
		if err == nil {
			s.components[name] = comp
			return comp
		}
		if !errors.Is(err, registry.ErrNotFound) {
			s.ui.ReportWarning("Storage '%s' failed for '%s', trying the next one: %v", storage, name, err)
			failures = append(failures, err.Error())
		}
		return nil
	}

	for _, storage := range s.storageURLs {
		if comp := tryMirror(storage); comp != nil {
			return comp, nil
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	storage, err := s.onlineStorage(ctx)
	if err != nil {
		queried++
		failures = append(failures, err.Error())
		if len(s.storageURLs) > 0 {
			s.ui.ReportWarning("Registry '%s' is not available: %v", s.registryURL, err)
		}
	} else if comp := tryMirror(storage); comp != nil {
		return comp, nil
	}
	if len(failures) == queried {
		return nil, zerr.With(zerr.Wrap(ErrSource, "no storage of registry '"+s.registryURL+"' is available: "+strings.Join(failures, "; ")), "component", name)
	}
	return nil, zerr.With(zerr.Wrap(solver.ErrPackageNotFound, fmt.Sprintf("component '%s' not found in registry '%s'", name, s.registryURL)), "component", name)
}

func (s *RegistrySource) Versions(ctx context.Context, name string, rng semver.Range) ([]ComponentVersion, error) {
	comp, err := s.component(ctx, name)
	if err != nil {
		return nil, err
	}
	var result []ComponentVersion
	for _, info := range comp.Versions {
		v, err := semver.Parse(info.Version)
		if err != nil {
			debugf(ctx, "skipping invalid version '%s' of '%s'", info.Version, name)
			continue
		}
		if !rng.Contains(v) {
			continue
		}
		cv := ComponentVersion{
			Version:       v,
			Label:         v.String(),
			ComponentHash: info.ComponentHash,
			URL:           info.URL,
			Dependencies:  DependencyMap{},
			Targets:       info.Targets,
			Yanked:        info.IsYanked(),
			YankedMessage: info.YankedMessage,
		}
		for _, key := range info.BuildMetadataKeys {
			if !knownBuildMetadataKeys.Contains(key) {
				cv.UnknownKeys = append(cv.UnknownKeys, key)
			}
		}
		for _, dep := range info.Dependencies {
			depName, spec := dependencyFromRegistry(dep, s.registryURL)
			cv.Dependencies[depName] = spec
		}
		result = append(result, cv)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[j].Version.Less(result[i].Version)
	})
	return result, nil
}

// dependencyFromRegistry converts the dependency record of a published
// version.
func dependencyFromRegistry(d registry.Dependency, registryURL string) (string, *DependencySpec) {
	name := strings.ToLower(d.FullName())
	spec := &DependencySpec{
		Version:    d.Spec,
		PreRelease: d.PreRelease,
		Require:    d.Require,
	}
	if d.Source == string(KindToolchain) {
		name = ToolchainName
	} else if d.RegistryURL != "" && strings.TrimRight(d.RegistryURL, "/") != registryURL {
		spec.RegistryURL = d.RegistryURL
	}
	if d.Require == "" && d.IsPublic {
		public := true
		spec.Public = &public
	}
	for _, c := range d.Rules {
		spec.Rules = append(spec.Rules, Conditional{If: c.If, Version: c.Version})
	}
	for _, c := range d.Matches {
		spec.Matches = append(spec.Matches, Conditional{If: c.If, Version: c.Version})
	}
	return name, spec
}

func (s *RegistrySource) Fetch(ctx context.Context, c *SolvedComponent, dest string) (string, error) {
	v, err := semver.Parse(c.Version)
	if err != nil {
		return "", err
	}
	versions, err := s.Versions(ctx, c.Name, semver.Exact(v))
	if err != nil {
		return "", err
	}
	if len(versions) == 0 || versions[0].URL == "" {
		return "", zerr.With(zerr.Wrap(ErrSource, fmt.Sprintf("no download for '%s'", c)), "component", c.Name)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	err = s.client.Download(ctx, versions[0].URL, tmp)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", fmt.Errorf("%w: downloading '%s': %w", ErrSource, c, err)
	}
	if err := archive.Unpack(tmp.Name(), dest); err != nil {
		return "", fmt.Errorf("%w: unpacking '%s': %w", ErrSource, c, err)
	}
	return dest, nil
}

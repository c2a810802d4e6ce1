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
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"github.com/toitlang/idfcomp/pkg/ifclause"
	"github.com/toitlang/idfcomp/pkg/registry"
	"github.com/toitlang/idfcomp/pkg/set"
	"github.com/toitlang/idfcomp/pkg/solver"
	"go.trai.ch/zerr"
)

// ManagedComponentsDir is the directory of the project where fetched
// components are materialized.
const ManagedComponentsDir = "managed_components"

// ProjectPaths contains the locations of a project.
type ProjectPaths struct {
	// Project root.
	ProjectRootPath string

	// The path of the lock file for the current project.
	LockFile string

	// The directory of the managed components.
	ManagedComponentsPath string
}

func lockPathForDir(dir string) string {
	return filepath.Join(dir, LockFileName)
}

// NewProjectPaths returns the paths of the project at projectRoot. If
// projectRoot is empty, the project is searched upwards from the current
// directory: the first directory with a lock file or a manifest (in the
// directory itself or in its 'main') is the root. If there isn't any, the
// current directory is used.
func NewProjectPaths(projectRoot string, lockPath string) (*ProjectPaths, error) {
	if projectRoot == "" {
		dir, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		projectRoot = dir
		for {
			found := false
			for _, candidate := range []string{
				lockPathForDir(dir),
				filepath.Join(dir, "main", ManifestName),
				filepath.Join(dir, ManifestName),
			} {
				ok, err := isFile(candidate)
				if err != nil {
					return nil, err
				}
				if ok {
					found = true
					break
				}
			}
			if found {
				projectRoot = dir
				break
			}
			newDir := filepath.Dir(dir)
			if newDir == dir {
				break
			}
			dir = newDir
		}
	}
	abs, err := filepath.Abs(projectRoot)
	if err != nil {
		return nil, err
	}
	if lockPath == "" {
		lockPath = lockPathForDir(abs)
	}
	return &ProjectPaths{
		ProjectRootPath:       abs,
		LockFile:              lockPath,
		ManagedComponentsPath: filepath.Join(abs, ManagedComponentsDir),
	}, nil
}

// BuildComponent is a component of the build, as handed to the build
// system.
type BuildComponent struct {
	// Name is the full name of the component.
	Name string
	// BuildName is the name the build system uses: 'namespace__name'.
	BuildName string
	Dir       string
	Version   string
	Source    SourceKind
	Targets   []string
	// Requires and PrivRequires are the build names of the public and
	// private dependencies.
	Requires     []string
	PrivRequires []string
}

// ProjectManager runs the dependency pipeline of a project.
type ProjectManager struct {
	Paths    *ProjectPaths
	settings Settings
	cache    Cache
	ui       UI
	sources  *sources
}

// NewProjectManager creates the manager of the project at paths. The
// settings are captured and don't change for the lifetime of the manager.
func NewProjectManager(paths *ProjectPaths, settings Settings, cache Cache, client *registry.Client, ui UI) *ProjectManager {
	settings = settings.WithDefaults()
	return &ProjectManager{
		Paths:    paths,
		settings: settings,
		cache:    cache,
		ui:       ui,
		sources:  newSources(settings, cache, client, ui),
	}
}

// manifestPaths returns the manifests of the project in a stable order:
// the root, 'main', and the project components.
func (m *ProjectManager) manifestPaths() ([]string, error) {
	root := m.Paths.ProjectRootPath
	candidates := []string{
		filepath.Join(root, ManifestName),
		filepath.Join(root, "main", ManifestName),
	}
	components, err := ScanComponentDir(filepath.Join(root, "components"), TierProjectComponents)
	if err != nil {
		return nil, err
	}
	for _, c := range components {
		candidates = append(candidates, filepath.Join(c.Dir, ManifestName))
	}
	var result []string
	for _, p := range candidates {
		ok, err := isFile(p)
		if err != nil {
			return nil, err
		}
		if ok {
			result = append(result, p)
		}
	}
	return result, nil
}

// readManifests loads and validates the manifests of the project.
func (m *ProjectManager) readManifests() ([]*Manifest, error) {
	paths, err := m.manifestPaths()
	if err != nil {
		return nil, err
	}
	var result []*Manifest
	for _, p := range paths {
		manifest, err := ReadManifest(p, ManifestOptions{UI: m.ui})
		if err != nil {
			return nil, err
		}
		if err := manifest.Validate(ValidateOptions{}); err != nil {
			return nil, err
		}
		result = append(result, manifest)
	}
	return result, nil
}

// readLockFile returns the lock file of the project, or nil if there isn't
// a usable one.
func (m *ProjectManager) readLockFile() (*LockFile, error) {
	lf, err := ReadLockFile(m.Paths.LockFile)
	if os.IsNotExist(err) {
		return nil, nil
	} else if errors.Is(err, ErrInvalidManifest) {
		m.ui.ReportWarning("Ignoring the lock file: %v", err)
		return nil, nil
	} else if err != nil {
		return nil, err
	}
	return lf, nil
}

// overriddenComponents returns the short names of the components that the
// project provides itself. Dependencies on them aren't fetched.
func (m *ProjectManager) overriddenComponents() ([]string, error) {
	root := m.Paths.ProjectRootPath
	all, err := ScanComponentDir(filepath.Join(root, "components"), TierProjectComponents)
	if err != nil {
		return nil, err
	}
	for _, dir := range m.settings.ExtraComponentDirs {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(root, dir)
		}
		// A directory with a build file is a component itself.
		if ok, _ := isFile(filepath.Join(dir, "CMakeLists.txt")); ok {
			all = append(all, TieredComponent{Name: filepath.Base(dir), Dir: dir, Tier: TierExtraComponents})
			continue
		}
		extra, err := ScanComponentDir(dir, TierExtraComponents)
		if err != nil {
			return nil, err
		}
		all = append(all, extra...)
	}
	merged, err := MergeTiers(all)
	if err != nil {
		return nil, err
	}
	return overriddenNames(merged), nil
}

func (m *ProjectManager) facts(ctx context.Context) (ifclause.Facts, error) {
	facts := ifclause.Facts{Target: m.settings.Target}
	if v, err := m.sources.toolchain().Version(); err == nil {
		facts.IDFVersion = v
	} else {
		debugf(ctx, "toolchain version unknown: %v", err)
	}
	if m.settings.KconfigPath != "" {
		config, err := ifclause.LoadConfigJSON(m.settings.KconfigPath)
		if err != nil && !os.IsNotExist(err) {
			return facts, fmt.Errorf("%w: %w", ErrEnvironment, err)
		}
		facts.Config = config
	}
	return facts, nil
}

// isUpToDate returns true if the lock file can be used without solving.
func (m *ProjectManager) isUpToDate(ctx context.Context, lf *LockFile, manifestHash string) bool {
	if lf == nil {
		return false
	}
	if lf.ManifestHash != manifestHash {
		debugf(ctx, "manifests changed since the last solve")
		return false
	}
	if lf.Target != m.settings.Target {
		debugf(ctx, "target changed from '%s' to '%s'", lf.Target, m.settings.Target)
		return false
	}
	if lf.HasLocal() {
		// Local components might have changed their dependencies.
		return false
	}
	if entry, ok := lf.Dependencies[ToolchainName]; ok {
		v, err := m.sources.toolchain().Version()
		if err != nil || v.String() != entry.Version {
			debugf(ctx, "toolchain version changed")
			return false
		}
	}
	for _, name := range lf.Names() {
		entry := lf.Dependencies[name]
		if entry.Source.Type != KindRegistry && entry.Source.Type != KindGit {
			continue
		}
		dir := filepath.Join(m.Paths.ManagedComponentsPath, BuildName(name))
		if exists, err := isDirectory(dir); err != nil || !exists {
			// Missing components are simply fetched.
			continue
		}
		status, recorded, err := ValidateManagedComponent(dir)
		if err != nil || status != StatusOK || recorded != entry.ComponentHash {
			debugf(ctx, "managed component '%s' doesn't match the lock file", name)
			return false
		}
	}
	return true
}

// solve computes a new lock file from the manifests.
func (m *ProjectManager) solve(ctx context.Context, manifests []*Manifest, manifestHash string) (*LockFile, []*SolvedComponent, error) {
	constraints, err := LoadConstraints(m.settings)
	if err != nil {
		return nil, nil, err
	}
	facts, err := m.facts(ctx)
	if err != nil {
		return nil, nil, err
	}
	overridden, err := m.overriddenComponents()
	if err != nil {
		return nil, nil, err
	}
	r := newResolver(m.sources, facts, constraints, overridden, m.ui)

	var roots []solver.Dependency
	direct := set.NewString()
	for _, manifest := range manifests {
		deps, _, err := r.requirements(ctx, "", manifest.Dependencies)
		if err != nil {
			return nil, nil, zerr.With(err, "manifest", manifest.Path())
		}
		for _, d := range deps {
			direct.Add(d.Package.Name)
		}
		roots = append(roots, deps...)
	}
	components, err := r.solve(ctx, m.settings.Target, roots)
	if err != nil {
		return nil, nil, err
	}

	lf := NewLockFile(m.Paths.LockFile)
	lf.ManifestHash = manifestHash
	lf.Target = m.settings.Target
	lf.DirectDependencies = direct.Sorted()
	for _, c := range components {
		lf.Dependencies[c.Name] = LockEntry{
			ComponentHash: c.ComponentHash,
			Dependencies:  c.Dependencies,
			Source:        m.lockSource(c.Source),
			Targets:       c.Targets,
			Version:       c.Version,
		}
	}
	return lf, components, nil
}

// lockSource returns the lock file representation of a source. Local
// paths inside the project are stored relative to the project root.
func (m *ProjectManager) lockSource(src Source) SourceSpec {
	spec := src.Spec()
	if spec.Type == KindLocal {
		rel, err := filepath.Rel(m.Paths.ProjectRootPath, spec.Path)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			spec.Path = filepath.ToSlash(rel)
		}
	}
	return spec
}

// componentsFromLock returns the components recorded in the lock file.
func (m *ProjectManager) componentsFromLock(lf *LockFile) ([]*SolvedComponent, error) {
	var result []*SolvedComponent
	for _, name := range lf.Names() {
		entry := lf.Dependencies[name]
		src, err := m.sources.fromSpec(entry.Source, m.Paths.ProjectRootPath)
		if err != nil {
			return nil, zerr.With(err, "component", name)
		}
		result = append(result, &SolvedComponent{
			Name:          name,
			Source:        src,
			Version:       entry.Version,
			ComponentHash: entry.ComponentHash,
			Dependencies:  entry.Dependencies,
			Targets:       entry.Targets,
		})
	}
	return result, nil
}

// writeLockFile writes the lock file while holding its advisory lock.
func (m *ProjectManager) writeLockFile(ctx context.Context, lf *LockFile) error {
	return withFileLock(ctx, lf.Path()+".lock", m.cache.options.lockTimeout, lf.WriteToFile)
}

// Prepare brings the managed components of the project in line with its
// manifests, solving again if the lock file is out of date. Returns the
// components of the build sorted by name.
func (m *ProjectManager) Prepare(ctx context.Context) ([]BuildComponent, error) {
	if m.settings.Target == "" {
		return nil, zerr.Wrap(ErrEnvironment, "IDF_TARGET is not set")
	}
	manifests, err := m.readManifests()
	if err != nil {
		return nil, err
	}
	hash, err := ComputeManifestHash(manifests)
	if err != nil {
		return nil, err
	}
	lf, err := m.readLockFile()
	if err != nil {
		return nil, err
	}

	var components []*SolvedComponent
	if m.isUpToDate(ctx, lf, hash) {
		debugf(ctx, "lock file is up to date")
		components, err = m.componentsFromLock(lf)
		if err != nil {
			return nil, err
		}
	} else {
		lf, components, err = m.solve(ctx, manifests, hash)
		if err != nil {
			return nil, err
		}
		if err := m.writeLockFile(ctx, lf); err != nil {
			return nil, err
		}
	}

	dirs, err := m.materialize(ctx, components)
	if err != nil {
		return nil, err
	}
	return buildComponents(components, dirs), nil
}

// materialize removes the stale managed components and fetches the
// missing ones. Nothing is changed if a modified managed component would
// have to be replaced or deleted.
func (m *ProjectManager) materialize(ctx context.Context, components []*SolvedComponent) (map[string]string, error) {
	fetcher := NewFetcher(m.cache, m.Paths.ManagedComponentsPath, m.settings.Jobs, m.ui)

	var modified []error
	var toFetch []*SolvedComponent
	keep := set.NewString()
	for _, c := range components {
		if !c.Source.Downloadable() {
			continue
		}
		dir := fetcher.ManagedDir(c.Name)
		keep.Add(BuildName(c.Name))
		exists, err := isDirectory(dir)
		if err != nil {
			return nil, err
		}
		if !exists {
			toFetch = append(toFetch, c)
			continue
		}
		status, recorded, err := ValidateManagedComponent(dir)
		if err != nil {
			return nil, err
		}
		if status == StatusOK && recorded == c.ComponentHash {
			continue
		}
		if m.settings.isModified(status) {
			modified = append(modified, &ModifiedComponentError{Name: c.Name, Dir: dir})
			continue
		}
		toFetch = append(toFetch, c)
	}

	present, err := ScanComponentDir(m.Paths.ManagedComponentsPath, TierProjectManaged)
	if err != nil {
		return nil, err
	}
	var stale []string
	for _, p := range present {
		if keep.Contains(p.Name) {
			continue
		}
		status, _, err := ValidateManagedComponent(p.Dir)
		if err != nil {
			return nil, err
		}
		if m.settings.isModified(status) {
			modified = append(modified, &ModifiedComponentError{Name: p.Name, Dir: p.Dir})
			continue
		}
		stale = append(stale, p.Dir)
	}
	if len(modified) > 0 {
		return nil, errors.Join(modified...)
	}

	for _, dir := range stale {
		m.ui.ReportInfo("Removing stale component '%s'", filepath.Base(dir))
		if err := os.RemoveAll(dir); err != nil {
			return nil, err
		}
	}

	dirs, err := fetcher.FetchAll(ctx, toFetch)
	if err != nil {
		return nil, err
	}
	for _, c := range components {
		if _, ok := dirs[c.Name]; ok {
			continue
		}
		if c.Source.Downloadable() {
			dirs[c.Name] = fetcher.ManagedDir(c.Name)
			continue
		}
		dir, err := c.Source.Fetch(ctx, c, "")
		if err != nil {
			return nil, err
		}
		dirs[c.Name] = dir
	}
	return dirs, nil
}

func buildComponents(components []*SolvedComponent, dirs map[string]string) []BuildComponent {
	var result []BuildComponent
	for _, c := range components {
		if c.Source.Kind() == KindToolchain {
			continue
		}
		bc := BuildComponent{
			Name:      c.Name,
			BuildName: BuildName(c.Name),
			Dir:       dirs[c.Name],
			Version:   c.Version,
			Source:    c.Source.Kind(),
			Targets:   c.Targets,
		}
		if c.Source.Kind() == KindLocal {
			// The build system uses the directory name.
			bc.BuildName = filepath.Base(bc.Dir)
		}
		for _, d := range c.Dependencies {
			if d.Name == ToolchainName {
				continue
			}
			switch d.Require {
			case "public":
				bc.Requires = append(bc.Requires, BuildName(d.Name))
			case "private":
				bc.PrivRequires = append(bc.PrivRequires, BuildName(d.Name))
			}
		}
		result = append(result, bc)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Update solves again, ignoring the lock file, and writes the new lock
// file unless dryRun is set. Returns the diff between the old and the new
// lock file.
func (m *ProjectManager) Update(ctx context.Context, dryRun bool) (string, error) {
	manifests, err := m.readManifests()
	if err != nil {
		return "", err
	}
	hash, err := ComputeManifestHash(manifests)
	if err != nil {
		return "", err
	}
	lf, _, err := m.solve(ctx, manifests, hash)
	if err != nil {
		return "", err
	}
	newContent, err := lf.Bytes()
	if err != nil {
		return "", err
	}
	oldContent, err := os.ReadFile(m.Paths.LockFile)
	if err != nil && !os.IsNotExist(err) {
		return "", err
	}
	diff, err := LockFileDiff(oldContent, newContent, filepath.Base(m.Paths.LockFile))
	if err != nil {
		return "", err
	}
	if dryRun {
		return diff, nil
	}
	return diff, m.writeLockFile(ctx, lf)
}

// LockFileDiff returns the unified diff between two versions of a lock
// file. Returns "" if they are equal.
func LockFileDiff(oldContent []byte, newContent []byte, name string) (string, error) {
	return difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        splitLines(oldContent),
		B:        splitLines(newContent),
		FromFile: name,
		ToFile:   name + " (new)",
		Context:  3,
	})
}

func splitLines(content []byte) []string {
	if len(content) == 0 {
		return nil
	}
	return difflib.SplitLines(string(content))
}

// PrintLockFile prints the contents of the lock file for the current project.
func (m *ProjectManager) PrintLockFile(w io.Writer) error {
	lf, err := ReadLockFile(m.Paths.LockFile)
	if err != nil {
		return err
	}
	b, err := lf.Bytes()
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

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
	"sort"
	"strings"
	"sync"

	"github.com/toitlang/idfcomp/pkg/ifclause"
	"github.com/toitlang/idfcomp/pkg/semver"
	"github.com/toitlang/idfcomp/pkg/set"
	"github.com/toitlang/idfcomp/pkg/solver"
	"go.trai.ch/zerr"
)

// resolvedDependency is a dependency after its conditions were evaluated.
type resolvedDependency struct {
	pkg     solver.Package
	version string
	require string
}

// resolver feeds the solver. It maps solver packages to sources and
// evaluates the conditions of the dependencies against the build facts.
type resolver struct {
	sources     *sources
	facts       ifclause.Facts
	constraints Constraints
	// Short names of components provided by the project itself.
	overridden set.String
	ui         UI

	mu       sync.Mutex
	packages map[solver.Package]Source
	versions map[solver.Package][]ComponentVersion
	resolved map[string][]resolvedDependency

	missingKconfig set.String
	reported       set.String
}

func newResolver(srcs *sources, facts ifclause.Facts, constraints Constraints, overridden []string, ui UI) *resolver {
	return &resolver{
		sources:        srcs,
		facts:          facts,
		constraints:    constraints,
		overridden:     set.NewString(overridden...),
		ui:             ui,
		packages:       map[solver.Package]Source{},
		versions:       map[solver.Package][]ComponentVersion{},
		resolved:       map[string][]resolvedDependency{},
		missingKconfig: set.NewString(),
		reported:       set.NewString(),
	}
}

// packageOf returns the solver package of a component. The default
// registry and the toolchain have an empty source, so that messages stay
// short.
func (r *resolver) packageOf(name string, src Source) solver.Package {
	if src.Kind() == KindToolchain || src == Source(r.sources.registrySource("")) {
		return solver.Package{Name: name}
	}
	return solver.Package{Name: name, Source: sourceKey(src)}
}

func requireOf(d *DependencySpec) string {
	switch {
	case !d.IsRequired():
		return "no"
	case d.IsPublic():
		return "public"
	}
	return "private"
}

// requirements converts the dependencies of a manifest or of a component
// version into solver dependencies. owner is the name of the component
// that declares them, or "" for the project.
func (r *resolver) requirements(ctx context.Context, owner string, deps DependencyMap) ([]solver.Dependency, []resolvedDependency, error) {
	var result []solver.Dependency
	var resolved []resolvedDependency
	for _, name := range deps.Names() {
		spec := deps[name]
		src, err := r.sources.forDependency(name, spec)
		if err != nil {
			return nil, nil, err
		}
		full := src.NormalizedName(name)
		if full == owner {
			debugf(ctx, "ignoring dependency of '%s' on itself", owner)
			continue
		}
		if r.overridden.Contains(ShortName(full)) && src.Downloadable() {
			r.mu.Lock()
			if !r.reported.Contains(full) {
				r.reported.Add(full)
				r.ui.ReportInfo("Skipping '%s': a component with the same name is part of the project", full)
			}
			r.mu.Unlock()
			continue
		}
		res, err := spec.Resolve(r.facts)
		r.mu.Lock()
		r.missingKconfig.Add(res.MissingKconfig...)
		r.mu.Unlock()
		if err != nil {
			return nil, nil, zerr.With(err, "dependency", name)
		}
		if !res.Applies {
			debugf(ctx, "dependency '%s' doesn't apply to this build", full)
			continue
		}

		rng := semver.Any()
		allowPre := true
		switch src.Kind() {
		case KindRegistry, KindToolchain:
			rng, err = semver.ParseRange(res.Version)
			if err != nil {
				return nil, nil, zerr.With(err, "dependency", name)
			}
			if c, ok := r.constraints[full]; ok && src.Kind() == KindRegistry {
				rng = rng.Intersect(c)
			}
			allowPre = src.Kind() == KindToolchain || spec.AllowsPrerelease()
		}

		pkg := r.packageOf(full, src)
		r.mu.Lock()
		r.packages[pkg] = src
		r.mu.Unlock()
		result = append(result, solver.Dependency{
			Package:         pkg,
			Range:           rng,
			AllowPrerelease: allowPre,
		})
		resolved = append(resolved, resolvedDependency{
			pkg:     pkg,
			version: res.Version,
			require: requireOf(spec),
		})
	}
	return result, resolved, nil
}

func (r *resolver) source(p solver.Package) (Source, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	src, ok := r.packages[p]
	if !ok {
		return nil, fmt.Errorf("no source for '%s'", p)
	}
	return src, nil
}

func (r *resolver) Versions(ctx context.Context, p solver.Package) ([]solver.Candidate, error) {
	src, err := r.source(p)
	if err != nil {
		return nil, err
	}
	versions, err := src.Versions(ctx, p.Name, semver.Any())
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.versions[p] = versions
	r.mu.Unlock()
	result := make([]solver.Candidate, 0, len(versions))
	for _, cv := range versions {
		result = append(result, solver.Candidate{
			Version:       cv.Version,
			Yanked:        cv.Yanked,
			YankedMessage: cv.YankedMessage,
			Targets:       cv.Targets,
			UnknownKeys:   cv.UnknownKeys,
		})
	}
	return result, nil
}

// componentVersion returns the version of a package that the source
// offered.
func (r *resolver) componentVersion(p solver.Package, v semver.Version) (ComponentVersion, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cv := range r.versions[p] {
		if cv.Version.String() == v.String() {
			return cv, true
		}
	}
	return ComponentVersion{}, false
}

func resolvedKey(p solver.Package, v semver.Version) string {
	return p.Source + "\x00" + p.Name + "\x00" + v.String()
}

func (r *resolver) Dependencies(ctx context.Context, p solver.Package, v semver.Version) ([]solver.Dependency, error) {
	cv, ok := r.componentVersion(p, v)
	if !ok {
		return nil, fmt.Errorf("unknown version %s of '%s'", v, p)
	}
	deps, resolved, err := r.requirements(ctx, p.Name, cv.Dependencies)
	if err != nil {
		return nil, zerr.With(err, "component", p.Name)
	}
	r.mu.Lock()
	r.resolved[resolvedKey(p, v)] = resolved
	r.mu.Unlock()
	return deps, nil
}

// solve runs the solver and converts the decisions into solved components,
// sorted by name.
func (r *resolver) solve(ctx context.Context, target string, roots []solver.Dependency) ([]*SolvedComponent, error) {
	solution, err := solver.Solve(ctx, r, roots, solver.Options{
		Target:   target,
		RootName: "project",
		Logger:   LoggerFrom(ctx),
	})
	var noSolution *solver.NoSolutionError
	if errors.As(err, &noSolution) {
		if names := r.missingKconfig.Sorted(); len(names) > 0 {
			noSolution.AddHint(fmt.Sprintf("The conditions of some dependencies refer to configuration options that aren't set: %s. "+
				"Check that the project is configured", strings.Join(names, ", ")))
		}
		return nil, unsolvable{noSolution}
	} else if err != nil {
		return nil, err
	}
	debugf(ctx, "version solving took %d attempts", solution.Attempted)
	for _, w := range solution.Warnings {
		r.ui.ReportWarning("%s", w)
	}

	var result []*SolvedComponent
	byName := map[string]solver.Package{}
	for _, p := range solution.Packages() {
		if other, ok := byName[p.Name]; ok {
			return nil, zerr.With(zerr.Wrap(ErrUnsolvableRequirements,
				fmt.Sprintf("'%s' is required from two sources: %s and %s", p.Name, r.describe(other), r.describe(p))), "component", p.Name)
		}
		byName[p.Name] = p
		v := solution.Decisions[p]
		cv, ok := r.componentVersion(p, v)
		if !ok {
			return nil, fmt.Errorf("unknown version %s of '%s'", v, p)
		}
		src, err := r.source(p)
		if err != nil {
			return nil, err
		}
		sc := &SolvedComponent{
			Name:          p.Name,
			Source:        src,
			Version:       cv.Label,
			ComponentHash: cv.ComponentHash,
			Targets:       cv.Targets,
		}
		r.mu.Lock()
		resolved := r.resolved[resolvedKey(p, v)]
		r.mu.Unlock()
		for _, d := range resolved {
			sc.Dependencies = append(sc.Dependencies, LockDependency{
				Name:    d.pkg.Name,
				Require: d.require,
				Version: d.version,
			})
		}
		result = append(result, sc)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (r *resolver) describe(p solver.Package) string {
	src, err := r.source(p)
	if err != nil {
		return p.String()
	}
	spec := src.Spec()
	switch spec.Type {
	case KindGit:
		return "git '" + spec.Git + "'"
	case KindLocal:
		return "directory '" + spec.Path + "'"
	case KindRegistry:
		return "registry '" + spec.RegistryURL + "'"
	}
	return string(spec.Type)
}

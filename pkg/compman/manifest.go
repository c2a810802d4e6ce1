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
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/toitlang/idfcomp/pkg/hashtree"
	"github.com/toitlang/idfcomp/pkg/set"
	"gopkg.in/yaml.v2"
	yamlv3 "gopkg.in/yaml.v3"
)

// ManifestName is the file name of component manifests.
const ManifestName = "idf_component.yml"

// Manifest is the description of a component, or of the dependencies of a
// project.
type Manifest struct {
	// The path of the manifest file, if any.
	path string `yaml:"-"`

	Name           string          `yaml:"name,omitempty"`
	Version        string          `yaml:"version,omitempty"`
	Description    string          `yaml:"description,omitempty"`
	Maintainers    []string        `yaml:"maintainers,omitempty"`
	License        string          `yaml:"license,omitempty"`
	URL            string          `yaml:"url,omitempty"`
	Repository     string          `yaml:"repository,omitempty"`
	Documentation  string          `yaml:"documentation,omitempty"`
	Issues         string          `yaml:"issues,omitempty"`
	Discussion     string          `yaml:"discussion,omitempty"`
	Tags           []string        `yaml:"tags,omitempty"`
	Targets        []string        `yaml:"targets,omitempty"`
	Files          *FileRules      `yaml:"files,omitempty"`
	Examples       []Example       `yaml:"examples,omitempty"`
	RepositoryInfo *RepositoryInfo `yaml:"repository_info,omitempty"`
	Dependencies   DependencyMap   `yaml:"dependencies,omitempty"`
}

// FileRules select the files that belong to a component.
type FileRules struct {
	UseGitignore bool     `yaml:"use_gitignore,omitempty"`
	Include      []string `yaml:"include,omitempty"`
	Exclude      []string `yaml:"exclude,omitempty"`
}

type Example struct {
	Path string `yaml:"path"`
}

type RepositoryInfo struct {
	CommitSHA string `yaml:"commit_sha,omitempty"`
	Path      string `yaml:"path,omitempty"`
}

// DependencyMap maps component names to how they are required.
type DependencyMap map[string]*DependencySpec

// DependencySpec is the declaration of a dependency in a manifest.
// The short form 'name: "range"' only sets the Version.
type DependencySpec struct {
	// Version is a version range. For git dependencies it is the ref
	// (branch, tag, or commit) to use.
	Version      string        `yaml:"version,omitempty"`
	Public       *bool         `yaml:"public,omitempty"`
	Require      string        `yaml:"require,omitempty"`
	Path         string        `yaml:"path,omitempty"`
	Git          string        `yaml:"git,omitempty"`
	GitPath      string        `yaml:"git-path,omitempty"`
	RegistryURL  string        `yaml:"registry_url,omitempty"`
	ServiceURL   string        `yaml:"service_url,omitempty"`
	Rules        []Conditional `yaml:"rules,omitempty"`
	Matches      []Conditional `yaml:"matches,omitempty"`
	OverridePath string        `yaml:"override_path,omitempty"`
	PreRelease   *bool         `yaml:"pre_release,omitempty"`

	// The directory relative paths are resolved against. Empty if the
	// dependency doesn't come from a file on disk.
	dir string
}

// Conditional is an entry of 'rules' or 'matches'.
type Conditional struct {
	If      string `yaml:"if"`
	Version string `yaml:"version,omitempty"`
}

type dependencySpecFields DependencySpec

func (d *DependencySpec) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var short string
	if err := unmarshal(&short); err == nil {
		*d = DependencySpec{Version: short}
		return nil
	}
	var fields dependencySpecFields
	if err := unmarshal(&fields); err != nil {
		return err
	}
	*d = DependencySpec(fields)
	return nil
}

func (d DependencySpec) MarshalYAML() (interface{}, error) {
	if d.Version != "" && d.onlyVersion() {
		return d.Version, nil
	}
	return dependencySpecFields(d), nil
}

func (d DependencySpec) onlyVersion() bool {
	return d.Public == nil && d.Require == "" && d.Path == "" && d.Git == "" &&
		d.GitPath == "" && d.RegistryURL == "" && d.ServiceURL == "" &&
		len(d.Rules) == 0 && len(d.Matches) == 0 && d.OverridePath == "" &&
		d.PreRelease == nil
}

// IsPublic returns whether the dependency is visible to the dependents of
// the declaring component.
func (d *DependencySpec) IsPublic() bool {
	if d.Public != nil {
		return *d.Public
	}
	return d.Require == "public"
}

// IsRequired returns false for dependencies that are only solved, but not
// added to the requirements of the build.
func (d *DependencySpec) IsRequired() bool {
	return d.Require != "no" && d.Require != "false"
}

// AllowsPrerelease returns whether the dependency opted in to pre-releases.
func (d *DependencySpec) AllowsPrerelease() bool {
	return d.PreRelease != nil && *d.PreRelease
}

// VersionSpec returns the version range, or '*' if none is given.
func (d *DependencySpec) VersionSpec() string {
	if strings.TrimSpace(d.Version) == "" {
		return "*"
	}
	return strings.TrimSpace(d.Version)
}

// Dir returns the directory relative paths of the dependency are resolved
// against.
func (d *DependencySpec) Dir() string {
	return d.dir
}

// ManifestOptions configure the loading of a manifest.
type ManifestOptions struct {
	// Path is used in messages and as base directory of relative
	// dependency paths.
	Path string
	// UI receives warnings. Defaults to NullUI.
	UI UI
	// LookupEnv resolves environment variables. Defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
	// ExampleMode keeps references to unset environment variables instead
	// of failing. Used to validate the manifests of examples.
	ExampleMode bool
}

var (
	topLevelKeys = set.NewString("name", "version", "description", "maintainers", "license",
		"url", "repository", "documentation", "issues", "discussion", "tags", "targets",
		"files", "examples", "repository_info", "dependencies")
	fileKeys           = set.NewString("use_gitignore", "include", "exclude")
	repositoryInfoKeys = set.NewString("commit_sha", "path")
	exampleKeys        = set.NewString("path")
	dependencyKeys     = set.NewString("version", "public", "require", "path", "git", "git-path",
		"registry_url", "service_url", "rules", "matches", "override_path", "pre_release")
	conditionalKeys = set.NewString("if", "version")
)

// manifestLoader collects the problems and warnings of one load.
type manifestLoader struct {
	opts     ManifestOptions
	problems []string
}

func (l *manifestLoader) problem(format string, a ...interface{}) {
	l.problems = append(l.problems, fmt.Sprintf(format, a...))
}

func (l *manifestLoader) warn(format string, a ...interface{}) {
	msg := fmt.Sprintf(format, a...)
	if l.opts.Path != "" {
		msg = l.opts.Path + ": " + msg
	}
	l.opts.UI.ReportWarning("%s", msg)
}

func (l *manifestLoader) err() error {
	if len(l.problems) == 0 {
		return nil
	}
	return &ManifestError{Path: l.opts.Path, Problems: l.problems}
}

// ReadManifest loads the manifest at path.
func ReadManifest(path string, opts ManifestOptions) (*Manifest, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	opts.Path = path
	return ParseManifest(b, opts)
}

// ReadManifestIfExists loads the manifest of a component directory. Returns
// nil if the directory doesn't have a manifest.
func ReadManifestIfExists(dir string, opts ManifestOptions) (*Manifest, error) {
	p := filepath.Join(dir, ManifestName)
	ok, err := isFile(p)
	if err != nil || !ok {
		return nil, err
	}
	return ReadManifest(p, opts)
}

// ParseManifest parses the content of a manifest file.
//
// Environment variables are substituted in all strings. Unknown keys are
// reported as warnings and dropped, except inside dependency objects and
// 'files', where they make the manifest invalid.
func ParseManifest(b []byte, opts ManifestOptions) (*Manifest, error) {
	if opts.UI == nil {
		opts.UI = NullUI
	}
	if opts.LookupEnv == nil {
		opts.LookupEnv = os.LookupEnv
	}
	l := &manifestLoader{opts: opts}

	var doc yamlv3.Node
	if err := yamlv3.Unmarshal(b, &doc); err != nil {
		l.problem("invalid YAML: %v", err)
		return nil, l.err()
	}
	raw, err := nodeToTree(&doc)
	if err != nil {
		l.problem("%v", err)
		return nil, l.err()
	}
	tree := map[string]interface{}{}
	if raw != nil {
		m, ok := raw.(map[string]interface{})
		if !ok {
			l.problem("the manifest must be a mapping")
			return nil, l.err()
		}
		tree = m
	}

	l.substitute(tree, "")
	l.filter(tree)
	if err := l.err(); err != nil {
		return nil, err
	}

	// Round-trip through the strict decoder to get type errors for all
	// fields at once.
	encoded, err := yaml.Marshal(tree)
	if err != nil {
		return nil, err
	}
	result := &Manifest{path: opts.Path}
	if err := yaml.UnmarshalStrict(encoded, result); err != nil {
		if typeErr, ok := err.(*yaml.TypeError); ok {
			for _, e := range typeErr.Errors {
				l.problem("%s", e)
			}
		} else {
			l.problem("%v", err)
		}
		return nil, l.err()
	}
	l.normalizeDependencies(result)
	if err := l.err(); err != nil {
		return nil, err
	}
	return result, nil
}

// nodeToTree converts a YAML node into maps, slices, strings, and bools.
// Numbers are kept as written: '1.0' must not become '1'.
func nodeToTree(n *yamlv3.Node) (interface{}, error) {
	switch n.Kind {
	case 0:
		// Empty or comment-only documents.
		return nil, nil
	case yamlv3.DocumentNode:
		if len(n.Content) == 0 {
			return nil, nil
		}
		return nodeToTree(n.Content[0])
	case yamlv3.AliasNode:
		return nodeToTree(n.Alias)
	case yamlv3.MappingNode:
		m := map[string]interface{}{}
		for i := 0; i+1 < len(n.Content); i += 2 {
			key := n.Content[i]
			if key.Kind != yamlv3.ScalarNode {
				return nil, fmt.Errorf("line %d: keys must be strings", key.Line)
			}
			if _, exists := m[key.Value]; exists {
				return nil, fmt.Errorf("line %d: duplicate key '%s'", key.Line, key.Value)
			}
			value, err := nodeToTree(n.Content[i+1])
			if err != nil {
				return nil, err
			}
			m[key.Value] = value
		}
		return m, nil
	case yamlv3.SequenceNode:
		list := make([]interface{}, 0, len(n.Content))
		for _, child := range n.Content {
			value, err := nodeToTree(child)
			if err != nil {
				return nil, err
			}
			list = append(list, value)
		}
		return list, nil
	case yamlv3.ScalarNode:
		switch n.ShortTag() {
		case "!!null":
			return nil, nil
		case "!!bool":
			var b bool
			if err := n.Decode(&b); err != nil {
				return nil, err
			}
			return b, nil
		}
		return n.Value, nil
	}
	return nil, fmt.Errorf("line %d: unsupported YAML node", n.Line)
}

func (l *manifestLoader) substitute(v interface{}, where string) interface{} {
	switch v := v.(type) {
	case string:
		result, missing, err := expandEnv(v, l.opts.LookupEnv)
		if err != nil {
			l.problem("%s: %v", where, err)
			return v
		}
		for _, name := range missing {
			if l.opts.ExampleMode {
				l.warn("environment variable '%s' is not set, keeping the reference in '%s'", name, where)
				continue
			}
			l.problem("%s: environment variable '%s' is not set", where, name)
		}
		return result
	case map[string]interface{}:
		for k, child := range v {
			v[k] = l.substitute(child, join(where, k))
		}
		return v
	case []interface{}:
		for i, child := range v {
			v[i] = l.substitute(child, fmt.Sprintf("%s[%d]", where, i))
		}
		return v
	}
	return v
}

func join(where string, key string) string {
	if where == "" {
		return key
	}
	return where + "." + key
}

// filterKeys drops the unknown keys of m.
func (l *manifestLoader) filterKeys(m map[string]interface{}, known set.String, where string, strict bool) {
	for _, k := range sortedKeys(m) {
		if known.Contains(k) {
			continue
		}
		if strict {
			l.problem("%s: unknown key '%s'", where, k)
		} else if where == "" {
			l.warn("unknown key '%s' is ignored", k)
		} else {
			l.warn("unknown key '%s' in '%s' is ignored", k, where)
		}
		delete(m, k)
	}
}

func (l *manifestLoader) filter(tree map[string]interface{}) {
	l.filterKeys(tree, topLevelKeys, "", false)
	if files, ok := tree["files"].(map[string]interface{}); ok {
		l.filterKeys(files, fileKeys, "files", true)
	}
	if info, ok := tree["repository_info"].(map[string]interface{}); ok {
		l.filterKeys(info, repositoryInfoKeys, "repository_info", false)
	}
	if examples, ok := tree["examples"].([]interface{}); ok {
		for i, e := range examples {
			if m, ok := e.(map[string]interface{}); ok {
				l.filterKeys(m, exampleKeys, fmt.Sprintf("examples[%d]", i), false)
			}
		}
	}
	deps, ok := tree["dependencies"].(map[string]interface{})
	if !ok {
		return
	}
	for name, dep := range deps {
		m, ok := dep.(map[string]interface{})
		if !ok {
			continue
		}
		where := "dependencies." + name
		l.filterKeys(m, dependencyKeys, where, true)
		// 'require: false' is a bool in YAML.
		if b, ok := m["require"].(bool); ok {
			m["require"] = fmt.Sprint(b)
		}
		for _, key := range []string{"rules", "matches"} {
			list, ok := m[key].([]interface{})
			if !ok {
				continue
			}
			for i, entry := range list {
				if cm, ok := entry.(map[string]interface{}); ok {
					l.filterKeys(cm, conditionalKeys, fmt.Sprintf("%s.%s[%d]", where, key, i), false)
				}
			}
		}
	}
}

// normalizeDependencies lowercases the dependency names and resolves the
// aliases of the dependency fields.
func (l *manifestLoader) normalizeDependencies(m *Manifest) {
	if len(m.Dependencies) == 0 {
		return
	}
	dir := ""
	if l.opts.Path != "" {
		dir = filepath.Dir(l.opts.Path)
	}
	normalized := DependencyMap{}
	for _, name := range m.Dependencies.Names() {
		spec := m.Dependencies[name]
		if spec == nil {
			spec = &DependencySpec{}
		}
		lower := strings.ToLower(strings.TrimSpace(name))
		if _, exists := normalized[lower]; exists {
			l.problem("dependencies: duplicate dependency '%s'", name)
			continue
		}
		if spec.Git != "" && spec.Path != "" {
			if spec.GitPath != "" {
				l.problem("dependencies.%s: 'path' and 'git-path' can't be used together", name)
			}
			spec.GitPath = spec.Path
			spec.Path = ""
		}
		if spec.ServiceURL != "" {
			l.warn("dependencies.%s: 'service_url' is deprecated, use 'registry_url'", name)
			if spec.RegistryURL == "" {
				spec.RegistryURL = spec.ServiceURL
			}
			spec.ServiceURL = ""
		}
		spec.dir = dir
		normalized[lower] = spec
	}
	m.Dependencies = normalized
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Names returns the dependency names in sorted order.
func (dm DependencyMap) Names() []string {
	names := make([]string, 0, len(dm))
	for name := range dm {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Path returns the path of the manifest file, if any.
func (m *Manifest) Path() string {
	return m.path
}

// Dir returns the directory of the manifest file.
func (m *Manifest) Dir() string {
	if m.path == "" {
		return ""
	}
	return filepath.Dir(m.path)
}

// Filter returns the file rules of the component for hashing and packing.
func (m *Manifest) Filter() hashtree.Filter {
	if m == nil || m.Files == nil {
		return hashtree.Filter{}
	}
	return hashtree.Filter{
		Include:      m.Files.Include,
		Exclude:      m.Files.Exclude,
		UseGitignore: m.Files.UseGitignore,
	}
}

// WriteYAML writes the manifest in its normalized form.
func (m *Manifest) WriteYAML(w io.Writer) error {
	b, err := yaml.Marshal(m)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// WriteToFile writes the manifest back to its file.
func (m *Manifest) WriteToFile() error {
	var buf bytes.Buffer
	if err := m.WriteYAML(&buf); err != nil {
		return err
	}
	return writeFileIfChanged(m.path, buf.Bytes())
}

// Tree returns the normalized manifest as generic maps, with the empty
// fields left out. The tree is the input of the manifest hash.
func (m *Manifest) Tree() (map[string]interface{}, error) {
	b, err := yaml.Marshal(m)
	if err != nil {
		return nil, err
	}
	var raw interface{}
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	tree, _ := stringKeys(raw).(map[string]interface{})
	if tree == nil {
		tree = map[string]interface{}{}
	}
	return tree, nil
}

// stringKeys converts the maps decoded by yaml.v2 into maps with string
// keys.
func stringKeys(v interface{}) interface{} {
	switch v := v.(type) {
	case map[interface{}]interface{}:
		result := make(map[string]interface{}, len(v))
		for k, child := range v {
			result[fmt.Sprint(k)] = stringKeys(child)
		}
		return result
	case []interface{}:
		result := make([]interface{}, len(v))
		for i, child := range v {
			result[i] = stringKeys(child)
		}
		return result
	}
	return v
}

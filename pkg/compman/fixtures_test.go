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
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/require"
	"github.com/toitlang/idfcomp/pkg/archive"
	"github.com/toitlang/idfcomp/pkg/hashtree"
	"github.com/toitlang/idfcomp/pkg/registry"
)

type testUI struct {
	mu       sync.Mutex
	messages []string
}

func (ui *testUI) add(msg string) {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	ui.messages = append(ui.messages, msg)
}

func (ui *testUI) ReportError(format string, a ...interface{}) error {
	ui.add(fmt.Sprintf("Error: "+format, a...))
	return ErrAlreadyReported
}

func (ui *testUI) ReportWarning(format string, a ...interface{}) {
	ui.add(fmt.Sprintf("Warning: "+format, a...))
}

func (ui *testUI) ReportInfo(format string, a ...interface{}) {
	ui.add(fmt.Sprintf("Info: "+format, a...))
}

// contains returns true if a message contains str.
func (ui *testUI) contains(str string) bool {
	ui.mu.Lock()
	defer ui.mu.Unlock()
	for _, msg := range ui.messages {
		if strings.Contains(msg, str) {
			return true
		}
	}
	return false
}

func writeFiles(t *testing.T, root string, files map[string]string) {
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
}

// testRegistry is a component registry served from a temporary directory.
type testRegistry struct {
	t          *testing.T
	dir        string
	server     *httptest.Server
	components map[string]*registry.Component
}

func newTestRegistry(t *testing.T) *testRegistry {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"api": `{"status": "ok"}`})
	server := httptest.NewServer(http.FileServer(http.Dir(dir)))
	t.Cleanup(server.Close)
	return &testRegistry{
		t:          t,
		dir:        dir,
		server:     server,
		components: map[string]*registry.Component{},
	}
}

func (r *testRegistry) URL() string {
	return r.server.URL
}

// add publishes a version of the component 'namespace/name'. The archive
// contains a build file and the given files. Returns the component hash.
func (r *testRegistry) add(fullName string, version string, files map[string]string, deps ...registry.Dependency) string {
	t := r.t
	src := t.TempDir()
	content := map[string]string{
		"CMakeLists.txt": "idf_component_register()\n",
		"version.txt":    version + "\n",
	}
	for k, v := range files {
		content[k] = v
	}
	writeFiles(t, src, content)
	hash, err := hashtree.HashDir(src, hashtree.Filter{})
	require.NoError(t, err)

	archiveRel := "files/" + BuildName(fullName) + "_" + version + ".tgz"
	archivePath := filepath.Join(r.dir, filepath.FromSlash(archiveRel))
	require.NoError(t, os.MkdirAll(filepath.Dir(archivePath), 0755))
	require.NoError(t, archive.PackFile(src, hashtree.Filter{}, archivePath))

	comp, ok := r.components[fullName]
	if !ok {
		parts := strings.SplitN(fullName, "/", 2)
		comp = &registry.Component{Namespace: parts[0], Name: parts[1]}
		r.components[fullName] = comp
	}
	comp.Versions = append(comp.Versions, registry.VersionInfo{
		Version:       version,
		URL:           archiveRel,
		ComponentHash: hash,
		Dependencies:  deps,
	})
	r.save(fullName)
	return hash
}

// update changes the published version and saves the metadata.
func (r *testRegistry) update(fullName string, version string, f func(v *registry.VersionInfo)) {
	comp := r.components[fullName]
	require.NotNil(r.t, comp)
	for i := range comp.Versions {
		if comp.Versions[i].Version == version {
			f(&comp.Versions[i])
		}
	}
	r.save(fullName)
}

func (r *testRegistry) save(fullName string) {
	b, err := json.MarshalIndent(r.components[fullName], "", "  ")
	require.NoError(r.t, err)
	writeFiles(r.t, r.dir, map[string]string{"components/" + fullName + ".json": string(b)})
}

func newTestClient() *registry.Client {
	return registry.NewClient(registry.WithBaseDelay(time.Millisecond), registry.WithMaxRetries(1))
}

// testProject is a project with its own cache, using a test registry.
type testProject struct {
	t        *testing.T
	root     string
	cache    Cache
	ui       *testUI
	settings Settings
}

func newTestProject(t *testing.T, reg *testRegistry, manifest string) *testProject {
	root := t.TempDir()
	writeFiles(t, root, map[string]string{"main/" + ManifestName: manifest})
	settings := Settings{
		Target:     "esp32",
		IDFVersion: "5.1.2",
	}
	if reg != nil {
		settings.RegistryURL = reg.URL()
	}
	return &testProject{
		t:        t,
		root:     root,
		cache:    NewCache(WithCachePath(t.TempDir()), WithLockTimeout(10*time.Second)),
		ui:       &testUI{},
		settings: settings,
	}
}

func (p *testProject) manager() *ProjectManager {
	paths, err := NewProjectPaths(p.root, "")
	require.NoError(p.t, err)
	return NewProjectManager(paths, p.settings, p.cache, newTestClient(), p.ui)
}

func (p *testProject) lockFile() *LockFile {
	lf, err := ReadLockFile(filepath.Join(p.root, LockFileName))
	require.NoError(p.t, err)
	return lf
}

func (p *testProject) managedDir(name string) string {
	return filepath.Join(p.root, ManagedComponentsDir, BuildName(name))
}

func requireGit(t *testing.T) {
	// The file transport of go-git runs 'git-upload-pack'.
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git binary not available")
	}
}

// commitFiles writes the files into the work tree of repo and commits them.
// Returns the commit id.
func commitFiles(t *testing.T, repo *gogit.Repository, dir string, files map[string]string, msg string) string {
	wt, err := repo.Worktree()
	require.NoError(t, err)
	for rel, content := range files {
		writeFiles(t, dir, map[string]string{rel: content})
		_, err := wt.Add(rel)
		require.NoError(t, err)
	}
	hash, err := wt.Commit(msg, &gogit.CommitOptions{
		Author: &object.Signature{Name: "test", Email: "test@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	return hash.String()
}

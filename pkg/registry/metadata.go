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

package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"path/filepath"
	"runtime"
	"strings"
)

// APIInfo is the response of the registry's '/api' endpoint.
type APIInfo struct {
	ComponentsBaseURL string `json:"components_base_url"`
	Status            string `json:"status"`
	Version           string `json:"version"`
}

// Component is the metadata a storage mirror has for one component.
type Component struct {
	Name      string        `json:"name"`
	Namespace string        `json:"namespace"`
	Versions  []VersionInfo `json:"versions"`
}

// VersionInfo describes one published version of a component.
type VersionInfo struct {
	Version           string            `json:"version"`
	URL               string            `json:"url"`
	ComponentHash     string            `json:"component_hash"`
	Checksums         map[string]string `json:"checksums,omitempty"`
	Dependencies      []Dependency      `json:"dependencies"`
	Targets           []string          `json:"targets"`
	YankedAt          string            `json:"yanked_at,omitempty"`
	YankedMessage     string            `json:"yanked_message,omitempty"`
	BuildMetadataKeys []string          `json:"build_metadata_keys,omitempty"`
}

// IsYanked returns whether the author withdrew the version.
func (v VersionInfo) IsYanked() bool {
	return v.YankedAt != ""
}

// Dependency is a dependency record of a published version.
type Dependency struct {
	Name        string        `json:"name"`
	Namespace   string        `json:"namespace,omitempty"`
	Spec        string        `json:"spec"`
	Source      string        `json:"source,omitempty"`
	IsPublic    bool          `json:"is_public,omitempty"`
	Require     string        `json:"require,omitempty"`
	RegistryURL string        `json:"registry_url,omitempty"`
	PreRelease  *bool         `json:"pre_release,omitempty"`
	Rules       []Conditional `json:"rules,omitempty"`
	Matches     []Conditional `json:"matches,omitempty"`
}

// FullName returns 'namespace/name'.
func (d Dependency) FullName() string {
	if d.Namespace == "" || strings.Contains(d.Name, "/") {
		return d.Name
	}
	return d.Namespace + "/" + d.Name
}

// Conditional is an if-clause with an optional version.
type Conditional struct {
	If      string `json:"if"`
	Version string `json:"version,omitempty"`
}

func joinURL(base string, elem ...string) string {
	return strings.TrimRight(base, "/") + "/" + strings.Join(elem, "/")
}

func (c *Client) getJSON(ctx context.Context, rawURL string, target interface{}) error {
	body, err := c.get(ctx, rawURL)
	if err != nil {
		return err
	}
	defer body.Close()
	if err := json.NewDecoder(body).Decode(target); err != nil {
		return fmt.Errorf("invalid response from '%s': %w", rawURL, err)
	}
	return nil
}

// API fetches the registry's metadata.
func (c *Client) API(ctx context.Context, registryURL string) (*APIInfo, error) {
	var info APIInfo
	if err := c.getJSON(ctx, joinURL(registryURL, "api"), &info); err != nil {
		return nil, err
	}
	if info.ComponentsBaseURL != "" {
		info.ComponentsBaseURL = resolveURL(registryURL+"/", info.ComponentsBaseURL)
	}
	return &info, nil
}

// ComponentURL returns the metadata URL of a component in a storage mirror.
func ComponentURL(storageURL string, fullName string) string {
	return joinURL(storageURL, "components", fullName+".json")
}

// Component fetches the metadata of the component 'namespace/name'.
// All URLs of the response are absolute.
func (c *Client) Component(ctx context.Context, storageURL string, fullName string) (*Component, error) {
	metaURL := ComponentURL(storageURL, fullName)
	var comp Component
	if err := c.getJSON(ctx, metaURL, &comp); err != nil {
		return nil, err
	}
	for i := range comp.Versions {
		if comp.Versions[i].URL != "" {
			comp.Versions[i].URL = resolveURL(strings.TrimRight(storageURL, "/")+"/", comp.Versions[i].URL)
		}
	}
	return &comp, nil
}

// resolveURL resolves ref against base. Malformed refs are returned as is.
func resolveURL(base string, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// FileURL converts a local path to a 'file://' URL.
func FileURL(p string) string {
	abs, err := filepath.Abs(p)
	if err != nil {
		abs = p
	}
	slashed := filepath.ToSlash(abs)
	if !strings.HasPrefix(slashed, "/") {
		slashed = "/" + slashed
	}
	return (&url.URL{Scheme: "file", Path: slashed}).String()
}

func fileURLPath(u *url.URL) string {
	p := u.Path
	if u.Host != "" && u.Host != "localhost" {
		p = "//" + u.Host + p
	}
	if runtime.GOOS == "windows" {
		p = strings.TrimPrefix(p, "/")
	}
	return filepath.FromSlash(p)
}

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

package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/toitlang/idfcomp/pkg/compman"
)

const (
	// TargetEnv is the chip target of the build.
	TargetEnv = "IDF_TARGET"
	// IDFPathEnv is the root of the toolchain.
	IDFPathEnv = "IDF_PATH"
	// IDFVersionEnv overrides the toolchain version found in IDF_PATH.
	IDFVersionEnv = "IDF_VERSION"
	// ToolsPathEnv is the directory of the toolchain's tools. The user
	// configuration lives there.
	ToolsPathEnv = "IDF_TOOLS_PATH"

	CachePathEnv       = "IDF_COMPONENT_CACHE_PATH"
	RegistryURLEnv     = "IDF_COMPONENT_REGISTRY_URL"
	StorageURLEnv      = "IDF_COMPONENT_STORAGE_URL"
	LocalStorageURLEnv = "IDF_COMPONENT_LOCAL_STORAGE_URL"
	APITokenEnv        = "IDF_COMPONENT_API_TOKEN"
	// ProfileEnv selects the profile of the user configuration.
	ProfileEnv = "IDF_COMPONENT_PROFILE"

	OverwriteManagedComponentsEnv = "IDF_COMPONENT_OVERWRITE_MANAGED_COMPONENTS"
	StrictChecksumEnv             = "IDF_COMPONENT_STRICT_CHECKSUM"
	ConstraintsEnv                = "IDF_COMPONENT_CONSTRAINTS"
	ConstraintFilesEnv            = "IDF_COMPONENT_CONSTRAINT_FILES"
	VerifySSLEnv                  = "IDF_COMPONENT_VERIFY_SSL"
	LogLevelEnv                   = "IDF_COMPONENT_LOG_LEVEL"
	// ConfigFileEnv, if set, is the user configuration file.
	ConfigFileEnv = "IDF_COMPONENT_CONFIG_FILE"
)

// EnsureDirectory creates dir unless err is set. It takes the results of a
// path lookup so that calls can be chained.
func EnsureDirectory(dir string, err error) (string, error) {
	if err != nil {
		return dir, err
	}
	return dir, os.MkdirAll(dir, 0755)
}

// CachePath returns the directory of the component cache.
func CachePath(lookup LookupFunc) string {
	if p, ok := lookupTrimmed(lookup, CachePathEnv); ok && p != "" {
		return p
	}
	return compman.DefaultCachePath()
}

// splitList splits a ';'-separated list, dropping empty entries.
func splitList(s string) []string {
	var result []string
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part != "" {
			result = append(result, part)
		}
	}
	return result
}

// splitPaths splits a list of paths. Both ';' and the list separator of
// the system are accepted.
func splitPaths(s string) []string {
	var result []string
	for _, part := range splitList(s) {
		for _, p := range filepath.SplitList(part) {
			if p != "" {
				result = append(result, p)
			}
		}
	}
	return result
}

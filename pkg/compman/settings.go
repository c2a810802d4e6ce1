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

const (
	DefaultRegistryURL = "https://components.espressif.com"
	DefaultNamespace   = "espressif"
)

// KnownTargets are the chip targets a component may declare when it is
// uploaded.
var KnownTargets = []string{
	"esp32",
	"esp32s2",
	"esp32s3",
	"esp32c2",
	"esp32c3",
	"esp32c5",
	"esp32c6",
	"esp32c61",
	"esp32h2",
	"esp32h4",
	"esp32p4",
	"linux",
}

func isKnownTarget(target string) bool {
	for _, t := range KnownTargets {
		if t == target {
			return true
		}
	}
	return false
}

// Settings is the process-wide configuration of the component manager.
// It is captured once, when a pipeline starts, and never changes
// afterwards.
type Settings struct {
	// Target is the chip target of the build ('IDF_TARGET').
	Target string
	// IDFPath is the root of the toolchain ('IDF_PATH').
	IDFPath string
	// IDFVersion overrides the toolchain version detected from IDFPath.
	IDFVersion string

	// CachePath is the directory of the shared component cache.
	CachePath string

	RegistryURL string
	// StorageURLs are the storage mirrors of the default registry, queried
	// before the storage announced by the registry.
	StorageURLs []string
	// LocalStorageURLs are 'file://' mirrors, queried first.
	LocalStorageURLs []string
	APIToken         string
	DefaultNamespace string
	// SkipSSLVerify disables the verification of the registry's TLS
	// certificates.
	SkipSSLVerify bool

	// OverwriteManagedComponents allows replacing managed components that
	// were modified by the user.
	OverwriteManagedComponents bool
	// StrictChecksum treats managed components without hash file as
	// modified.
	StrictChecksum bool

	// Constraints is a semicolon-separated list of 'name range' entries
	// that narrow the dependencies on these components.
	Constraints     string
	ConstraintFiles []string

	// KconfigPath is the JSON file with the values of the configuration
	// options ('sdkconfig.json'). May be empty.
	KconfigPath string
	// ExtraComponentDirs are directories that contain components of the
	// build outside the project.
	ExtraComponentDirs []string

	// Jobs is the number of components fetched in parallel.
	Jobs int
}

// WithDefaults returns a copy of the settings with defaults for the unset
// fields.
func (s Settings) WithDefaults() Settings {
	if s.RegistryURL == "" {
		s.RegistryURL = DefaultRegistryURL
	}
	if s.DefaultNamespace == "" {
		s.DefaultNamespace = DefaultNamespace
	}
	if s.Jobs <= 0 {
		s.Jobs = 1
	}
	return s
}

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
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/toitlang/idfcomp/pkg/compman"
	"go.trai.ch/zerr"
)

// ConfigFileName is the name of the user configuration file.
const ConfigFileName = "idf_component_manager.yml"

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(string) (string, bool)

func lookupTrimmed(lookup LookupFunc, key string) (string, bool) {
	v, ok := lookup(key)
	return strings.TrimSpace(v), ok
}

// UserConfigPath returns the directory of the user configuration.
func UserConfigPath(lookup LookupFunc) (string, error) {
	if path, ok := lookupTrimmed(lookup, ToolsPathEnv); ok && path != "" {
		return path, nil
	}

	homedir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homedir, ".espressif"), nil
}

// UserConfigFile returns the config file in the user directory.
func UserConfigFile(lookup LookupFunc) (string, bool) {
	if p, ok := lookupTrimmed(lookup, ConfigFileEnv); ok && p != "" {
		return p, true
	}
	if dir, err := UserConfigPath(lookup); err == nil {
		return filepath.Join(dir, ConfigFileName), true
	}
	return "", false
}

// ParseBool parses the value of a boolean environment variable.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "y", "yes", "on", "true":
		return true, nil
	case "", "0", "n", "no", "off", "false":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", s)
}

func boolEnv(lookup LookupFunc, key string, def bool) (bool, error) {
	v, ok := lookupTrimmed(lookup, key)
	if !ok || v == "" {
		return def, nil
	}
	b, err := ParseBool(v)
	if err != nil {
		return false, zerr.With(zerr.Wrap(compman.ErrEnvironment, err.Error()), "variable", key)
	}
	return b, nil
}

// SettingsFromEnv builds the settings of the pipeline from the
// environment. Values of the user configuration are merged in by the
// store.
func SettingsFromEnv(lookup LookupFunc) (compman.Settings, error) {
	get := func(key string) string {
		v, _ := lookupTrimmed(lookup, key)
		return v
	}
	s := compman.Settings{
		Target:           get(TargetEnv),
		IDFPath:          get(IDFPathEnv),
		IDFVersion:       get(IDFVersionEnv),
		CachePath:        CachePath(lookup),
		RegistryURL:      get(RegistryURLEnv),
		StorageURLs:      splitList(get(StorageURLEnv)),
		LocalStorageURLs: splitList(get(LocalStorageURLEnv)),
		APIToken:         get(APITokenEnv),
		Constraints:      get(ConstraintsEnv),
		ConstraintFiles:  splitPaths(get(ConstraintFilesEnv)),
	}
	var err error
	if s.OverwriteManagedComponents, err = boolEnv(lookup, OverwriteManagedComponentsEnv, false); err != nil {
		return s, err
	}
	if s.StrictChecksum, err = boolEnv(lookup, StrictChecksumEnv, false); err != nil {
		return s, err
	}
	verify, err := boolEnv(lookup, VerifySSLEnv, true)
	if err != nil {
		return s, err
	}
	s.SkipSSLVerify = !verify
	return s, nil
}

// Verbose returns whether the log level of the environment asks for debug
// output.
func Verbose(lookup LookupFunc) bool {
	level, _ := lookupTrimmed(lookup, LogLevelEnv)
	switch strings.ToLower(level) {
	case "debug", "trace":
		return true
	}
	return false
}

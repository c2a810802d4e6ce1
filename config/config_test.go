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
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toitlang/idfcomp/pkg/compman"
)

func lookupFrom(env map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func Test_SettingsFromEnv(t *testing.T) {
	t.Run("Full", func(t *testing.T) {
		s, err := SettingsFromEnv(lookupFrom(map[string]string{
			TargetEnv:                     " esp32s3 ",
			IDFPathEnv:                    "/opt/esp-idf",
			IDFVersionEnv:                 "5.2.1",
			CachePathEnv:                  "/tmp/cache",
			RegistryURLEnv:                "https://registry.example.com",
			StorageURLEnv:                 "https://a.example.com; https://b.example.com;",
			LocalStorageURLEnv:            "file:///mnt/mirror",
			APITokenEnv:                   "secret",
			OverwriteManagedComponentsEnv: "1",
			StrictChecksumEnv:             "yes",
			ConstraintsEnv:                "espressif/cjson >=1.7",
			ConstraintFilesEnv:            "/a/c.txt;/b/d.txt",
			VerifySSLEnv:                  "false",
		}))
		require.NoError(t, err)
		assert.Equal(t, compman.Settings{
			Target:                     "esp32s3",
			IDFPath:                    "/opt/esp-idf",
			IDFVersion:                 "5.2.1",
			CachePath:                  "/tmp/cache",
			RegistryURL:                "https://registry.example.com",
			StorageURLs:                []string{"https://a.example.com", "https://b.example.com"},
			LocalStorageURLs:           []string{"file:///mnt/mirror"},
			APIToken:                   "secret",
			OverwriteManagedComponents: true,
			StrictChecksum:             true,
			Constraints:                "espressif/cjson >=1.7",
			ConstraintFiles:            []string{"/a/c.txt", "/b/d.txt"},
			SkipSSLVerify:              true,
		}, s)
	})

	t.Run("Defaults", func(t *testing.T) {
		s, err := SettingsFromEnv(lookupFrom(nil))
		require.NoError(t, err)
		assert.Equal(t, compman.DefaultCachePath(), s.CachePath)
		assert.False(t, s.SkipSSLVerify)
		assert.False(t, s.OverwriteManagedComponents)
		assert.Empty(t, s.StorageURLs)
	})

	t.Run("InvalidBool", func(t *testing.T) {
		_, err := SettingsFromEnv(lookupFrom(map[string]string{StrictChecksumEnv: "maybe"}))
		require.Error(t, err)
		assert.ErrorIs(t, err, compman.ErrEnvironment)
		assert.Contains(t, err.Error(), "maybe")
	})
}

func Test_UserConfigFile(t *testing.T) {
	p, ok := UserConfigFile(lookupFrom(map[string]string{ToolsPathEnv: "/opt/tools"}))
	require.True(t, ok)
	assert.Equal(t, filepath.Join("/opt/tools", ConfigFileName), p)

	p, ok = UserConfigFile(lookupFrom(map[string]string{
		ToolsPathEnv:  "/opt/tools",
		ConfigFileEnv: "/etc/idf.yml",
	}))
	require.True(t, ok)
	assert.Equal(t, "/etc/idf.yml", p)
}

func Test_Verbose(t *testing.T) {
	assert.False(t, Verbose(lookupFrom(nil)))
	assert.False(t, Verbose(lookupFrom(map[string]string{LogLevelEnv: "info"})))
	assert.True(t, Verbose(lookupFrom(map[string]string{LogLevelEnv: "DEBUG"})))
}

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

package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toitlang/idfcomp/config"
	"github.com/toitlang/idfcomp/pkg/compman"
)

const testConfig = `
profiles:
  default:
    registry_url: https://default.example.com
    storage_url: https://storage.example.com
    default_namespace: acme
  staging:
    registry_url: https://staging.example.com
    storage_url:
      - https://s1.example.com
      - https://s2.example.com
    local_storage_url: file:///mnt/mirror
    api_token: staging-token
  broken: 42
`

func newStore(t *testing.T, env map[string]string, content string) *Viper {
	lookup := func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	vc := NewViper(lookup)
	p := filepath.Join(t.TempDir(), config.ConfigFileName)
	if content != "" {
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
	require.NoError(t, vc.Init(p))
	return vc
}

func Test_Viper(t *testing.T) {
	ctx := context.Background()

	t.Run("DefaultProfile", func(t *testing.T) {
		cfg, err := newStore(t, nil, testConfig).Load(ctx)
		require.NoError(t, err)
		s := cfg.Settings
		assert.Equal(t, "https://default.example.com", s.RegistryURL)
		assert.Equal(t, []string{"https://storage.example.com"}, s.StorageURLs)
		assert.Equal(t, "acme", s.DefaultNamespace)
		assert.Empty(t, s.APIToken)
	})

	t.Run("NamedProfile", func(t *testing.T) {
		cfg, err := newStore(t, map[string]string{config.ProfileEnv: "staging"}, testConfig).Load(ctx)
		require.NoError(t, err)
		s := cfg.Settings
		assert.Equal(t, "https://staging.example.com", s.RegistryURL)
		assert.Equal(t, []string{"https://s1.example.com", "https://s2.example.com"}, s.StorageURLs)
		assert.Equal(t, []string{"file:///mnt/mirror"}, s.LocalStorageURLs)
		assert.Equal(t, "staging-token", s.APIToken)
		assert.Equal(t, compman.DefaultNamespace, s.DefaultNamespace)
	})

	t.Run("EnvironmentWins", func(t *testing.T) {
		cfg, err := newStore(t, map[string]string{
			config.ProfileEnv:     "staging",
			config.RegistryURLEnv: "https://env.example.com",
			config.APITokenEnv:    "env-token",
		}, testConfig).Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, "https://env.example.com", cfg.Settings.RegistryURL)
		assert.Equal(t, "env-token", cfg.Settings.APIToken)
		assert.Equal(t, []string{"https://s1.example.com", "https://s2.example.com"}, cfg.Settings.StorageURLs)
	})

	t.Run("MissingFile", func(t *testing.T) {
		cfg, err := newStore(t, nil, "").Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, compman.DefaultRegistryURL, cfg.Settings.RegistryURL)
		assert.Equal(t, compman.DefaultNamespace, cfg.Settings.DefaultNamespace)
	})

	t.Run("UnknownProfile", func(t *testing.T) {
		_, err := newStore(t, map[string]string{config.ProfileEnv: "prod"}, testConfig).Load(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, compman.ErrEnvironment)
	})

	t.Run("InvalidProfile", func(t *testing.T) {
		_, err := newStore(t, map[string]string{config.ProfileEnv: "broken"}, testConfig).Load(ctx)
		require.Error(t, err)
		assert.ErrorIs(t, err, compman.ErrEnvironment)
	})

	t.Run("InvalidFile", func(t *testing.T) {
		vc := NewViper(func(string) (string, bool) { return "", false })
		p := filepath.Join(t.TempDir(), config.ConfigFileName)
		require.NoError(t, os.WriteFile(p, []byte("profiles: [unterminated"), 0644))
		require.Error(t, vc.Init(p))
		_, err := vc.Load(ctx)
		assert.ErrorIs(t, err, compman.ErrEnvironment)
	})
}

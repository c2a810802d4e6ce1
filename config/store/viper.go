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
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
	"github.com/toitlang/idfcomp/commands"
	"github.com/toitlang/idfcomp/config"
	"github.com/toitlang/idfcomp/pkg/compman"
	"go.trai.ch/zerr"
)

// Viper loads the configuration from the environment and the profiles of
// the user configuration file.
type Viper struct {
	v       *viper.Viper
	lookup  config.LookupFunc
	initErr error
}

func NewViper(lookup config.LookupFunc) *Viper {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	return &Viper{
		v:      viper.New(),
		lookup: lookup,
	}
}

const (
	configKeyProfiles  = "profiles"
	defaultProfile     = "default"
	keyRegistryURL     = "registry_url"
	keyStorageURL      = "storage_url"
	keyLocalStorageURL = "local_storage_url"
	keyAPIToken        = "api_token"
	keyDefaultNS       = "default_namespace"
)

// Init reads the configuration file. A missing file is not an error.
// A failure is also returned by the next Load.
func (vc *Viper) Init(cfgFile string) error {
	if cfgFile == "" {
		return nil
	}
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		return nil
	}
	vc.v.SetConfigFile(cfgFile)
	vc.v.SetConfigType("yaml")
	if err := vc.v.ReadInConfig(); err != nil {
		vc.initErr = zerr.With(fmt.Errorf("%w: %w", compman.ErrEnvironment, err), "file", cfgFile)
	}
	return vc.initErr
}

// profileName returns the selected profile and whether it was chosen
// explicitly.
func (vc *Viper) profileName() (string, bool) {
	if name, ok := vc.lookup(config.ProfileEnv); ok && strings.TrimSpace(name) != "" {
		return strings.TrimSpace(name), true
	}
	return defaultProfile, false
}

func (vc *Viper) Load(ctx context.Context) (*commands.Config, error) {
	if vc.initErr != nil {
		return nil, vc.initErr
	}
	settings, err := config.SettingsFromEnv(vc.lookup)
	if err != nil {
		return nil, err
	}

	name, explicit := vc.profileName()
	// Viper keys are case insensitive.
	key := configKeyProfiles + "." + strings.ToLower(name)
	if !vc.v.IsSet(key) {
		if explicit && name != defaultProfile {
			return nil, zerr.With(zerr.Wrap(compman.ErrEnvironment, fmt.Sprintf("profile '%s' is not in the configuration", name)), "profile", name)
		}
	} else {
		profile := vc.v.Sub(key)
		if profile == nil {
			return nil, zerr.With(zerr.Wrap(compman.ErrEnvironment, fmt.Sprintf("profile '%s' must be a mapping", name)), "profile", name)
		}
		if err := merge(&settings, profile); err != nil {
			return nil, zerr.With(err, "profile", name)
		}
	}

	return &commands.Config{
		Settings: settings.WithDefaults(),
		Verbose:  config.Verbose(vc.lookup),
	}, nil
}

// merge fills the settings that the environment left empty with the
// values of the profile.
func merge(s *compman.Settings, profile *viper.Viper) error {
	if s.RegistryURL == "" {
		s.RegistryURL = profile.GetString(keyRegistryURL)
	}
	if s.APIToken == "" {
		s.APIToken = profile.GetString(keyAPIToken)
	}
	if s.DefaultNamespace == "" {
		s.DefaultNamespace = profile.GetString(keyDefaultNS)
	}
	if len(s.StorageURLs) == 0 {
		urls, err := stringList(profile, keyStorageURL)
		if err != nil {
			return err
		}
		s.StorageURLs = urls
	}
	if len(s.LocalStorageURLs) == 0 {
		urls, err := stringList(profile, keyLocalStorageURL)
		if err != nil {
			return err
		}
		s.LocalStorageURLs = urls
	}
	return nil
}

// stringList returns a key that is either a single string or a list of
// strings.
func stringList(v *viper.Viper, key string) ([]string, error) {
	switch value := v.Get(key).(type) {
	case nil:
		return nil, nil
	case string:
		if value == "" {
			return nil, nil
		}
		return []string{value}, nil
	case []interface{}:
		var result []string
		for _, e := range value {
			str, ok := e.(string)
			if !ok {
				return nil, zerr.Wrap(compman.ErrEnvironment, fmt.Sprintf("%s: entries must be strings", key))
			}
			result = append(result, str)
		}
		return result, nil
	}
	return nil, zerr.Wrap(compman.ErrEnvironment, fmt.Sprintf("%s: must be a string or a list of strings", key))
}

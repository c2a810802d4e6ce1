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

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/toitlang/idfcomp/commands"
	"github.com/toitlang/idfcomp/config"
	"github.com/toitlang/idfcomp/config/store"
)

func getTrimmedEnv(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	return strings.TrimSpace(v), ok
}

func main() {
	configStore := store.NewViper(getTrimmedEnv)
	cobra.OnInitialize(func() {
		// Errors are reported when the configuration is loaded.
		cfgFile, _ := config.UserConfigFile(getTrimmedEnv)
		configStore.Init(cfgFile)
	})

	rootCmd, err := commands.Root(commands.DefaultRunWrapper, configStore, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(2)
	}
}

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

package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/toitlang/idfcomp/config"
	"github.com/toitlang/idfcomp/pkg/archive"
	"github.com/toitlang/idfcomp/pkg/compman"
	"github.com/toitlang/idfcomp/pkg/hashtree"
	"github.com/toitlang/idfcomp/pkg/registry"
)

type ConfigStore interface {
	Load(ctx context.Context) (*Config, error)
}

// Config is the configuration of a command, taken from the environment
// and the user configuration file.
type Config struct {
	Settings compman.Settings
	// Verbose enables debug output.
	Verbose bool
}

type CobraCommand func(cmd *cobra.Command, args []string)
type CobraErrorCommand func(cmd *cobra.Command, args []string) error
type Run func(CobraErrorCommand) CobraCommand

// WithSilent is implemented by errors that have already been shown to the
// user.
type WithSilent interface {
	Silent() bool
}

// WithExitCode is implemented by errors that determine the exit code of
// the process.
type WithExitCode interface {
	ExitCode() int
}

// DefaultRunWrapper runs the command and exits the process with the code
// of its error, if any.
func DefaultRunWrapper(f CobraErrorCommand) CobraCommand {
	return func(cmd *cobra.Command, args []string) {
		err := f(cmd, args)
		if err == nil {
			return
		}
		if s, ok := err.(WithSilent); !ok || !s.Silent() {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		code := compman.ExitFatal
		if e, ok := err.(WithExitCode); ok {
			code = e.ExitCode()
		}
		os.Exit(code)
	}
}

type handler struct {
	cfg      *Config
	cfgStore ConfigStore
	ui       compman.UI
}

// Root returns the command line interface of the component manager. If
// ui is nil, messages are logged to stderr.
func Root(run Run, configStore ConfigStore, ui compman.UI) (*cobra.Command, error) {
	h := &handler{
		cfgStore: configStore,
		ui:       ui,
	}

	// 1. Loads the config before invoking the command.
	// 2. Maps the error to an exit error. Errors that were already reported
	//    are silent.
	// 3. Wraps the call into the given 'run' function.
	errorCfgRun := func(f CobraErrorCommand) CobraCommand {
		return run(func(cmd *cobra.Command, args []string) error {
			if h.cfg == nil {
				cfg, err := h.cfgStore.Load(cmd.Context())
				if err != nil {
					return newExitError(compman.ExitCode(err), err)
				}
				h.cfg = cfg
			}
			if err := h.applyFlags(cmd); err != nil {
				return newExitError(compman.ExitBadInput, err)
			}
			if h.ui == nil {
				h.ui = compman.NewLogUI(compman.NewLogger(os.Stderr, h.cfg.Verbose))
			}

			err := f(cmd, args)
			if err == nil {
				return nil
			}
			if compman.IsErrAlreadyReported(err) {
				return newSilentExitError(compman.ExitFatal)
			}
			return newExitError(compman.ExitCode(err), err)
		})
	}

	cmd := &cobra.Command{
		Use:   "idfcomp",
		Short: "Manage the components of a project",
		// Errors are reported by the run wrapper.
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.PersistentFlags().String("project-root", "", "specify the project root")
	cmd.PersistentFlags().String("lock-path", "", "specify the path of the lock file")
	cmd.PersistentFlags().BoolP("verbose", "v", false, "show debug output")

	prepareCmd := &cobra.Command{
		Use:   "prepare",
		Short: "Downloads the dependencies of the project",
		Long: `Brings the managed components of the project in line with its manifests.

If the lock file is missing or out of date, the dependencies are solved again
and a new lock file is written. Missing or outdated components are then
downloaded into the 'managed_components' directory.

Managed components that were modified by the user are never overwritten,
unless IDF_COMPONENT_OVERWRITE_MANAGED_COMPONENTS is set.

Prints the components of the build.`,
		Example: `  # Prepare the components for an esp32s3 build.
  IDF_TARGET=esp32s3 idfcomp prepare

  # Print the components as JSON.
  idfcomp prepare --target esp32 --output-format json`,
		Run:     errorCfgRun(h.prepare),
		Args:    cobra.NoArgs,
		Aliases: []string{"prepare-dependencies"},
	}
	prepareCmd.Flags().String("target", "", "the chip target (default $IDF_TARGET)")
	prepareCmd.Flags().String("idf-version", "", "the version of the toolchain (default: detected from $IDF_PATH)")
	prepareCmd.Flags().String("sdkconfig-json", "", "the JSON file with the configuration options")
	prepareCmd.Flags().StringSlice("extra-component-dir", nil, "a directory with additional components of the build")
	prepareCmd.Flags().IntP("jobs", "j", 4, "number of components downloaded in parallel")
	prepareCmd.Flags().StringP("output-format", "o", "text", "defines the output format (valid: 'text', 'json')")
	cmd.AddCommand(prepareCmd)

	updateCmd := &cobra.Command{
		Use:   "update-dependencies",
		Short: "Solves the dependencies again, ignoring the lock file",
		Long: `Solves the dependencies of the project again, ignoring the versions of the
current lock file, and writes the new lock file.

With '--dry-run' only prints the changes the new lock file would bring.
Components are downloaded by the next 'prepare'.`,
		Run:     errorCfgRun(h.update),
		Args:    cobra.NoArgs,
		Aliases: []string{"update"},
	}
	updateCmd.Flags().Bool("dry-run", false, "print the changes without writing the lock file")
	updateCmd.Flags().String("target", "", "the chip target (default $IDF_TARGET)")
	updateCmd.Flags().String("idf-version", "", "the version of the toolchain (default: detected from $IDF_PATH)")
	updateCmd.Flags().String("sdkconfig-json", "", "the JSON file with the configuration options")
	cmd.AddCommand(updateCmd)

	addCmd := &cobra.Command{
		Use:   "add-dependency <name>[<range>]",
		Short: "Adds a dependency to a manifest",
		Long: `Adds a registry dependency to the manifest of a component of the project.

The range directly follows the name. If no range is given, any version
is accepted. Names without namespace are in the default namespace.

The manifest is created if it doesn't exist. Comments and the order of
the existing entries are kept.`,
		Example: `  # Add the led_strip component, accepting any 2.x version.
  idfcomp add-dependency "espressif/led_strip^2.0.0"

  # Add a dependency to the 'sensors' component of the project.
  idfcomp add-dependency "button>=3.0,<4" --component components/sensors`,
		Run:  errorCfgRun(h.addDependency),
		Args: cobra.ExactArgs(1),
	}
	addCmd.Flags().String("component", "main", "the directory of the component, relative to the project root")
	cmd.AddCommand(addCmd)

	validateCmd := &cobra.Command{
		Use:   "validate [<dir>]",
		Short: "Validates the manifest of a component",
		Long: `Validates the manifest of the component in the given directory.

If no directory is given, uses the current working directory. By default
the manifest is checked as for publishing: the version is required and
all targets and conditions must be valid.`,
		Run:  errorCfgRun(h.validate),
		Args: cobra.MaximumNArgs(1),
	}
	validateCmd.Flags().Bool("upload", true, "apply the checks of published components")
	cmd.AddCommand(validateCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "hash [<dir>]",
		Short: "Prints the hash of a component directory",
		Long: `Prints the hash of the files of the component in the given directory.

Files are selected with the 'files' section of the component's manifest.
This is the hash stored in '.component_hash' and in the lock file.`,
		Run:  errorCfgRun(h.hash),
		Args: cobra.MaximumNArgs(1),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "pack <dir> <archive>",
		Short: "Packs a component into an archive",
		Long: `Packs the files of the component in 'dir' into a gzipped tar archive.

Files are selected with the 'files' section of the component's manifest.`,
		Run:  errorCfgRun(h.pack),
		Args: cobra.ExactArgs(2),
	})

	cmd.AddCommand(&cobra.Command{
		Use:    "lockfile",
		Short:  "Prints the content of the lockfile",
		Run:    errorCfgRun(h.printLockFile),
		Args:   cobra.NoArgs,
		Hidden: true,
	})

	return cmd, nil
}

type exitError struct {
	code   int
	err    error
	silent bool
}

func (e *exitError) ExitCode() int {
	return e.code
}

func (e *exitError) Silent() bool {
	return e.silent
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("ExitError - exit code: %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error {
	return e.err
}

func newExitError(code int, err error) *exitError {
	return &exitError{
		code: code,
		err:  err,
	}
}

func newSilentExitError(code int) *exitError {
	return &exitError{
		code:   code,
		silent: true,
	}
}

// applyFlags overrides the configuration with the flags of the command.
func (h *handler) applyFlags(cmd *cobra.Command) error {
	flags := cmd.Flags()
	s := &h.cfg.Settings
	if verbose, err := flags.GetBool("verbose"); err == nil && verbose {
		h.cfg.Verbose = true
	}
	if target, err := flags.GetString("target"); err == nil && target != "" {
		s.Target = target
	}
	if v, err := flags.GetString("idf-version"); err == nil && v != "" {
		s.IDFVersion = v
	}
	if p, err := flags.GetString("sdkconfig-json"); err == nil && p != "" {
		s.KconfigPath = p
	}
	if dirs, err := flags.GetStringSlice("extra-component-dir"); err == nil {
		s.ExtraComponentDirs = append(s.ExtraComponentDirs, dirs...)
	}
	if jobs, err := flags.GetInt("jobs"); err == nil {
		if jobs <= 0 {
			return fmt.Errorf("invalid number of jobs: %d", jobs)
		}
		s.Jobs = jobs
	}
	return nil
}

func (h *handler) buildClient() *registry.Client {
	s := h.cfg.Settings
	return registry.NewClient(
		registry.WithToken(s.APIToken),
		registry.WithVerifySSL(!s.SkipSSLVerify),
	)
}

func (h *handler) buildProjectManager(cmd *cobra.Command) (*compman.ProjectManager, error) {
	projectRoot, err := cmd.Flags().GetString("project-root")
	if err != nil {
		return nil, err
	}
	lockPath, err := cmd.Flags().GetString("lock-path")
	if err != nil {
		return nil, err
	}
	paths, err := compman.NewProjectPaths(projectRoot, lockPath)
	if err != nil {
		return nil, err
	}
	cachePath, err := config.EnsureDirectory(h.cfg.Settings.CachePath, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: component cache: %w", compman.ErrEnvironment, err)
	}
	cache := compman.NewCache(compman.WithCachePath(cachePath))
	return compman.NewProjectManager(paths, h.cfg.Settings, cache, h.buildClient(), h.ui), nil
}

func (h *handler) newContext(cmd *cobra.Command) context.Context {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	return compman.WithLogger(ctx, compman.NewLogger(os.Stderr, h.cfg.Verbose))
}

func (h *handler) prepare(cmd *cobra.Command, args []string) error {
	format, err := cmd.Flags().GetString("output-format")
	if err != nil {
		return err
	}
	if format != "text" && format != "json" {
		return h.ui.ReportError("Invalid output format '%s'", format)
	}
	m, err := h.buildProjectManager(cmd)
	if err != nil {
		return err
	}
	components, err := m.Prepare(h.newContext(cmd))
	if err != nil {
		return err
	}
	return printComponents(cmd.OutOrStdout(), components, format)
}

type componentJSON struct {
	Name         string   `json:"name"`
	BuildName    string   `json:"build_name"`
	Dir          string   `json:"dir"`
	Version      string   `json:"version"`
	Source       string   `json:"source"`
	Targets      []string `json:"targets,omitempty"`
	Requires     []string `json:"requires"`
	PrivRequires []string `json:"priv_requires"`
}

func printComponents(w io.Writer, components []compman.BuildComponent, format string) error {
	if format == "json" {
		list := make([]componentJSON, 0, len(components))
		for _, c := range components {
			list = append(list, componentJSON{
				Name:         c.Name,
				BuildName:    c.BuildName,
				Dir:          c.Dir,
				Version:      c.Version,
				Source:       string(c.Source),
				Targets:      c.Targets,
				Requires:     nonNil(c.Requires),
				PrivRequires: nonNil(c.PrivRequires),
			})
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(list)
	}
	for _, c := range components {
		version := c.Version
		if version == "" {
			version = "-"
		}
		if _, err := fmt.Fprintf(w, "%s %s %s\n", c.Name, version, c.Dir); err != nil {
			return err
		}
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func (h *handler) update(cmd *cobra.Command, args []string) error {
	dryRun, err := cmd.Flags().GetBool("dry-run")
	if err != nil {
		return err
	}
	m, err := h.buildProjectManager(cmd)
	if err != nil {
		return err
	}
	diff, err := m.Update(h.newContext(cmd), dryRun)
	if err != nil {
		return err
	}
	if diff == "" {
		h.ui.ReportInfo("The lock file is up to date")
		return nil
	}
	_, err = fmt.Fprint(cmd.OutOrStdout(), diff)
	return err
}

// splitDependency splits 'name<range>' at the first character that can't
// be part of a name.
func splitDependency(arg string) (string, string) {
	i := strings.IndexAny(arg, "<>=~^!* ,|")
	if i < 0 {
		return arg, ""
	}
	return arg[:i], strings.TrimSpace(arg[i:])
}

func (h *handler) addDependency(cmd *cobra.Command, args []string) error {
	component, err := cmd.Flags().GetString("component")
	if err != nil {
		return err
	}
	projectRoot, err := cmd.Flags().GetString("project-root")
	if err != nil {
		return err
	}
	paths, err := compman.NewProjectPaths(projectRoot, "")
	if err != nil {
		return err
	}
	dir := component
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(paths.ProjectRootPath, component)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	name, rangeStr := splitDependency(args[0])
	manifestPath := filepath.Join(dir, compman.ManifestName)
	if err := compman.AddDependency(manifestPath, name, rangeStr, h.cfg.Settings.DefaultNamespace); err != nil {
		return err
	}
	if rangeStr == "" {
		rangeStr = compman.AnyVersion
	}
	h.ui.ReportInfo("Added dependency '%s' (%s) to %s", compman.NormalizeName(name, h.cfg.Settings.DefaultNamespace), rangeStr, manifestPath)
	return nil
}

func dirArg(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	return os.Getwd()
}

// componentFilter returns the file filter of the component in dir.
func (h *handler) componentFilter(dir string) (hashtree.Filter, error) {
	m, err := compman.ReadManifestIfExists(dir, compman.ManifestOptions{UI: h.ui, ExampleMode: true})
	if err != nil {
		return hashtree.Filter{}, err
	}
	if m == nil {
		return hashtree.Filter{}, nil
	}
	return m.Filter(), nil
}

func (h *handler) validate(cmd *cobra.Command, args []string) error {
	upload, err := cmd.Flags().GetBool("upload")
	if err != nil {
		return err
	}
	dir, err := dirArg(args)
	if err != nil {
		return err
	}
	p := filepath.Join(dir, compman.ManifestName)
	m, err := compman.ReadManifest(p, compman.ManifestOptions{UI: h.ui})
	if err != nil {
		return err
	}
	if err := m.Validate(compman.ValidateOptions{Upload: upload}); err != nil {
		return err
	}
	h.ui.ReportInfo("%s is valid", p)
	return nil
}

func (h *handler) hash(cmd *cobra.Command, args []string) error {
	dir, err := dirArg(args)
	if err != nil {
		return err
	}
	filter, err := h.componentFilter(dir)
	if err != nil {
		return err
	}
	hash, err := hashtree.HashDir(dir, filter)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
	return err
}

func (h *handler) pack(cmd *cobra.Command, args []string) error {
	dir, out := args[0], args[1]
	filter, err := h.componentFilter(dir)
	if err != nil {
		return err
	}
	if err := archive.PackFile(dir, filter, out); err != nil {
		return err
	}
	h.ui.ReportInfo("Packed '%s' into %s", dir, out)
	return nil
}

func (h *handler) printLockFile(cmd *cobra.Command, args []string) error {
	m, err := h.buildProjectManager(cmd)
	if err != nil {
		return err
	}
	return m.PrintLockFile(cmd.OutOrStdout())
}

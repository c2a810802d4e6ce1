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
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lookupFrom(env map[string]string) func(string) (string, bool) {
	return func(name string) (string, bool) {
		v, ok := env[name]
		return v, ok
	}
}

func Test_ExpandEnv(t *testing.T) {
	env := lookupFrom(map[string]string{"HOME": "/home/me", "V": "1.2"})
	tests := []struct {
		in      string
		out     string
		missing []string
	}{
		{"plain", "plain", nil},
		{"$HOME/x", "/home/me/x", nil},
		{"${HOME}x", "/home/mex", nil},
		{"$$HOME", "$HOME", nil},
		{">=$V", ">=1.2", nil},
		{"$CONFIG{FOO}", "$CONFIG{FOO}", nil},
		{"$UNSET and ${ALSO}", "$UNSET and ${ALSO}", []string{"UNSET", "ALSO"}},
		{"a $ b", "a $ b", nil},
	}
	for _, test := range tests {
		t.Run(test.in, func(t *testing.T) {
			out, missing, err := expandEnv(test.in, env)
			require.NoError(t, err)
			assert.Equal(t, test.out, out)
			assert.Equal(t, test.missing, missing)
		})
	}

	t.Run("Errors", func(t *testing.T) {
		_, _, err := expandEnv("${HOME", env)
		assert.Error(t, err)
		_, _, err = expandEnv("${}", env)
		assert.Error(t, err)
	})
}

func Test_ParseManifest(t *testing.T) {
	t.Run("Full", func(t *testing.T) {
		ui := &testUI{}
		m, err := ParseManifest([]byte(`
name: my_comp
version: "1.0"
description: test
targets: [esp32, esp32s3]
files:
  exclude: ["*.bin"]
unknown_key: 1
dependencies:
  idf: ">=5.0"
  Espressif/LED_Strip: ^2.4
  json:
    version: "~1.0"
    public: true
  local:
    path: ../local
  fromgit:
    git: https://github.com/espressif/example.git
    path: components/x
    version: main
  other:
    version: "*"
    service_url: https://other.example.com
    require: false
  cond:
    version: "1.0.0"
    matches:
      - if: "target == esp32"
        version: "2.0.0"
`), ManifestOptions{Path: "/project/main/idf_component.yml", UI: ui})
		require.NoError(t, err)
		assert.Equal(t, "my_comp", m.Name)
		assert.Equal(t, "1.0", m.Version)
		assert.Equal(t, []string{"esp32", "esp32s3"}, m.Targets)
		assert.Equal(t, []string{"*.bin"}, m.Filter().Exclude)
		assert.True(t, ui.contains("unknown key 'unknown_key'"))
		assert.True(t, ui.contains("'service_url' is deprecated"))

		assert.Equal(t, []string{"cond", "espressif/led_strip", "fromgit", "idf", "json", "local", "other"}, m.Dependencies.Names())
		assert.Equal(t, "^2.4", m.Dependencies["espressif/led_strip"].VersionSpec())
		assert.True(t, m.Dependencies["json"].IsPublic())
		assert.False(t, m.Dependencies["espressif/led_strip"].IsPublic())
		assert.Equal(t, "/project/main", m.Dependencies["local"].Dir())
		assert.Equal(t, "components/x", m.Dependencies["fromgit"].GitPath)
		assert.Equal(t, "", m.Dependencies["fromgit"].Path)
		assert.Equal(t, "https://other.example.com", m.Dependencies["other"].RegistryURL)
		assert.False(t, m.Dependencies["other"].IsRequired())
		assert.Len(t, m.Dependencies["cond"].Matches, 1)
		require.NoError(t, m.Validate(ValidateOptions{}))
	})

	t.Run("Empty", func(t *testing.T) {
		for _, content := range []string{"", "\n", "# only a comment\n", "---\n"} {
			m, err := ParseManifest([]byte(content), ManifestOptions{})
			require.NoError(t, err, "content %q", content)
			assert.Empty(t, m.Dependencies)
			assert.Empty(t, m.Version)
			require.NoError(t, m.Validate(ValidateOptions{}))
		}
	})

	t.Run("Environment", func(t *testing.T) {
		content := []byte(`
dependencies:
  a:
    version: "$A_VERSION"
  b:
    path: ${SOME_DIR}/b
`)
		m, err := ParseManifest(content, ManifestOptions{LookupEnv: lookupFrom(map[string]string{
			"A_VERSION": "^1.2",
			"SOME_DIR":  "/opt",
		})})
		require.NoError(t, err)
		assert.Equal(t, "^1.2", m.Dependencies["a"].Version)
		assert.Equal(t, "/opt/b", m.Dependencies["b"].Path)

		_, err = ParseManifest(content, ManifestOptions{LookupEnv: lookupFrom(nil)})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidManifest))
		assert.Contains(t, err.Error(), "A_VERSION")
		assert.Contains(t, err.Error(), "SOME_DIR")

		ui := &testUI{}
		m, err = ParseManifest(content, ManifestOptions{LookupEnv: lookupFrom(nil), ExampleMode: true, UI: ui})
		require.NoError(t, err)
		assert.Equal(t, "$A_VERSION", m.Dependencies["a"].Version)
		assert.True(t, ui.contains("A_VERSION"))
	})

	t.Run("Errors", func(t *testing.T) {
		tests := []struct {
			name    string
			content string
			problem string
		}{
			{"NotMapping", "- a\n- b\n", "must be a mapping"},
			{"DuplicateKey", "name: a\nname: b\n", "duplicate key 'name'"},
			{"UnknownDependencyKey", "dependencies:\n  a:\n    verison: 1.0\n", "unknown key 'verison'"},
			{"UnknownFilesKey", "files:\n  includes: [a]\n", "unknown key 'includes'"},
			{"WrongType", "targets: esp32\n", "cannot unmarshal"},
			{"DuplicateDependency", "dependencies:\n  a: '*'\n  A: '*'\n", "duplicate dependency"},
			{"GitPathAndPath", "dependencies:\n  a:\n    git: https://x.com/a.git\n    path: x\n    git-path: y\n", "can't be used together"},
			{"InvalidYAML", "a: [\n", "invalid YAML"},
		}
		for _, test := range tests {
			t.Run(test.name, func(t *testing.T) {
				_, err := ParseManifest([]byte(test.content), ManifestOptions{Path: "m.yml"})
				require.Error(t, err)
				var me *ManifestError
				require.True(t, errors.As(err, &me))
				assert.Equal(t, "m.yml", me.Path)
				assert.Contains(t, err.Error(), test.problem)
				assert.Equal(t, ExitBadInput, ExitCode(err))
			})
		}
	})
}

func Test_ValidateManifest(t *testing.T) {
	valid := `
name: comp
version: 1.0.0
maintainers: [a, b]
tags: [led, driver]
targets: [esp32]
url: https://example.com
repository: git@github.com:espressif/comp.git
repository_info:
  commit_sha: 0123456789012345678901234567890123456789
dependencies:
  idf: ">=4.4"
  espressif/other:
    version: ">=1.0"
    require: private
    rules:
      - if: "idf_version >= 5.0"
`
	t.Run("Valid", func(t *testing.T) {
		m, err := ParseManifest([]byte(valid), ManifestOptions{})
		require.NoError(t, err)
		require.NoError(t, m.Validate(ValidateOptions{Upload: true}))
	})

	tests := []struct {
		name    string
		content string
		upload  bool
		problem string
	}{
		{"Name", "name: Bad Name\n", false, "name:"},
		{"Version", "version: 1.x\n", false, "invalid version"},
		{"VersionForUpload", "name: comp\n", true, "required for upload"},
		{"IncompleteVersionForUpload", "version: \"1.0\"\n", true, "invalid version '1.0'"},
		{"DuplicateMaintainers", "maintainers: [Bob, bob]\n", false, "duplicate entry 'bob'"},
		{"Tag", "tags: [ab]\n", false, "invalid tag 'ab'"},
		{"UnknownTarget", "version: 1.0.0\ntargets: [esp99]\n", true, "unknown target 'esp99'"},
		{"URL", "url: ftp://example.com\n", false, "must be http or https"},
		{"Repository", "repository: not a url\n", false, "invalid git URL"},
		{"RepositoryInfo", "repository_info:\n  commit_sha: abc\n", false, "requires 'repository'"},
		{"CommitSHA", "repository: https://x.com/a.git\nrepository_info:\n  commit_sha: xyz\n", false, "invalid commit"},
		{"DependencyName", "dependencies:\n  \"a b\": '*'\n", false, "invalid component name"},
		{"PublicAndRequire", "dependencies:\n  ab:\n    public: true\n    require: public\n", false, "can't be used together"},
		{"Require", "dependencies:\n  ab:\n    require: maybe\n", false, "must be one of"},
		{"Range", "dependencies:\n  ab: '>>1'\n", false, "invalid range"},
		{"PathAndRegistry", "dependencies:\n  ab:\n    path: x\n    registry_url: https://x.com\n", false, "local dependencies"},
		{"GitURL", "dependencies:\n  ab:\n    git: nope\n", false, "invalid git URL"},
		{"EmptyIf", "dependencies:\n  ab:\n    rules:\n      - if: ''\n", false, "must not be empty"},
		{"IfSyntax", "version: 1.0.0\ndependencies:\n  ab:\n    rules:\n      - if: 'target =='\n", true, "rules[0].if"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			m, err := ParseManifest([]byte(test.content), ManifestOptions{})
			require.NoError(t, err)
			err = m.Validate(ValidateOptions{Upload: test.upload})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidManifest))
			assert.Contains(t, err.Error(), test.problem)
		})
	}

	t.Run("GitRefIsNotARange", func(t *testing.T) {
		m, err := ParseManifest([]byte("dependencies:\n  ab:\n    git: https://x.com/a.git\n    version: feature/x\n"), ManifestOptions{})
		require.NoError(t, err)
		assert.NoError(t, m.Validate(ValidateOptions{}))
	})
}

func Test_ManifestRoundTrip(t *testing.T) {
	content := `
name: comp
version: 1.0.0
targets: [esp32]
files:
  include: ["src/**/*"]
dependencies:
  idf: ">=4.4"
  espressif/a: "^1.0"
  b:
    version: "~2.1"
    public: true
    matches:
      - if: "target in [esp32, esp32s3]"
        version: "2.2"
  c:
    path: ../c
`
	m, err := ParseManifest([]byte(content), ManifestOptions{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, m.WriteYAML(&buf))
	again, err := ParseManifest(buf.Bytes(), ManifestOptions{})
	require.NoError(t, err)
	assert.Equal(t, m, again)

	h1, err := ComputeManifestHash([]*Manifest{m})
	require.NoError(t, err)
	h2, err := ComputeManifestHash([]*Manifest{again})
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)

	again.Dependencies["espressif/a"].Version = "^1.1"
	h3, err := ComputeManifestHash([]*Manifest{again})
	require.NoError(t, err)
	assert.NotEqual(t, h1, h3)

	t.Run("ShortForm", func(t *testing.T) {
		assert.Contains(t, buf.String(), "espressif/a: ^1.0")
	})
}

func Test_AddDependency(t *testing.T) {
	t.Run("KeepsComments", func(t *testing.T) {
		dir := t.TempDir()
		p := filepath.Join(dir, ManifestName)
		writeFiles(t, dir, map[string]string{ManifestName: `# The main component.
dependencies:
  # Needed for the LEDs.
  espressif/led_strip: "^2.4"
`})
		require.NoError(t, AddDependency(p, "cjson", ">=1.7", DefaultNamespace))
		b, err := os.ReadFile(p)
		require.NoError(t, err)
		assert.Contains(t, string(b), "# The main component.")
		assert.Contains(t, string(b), "# Needed for the LEDs.")

		m, err := ReadManifest(p, ManifestOptions{})
		require.NoError(t, err)
		assert.Equal(t, ">=1.7", m.Dependencies["espressif/cjson"].Version)
		assert.Equal(t, "^2.4", m.Dependencies["espressif/led_strip"].Version)

		err = AddDependency(p, "espressif/CJSON", "*", DefaultNamespace)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "already exists")
	})

	t.Run("NewFile", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), "main", ManifestName)
		require.NoError(t, AddDependency(p, "other/xyz", "", DefaultNamespace))
		m, err := ReadManifest(p, ManifestOptions{})
		require.NoError(t, err)
		assert.Equal(t, "*", m.Dependencies["other/xyz"].Version)
	})

	t.Run("EmptyDependencies", func(t *testing.T) {
		dir := t.TempDir()
		p := filepath.Join(dir, ManifestName)
		writeFiles(t, dir, map[string]string{ManifestName: "version: 1.0.0\ndependencies:\n"})
		require.NoError(t, AddDependency(p, "abc", "1.0.0", DefaultNamespace))
		m, err := ReadManifest(p, ManifestOptions{})
		require.NoError(t, err)
		assert.Equal(t, "1.0.0", m.Dependencies["espressif/abc"].Version)
		assert.Equal(t, "1.0.0", m.Version)
	})

	t.Run("InvalidRange", func(t *testing.T) {
		p := filepath.Join(t.TempDir(), ManifestName)
		err := AddDependency(p, "abc", ">>1", DefaultNamespace)
		require.Error(t, err)
		assert.Equal(t, ExitBadInput, ExitCode(err))
	})
}

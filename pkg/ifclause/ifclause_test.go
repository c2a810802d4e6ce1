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

package ifclause

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toitlang/idfcomp/pkg/semver"
)

func testFacts() Facts {
	return Facts{
		IDFVersion: semver.MustParse("5.1.2"),
		Target:     "esp32s3",
		Config: map[string]interface{}{
			"SPIRAM":         true,
			"FREERTOS_HZ":    float64(1000),
			"PARTITION_NAME": "factory",
			"FLASH_ADDR":     float64(0x10000),
		},
	}
}

func Test_Eval(t *testing.T) {
	tests := []struct {
		clause   string
		expected bool
	}{
		{"target == esp32s3", true},
		{"target != esp32s3", false},
		{"target = esp32s3", true},
		{`target == "esp32s3"`, true},
		{"idf_version >= 5.0", true},
		{"idf_version < 5.1", false},
		{"idf_version ^5.0", true},
		{"idf_version ~5.1.0", true},
		{"idf_version == 5.1", true},
		{"idf_version >=5.0 && idf_version <6.0", true},
		{"target in [esp32, esp32s3]", true},
		{"target not in [esp32, esp32s3]", false},
		{`target in "esp32s2,esp32s3"`, true},
		{`target not in "esp32c3"`, true},
		{"$CONFIG{SPIRAM} == True", true},
		{"$CONFIG{SPIRAM} != true", false},
		{"$CONFIG{FREERTOS_HZ} >= 100", true},
		{"$CONFIG{FREERTOS_HZ} < 100", false},
		{"$CONFIG{FLASH_ADDR} == 0x10000", true},
		{"$CONFIG{FREERTOS_HZ} in [100, 1000]", true},
		{`$CONFIG{PARTITION_NAME} == "factory"`, true},
		{"target == esp32 || target == esp32s3", true},
		{"target == esp32 || target == esp32c3 && idf_version >= 5.0", false},
		{"(target == esp32 || target == esp32s3) && idf_version >= 6.0", false},
		{"(target == esp32 || target == esp32s3) && idf_version >= 5.0", true},
	}
	for _, test := range tests {
		t.Run(test.clause, func(t *testing.T) {
			e, err := Parse(test.clause)
			require.NoError(t, err)
			actual, err := e.Eval(testFacts())
			require.NoError(t, err)
			assert.Equal(t, test.expected, actual)
		})
	}
}

func Test_ParseErrors(t *testing.T) {
	for _, clause := range []string{
		"",
		"target ==",
		"target esp32",
		"(target == esp32",
		"target == esp32)",
		"target in [esp32",
		"target in [esp32 esp32s3]",
		"target not [esp32]",
		"$CONFIG{} == 1",
		"$CONFIG{FOO == 1",
		`target == "esp32`,
		"target == esp32 &&",
		"target ! esp32",
	} {
		_, err := Parse(clause)
		require.Error(t, err, clause)
		assert.True(t, errors.Is(err, ErrSyntax), clause)
	}
}

func Test_EvalErrors(t *testing.T) {
	t.Run("Missing kconfig", func(t *testing.T) {
		e := MustParse("$CONFIG{UNKNOWN} == 1")
		_, err := e.Eval(testFacts())
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrMissingKconfig))
		var missing *MissingKconfigError
		require.True(t, errors.As(err, &missing))
		assert.Equal(t, "UNKNOWN", missing.Name)
		assert.Equal(t, []string{"UNKNOWN"}, e.ConfigNames())
	})

	t.Run("Short circuit skips missing kconfig", func(t *testing.T) {
		e := MustParse("target == esp32s3 || $CONFIG{UNKNOWN} == 1")
		result, err := e.Eval(testFacts())
		require.NoError(t, err)
		assert.True(t, result)
	})

	t.Run("Type mismatch", func(t *testing.T) {
		for _, clause := range []string{
			"$CONFIG{SPIRAM} == 12",
			"$CONFIG{SPIRAM} < true",
			"$CONFIG{FREERTOS_HZ} == abc",
			"target < esp32",
			"$CONFIG{FREERTOS_HZ} in \"1000\"",
		} {
			_, err := MustParse(clause).Eval(testFacts())
			require.Error(t, err, clause)
			assert.True(t, errors.Is(err, ErrTypeMismatch), clause)
		}
	})

	t.Run("Invalid version", func(t *testing.T) {
		_, err := MustParse("idf_version >= abc").Eval(testFacts())
		require.Error(t, err)
		assert.True(t, errors.Is(err, semver.ErrInvalidRange))
	})

	t.Run("Missing facts", func(t *testing.T) {
		_, err := MustParse("target == esp32").Eval(Facts{})
		assert.True(t, errors.Is(err, ErrMissingFact))
		_, err = MustParse("idf_version >= 5.0").Eval(Facts{})
		assert.True(t, errors.Is(err, ErrMissingFact))
	})
}

func Test_LoadConfigJSON(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "sdkconfig.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"SPIRAM": true, "FREERTOS_HZ": 100}`), 0644))
	config, err := LoadConfigJSON(p)
	require.NoError(t, err)
	result, err := MustParse("$CONFIG{SPIRAM} == true && $CONFIG{FREERTOS_HZ} == 100").Eval(Facts{Config: config})
	require.NoError(t, err)
	assert.True(t, result)

	require.NoError(t, os.WriteFile(p, []byte(`{`), 0644))
	_, err = LoadConfigJSON(p)
	assert.Error(t, err)
}

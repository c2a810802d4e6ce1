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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toitlang/idfcomp/pkg/ifclause"
	"github.com/toitlang/idfcomp/pkg/semver"
)

func Test_Resolve(t *testing.T) {
	facts := ifclause.Facts{
		IDFVersion: semver.MustParse("5.1.2"),
		Target:     "esp32c3",
		Config:     map[string]interface{}{"SPIRAM": true},
	}

	tests := []struct {
		name    string
		spec    DependencySpec
		applies bool
		version string
	}{
		{"Plain", DependencySpec{Version: "^1.0"}, true, "^1.0"},
		{"NoVersion", DependencySpec{}, true, "*"},
		{"MatchSelected", DependencySpec{
			Version: "1.0.0",
			Matches: []Conditional{
				{If: "target == esp32", Version: "2.0.0"},
				{If: "target == esp32c3", Version: "3.0.0"},
				{If: "target in [esp32c3]", Version: "4.0.0"},
			},
		}, true, "3.0.0"},
		{"MatchWithoutVersion", DependencySpec{
			Version: "1.0.0",
			Matches: []Conditional{{If: "idf_version >= 5.0"}},
		}, true, "1.0.0"},
		{"NoMatch", DependencySpec{
			Version: "1.0.0",
			Matches: []Conditional{{If: "target == esp32", Version: "2.0.0"}},
		}, false, "1.0.0"},
		{"RulesHold", DependencySpec{
			Version: "1.0.0",
			Rules: []Conditional{
				{If: "idf_version >= 5.0", Version: "2.0.0"},
				{If: "$CONFIG{SPIRAM} == True", Version: "3.0.0"},
			},
		}, true, "3.0.0"},
		{"RuleFails", DependencySpec{
			Rules: []Conditional{
				{If: "idf_version >= 5.0"},
				{If: "target != esp32c3"},
			},
		}, false, "*"},
		{"MatchThenRule", DependencySpec{
			Matches: []Conditional{{If: "target == esp32c3", Version: "2.0.0"}},
			Rules:   []Conditional{{If: "idf_version < 6.0"}},
		}, true, "2.0.0"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			res, err := test.spec.Resolve(facts)
			require.NoError(t, err)
			assert.Equal(t, test.applies, res.Applies)
			assert.Equal(t, test.version, res.Version)
			assert.Empty(t, res.MissingKconfig)
		})
	}

	t.Run("MissingKconfig", func(t *testing.T) {
		spec := DependencySpec{Rules: []Conditional{{If: "$CONFIG{UNKNOWN_OPTION} == 1"}}}
		res, err := spec.Resolve(facts)
		require.NoError(t, err)
		assert.False(t, res.Applies)
		assert.Equal(t, []string{"UNKNOWN_OPTION"}, res.MissingKconfig)
	})

	t.Run("SyntaxError", func(t *testing.T) {
		spec := DependencySpec{Rules: []Conditional{{If: "target =="}}}
		_, err := spec.Resolve(facts)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ifclause.ErrSyntax))
		assert.Equal(t, ExitBadInput, ExitCode(err))
	})
}

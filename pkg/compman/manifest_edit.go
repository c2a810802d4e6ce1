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
	"fmt"
	"os"
	"strings"

	"github.com/toitlang/idfcomp/pkg/semver"
	"go.trai.ch/zerr"
	yamlv3 "gopkg.in/yaml.v3"
)

// AddDependency adds a registry dependency to the manifest at path, which
// is created if it doesn't exist. Comments and the order of the existing
// entries are kept. It's an error if the dependency already exists.
func AddDependency(path string, name string, rangeStr string, defaultNamespace string) error {
	name = NormalizeName(name, defaultNamespace)
	if err := ValidateName(name); err != nil {
		return &ManifestError{Path: path, Problems: []string{err.Error()}}
	}
	if rangeStr == "" {
		rangeStr = AnyVersion
	}
	if _, err := semver.ParseRange(rangeStr); err != nil {
		return zerr.With(err, "dependency", name)
	}

	var doc yamlv3.Node
	content, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	if len(bytes.TrimSpace(content)) > 0 {
		if err := yamlv3.Unmarshal(content, &doc); err != nil {
			return &ManifestError{Path: path, Problems: []string{err.Error()}}
		}
	}
	if doc.Kind == 0 {
		doc = yamlv3.Node{
			Kind:    yamlv3.DocumentNode,
			Content: []*yamlv3.Node{{Kind: yamlv3.MappingNode, Tag: "!!map"}},
		}
	}
	root := doc.Content[0]
	if root.Kind != yamlv3.MappingNode {
		return &ManifestError{Path: path, Problems: []string{"the manifest must be a mapping"}}
	}

	deps := mappingValue(root, "dependencies")
	if deps == nil {
		deps = &yamlv3.Node{Kind: yamlv3.MappingNode, Tag: "!!map"}
		root.Content = append(root.Content,
			&yamlv3.Node{Kind: yamlv3.ScalarNode, Tag: "!!str", Value: "dependencies"},
			deps)
	} else if deps.Kind != yamlv3.MappingNode {
		// 'dependencies:' without entries.
		if deps.Tag != "!!null" {
			return &ManifestError{Path: path, Problems: []string{"dependencies: must be a mapping"}}
		}
		*deps = yamlv3.Node{Kind: yamlv3.MappingNode, Tag: "!!map"}
	}
	for i := 0; i < len(deps.Content); i += 2 {
		existing := deps.Content[i].Value
		if NormalizeName(existing, defaultNamespace) == name {
			return &ManifestError{Path: path, Problems: []string{fmt.Sprintf("dependencies: '%s' already exists", existing)}}
		}
	}
	deps.Content = append(deps.Content,
		&yamlv3.Node{Kind: yamlv3.ScalarNode, Tag: "!!str", Value: name},
		&yamlv3.Node{Kind: yamlv3.ScalarNode, Tag: "!!str", Value: rangeStr, Style: quoteStyle(rangeStr)})

	var buf bytes.Buffer
	enc := yamlv3.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return writeFileIfChanged(path, buf.Bytes())
}

// mappingValue returns the value of key in a mapping node, or nil.
func mappingValue(m *yamlv3.Node, key string) *yamlv3.Node {
	for i := 0; i+1 < len(m.Content); i += 2 {
		if m.Content[i].Value == key {
			return m.Content[i+1]
		}
	}
	return nil
}

// quoteStyle quotes ranges that YAML would otherwise read as something
// else than a string, like '*' or '>=1.0'.
func quoteStyle(s string) yamlv3.Style {
	if strings.ContainsAny(s, "*>=<!^~|,&") || strings.TrimLeft(s, "0123456789.") == "" {
		return yamlv3.DoubleQuotedStyle
	}
	return 0
}

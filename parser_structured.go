// parser_structured.go: Structured configuration parsers
//
// This file contains parsers for structured configuration formats:
// - JSON (JavaScript Object Notation)
// - YAML (YAML Ain't Markup Language)
// - TOML (Tom's Obvious Minimal Language)
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"encoding/json"

	"github.com/BurntSushi/toml"
	"github.com/agilira/go-errors"
	"go.yaml.in/yaml/v3"
)

func parseJSON(data []byte) (map[string]interface{}, error) {
	config := make(map[string]interface{})
	if err := json.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrap(err, ErrCodeParseError, "invalid JSON")
	}
	return config, nil
}

func parseYAML(data []byte) (map[string]interface{}, error) {
	config := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrap(err, ErrCodeParseError, "invalid YAML")
	}
	return config, nil
}

func parseTOML(data []byte) (map[string]interface{}, error) {
	config := make(map[string]interface{})
	if err := toml.Unmarshal(data, &config); err != nil {
		return nil, errors.Wrap(err, ErrCodeParseError, "invalid TOML")
	}
	return config, nil
}

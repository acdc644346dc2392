// parser_text.go: Text-based configuration parsers
//
// This file contains parsers for text-based configuration formats:
// - HCL (flat attribute subset)
// - INI files (with sections)
// - Java Properties files
//
// Values are kept verbatim as strings; typing happens at conversion time.
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/agilira/go-errors"
)

// parseHCL parses key = value attributes. Both # and // comments are
// skipped; blocks are not supported.
func parseHCL(data []byte) (map[string]interface{}, error) {
	config := make(map[string]interface{})
	scanner := bufio.NewScanner(bytes.NewReader(data))
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "//") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if err := validateTextKey("HCL", key, lineNum); err != nil {
			return nil, err
		}
		config[key] = unquote(strings.TrimSpace(value))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, ErrCodeParseError, "invalid HCL")
	}
	return config, nil
}

// parseINI parses [section] headers and key=value pairs. Section names are
// prefixed to keys with dot notation (e.g. "database.host").
func parseINI(data []byte) (map[string]interface{}, error) {
	config := make(map[string]interface{})
	scanner := bufio.NewScanner(bytes.NewReader(data))
	section := ""
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ";") || strings.HasPrefix(line, "#") {
			continue
		}

		if strings.HasPrefix(line, "[") {
			if err := validateINISection(line, lineNum); err != nil {
				return nil, err
			}
			section = strings.TrimSpace(line[1 : len(line)-1])
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if err := validateTextKey("INI", key, lineNum); err != nil {
			return nil, err
		}
		if section != "" {
			key = section + "." + key
		}
		config[key] = unquote(strings.TrimSpace(value))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, ErrCodeParseError, "invalid INI")
	}
	return config, nil
}

// parseProperties parses Java-style properties: key=value or key: value,
// # and ! comments, and lines continued with a trailing backslash.
func parseProperties(data []byte) (map[string]interface{}, error) {
	config := make(map[string]interface{})
	scanner := bufio.NewScanner(bytes.NewReader(data))

	var pending strings.Builder
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if pending.Len() == 0 && (line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!")) {
			continue
		}

		if strings.HasSuffix(line, `\`) && !strings.HasSuffix(line, `\\`) {
			pending.WriteString(strings.TrimSuffix(line, `\`))
			continue
		}
		pending.WriteString(line)
		logical := pending.String()
		pending.Reset()

		idx := strings.IndexAny(logical, "=:")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(logical[:idx])
		if err := validateTextKey("Properties", key, lineNum); err != nil {
			return nil, err
		}
		config[key] = strings.TrimSpace(logical[idx+1:])
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, ErrCodeParseError, "invalid properties")
	}
	return config, nil
}

func unquote(value string) string {
	if len(value) >= 2 && value[0] == '"' && value[len(value)-1] == '"' {
		return value[1 : len(value)-1]
	}
	return value
}

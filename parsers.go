// parsers.go: Configuration file parsers for file-backed sources
//
// Supported Formats:
// - JSON (.json)
// - YAML (.yml, .yaml)
// - TOML (.toml)
// - HCL (.hcl, .tf), flat key/value subset
// - INI/Config (.ini, .conf, .cfg, .config)
// - Properties (.properties)
//
// Parsed documents are flattened to dotted keys holding string values, which
// is what property sources carry.
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/agilira/go-errors"
)

// ConfigFormat represents supported configuration file formats.
type ConfigFormat int

const (
	FormatJSON ConfigFormat = iota
	FormatYAML
	FormatTOML
	FormatHCL
	FormatINI
	FormatProperties
	FormatUnknown
)

// ConfigParser is a pluggable parser. Custom parsers are tried before the
// built-in ones, so an application can register a stricter implementation:
//
//	strata.RegisterParser(&MyHCLParser{})
type ConfigParser interface {
	// Parse parses configuration data for supported formats
	Parse(data []byte) (map[string]interface{}, error)

	// Supports returns true if this parser can handle the given format
	Supports(format ConfigFormat) bool

	// Name returns a human-readable name for this parser
	Name() string
}

var (
	customParsers []ConfigParser
	parserMutex   sync.RWMutex
)

// RegisterParser registers a custom parser.
func RegisterParser(parser ConfigParser) {
	parserMutex.Lock()
	defer parserMutex.Unlock()
	customParsers = append(customParsers, parser)
}

// String returns the name of the format.
func (cf ConfigFormat) String() string {
	switch cf {
	case FormatJSON:
		return "JSON"
	case FormatYAML:
		return "YAML"
	case FormatTOML:
		return "TOML"
	case FormatHCL:
		return "HCL"
	case FormatINI:
		return "INI"
	case FormatProperties:
		return "Properties"
	default:
		return "Unknown"
	}
}

// DetectFormat detects the configuration format from the file extension.
func DetectFormat(filePath string) ConfigFormat {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".json":
		return FormatJSON
	case ".yml", ".yaml":
		return FormatYAML
	case ".toml":
		return FormatTOML
	case ".hcl", ".tf":
		return FormatHCL
	case ".ini", ".conf", ".cfg", ".config":
		return FormatINI
	case ".properties":
		return FormatProperties
	default:
		return FormatUnknown
	}
}

// ParseConfig parses data in the given format. Custom parsers are tried
// first.
func ParseConfig(data []byte, format ConfigFormat) (map[string]interface{}, error) {
	parserMutex.RLock()
	for _, parser := range customParsers {
		if parser.Supports(format) {
			parserMutex.RUnlock()
			config, err := parser.Parse(data)
			if err != nil {
				return nil, errors.Wrap(err, ErrCodeParseError, "custom parser failed").
					WithContext("parser", parser.Name()).
					WithContext("format", format.String())
			}
			return config, nil
		}
	}
	parserMutex.RUnlock()

	return parseBuiltin(data, format)
}

func parseBuiltin(data []byte, format ConfigFormat) (map[string]interface{}, error) {
	switch format {
	case FormatJSON:
		return parseJSON(data)
	case FormatYAML:
		return parseYAML(data)
	case FormatTOML:
		return parseTOML(data)
	case FormatHCL:
		return parseHCL(data)
	case FormatINI:
		return parseINI(data)
	case FormatProperties:
		return parseProperties(data)
	default:
		return nil, errors.New(ErrCodeParseError, fmt.Sprintf("unsupported format: %s", format))
	}
}

// Flatten turns a parsed document into dotted keys with string values.
// Lists of scalars are joined with commas, other lists are indexed.
func Flatten(config map[string]interface{}) map[string]string {
	out := make(map[string]string)
	flattenInto(out, "", config)
	return out
}

func flattenInto(out map[string]string, prefix string, v interface{}) {
	join := func(k string) string {
		if prefix == "" {
			return k
		}
		return prefix + "." + k
	}

	switch val := v.(type) {
	case map[string]interface{}:
		for k, e := range val {
			flattenInto(out, join(k), e)
		}
	case map[interface{}]interface{}:
		for k, e := range val {
			flattenInto(out, join(fmt.Sprint(k)), e)
		}
	case []map[string]interface{}:
		for i, e := range val {
			flattenInto(out, join(strconv.Itoa(i)), e)
		}
	case []interface{}:
		if scalars, ok := scalarList(val); ok {
			out[prefix] = strings.Join(scalars, ",")
			return
		}
		for i, e := range val {
			flattenInto(out, join(strconv.Itoa(i)), e)
		}
	default:
		if prefix != "" {
			out[prefix] = scalarString(val)
		}
	}
}

func scalarList(list []interface{}) ([]string, bool) {
	out := make([]string, len(list))
	for i, e := range list {
		switch e.(type) {
		case map[string]interface{}, map[interface{}]interface{}, []interface{}, []map[string]interface{}:
			return nil, false
		}
		out[i] = scalarString(e)
	}
	return out, true
}

func scalarString(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(val), 'f', -1, 32)
	case time.Time:
		return val.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(val)
	}
}

// sortedKeys returns the keys of m in order.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

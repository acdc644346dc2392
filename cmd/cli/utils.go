// Utility functions for the strata CLI
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"fmt"
	"net/url"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/orpheus/pkg/orpheus"
	"github.com/agilira/strata"
)

// targetTypes maps --type names to conversion targets.
var targetTypes = map[string]reflect.Type{
	"string":   reflect.TypeFor[string](),
	"int":      reflect.TypeFor[int](),
	"int64":    reflect.TypeFor[int64](),
	"uint":     reflect.TypeFor[uint](),
	"bool":     reflect.TypeFor[bool](),
	"float":    reflect.TypeFor[float64](),
	"duration": reflect.TypeFor[time.Duration](),
	"time":     reflect.TypeFor[time.Time](),
	"url":      reflect.TypeFor[*url.URL](),
	"list":     reflect.TypeFor[[]string](),
}

func typeNames() string {
	names := make([]string, 0, len(targetTypes))
	for name := range targetTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, "|")
}

func lookupType(name string) (reflect.Type, error) {
	t, ok := targetTypes[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, errors.New(strata.ErrCodeUnsupportedType, fmt.Sprintf("unknown type '%s' (want %s)", name, typeNames()))
	}
	return t, nil
}

// optionsFromFlags builds library options from the shared source flags.
func optionsFromFlags(ctx *orpheus.Context) strata.Options {
	opts := strata.Options{
		EnvPrefix:     ctx.GetFlagString("env-prefix"),
		DisableEnv:    ctx.GetFlagBool("no-env"),
		Policy:        ctx.GetFlagString("policy"),
		RedactSecrets: ctx.GetFlagBool("redact"),
	}
	for _, f := range strings.Split(ctx.GetFlagString("file"), ",") {
		if f = strings.TrimSpace(f); f != "" {
			opts.Files = append(opts.Files, f)
		}
	}
	return opts
}

// loadConfiguration assembles a configuration from the source flags.
func (m *Manager) loadConfiguration(ctx *orpheus.Context) (*strata.Configuration, error) {
	opts := optionsFromFlags(ctx)
	for _, f := range opts.Files {
		if err := strata.ValidateSecurePath(f); err != nil {
			m.auditLogger.LogSecurityEvent("cli_path_rejected", "Rejected unsafe source path",
				map[string]interface{}{"path": f})
			return nil, err
		}
	}
	cfg, err := strata.New(opts)
	if err != nil {
		return nil, err
	}
	cfg.WithAudit(m.auditLogger)
	return cfg, nil
}

func closeQuietly(cfg *strata.Configuration) {
	_ = cfg.Close()
}

var extendedDuration = regexp.MustCompile(`^(\d+)(d|w)$`)

// parseExtendedDuration parses Go durations plus the d (days) and w (weeks)
// units, e.g. "30d" or "2w".
func parseExtendedDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}

	matches := extendedDuration.FindStringSubmatch(s)
	if len(matches) != 3 {
		return 0, errors.New(strata.ErrCodeInvalidConfig, fmt.Sprintf("invalid duration: %s", s))
	}

	value, err := strconv.ParseInt(matches[1], 10, 64)
	if err != nil {
		return 0, errors.Wrap(err, strata.ErrCodeInvalidConfig, fmt.Sprintf("invalid duration value: %s", matches[1]))
	}

	switch matches[2] {
	case "d":
		return time.Duration(value) * 24 * time.Hour, nil
	default:
		return time.Duration(value) * 7 * 24 * time.Hour, nil
	}
}

// formatValue renders converted values for display.
func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "<nil>"
	case []string:
		return "[" + strings.Join(x, ", ") + "]"
	case time.Time:
		return x.Format(time.RFC3339)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprintf("%v", x)
	}
}

// filterKeys returns the sorted keys of props starting with prefix.
func filterKeys[V any](props map[string]V, prefix string) []string {
	keys := make([]string, 0, len(props))
	for k := range props {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

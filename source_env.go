// source_env.go: Property source reading the process environment
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"fmt"
	"os"
	"strings"
)

// EnvSourceName is the name of the environment source.
const EnvSourceName = "environment-properties"

// Process variables controlling the environment source.
const (
	EnvSourcePrefixVar  = "STRATA_ENVPROPS_PREFIX"
	EnvSourceDisableVar = "STRATA_ENVPROPS_DISABLE"
	DefaultsDisableVar  = "STRATA_DEFAULTS_DISABLE"
)

// EnvSource exposes environment variables as properties. Every call reads
// the live environment. With a prefix, keys are exposed as prefix+NAME.
type EnvSource struct {
	prefix   string
	ordinal  int
	disabled bool
}

// EnvSourceOption configures an EnvSource.
type EnvSourceOption func(*EnvSource)

// WithEnvPrefix sets the key prefix.
func WithEnvPrefix(prefix string) EnvSourceOption {
	return func(s *EnvSource) { s.prefix = prefix }
}

// WithEnvOrdinal overrides EnvironmentOrdinal.
func WithEnvOrdinal(ordinal int) EnvSourceOption {
	return func(s *EnvSource) { s.ordinal = ordinal }
}

// WithEnvDisabled turns the source off. A disabled source holds no
// properties.
func WithEnvDisabled(disabled bool) EnvSourceOption {
	return func(s *EnvSource) { s.disabled = disabled }
}

// NewEnvSource creates the environment source. Prefix and disable flag are
// first taken from STRATA_ENVPROPS_PREFIX, STRATA_ENVPROPS_DISABLE and
// STRATA_DEFAULTS_DISABLE, then from opts.
func NewEnvSource(opts ...EnvSourceOption) *EnvSource {
	s := &EnvSource{
		prefix:   os.Getenv(EnvSourcePrefixVar),
		ordinal:  EnvironmentOrdinal,
		disabled: parseBool(os.Getenv(EnvSourceDisableVar)) || parseBool(os.Getenv(DefaultsDisableVar)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Prefix returns the key prefix.
func (s *EnvSource) Prefix() string { return s.prefix }

// IsDisabled reports whether the source is turned off.
func (s *EnvSource) IsDisabled() bool { return s.disabled }

// Name implements PropertySource.
func (s *EnvSource) Name() string {
	if s.disabled {
		return EnvSourceName + " (disabled)"
	}
	return EnvSourceName
}

// Ordinal implements PropertySource.
func (s *EnvSource) Ordinal() int { return s.ordinal }

// Get implements PropertySource. Besides the exact variable name, a
// lower-case dotted key is looked up in its upper-case underscore form, so
// "db.host" finds DB_HOST.
func (s *EnvSource) Get(key string) *PropertyValue {
	if s.disabled {
		return nil
	}
	name, ok := strings.CutPrefix(key, s.prefix)
	if !ok {
		return nil
	}
	if v, found := os.LookupEnv(name); found {
		return s.value(key, name, v)
	}
	if variable, ok := envVariableFor(name); ok {
		if v, found := os.LookupEnv(variable); found {
			return s.value(key, variable, v)
		}
	}
	return nil
}

// Properties implements PropertySource. Each variable is listed under its
// own name and under the dotted alias Get resolves to it.
func (s *EnvSource) Properties() map[string]*PropertyValue {
	out := make(map[string]*PropertyValue)
	if s.disabled {
		return out
	}
	var names []string
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || name == "" {
			continue
		}
		key := s.prefix + name
		out[key] = s.value(key, name, value)
		names = append(names, name)
	}
	for _, name := range names {
		key := s.prefix + envAlias(name)
		if _, exists := out[key]; exists {
			continue
		}
		if pv := s.Get(key); pv != nil {
			out[key] = pv
		}
	}
	return out
}

// EqualSource implements SourceEqualer.
func (s *EnvSource) EqualSource(other PropertySource) bool {
	o, ok := other.(*EnvSource)
	return ok && *s == *o
}

func (s *EnvSource) String() string {
	return fmt.Sprintf("EnvSource{name=%s, ordinal=%d, prefix=%q, disabled=%t}",
		s.Name(), s.ordinal, s.prefix, s.disabled)
}

func (s *EnvSource) value(key, variable, value string) *PropertyValue {
	return NewPropertyValueBuilder(key, value).
		SetSource(EnvSourceName).
		AddMetadata("variable", variable).
		Build()
}

// envAlias maps a variable name to its dotted key: DB_HOST becomes db.host.
func envAlias(name string) string {
	return strings.ToLower(strings.ReplaceAll(name, "_", "."))
}

// envVariableFor returns the variable whose alias is key. Only lower-case
// keys without underscores have one.
func envVariableFor(key string) (string, bool) {
	if key != strings.ToLower(key) || strings.Contains(key, "_") {
		return "", false
	}
	variable := strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
	if variable == key || envAlias(variable) != key {
		return "", false
	}
	return variable, true
}

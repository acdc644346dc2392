// property_source.go: Configuration source contract and in-memory sources
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"reflect"
	"strconv"
	"strings"
)

// OrdinalKey lets a source override its ordinal from its own data.
const OrdinalKey = "strata.ordinal"

// Default ordinals of the bundled sources.
const (
	DefaultsOrdinal    = 0
	FileOrdinal        = 100
	EnvironmentOrdinal = 300
	CommandLineOrdinal = 400
)

// PropertySource contributes key/value pairs. Sources backed by live data
// must re-read it on every call.
type PropertySource interface {
	Name() string
	Ordinal() int
	// Get returns the value for key, or nil when absent.
	Get(key string) *PropertyValue
	// Properties returns every value the source holds.
	Properties() map[string]*PropertyValue
}

// SourceEqualer lets a source define structural equality.
type SourceEqualer interface {
	EqualSource(other PropertySource) bool
}

// EffectiveOrdinal returns the ordinal of src, honouring an integer
// OrdinalKey entry in its data.
func EffectiveOrdinal(src PropertySource) int {
	if pv := src.Get(OrdinalKey); pv != nil {
		if n, err := strconv.Atoi(strings.TrimSpace(pv.Value())); err == nil {
			return n
		}
	}
	return src.Ordinal()
}

// sameSource reports whether two sources are the same for aggregation
// equality: identical instances or structurally equal ones.
func sameSource(a, b PropertySource) bool {
	if a == nil || b == nil {
		return a == b
	}
	if eq, ok := a.(SourceEqualer); ok {
		return eq.EqualSource(b)
	}
	if reflect.TypeOf(a) == reflect.TypeOf(b) && reflect.TypeOf(a).Comparable() {
		return a == b
	}
	return false
}

// MapSource is an immutable in-memory source.
type MapSource struct {
	name    string
	ordinal int
	values  map[string]string
}

// NewMapSource copies values into a new source.
func NewMapSource(name string, ordinal int, values map[string]string) *MapSource {
	cp := make(map[string]string, len(values))
	for k, v := range values {
		cp[k] = v
	}
	return &MapSource{name: name, ordinal: ordinal, values: cp}
}

// Name implements PropertySource.
func (s *MapSource) Name() string { return s.name }

// Ordinal implements PropertySource.
func (s *MapSource) Ordinal() int { return s.ordinal }

// Get implements PropertySource.
func (s *MapSource) Get(key string) *PropertyValue {
	v, ok := s.values[key]
	if !ok {
		return nil
	}
	return NewPropertyValue(key, v, s.name)
}

// Properties implements PropertySource.
func (s *MapSource) Properties() map[string]*PropertyValue {
	return valuesOf(s.name, s.values)
}

// EqualSource implements SourceEqualer.
func (s *MapSource) EqualSource(other PropertySource) bool {
	o, ok := other.(*MapSource)
	if !ok {
		return false
	}
	if s == o {
		return true
	}
	if s.name != o.name || s.ordinal != o.ordinal || len(s.values) != len(o.values) {
		return false
	}
	for k, v := range s.values {
		if ov, ok := o.values[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// valuesOf wraps a raw map into property values.
func valuesOf(source string, values map[string]string) map[string]*PropertyValue {
	out := make(map[string]*PropertyValue, len(values))
	for k, v := range values {
		out[k] = NewPropertyValue(k, v, source)
	}
	return out
}

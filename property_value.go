// property_value.go: Immutable property values with namespaced provenance metadata
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/agilira/go-timecache"
)

// Metadata names stamped on every built value.
const (
	MetaSource    = "source"
	MetaTimestamp = "ts"
)

// PropertyValue is a resolved key/value pair with provenance metadata.
// Metadata keys are stored namespaced as "_<key>.<name>" so metadata of
// different keys never collide when merged.
type PropertyValue struct {
	key      string
	value    string
	source   string
	metadata map[string]string
}

// NewPropertyValue builds a value with source metadata.
func NewPropertyValue(key, value, source string) *PropertyValue {
	return NewPropertyValueBuilder(key, value).SetSource(source).Build()
}

// Key returns the property key.
func (pv *PropertyValue) Key() string { return pv.key }

// Value returns the raw string value.
func (pv *PropertyValue) Value() string { return pv.value }

// Source returns the name of the contributing source.
func (pv *PropertyValue) Source() string { return pv.source }

// Metadata returns a copy of the namespaced metadata.
func (pv *PropertyValue) Metadata() map[string]string {
	out := make(map[string]string, len(pv.metadata))
	for k, v := range pv.metadata {
		out[k] = v
	}
	return out
}

// MetaEntry returns one metadata entry by its short name.
func (pv *PropertyValue) MetaEntry(name string) (string, bool) {
	if !validMetaName(name) {
		return "", false
	}
	v, ok := pv.metadata[metaKey(pv.key, name)]
	return v, ok
}

// WithValue returns a copy carrying a new value, as used by filters.
func (pv *PropertyValue) WithValue(value string) *PropertyValue {
	cp := *pv
	cp.value = value
	cp.metadata = pv.Metadata()
	return &cp
}

// ToBuilder returns a builder initialised from this value.
func (pv *PropertyValue) ToBuilder() *PropertyValueBuilder {
	b := NewPropertyValueBuilder(pv.key, pv.value).SetSource(pv.source)
	for k, v := range pv.metadata {
		b.metadata[k] = v
	}
	return b
}

// Equal compares key, value and source. Metadata is ignored because it
// carries build timestamps.
func (pv *PropertyValue) Equal(other *PropertyValue) bool {
	if pv == nil || other == nil {
		return pv == other
	}
	return pv.key == other.key && pv.value == other.value && pv.source == other.source
}

func (pv *PropertyValue) String() string {
	if pv == nil {
		return "PropertyValue{<nil>}"
	}
	keys := make([]string, 0, len(pv.metadata))
	for k := range pv.metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var sb strings.Builder
	fmt.Fprintf(&sb, "PropertyValue{key=%q, value=%q, source=%q", pv.key, pv.value, pv.source)
	for _, k := range keys {
		fmt.Fprintf(&sb, ", %s=%q", k, pv.metadata[k])
	}
	sb.WriteString("}")
	return sb.String()
}

func metaKey(key, name string) string {
	return "_" + key + "." + name
}

func validMetaName(name string) bool {
	return name != "" && !strings.Contains(name, ".")
}

// PropertyValueBuilder accumulates a value and its metadata.
type PropertyValueBuilder struct {
	key      string
	value    string
	source   string
	metadata map[string]string
}

// NewPropertyValueBuilder starts a builder for key.
func NewPropertyValueBuilder(key, value string) *PropertyValueBuilder {
	return &PropertyValueBuilder{key: key, value: value, metadata: make(map[string]string)}
}

// SetValue replaces the value.
func (b *PropertyValueBuilder) SetValue(value string) *PropertyValueBuilder {
	b.value = value
	return b
}

// SetSource names the contributing source.
func (b *PropertyValueBuilder) SetSource(source string) *PropertyValueBuilder {
	b.source = source
	return b
}

// AddMetadata sets one entry, overwriting an earlier entry of the same name.
// Names must be non-empty and free of dots, otherwise "_a.b.c" could belong
// to key "a" or key "a.b". Other names are ignored.
func (b *PropertyValueBuilder) AddMetadata(name, value string) *PropertyValueBuilder {
	if !validMetaName(name) {
		return b
	}
	b.metadata[metaKey(b.key, name)] = value
	return b
}

// AddAllMetadata sets several entries.
func (b *PropertyValueBuilder) AddAllMetadata(entries map[string]string) *PropertyValueBuilder {
	for name, value := range entries {
		b.AddMetadata(name, value)
	}
	return b
}

// SetMetadata replaces all metadata with entries.
func (b *PropertyValueBuilder) SetMetadata(entries map[string]string) *PropertyValueBuilder {
	b.metadata = make(map[string]string, len(entries))
	return b.AddAllMetadata(entries)
}

// RemoveMetadata drops entries by short name.
func (b *PropertyValueBuilder) RemoveMetadata(names ...string) *PropertyValueBuilder {
	for _, name := range names {
		delete(b.metadata, metaKey(b.key, name))
	}
	return b
}

// Build produces the immutable value, stamping source and timestamp metadata.
func (b *PropertyValueBuilder) Build() *PropertyValue {
	md := make(map[string]string, len(b.metadata)+2)
	for k, v := range b.metadata {
		md[k] = v
	}
	if b.source != "" {
		md[metaKey(b.key, MetaSource)] = b.source
	}
	if _, ok := md[metaKey(b.key, MetaTimestamp)]; !ok {
		md[metaKey(b.key, MetaTimestamp)] = strconv.FormatInt(timecache.CachedTimeNano(), 10)
	}
	return &PropertyValue{key: b.key, value: b.value, source: b.source, metadata: md}
}

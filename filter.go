// filter.go: Value filters applied after combination
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"strings"
)

// FilterContext describes the lookup a filter runs in.
type FilterContext struct {
	// Key being filtered.
	Key string
	// SingleAccess is true for single key lookups, false while filtering a
	// full property map.
	SingleAccess bool
}

// PropertyFilter rewrites or suppresses a combined value. Returning nil
// removes the key from the result.
type PropertyFilter interface {
	Filter(value *PropertyValue, ctx FilterContext) *PropertyValue
}

// FilterFunc adapts a function to PropertyFilter.
type FilterFunc func(value *PropertyValue, ctx FilterContext) *PropertyValue

// Filter implements PropertyFilter.
func (f FilterFunc) Filter(value *PropertyValue, ctx FilterContext) *PropertyValue {
	return f(value, ctx)
}

// applyFilters runs filters in order, stopping once one suppresses the value.
func applyFilters(filters []PropertyFilter, value *PropertyValue, ctx FilterContext) *PropertyValue {
	for _, f := range filters {
		if value == nil {
			return nil
		}
		value = f.Filter(value, ctx)
	}
	return value
}

// RedactedValue replaces values hidden by RedactFilter.
const RedactedValue = "[REDACTED]"

// defaultSecretMarkers are key fragments treated as secrets.
var defaultSecretMarkers = []string{"password", "secret", "token", "apikey", "api_key", "credential", "private_key"}

// RedactFilter masks values whose key contains one of markers
// (case-insensitive). Without markers a default set is used.
func RedactFilter(markers ...string) PropertyFilter {
	if len(markers) == 0 {
		markers = defaultSecretMarkers
	}
	lowered := make([]string, len(markers))
	for i, m := range markers {
		lowered[i] = strings.ToLower(m)
	}
	return FilterFunc(func(value *PropertyValue, _ FilterContext) *PropertyValue {
		key := strings.ToLower(value.Key())
		for _, m := range lowered {
			if strings.Contains(key, m) {
				return value.WithValue(RedactedValue)
			}
		}
		return value
	})
}

// ExcludeFilter hides every key starting with one of prefixes.
func ExcludeFilter(prefixes ...string) PropertyFilter {
	return FilterFunc(func(value *PropertyValue, _ FilterContext) *PropertyValue {
		for _, p := range prefixes {
			if strings.HasPrefix(value.Key(), p) {
				return nil
			}
		}
		return value
	})
}

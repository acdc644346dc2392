// configuration.go: Typed configuration facade over an aggregator and converters
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"fmt"
	"reflect"

	"github.com/agilira/go-errors"
)

// Configuration answers typed lookups. Values come from the aggregator,
// pass through its filters and are converted by the converter manager.
type Configuration struct {
	aggregator  *Aggregator
	converters  *ConverterManager
	auditLogger *AuditLogger
	ownedAudit  *AuditLogger
	watcher     *Watcher
}

// NewConfiguration creates a facade. A nil converter manager is replaced by
// one holding the built-in converters.
func NewConfiguration(aggregator *Aggregator, converters *ConverterManager) (*Configuration, error) {
	if aggregator == nil {
		return nil, errors.New(ErrCodeInvalidConfig, "aggregator cannot be nil")
	}
	if converters == nil {
		converters = NewConverterManager()
	}
	return &Configuration{aggregator: aggregator, converters: converters}, nil
}

// WithAudit records conversion failures in the audit trail.
func (c *Configuration) WithAudit(logger *AuditLogger) *Configuration {
	c.auditLogger = logger
	return c
}

// Aggregator returns the underlying aggregator.
func (c *Configuration) Aggregator() *Aggregator { return c.aggregator }

// Converters returns the converter manager.
func (c *Configuration) Converters() *ConverterManager { return c.converters }

// EvaluateRawValue combines the sources for key without applying filters.
func (c *Configuration) EvaluateRawValue(key string) (*PropertyValue, error) {
	return c.aggregator.Evaluate(key)
}

// Value returns the filtered value for key, or nil when absent.
func (c *Configuration) Value(key string) (*PropertyValue, error) {
	pv, err := c.aggregator.Evaluate(key)
	if err != nil || pv == nil {
		return nil, err
	}
	return applyFilters(c.aggregator.PropertyFilters(), pv, FilterContext{Key: key, SingleAccess: true}), nil
}

// GetString returns the filtered raw value of key.
func (c *Configuration) GetString(key string) (string, error) {
	pv, err := c.Value(key)
	if err != nil {
		return "", err
	}
	if pv == nil {
		return "", keyNotFound(key)
	}
	return pv.Value(), nil
}

// Lookup converts the value of key to t. The boolean is false when the key
// is absent.
func (c *Configuration) Lookup(key string, t reflect.Type) (any, bool, error) {
	pv, err := c.Value(key)
	if err != nil || pv == nil {
		return nil, false, err
	}
	v, err := c.ConvertValue(key, pv.Value(), t)
	if err != nil {
		return nil, true, err
	}
	return v, true, nil
}

// Get converts the value of key to t. An absent key is an error.
func (c *Configuration) Get(key string, t reflect.Type) (any, error) {
	v, ok, err := c.Lookup(key, t)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, keyNotFound(key)
	}
	return v, nil
}

// GetOrDefault converts the value of key to t, returning def only when the
// key is absent. Conversion failures are returned, never masked by def.
func (c *Configuration) GetOrDefault(key string, t reflect.Type, def any) (any, error) {
	v, ok, err := c.Lookup(key, t)
	if err != nil {
		return nil, err
	}
	if !ok {
		return def, nil
	}
	return v, nil
}

// ConvertValue converts a raw string as if it were the value of key.
func (c *Configuration) ConvertValue(key, raw string, t reflect.Type) (any, error) {
	v, err := c.converters.Convert(key, raw, t)
	if err != nil {
		c.auditLogger.Log(AuditWarn, "conversion_failed", "configuration", "", nil, nil, map[string]interface{}{
			"key":   key,
			"type":  fmt.Sprint(t),
			"error": err.Error(),
		})
		return nil, err
	}
	return v, nil
}

// PropertyValues returns every filtered value, keyed by property key.
func (c *Configuration) PropertyValues() (map[string]*PropertyValue, error) {
	props, err := c.aggregator.Properties()
	if err != nil {
		return nil, err
	}
	filters := c.aggregator.PropertyFilters()
	out := make(map[string]*PropertyValue, len(props))
	for k, pv := range props {
		if f := applyFilters(filters, pv, FilterContext{Key: k}); f != nil {
			out[k] = f
		}
	}
	return out, nil
}

// Properties returns every filtered raw value.
func (c *Configuration) Properties() (map[string]string, error) {
	values, err := c.PropertyValues()
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(values))
	for k, pv := range values {
		out[k] = pv.Value()
	}
	return out, nil
}

// ConfigOperator derives a configuration from another.
type ConfigOperator func(*Configuration) (*Configuration, error)

// With applies op to the configuration.
func (c *Configuration) With(op ConfigOperator) (*Configuration, error) {
	if op == nil {
		return c, nil
	}
	return op(c)
}

// Query evaluates q against the configuration.
func Query[R any](c *Configuration, q func(*Configuration) (R, error)) (R, error) {
	return q(c)
}

// Equal reports whether both configurations read the same sources.
func (c *Configuration) Equal(other *Configuration) bool {
	if c == nil || other == nil {
		return c == other
	}
	return c.aggregator.Equal(other.aggregator)
}

func (c *Configuration) String() string {
	return "Configuration{\n  " + c.aggregator.String() + "\n}"
}

// Close stops the file watcher and releases the audit logger created by
// New.
func (c *Configuration) Close() error {
	if c.watcher != nil {
		_ = c.watcher.Close()
	}
	if c.ownedAudit != nil {
		return c.ownedAudit.Close()
	}
	return nil
}

// Get converts the value of key to T.
func Get[T any](c *Configuration, key string) (T, error) {
	var zero T
	v, err := c.Get(key, reflect.TypeFor[T]())
	if err != nil {
		return zero, err
	}
	return v.(T), nil
}

// GetOrDefault converts the value of key to T, or returns def when absent.
func GetOrDefault[T any](c *Configuration, key string, def T) (T, error) {
	v, ok, err := c.Lookup(key, reflect.TypeFor[T]())
	if err != nil {
		var zero T
		return zero, err
	}
	if !ok {
		return def, nil
	}
	return v.(T), nil
}

func keyNotFound(key string) error {
	return errors.New(ErrCodeKeyNotFound, fmt.Sprintf("no value for key %q", key)).
		WithContext("key", key)
}

// config_binder.go: Fluent binding of configuration keys to variables
//
// The binder collects typed bindings and resolves them in one Apply call,
// converting through the configuration's converter chain.
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"fmt"
	"reflect"
	"time"
	"unsafe"

	"github.com/agilira/go-errors"
)

// bindKind selects the target type of a binding.
type bindKind uint8

const (
	bindString bindKind = iota
	bindInt
	bindInt64
	bindBool
	bindFloat64
	bindDuration
	bindStringSlice
)

var bindTypes = [...]reflect.Type{
	bindString:      reflect.TypeFor[string](),
	bindInt:         reflect.TypeFor[int](),
	bindInt64:       reflect.TypeFor[int64](),
	bindBool:        reflect.TypeFor[bool](),
	bindFloat64:     reflect.TypeFor[float64](),
	bindDuration:    reflect.TypeFor[time.Duration](),
	bindStringSlice: reflect.TypeFor[[]string](),
}

// binding is a single key bound to a variable. The public Bind* methods
// fix the pointer type, so target always matches kind.
type binding struct {
	target   unsafe.Pointer
	key      string
	defValue any
	kind     bindKind
}

// ConfigBinder binds keys of a Configuration to variables.
type ConfigBinder struct {
	bindings []binding
	config   *Configuration
}

// Binder starts a fluent binder over the configuration.
func (c *Configuration) Binder() *ConfigBinder {
	return &ConfigBinder{
		bindings: make([]binding, 0, 16),
		config:   c,
	}
}

func (cb *ConfigBinder) add(target unsafe.Pointer, key string, kind bindKind, def any) *ConfigBinder {
	cb.bindings = append(cb.bindings, binding{target: target, key: key, defValue: def, kind: kind})
	return cb
}

// BindString binds a string value with an optional default.
func (cb *ConfigBinder) BindString(target *string, key string, defaultValue ...string) *ConfigBinder {
	var def string
	if len(defaultValue) > 0 {
		def = defaultValue[0]
	}
	return cb.add(unsafe.Pointer(target), key, bindString, def) // #nosec G103
}

// BindInt binds an integer value with an optional default.
func (cb *ConfigBinder) BindInt(target *int, key string, defaultValue ...int) *ConfigBinder {
	var def int
	if len(defaultValue) > 0 {
		def = defaultValue[0]
	}
	return cb.add(unsafe.Pointer(target), key, bindInt, def) // #nosec G103
}

// BindInt64 binds an int64 value with an optional default.
func (cb *ConfigBinder) BindInt64(target *int64, key string, defaultValue ...int64) *ConfigBinder {
	var def int64
	if len(defaultValue) > 0 {
		def = defaultValue[0]
	}
	return cb.add(unsafe.Pointer(target), key, bindInt64, def) // #nosec G103
}

// BindBool binds a boolean value with an optional default.
func (cb *ConfigBinder) BindBool(target *bool, key string, defaultValue ...bool) *ConfigBinder {
	var def bool
	if len(defaultValue) > 0 {
		def = defaultValue[0]
	}
	return cb.add(unsafe.Pointer(target), key, bindBool, def) // #nosec G103
}

// BindFloat64 binds a float64 value with an optional default.
func (cb *ConfigBinder) BindFloat64(target *float64, key string, defaultValue ...float64) *ConfigBinder {
	var def float64
	if len(defaultValue) > 0 {
		def = defaultValue[0]
	}
	return cb.add(unsafe.Pointer(target), key, bindFloat64, def) // #nosec G103
}

// BindDuration binds a duration value with an optional default.
func (cb *ConfigBinder) BindDuration(target *time.Duration, key string, defaultValue ...time.Duration) *ConfigBinder {
	var def time.Duration
	if len(defaultValue) > 0 {
		def = defaultValue[0]
	}
	return cb.add(unsafe.Pointer(target), key, bindDuration, def) // #nosec G103
}

// BindStringSlice binds a comma separated list with an optional default.
func (cb *ConfigBinder) BindStringSlice(target *[]string, key string, defaultValue ...[]string) *ConfigBinder {
	var def []string
	if len(defaultValue) > 0 {
		def = defaultValue[0]
	}
	return cb.add(unsafe.Pointer(target), key, bindStringSlice, def) // #nosec G103
}

// Apply resolves every binding. An absent key takes its default, or the
// zero value when none was given. Bindings before a failing one stay
// applied.
func (cb *ConfigBinder) Apply() error {
	for _, b := range cb.bindings {
		if err := cb.applyBinding(b); err != nil {
			return errors.Wrap(err, ErrCodeInvalidConfig, "failed to bind key '"+b.key+"'").
				WithContext("key", b.key)
		}
	}
	return nil
}

// Keys returns the bound keys in binding order.
func (cb *ConfigBinder) Keys() []string {
	out := make([]string, len(cb.bindings))
	for i, b := range cb.bindings {
		out[i] = b.key
	}
	return out
}

func (cb *ConfigBinder) applyBinding(b binding) error {
	value, ok, err := cb.config.Lookup(b.key, bindTypes[b.kind])
	if err != nil {
		return err
	}
	if !ok {
		value = b.defValue
	}

	switch b.kind {
	case bindString:
		*(*string)(b.target) = value.(string)
	case bindInt:
		*(*int)(b.target) = value.(int)
	case bindInt64:
		*(*int64)(b.target) = value.(int64)
	case bindBool:
		*(*bool)(b.target) = value.(bool)
	case bindFloat64:
		*(*float64)(b.target) = value.(float64)
	case bindDuration:
		*(*time.Duration)(b.target) = value.(time.Duration)
	case bindStringSlice:
		*(*[]string)(b.target) = value.([]string)
	default:
		return errors.New(ErrCodeInvalidConfig, fmt.Sprintf("unsupported binding kind: %d", b.kind))
	}
	return nil
}

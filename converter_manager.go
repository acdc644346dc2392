// converter_manager.go: Converter registry and hierarchy-aware resolution
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"fmt"
	"reflect"
	"sort"
	"sync"

	"github.com/agilira/go-errors"
)

// converterEntry is one explicit registration. Its address identifies the
// registration when the converter itself is not comparable.
type converterEntry struct {
	target    reflect.Type
	converter PropertyConverter
}

// identity returns the dedup key of the entry.
func (e *converterEntry) identity() any {
	if t := reflect.TypeOf(e.converter); t != nil && t.Comparable() {
		return e.converter
	}
	return e
}

// ConverterManager resolves converters for target types, walking boxed
// types, supertypes, interfaces and finally factory methods. Results are
// cached per type and the cache is dropped whenever a converter is added.
type ConverterManager struct {
	mu       sync.RWMutex
	explicit map[reflect.Type][]*converterEntry

	graph       *TypeGraph
	resolved    keyedCache[reflect.Type, []ConverterRegistration]
	auditLogger *AuditLogger
	builtins    bool
}

// ConverterOption configures a ConverterManager.
type ConverterOption func(*ConverterManager)

// WithTypeGraph sets the type graph used for supertype and interface edges.
func WithTypeGraph(g *TypeGraph) ConverterOption {
	return func(m *ConverterManager) {
		if g != nil {
			m.graph = g
		}
	}
}

// WithConverterAudit records converter registrations in the audit trail.
func WithConverterAudit(logger *AuditLogger) ConverterOption {
	return func(m *ConverterManager) { m.auditLogger = logger }
}

// WithoutBuiltinConverters starts the manager empty.
func WithoutBuiltinConverters() ConverterOption {
	return func(m *ConverterManager) { m.builtins = false }
}

// NewConverterManager creates a manager holding the built-in converters.
func NewConverterManager(opts ...ConverterOption) *ConverterManager {
	m := &ConverterManager{
		explicit: make(map[reflect.Type][]*converterEntry),
		graph:    NewTypeGraph(),
		builtins: true,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.builtins {
		registerBuiltinConverters(m)
	}
	return m
}

// TypeGraph returns the graph used for hierarchy walks.
func (m *ConverterManager) TypeGraph() *TypeGraph { return m.graph }

// Register adds a converter for target. Converters registered for the same
// type are tried in registration order.
func (m *ConverterManager) Register(target reflect.Type, converter PropertyConverter) error {
	if target == nil {
		return errors.New(ErrCodeInvalidConfig, "converter target type cannot be nil")
	}
	if converter == nil {
		return errors.New(ErrCodeInvalidConfig, "converter cannot be nil").
			WithContext("type", target.String())
	}

	m.add(target, converter)
	m.auditLogger.Log(AuditInfo, "converter_registered", "converters", "", nil, nil, map[string]interface{}{
		"type":      target.String(),
		"converter": fmt.Sprintf("%T", converter),
	})
	return nil
}

func (m *ConverterManager) add(target reflect.Type, converter PropertyConverter) {
	m.mu.Lock()
	m.explicit[target] = append(m.explicit[target], &converterEntry{target: target, converter: converter})
	m.mu.Unlock()
	m.resolved.reset()
}

// RegisterConverter registers converter for T.
func RegisterConverter[T any](m *ConverterManager, converter PropertyConverter) error {
	return m.Register(reflect.TypeFor[T](), converter)
}

// RegisterFunc registers a typed parse function for T.
func RegisterFunc[T any](m *ConverterManager, parse func(string) (T, error)) error {
	if parse == nil {
		return errors.New(ErrCodeInvalidConfig, "parse function cannot be nil")
	}
	return m.Register(reflect.TypeFor[T](), NewTypedConverter(parse))
}

// LoadFrom registers every TypedConverter service the registry provides, in
// descending priority.
func (m *ConverterManager) LoadFrom(r *Registry) error {
	converters, err := GetServices[TypedConverter](r)
	if err != nil {
		return err
	}
	for _, c := range converters {
		if err := m.Register(c.TargetType(), c); err != nil {
			return err
		}
	}
	return nil
}

// TargetTypes returns the types with explicit converters, sorted by name.
func (m *ConverterManager) TargetTypes() []reflect.Type {
	m.mu.RLock()
	out := make([]reflect.Type, 0, len(m.explicit))
	for t := range m.explicit {
		out = append(out, t)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// Resolve returns the converters applicable to t in resolution order.
func (m *ConverterManager) Resolve(t reflect.Type) []ConverterRegistration {
	if t == nil {
		return nil
	}
	regs, _ := m.resolved.getOrFill(t, func() ([]ConverterRegistration, error) {
		return m.compute(t), nil
	}, nil)
	return append([]ConverterRegistration(nil), regs...)
}

// PropertyConverters returns the converters applicable to t in resolution order.
func (m *ConverterManager) PropertyConverters(t reflect.Type) []PropertyConverter {
	regs := m.Resolve(t)
	out := make([]PropertyConverter, len(regs))
	for i, r := range regs {
		out[i] = r.Converter
	}
	return out
}

// IsTargetTypeSupported reports whether at least one converter applies to t.
func (m *ConverterManager) IsTargetTypeSupported(t reflect.Type) bool {
	return len(m.Resolve(t)) > 0
}

// Reset drops the resolution cache.
func (m *ConverterManager) Reset() { m.resolved.reset() }

// Convert runs the converters for t on raw. The first converter returning a
// value wins. A converter error is final.
func (m *ConverterManager) Convert(key, raw string, t reflect.Type) (any, error) {
	regs := m.Resolve(t)
	if len(regs) == 0 {
		return nil, errors.New(ErrCodeUnsupportedType,
			fmt.Sprintf("no converter available for type %v", t)).
			WithContext("key", key).
			WithContext("type", fmt.Sprint(t))
	}

	ctx := &ConversionContext{Key: key, TargetType: t}
	for _, reg := range regs {
		v, err := reg.Converter.Convert(raw, ctx)
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeConversionFailed,
				fmt.Sprintf("cannot convert %q to %v", raw, t)).
				WithContext("key", key).
				WithContext("type", t.String()).
				WithContext("path", reg.Path.String())
		}
		if v == nil {
			continue
		}
		out, err := coerce(v, t)
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeConversionFailed,
				fmt.Sprintf("converter for %v returned an incompatible value", reg.Registered)).
				WithContext("key", key).
				WithContext("type", t.String())
		}
		return out, nil
	}

	return nil, errors.New(ErrCodeConversionFailed,
		fmt.Sprintf("no converter accepted %q as %v, supported formats: %s", raw, t, ctx.formatList())).
		WithContext("key", key).
		WithContext("type", t.String())
}

// compute walks the resolution order for t.
func (m *ConverterManager) compute(t reflect.Type) []ConverterRegistration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []ConverterRegistration
	seen := make(map[any]bool)
	add := func(from reflect.Type, path ConversionPath) {
		for _, e := range m.explicit[from] {
			id := e.identity()
			if seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, ConverterRegistration{Target: t, Registered: from, Converter: e.converter, Path: path})
		}
	}

	add(t, PathExplicit)
	if b := boxedType(t); b != nil {
		add(b, PathBoxed)
	}
	for _, s := range m.graph.Supertypes(t) {
		add(s, PathSupertype)
	}

	walked := map[reflect.Type]bool{t: true}
	for _, i := range m.graph.Interfaces(t) {
		walked[i] = true
		add(i, PathInterface)
	}
	for _, i := range m.structuralInterfacesLocked(t, walked) {
		add(i, PathInterface)
	}

	if len(out) == 0 {
		if fn, name := m.graph.factory(t); fn != nil {
			out = append(out, ConverterRegistration{
				Target:     t,
				Registered: t,
				Converter:  factoryConverter(fn, name),
				Path:       PathFactory,
			})
		}
	}
	return out
}

// structuralInterfacesLocked returns registered interface types t satisfies
// that the graph walk did not reach, sorted by name.
func (m *ConverterManager) structuralInterfacesLocked(t reflect.Type, walked map[reflect.Type]bool) []reflect.Type {
	var out []reflect.Type
	for r := range m.explicit {
		if r.Kind() != reflect.Interface || walked[r] {
			continue
		}
		if t.Implements(r) || (t.Kind() != reflect.Interface && t.Kind() != reflect.Pointer && reflect.PointerTo(t).Implements(r)) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

func factoryConverter(fn factoryFunc, name string) PropertyConverter {
	return ConverterFunc(func(value string, ctx *ConversionContext) (any, error) {
		ctx.AddSupportedFormats(name, "<"+ctx.TargetType.String()+" text>")
		return fn(value)
	})
}

// boxedType returns the pointer or element counterpart of t: T and *T, []T
// and []*T. Interface and pointer-to-pointer types have none.
func boxedType(t reflect.Type) reflect.Type {
	switch t.Kind() {
	case reflect.Interface:
		return nil
	case reflect.Pointer:
		if t.Elem().Kind() == reflect.Pointer || t.Elem().Kind() == reflect.Interface {
			return nil
		}
		return t.Elem()
	case reflect.Slice:
		e := t.Elem()
		if e.Kind() == reflect.Pointer && e.Elem().Kind() != reflect.Pointer {
			return reflect.SliceOf(e.Elem())
		}
		if e.Kind() != reflect.Pointer && e.Kind() != reflect.Interface {
			return reflect.SliceOf(reflect.PointerTo(e))
		}
		return nil
	default:
		return reflect.PointerTo(t)
	}
}

// coerce fits a converter result to t, boxing or unboxing as needed.
func coerce(v any, t reflect.Type) (any, error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() {
		return nil, errors.New(ErrCodeConversionFailed, "converter returned a nil value")
	}
	vt := rv.Type()

	switch {
	case vt == t:
		return v, nil
	case vt.AssignableTo(t):
		out := reflect.New(t).Elem()
		out.Set(rv)
		return out.Interface(), nil
	case vt.Kind() == reflect.Pointer && vt.Elem().AssignableTo(t):
		if rv.IsNil() {
			return nil, errors.New(ErrCodeConversionFailed, "converter returned a nil pointer")
		}
		out := reflect.New(t).Elem()
		out.Set(rv.Elem())
		return out.Interface(), nil
	case t.Kind() == reflect.Pointer && vt.AssignableTo(t.Elem()):
		p := reflect.New(t.Elem())
		p.Elem().Set(rv)
		return p.Interface(), nil
	case vt.Kind() == reflect.Slice && t.Kind() == reflect.Slice:
		out := reflect.MakeSlice(t, rv.Len(), rv.Len())
		for i := 0; i < rv.Len(); i++ {
			e, err := coerce(rv.Index(i).Interface(), t.Elem())
			if err != nil {
				return nil, err
			}
			out.Index(i).Set(reflect.ValueOf(e))
		}
		return out.Interface(), nil
	}
	return nil, errors.New(ErrCodeConversionFailed,
		fmt.Sprintf("value of type %s is not assignable to %s", vt, t))
}

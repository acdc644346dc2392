// type_graph.go: Explicit type relationship graph used by converter resolution
//
// Go has no class inheritance, so supertype and interface edges come from two
// places: edges declared on the graph, and struct embedding. The first
// embedded struct field of a struct is its supertype; embedded interface
// fields are its direct interfaces.
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"encoding"
	"fmt"
	"reflect"
	"sync"

	"github.com/agilira/go-errors"
)

// Canonical factory method names, in lookup order.
var factoryMethodNames = []string{"ValueOf", "Of", "Parse"}

var (
	errorType           = reflect.TypeFor[error]()
	textUnmarshalerType = reflect.TypeFor[encoding.TextUnmarshaler]()
)

// factoryFunc builds a value from a raw string.
type factoryFunc func(raw string) (any, error)

type declaredFactory struct {
	name string
	fn   reflect.Value
}

// TypeGraph records supertype and interface edges and factory functions.
type TypeGraph struct {
	mu           sync.RWMutex
	supertypes   map[reflect.Type]reflect.Type
	interfaces   map[reflect.Type][]reflect.Type
	factories    map[reflect.Type][]declaredFactory
	constructors map[reflect.Type]reflect.Value
}

// NewTypeGraph creates an empty graph.
func NewTypeGraph() *TypeGraph {
	return &TypeGraph{
		supertypes:   make(map[reflect.Type]reflect.Type),
		interfaces:   make(map[reflect.Type][]reflect.Type),
		factories:    make(map[reflect.Type][]declaredFactory),
		constructors: make(map[reflect.Type]reflect.Value),
	}
}

// DeclareSupertype records that sub extends super. Cycles are rejected.
func (g *TypeGraph) DeclareSupertype(sub, super reflect.Type) error {
	if sub == nil || super == nil {
		return errors.New(ErrCodeInvalidConfig, "supertype edge requires two types")
	}
	if sub == super {
		return errors.New(ErrCodeInvalidConfig, "type cannot extend itself: "+sub.String())
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for t := super; t != nil; t = g.supertypeLocked(t) {
		if t == sub {
			return errors.New(ErrCodeInvalidConfig,
				fmt.Sprintf("declaring %s as supertype of %s creates a cycle", super, sub))
		}
	}
	g.supertypes[sub] = super
	return nil
}

// DeclareInterfaces records interfaces directly implemented (or, for an
// interface type, extended) by t, nearest first.
func (g *TypeGraph) DeclareInterfaces(t reflect.Type, ifaces ...reflect.Type) error {
	if t == nil {
		return errors.New(ErrCodeInvalidConfig, "type cannot be nil")
	}
	for _, i := range ifaces {
		if i == nil || i.Kind() != reflect.Interface {
			return errors.New(ErrCodeInvalidConfig, fmt.Sprintf("%v is not an interface type", i))
		}
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.interfaces[t] = append(g.interfaces[t], ifaces...)
	return nil
}

// DeclareFactory records a named factory function for t. fn must have the
// shape func(string) R or func(string) (R, error) with R being t or *t.
func (g *TypeGraph) DeclareFactory(t reflect.Type, name string, fn any) error {
	base, v, err := checkFactoryFunc(t, fn)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.factories[base] = append(g.factories[base], declaredFactory{name: name, fn: v})
	return nil
}

// DeclareConstructor records the single-string constructor of t.
func (g *TypeGraph) DeclareConstructor(t reflect.Type, fn any) error {
	base, v, err := checkFactoryFunc(t, fn)
	if err != nil {
		return err
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.constructors[base] = v
	return nil
}

// Supertypes returns the supertype chain of t, nearest first.
func (g *TypeGraph) Supertypes(t reflect.Type) []reflect.Type {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var chain []reflect.Type
	seen := map[reflect.Type]bool{t: true}
	for s := g.supertypeLocked(t); s != nil && !seen[s]; s = g.supertypeLocked(s) {
		seen[s] = true
		chain = append(chain, s)
	}
	return chain
}

// Interfaces returns every interface reachable from t breadth first, so
// interfaces of t itself precede those inherited from supertypes or
// super-interfaces. Each interface appears once.
func (g *TypeGraph) Interfaces(t reflect.Type) []reflect.Type {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []reflect.Type
	emitted := make(map[reflect.Type]bool)
	visited := map[reflect.Type]bool{t: true}
	queue := []reflect.Type{t}

	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]

		for _, i := range g.directInterfacesLocked(n) {
			if !emitted[i] {
				emitted[i] = true
				out = append(out, i)
			}
			if !visited[i] {
				visited[i] = true
				queue = append(queue, i)
			}
		}
		if s := g.supertypeLocked(n); s != nil && !visited[s] {
			visited[s] = true
			queue = append(queue, s)
		}
	}
	return out
}

// supertypeLocked returns the declared supertype or the first embedded struct.
func (g *TypeGraph) supertypeLocked(t reflect.Type) reflect.Type {
	if s, ok := g.supertypes[t]; ok {
		return s
	}
	st := structOf(t)
	if st == nil {
		return nil
	}
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		if !f.Anonymous {
			continue
		}
		ft := f.Type
		if ft.Kind() == reflect.Pointer {
			ft = ft.Elem()
		}
		if ft.Kind() == reflect.Struct {
			return ft
		}
	}
	return nil
}

// directInterfacesLocked returns declared interfaces, then embedded interface fields.
func (g *TypeGraph) directInterfacesLocked(t reflect.Type) []reflect.Type {
	out := append([]reflect.Type(nil), g.interfaces[t]...)
	if st := structOf(t); st != nil {
		for i := 0; i < st.NumField(); i++ {
			f := st.Field(i)
			if f.Anonymous && f.Type.Kind() == reflect.Interface {
				out = append(out, f.Type)
			}
		}
	}
	return out
}

// factory synthesizes a builder for t: ValueOf, Of or Parse methods first,
// then declared factories, the declared constructor and finally
// encoding.TextUnmarshaler. The second result names the mechanism.
func (g *TypeGraph) factory(t reflect.Type) (factoryFunc, string) {
	base := t
	if base.Kind() == reflect.Pointer {
		base = base.Elem()
	}

	for _, name := range factoryMethodNames {
		if fn := methodFactory(base, name); fn != nil {
			return fn, name
		}
	}

	g.mu.RLock()
	declared := append([]declaredFactory(nil), g.factories[base]...)
	ctor, hasCtor := g.constructors[base]
	g.mu.RUnlock()

	if len(declared) > 0 {
		return callFactory(declared[0].fn), declared[0].name
	}
	if hasCtor {
		return callFactory(ctor), "constructor"
	}

	if base.Kind() != reflect.Interface && reflect.PointerTo(base).Implements(textUnmarshalerType) {
		return func(raw string) (any, error) {
			ptr := reflect.New(base)
			if err := ptr.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(raw)); err != nil {
				return nil, err
			}
			return ptr.Interface(), nil
		}, "UnmarshalText"
	}
	return nil, ""
}

// methodFactory looks up a method name on base or *base taking one string.
// The method is called on a zero receiver.
func methodFactory(base reflect.Type, name string) factoryFunc {
	if base.Kind() == reflect.Interface {
		return nil
	}
	for _, recv := range []reflect.Type{base, reflect.PointerTo(base)} {
		m, ok := recv.MethodByName(name)
		if !ok || !factoryShape(m.Type, 1, base) {
			continue
		}
		pointerRecv := recv.Kind() == reflect.Pointer
		method := m.Func
		return func(raw string) (any, error) {
			var receiver reflect.Value
			if pointerRecv {
				receiver = reflect.New(base)
			} else {
				receiver = reflect.Zero(base)
			}
			arg := reflect.ValueOf(raw).Convert(m.Type.In(1))
			return unpackFactoryResult(method.Call([]reflect.Value{receiver, arg}))
		}
	}
	return nil
}

// factoryShape checks in[skip] is a string and the results are R or (R, error)
// with R being base or *base.
func factoryShape(ft reflect.Type, skip int, base reflect.Type) bool {
	if ft.NumIn() != skip+1 || ft.In(skip).Kind() != reflect.String {
		return false
	}
	switch ft.NumOut() {
	case 1:
	case 2:
		if ft.Out(1) != errorType {
			return false
		}
	default:
		return false
	}
	out := ft.Out(0)
	return out == base || out == reflect.PointerTo(base)
}

// checkFactoryFunc validates fn and returns the non-pointer type it builds.
func checkFactoryFunc(t reflect.Type, fn any) (reflect.Type, reflect.Value, error) {
	if t == nil || fn == nil {
		return nil, reflect.Value{}, errors.New(ErrCodeInvalidConfig, "factory requires a type and a function")
	}
	base := t
	if base.Kind() == reflect.Pointer {
		base = base.Elem()
	}
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || !factoryShape(v.Type(), 0, base) {
		return nil, reflect.Value{}, errors.New(ErrCodeInvalidConfig,
			fmt.Sprintf("factory for %s must be func(string) %s or func(string) (%s, error)", base, base, base))
	}
	return base, v, nil
}

func callFactory(fn reflect.Value) factoryFunc {
	in := fn.Type().In(0)
	return func(raw string) (any, error) {
		return unpackFactoryResult(fn.Call([]reflect.Value{reflect.ValueOf(raw).Convert(in)}))
	}
}

func unpackFactoryResult(results []reflect.Value) (any, error) {
	if len(results) == 2 && !results[1].IsNil() {
		return nil, results[1].Interface().(error)
	}
	return results[0].Interface(), nil
}

// structOf returns the struct type behind t, or nil.
func structOf(t reflect.Type) reflect.Type {
	if t == nil {
		return nil
	}
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Kind() != reflect.Struct {
		return nil
	}
	return t
}

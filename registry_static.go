// registry_static.go: Compile-time registration backend and the package default registry
//
// Go binaries are linked statically, so plugins register themselves from
// init() functions of imported packages:
//
//	func init() {
//		strata.RegisterService[strata.PropertySource]("acme-defaults", 50, newAcmeDefaults)
//	}
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
	"sync/atomic"

	"github.com/agilira/go-errors"
)

// StaticBackendOrdinal is the backend ordinal of the default StaticBackend.
// Backends with a lower ordinal (such as a ModuleBackend) are consulted first.
const StaticBackendOrdinal = 100

// StaticBackend serves registrations added programmatically.
type StaticBackend struct {
	name    string
	ordinal int

	mu         sync.RWMutex
	byCap      map[reflect.Type][]Registration
	generation atomic.Uint64
}

// NewStaticBackend creates an empty static backend.
func NewStaticBackend(name string, ordinal int) *StaticBackend {
	return &StaticBackend{
		name:    name,
		ordinal: ordinal,
		byCap:   make(map[reflect.Type][]Registration),
	}
}

// Name implements DiscoveryBackend.
func (b *StaticBackend) Name() string { return b.name }

// Ordinal implements DiscoveryBackend.
func (b *StaticBackend) Ordinal() int { return b.ordinal }

// Register adds a registration. Implementation names must be unique per capability.
func (b *StaticBackend) Register(reg Registration) error {
	if reg.Capability == nil {
		return errors.New(ErrCodeInvalidConfig, "registration capability cannot be nil")
	}
	if reg.Name == "" {
		return errors.New(ErrCodeInvalidConfig, "registration name cannot be empty")
	}
	if reg.Factory == nil {
		return errors.New(ErrCodeInvalidConfig, "registration factory cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.byCap[reg.Capability] {
		if existing.Name == reg.Name {
			return errors.New(ErrCodeDuplicateRegistration,
				fmt.Sprintf("implementation %q already registered for %s", reg.Name, CapabilityName(reg.Capability))).
				WithContext("capability", CapabilityName(reg.Capability))
		}
	}
	b.byCap[reg.Capability] = append(b.byCap[reg.Capability], reg)
	b.generation.Add(1)
	return nil
}

// Generation implements Generational. It moves on every registration so
// registries pick up late additions.
func (b *StaticBackend) Generation() uint64 {
	return b.generation.Load()
}

// Find implements DiscoveryBackend. Registrations are returned in registration order.
func (b *StaticBackend) Find(capability reflect.Type) ([]Registration, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	regs := b.byCap[capability]
	out := make([]Registration, len(regs))
	copy(out, regs)
	return out, nil
}

// Capabilities lists the capability names with at least one registration.
func (b *StaticBackend) Capabilities() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	names := make([]string, 0, len(b.byCap))
	for t := range b.byCap {
		names = append(names, CapabilityName(t))
	}
	sort.Strings(names)
	return names
}

// Provide registers a typed factory with a declared priority.
func Provide[T any](b *StaticBackend, name string, priority int, factory func() T) error {
	return b.Register(Registration{
		Capability: reflect.TypeFor[T](),
		Name:       name,
		Priority:   priority,
		Declared:   true,
		Factory:    func() any { return factory() },
	})
}

// ProvideDefault registers a typed factory without a declared priority.
// The instance's Priority method is used when present, DefaultPriority otherwise.
func ProvideDefault[T any](b *StaticBackend, name string, factory func() T) error {
	return b.Register(Registration{
		Capability: reflect.TypeFor[T](),
		Name:       name,
		Factory:    func() any { return factory() },
	})
}

// Global default backend and registry, mirroring the import-based plugin style.
var (
	defaultBackend  = NewStaticBackend("static", StaticBackendOrdinal)
	defaultRegistry *Registry
	defaultOnce     sync.Once
)

// RegisterService registers a plugin in the package default backend.
func RegisterService[T any](name string, priority int, factory func() T) error {
	return Provide(defaultBackend, name, priority, factory)
}

// DefaultBackend returns the package default static backend.
func DefaultBackend() *StaticBackend {
	return defaultBackend
}

// DefaultRegistry returns the registry over the package default backend.
func DefaultRegistry() *Registry {
	defaultOnce.Do(func() {
		defaultRegistry = NewRegistry([]DiscoveryBackend{defaultBackend})
	})
	return defaultRegistry
}

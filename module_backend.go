// module_backend.go: Discovery backend fed by the module tracker
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

// ModuleBackendOrdinal places the module backend ahead of the static one.
const ModuleBackendOrdinal = 50

// Catalog maps implementation names listed by modules to factories.
type Catalog struct {
	mu      sync.RWMutex
	entries map[string]Registration
}

// NewCatalog creates an empty catalog.
func NewCatalog() *Catalog {
	return &Catalog{entries: make(map[string]Registration)}
}

// Register adds an implementation. Names are unique across the catalog.
func (c *Catalog) Register(reg Registration) error {
	if reg.Name == "" || reg.Capability == nil || reg.Factory == nil {
		return errors.New(ErrCodeInvalidConfig, "catalog registration requires name, capability and factory")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.entries[reg.Name]; exists {
		return errors.New(ErrCodeDuplicateRegistration,
			fmt.Sprintf("implementation %q already in catalog", reg.Name))
	}
	c.entries[reg.Name] = reg
	return nil
}

// Lookup finds an implementation by name.
func (c *Catalog) Lookup(name string) (Registration, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	reg, ok := c.entries[name]
	return reg, ok
}

// Names lists the catalogued implementation names.
func (c *Catalog) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.entries))
	for name := range c.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Catalogue registers a typed factory with a declared priority.
func Catalogue[T any](c *Catalog, name string, priority int, factory func() T) error {
	return c.Register(Registration{
		Capability: reflect.TypeFor[T](),
		Name:       name,
		Priority:   priority,
		Declared:   true,
		Factory:    func() any { return factory() },
	})
}

// ModuleBackend discovers implementations listed by active modules.
type ModuleBackend struct {
	tracker *ModuleTracker
	catalog *Catalog
	ordinal int
}

// NewModuleBackend creates a backend over tracker and catalog. Without a
// tracker the backend reports itself not applicable.
func NewModuleBackend(tracker *ModuleTracker, catalog *Catalog) *ModuleBackend {
	return &ModuleBackend{tracker: tracker, catalog: catalog, ordinal: ModuleBackendOrdinal}
}

// Name implements DiscoveryBackend.
func (b *ModuleBackend) Name() string { return "modules" }

// Ordinal implements DiscoveryBackend.
func (b *ModuleBackend) Ordinal() int { return b.ordinal }

// Generation implements Generational.
func (b *ModuleBackend) Generation() uint64 {
	if b.tracker == nil {
		return 0
	}
	return b.tracker.Generation()
}

// Find implements DiscoveryBackend. Names the catalog does not know, or that
// belong to another capability, are skipped and recorded as malformed once
// per module and capability.
func (b *ModuleBackend) Find(capability reflect.Type) ([]Registration, error) {
	if b.tracker == nil || b.catalog == nil {
		return nil, ErrNotApplicable
	}

	name := CapabilityName(capability)
	var regs []Registration
	seen := make(map[string]bool)
	for _, res := range b.tracker.Resources(name) {
		if seen[res.Implementation] {
			continue
		}
		key := res.ModuleID + "\x00" + name + "\x00" + res.Implementation
		reg, ok := b.catalog.Lookup(res.Implementation)
		if !ok {
			b.tracker.recordErrorOnce(key, errors.New(ErrCodeMalformedResource,
				fmt.Sprintf("module %s lists unknown implementation %q", res.ModuleID, res.Implementation)).
				WithContext("capability", name), res.ModuleID)
			continue
		}
		if reg.Capability != capability {
			b.tracker.recordErrorOnce(key, errors.New(ErrCodeMalformedResource,
				fmt.Sprintf("module %s lists %q under %s but it provides %s",
					res.ModuleID, res.Implementation, name, CapabilityName(reg.Capability))), res.ModuleID)
			continue
		}
		seen[res.Implementation] = true
		regs = append(regs, reg)
	}
	return regs, nil
}

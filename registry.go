// registry.go: Capability registry with priority ordering and pluggable discovery
//
// The registry locates implementations of a capability (an interface type)
// through a chain of discovery backends, orders them by declared priority and
// owns the lifecycle of the instances it hands out.
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

// DefaultPriority applies to implementations that declare no priority.
const DefaultPriority = 1

// Registration describes one implementation of a capability.
type Registration struct {
	// Capability is the interface type implemented.
	Capability reflect.Type
	// Name identifies the implementation within its capability.
	Name string
	// Priority orders implementations, higher wins. Only meaningful when Declared.
	Priority int
	// Declared reports whether Priority was set explicitly.
	Declared bool
	// Factory builds a new instance.
	Factory func() any
}

// Prioritized is implemented by plugin instances that carry their own priority.
type Prioritized interface {
	Priority() int
}

// DiscoveryBackend locates registrations for a capability.
//
// Find returns ErrNotApplicable (or any error coded ErrCodeBackendNotApplicable)
// when the backend cannot operate in the current environment; the registry
// then never consults it again. Any other error defers to the next backend
// for that call only.
type DiscoveryBackend interface {
	Name() string
	Ordinal() int
	Find(capability reflect.Type) ([]Registration, error)
}

// Generational is implemented by backends whose result set can change over
// time. Cached service lists are rebuilt when the generation moves.
type Generational interface {
	Generation() uint64
}

// candidate is a resolved registration with its singleton instance.
type candidate struct {
	reg      Registration
	priority int
	instance any
}

// serviceList is the cached, ordered discovery result for a capability.
type serviceList struct {
	candidates []candidate
	generation uint64
	backend    string
}

// Registry discovers, orders and caches capability implementations.
type Registry struct {
	backends []DiscoveryBackend // ascending ordinal
	refused  sync.Map           // backend name -> struct{}
	active   atomic.Pointer[string]

	lists     keyedCache[reflect.Type, serviceList]
	instances keyedCache[string, any]

	auditLogger  *AuditLogger
	errorHandler func(err error, source string)
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryAudit attaches an audit logger.
func WithRegistryAudit(logger *AuditLogger) RegistryOption {
	return func(r *Registry) { r.auditLogger = logger }
}

// WithRegistryErrorHandler receives backend failures that were recovered by
// falling back to the next backend.
func WithRegistryErrorHandler(handler func(err error, source string)) RegistryOption {
	return func(r *Registry) { r.errorHandler = handler }
}

// NewRegistry creates a registry over the given backends. Backends are tried
// in ascending ordinal order, ties broken by name.
func NewRegistry(backends []DiscoveryBackend, opts ...RegistryOption) *Registry {
	sorted := make([]DiscoveryBackend, 0, len(backends))
	for _, b := range backends {
		if b != nil {
			sorted = append(sorted, b)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Ordinal() != sorted[j].Ordinal() {
			return sorted[i].Ordinal() < sorted[j].Ordinal()
		}
		return sorted[i].Name() < sorted[j].Name()
	})

	r := &Registry{backends: sorted}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Backends returns the backend chain in the order it is consulted.
func (r *Registry) Backends() []DiscoveryBackend {
	out := make([]DiscoveryBackend, len(r.backends))
	copy(out, r.backends)
	return out
}

// ActiveBackend returns the name of the backend that answered last, or "".
func (r *Registry) ActiveBackend() string {
	if name := r.active.Load(); name != nil {
		return *name
	}
	return ""
}

// GetService returns the highest priority implementation of capability.
// It returns (nil, nil) when there is none and fails with
// ErrCodeAmbiguousPriority when the top two candidates share a priority.
func (r *Registry) GetService(capability reflect.Type) (any, error) {
	list, err := r.serviceList(capability)
	if err != nil {
		return nil, err
	}
	top, err := r.top(capability, list)
	if err != nil || top == nil {
		return nil, err
	}
	return top.instance, nil
}

// GetServices returns every implementation of capability, highest priority
// first. Ties keep discovery order. The result is never nil.
func (r *Registry) GetServices(capability reflect.Type) ([]any, error) {
	list, err := r.serviceList(capability)
	if err != nil {
		return nil, err
	}
	out := make([]any, 0, len(list.candidates))
	for _, c := range list.candidates {
		out = append(out, c.instance)
	}
	return out, nil
}

// Create returns a fresh instance of the highest priority implementation,
// bypassing the singleton cache. Same ambiguity rules as GetService.
func (r *Registry) Create(capability reflect.Type) (any, error) {
	list, err := r.serviceList(capability)
	if err != nil {
		return nil, err
	}
	top, err := r.top(capability, list)
	if err != nil || top == nil {
		return nil, err
	}
	return newInstance(top.reg)
}

// Reset drops every cached list and instance.
func (r *Registry) Reset() {
	r.lists.reset()
	r.instances.reset()
}

// top picks the single winning candidate or reports an ambiguity.
func (r *Registry) top(capability reflect.Type, list serviceList) (*candidate, error) {
	if len(list.candidates) == 0 {
		return nil, nil
	}
	first := list.candidates[0]
	if len(list.candidates) > 1 && list.candidates[1].priority == first.priority {
		second := list.candidates[1]
		err := errors.New(ErrCodeAmbiguousPriority,
			fmt.Sprintf("implementations %q and %q of %s share priority %d",
				first.reg.Name, second.reg.Name, CapabilityName(capability), first.priority)).
			WithContext("capability", CapabilityName(capability)).
			WithContext("first", first.reg.Name).
			WithContext("second", second.reg.Name)
		r.auditLogger.Log(AuditCritical, "ambiguous_priority", "registry", "", nil, nil, map[string]interface{}{
			"capability": CapabilityName(capability),
			"first":      first.reg.Name,
			"second":     second.reg.Name,
			"priority":   first.priority,
		})
		return nil, err
	}
	return &first, nil
}

// serviceList returns the cached ordered list for capability, rebuilding it
// when the answering backend reports a newer generation.
func (r *Registry) serviceList(capability reflect.Type) (serviceList, error) {
	if capability == nil {
		return serviceList{}, errors.New(ErrCodeInvalidConfig, "capability type cannot be nil")
	}
	return r.lists.getOrFill(capability,
		func() (serviceList, error) { return r.discover(capability) },
		func(l serviceList) bool { return r.generationOf(l.backend) == l.generation })
}

// generationOf returns the current generation of a backend, 0 if static.
func (r *Registry) generationOf(name string) uint64 {
	for _, b := range r.backends {
		if b.Name() == name {
			if g, ok := b.(Generational); ok {
				return g.Generation()
			}
			return 0
		}
	}
	return 0
}

// discover walks the backend chain and builds the ordered candidate list.
func (r *Registry) discover(capability reflect.Type) (serviceList, error) {
	var lastErr error
	for _, backend := range r.backends {
		if _, refused := r.refused.Load(backend.Name()); refused {
			continue
		}

		var generation uint64
		if g, ok := backend.(Generational); ok {
			generation = g.Generation()
		}

		regs, err := backend.Find(capability)
		if err != nil {
			if HasCode(err, ErrCodeBackendNotApplicable) {
				r.refused.Store(backend.Name(), struct{}{})
				r.auditLogger.Log(AuditInfo, "backend_not_applicable", "registry", "", nil, nil,
					map[string]interface{}{"backend": backend.Name()})
				continue
			}
			lastErr = err
			r.reportBackendFailure(backend, capability, err)
			continue
		}

		candidates, err := r.resolve(capability, regs)
		if err != nil {
			return serviceList{}, err
		}
		name := backend.Name()
		r.active.Store(&name)
		return serviceList{candidates: candidates, generation: generation, backend: name}, nil
	}

	if lastErr == nil {
		lastErr = errors.New(ErrCodeDiscoveryFailed, "no applicable discovery backend")
	}
	return serviceList{}, errors.Wrap(lastErr, ErrCodeDiscoveryFailed,
		"all discovery backends failed for "+CapabilityName(capability)).
		WithContext("capability", CapabilityName(capability))
}

// reportBackendFailure records a backend error recovered by fallback.
func (r *Registry) reportBackendFailure(backend DiscoveryBackend, capability reflect.Type, err error) {
	if r.errorHandler != nil {
		r.errorHandler(err, backend.Name())
	}
	r.auditLogger.Log(AuditWarn, "backend_failed", "registry", "", nil, nil, map[string]interface{}{
		"backend":    backend.Name(),
		"capability": CapabilityName(capability),
		"error":      err.Error(),
	})
}

// resolve instantiates singletons, determines priorities and sorts.
func (r *Registry) resolve(capability reflect.Type, regs []Registration) ([]candidate, error) {
	candidates := make([]candidate, 0, len(regs))
	for _, reg := range regs {
		if reg.Capability == nil {
			reg.Capability = capability
		}
		instance, err := r.instances.getOrFill(instanceKey(reg), func() (any, error) {
			return newInstance(reg)
		}, nil)
		if err != nil {
			return nil, err
		}

		priority, err := priorityOf(reg, instance)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, candidate{reg: reg, priority: priority, instance: instance})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].priority > candidates[j].priority
	})
	return candidates, nil
}

// priorityOf determines the priority of a registration. A registration and
// an instance declaring different priorities is ambiguous.
func priorityOf(reg Registration, instance any) (int, error) {
	p, self := instance.(Prioritized)
	switch {
	case reg.Declared && self && p.Priority() != reg.Priority:
		return 0, errors.New(ErrCodeAmbiguousPriority,
			fmt.Sprintf("implementation %q declares priority %d but its registration declares %d",
				reg.Name, p.Priority(), reg.Priority)).
			WithContext("implementation", reg.Name)
	case reg.Declared:
		return reg.Priority, nil
	case self:
		return p.Priority(), nil
	default:
		return DefaultPriority, nil
	}
}

// newInstance calls the factory and checks the result implements the capability.
func newInstance(reg Registration) (any, error) {
	if reg.Factory == nil {
		return nil, errors.New(ErrCodeInvalidConfig, "registration "+reg.Name+" has no factory")
	}
	instance := reg.Factory()
	if instance == nil {
		return nil, errors.New(ErrCodeInvalidConfig, "factory for "+reg.Name+" returned nil")
	}
	if reg.Capability != nil && reg.Capability.Kind() == reflect.Interface &&
		!reflect.TypeOf(instance).Implements(reg.Capability) {
		return nil, errors.New(ErrCodeInvalidConfig,
			fmt.Sprintf("%s does not implement %s", reg.Name, CapabilityName(reg.Capability)))
	}
	return instance, nil
}

func instanceKey(reg Registration) string {
	return CapabilityName(reg.Capability) + "/" + reg.Name
}

// CapabilityName returns the textual descriptor of a capability type.
func CapabilityName(t reflect.Type) string {
	if t == nil {
		return "<nil>"
	}
	if t.Name() != "" && t.PkgPath() != "" {
		return t.PkgPath() + "." + t.Name()
	}
	return t.String()
}

// GetService is the typed form of Registry.GetService. ok is false when no
// implementation exists.
func GetService[T any](r *Registry) (service T, ok bool, err error) {
	instance, err := r.GetService(reflect.TypeFor[T]())
	if err != nil || instance == nil {
		return service, false, err
	}
	return instance.(T), true, nil
}

// GetServices is the typed form of Registry.GetServices.
func GetServices[T any](r *Registry) ([]T, error) {
	instances, err := r.GetServices(reflect.TypeFor[T]())
	if err != nil {
		return nil, err
	}
	out := make([]T, 0, len(instances))
	for _, instance := range instances {
		out = append(out, instance.(T))
	}
	return out, nil
}

// CreateService is the typed form of Registry.Create.
func CreateService[T any](r *Registry) (service T, ok bool, err error) {
	instance, err := r.Create(reflect.TypeFor[T]())
	if err != nil || instance == nil {
		return service, false, err
	}
	return instance.(T), true, nil
}

// module_tracker_test.go: Tests for the module tracker and module discovery backend
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"io"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/agilira/go-errors"
)

type fakeModule struct {
	id, name, version string
	state             ModuleState
	entries           map[string]string
	entriesErr        error
	openErr           map[string]error
}

func (m *fakeModule) ID() string         { return m.id }
func (m *fakeModule) Name() string       { return m.name }
func (m *fakeModule) Version() string    { return m.version }
func (m *fakeModule) State() ModuleState { return m.state }

func (m *fakeModule) Entries() ([]string, error) {
	if m.entriesErr != nil {
		return nil, m.entriesErr
	}
	out := make([]string, 0, len(m.entries))
	for name := range m.entries {
		out = append(out, name)
	}
	return out, nil
}

func (m *fakeModule) Open(entry string) (io.ReadCloser, error) {
	if err := m.openErr[entry]; err != nil {
		return nil, err
	}
	return io.NopCloser(strings.NewReader(m.entries[entry])), nil
}

type fakeHost struct {
	mu        sync.Mutex
	modules   []Module
	listeners map[int]func(ModuleEvent)
	nextID    int
}

func newFakeHost(modules ...Module) *fakeHost {
	return &fakeHost{modules: modules, listeners: make(map[int]func(ModuleEvent))}
}

func (h *fakeHost) Modules() ([]Module, error) { return h.modules, nil }

func (h *fakeHost) Subscribe(listener func(ModuleEvent)) func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = listener
	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.listeners, id)
	}
}

func (h *fakeHost) emit(m Module, state ModuleState) {
	h.mu.Lock()
	listeners := make([]func(ModuleEvent), 0, len(h.listeners))
	for _, l := range h.listeners {
		listeners = append(listeners, l)
	}
	h.mu.Unlock()
	for _, l := range listeners {
		l(ModuleEvent{Module: m, State: state})
	}
}

func (h *fakeHost) listenerCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

var greeterListing = ServicePrefix + CapabilityName(greeterType)

func greeterModule(id string, state ModuleState, impls ...string) *fakeModule {
	return &fakeModule{
		id:      id,
		name:    id,
		version: "1.0.0",
		state:   state,
		entries: map[string]string{greeterListing: strings.Join(impls, "\n")},
	}
}

func bundleIDs(bundles []ModuleInfo) []string {
	ids := make([]string, len(bundles))
	for i, b := range bundles {
		ids[i] = b.ID
	}
	return ids
}

func TestModuleTracker_InitialScan(t *testing.T) {
	host := newFakeHost(
		greeterModule("b", ModuleActive, "beta"),
		greeterModule("a", ModuleActive, "alpha"),
		greeterModule("c", ModuleInstalled, "gamma"),
	)
	tracker, err := NewModuleTracker(host)
	if err != nil {
		t.Fatalf("NewModuleTracker failed: %v", err)
	}
	defer tracker.Close()

	if got := bundleIDs(tracker.ResourceBundles()); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("Expected active modules [a b], got %v", got)
	}
	if tracker.Generation() != 1 {
		t.Errorf("Expected generation 1, got %d", tracker.Generation())
	}
}

// startingModule becomes active while its state is being read.
type startingModule struct {
	*fakeModule
	host *fakeHost
	once sync.Once
}

func (m *startingModule) State() ModuleState {
	state := m.fakeModule.state
	m.once.Do(func() {
		m.fakeModule.state = ModuleActive
		m.host.emit(m, ModuleActive)
	})
	return state
}

func TestModuleTracker_ModuleStartingDuringScan(t *testing.T) {
	host := newFakeHost()
	late := &startingModule{fakeModule: greeterModule("late", ModuleInstalled, "alpha"), host: host}
	host.modules = []Module{late, greeterModule("steady", ModuleActive, "beta")}

	tracker, err := NewModuleTracker(host)
	if err != nil {
		t.Fatalf("NewModuleTracker failed: %v", err)
	}
	defer tracker.Close()

	if got := bundleIDs(tracker.ResourceBundles()); !reflect.DeepEqual(got, []string{"late", "steady"}) {
		t.Errorf("Expected module started during the scan to be tracked, got %v", got)
	}
	if tracker.Generation() != 2 {
		t.Errorf("Expected queued event applied after the seed, got generation %d", tracker.Generation())
	}

	host.emit(late, ModuleStopped)
	if got := bundleIDs(tracker.ResourceBundles()); !reflect.DeepEqual(got, []string{"steady"}) {
		t.Errorf("Expected later events applied directly, got %v", got)
	}
}

func TestModuleTracker_LifecycleEvents(t *testing.T) {
	a := greeterModule("a", ModuleInstalled, "alpha")
	b := greeterModule("b", ModuleInstalled, "beta")

	tests := []struct {
		name   string
		events []ModuleEvent
		want   []string
	}{
		{"start", []ModuleEvent{{a, ModuleActive}}, []string{"a"}},
		{"start twice", []ModuleEvent{{a, ModuleActive}, {a, ModuleActive}}, []string{"a"}},
		{"start then stop", []ModuleEvent{{a, ModuleActive}, {a, ModuleStopped}}, []string{}},
		{"installed is ignored", []ModuleEvent{{a, ModuleInstalled}}, []string{}},
		{"restart", []ModuleEvent{{a, ModuleActive}, {a, ModuleStopped}, {a, ModuleActive}}, []string{"a"}},
		{"uninstall one of two", []ModuleEvent{{a, ModuleActive}, {b, ModuleActive}, {a, ModuleUninstalled}}, []string{"b"}},
		{"stop unknown", []ModuleEvent{{b, ModuleStopped}}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host := newFakeHost()
			tracker, err := NewModuleTracker(host)
			if err != nil {
				t.Fatal(err)
			}
			defer tracker.Close()

			for _, ev := range tt.events {
				host.emit(ev.Module, ev.State)
			}
			if got := bundleIDs(tracker.ResourceBundles()); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestModuleTracker_NoOpEventsKeepGeneration(t *testing.T) {
	host := newFakeHost()
	tracker, _ := NewModuleTracker(host)
	defer tracker.Close()

	before := tracker.Generation()
	host.emit(greeterModule("x", ModuleStopped), ModuleStopped)
	tracker.HandleEvent(ModuleEvent{})
	if tracker.Generation() != before {
		t.Errorf("Expected generation %d unchanged, got %d", before, tracker.Generation())
	}
}

func TestModuleTracker_MalformedResourcesSkipped(t *testing.T) {
	var handled []string
	broken := &fakeModule{
		id: "broken", name: "broken", state: ModuleActive,
		entries: map[string]string{
			greeterListing:          "good",
			ServicePrefix + "other": "has space",
			ServicePrefix + "io":    "",
		},
		openErr: map[string]error{ServicePrefix + "io": errors.New(ErrCodeIOError, "unreadable")},
	}
	unlisted := &fakeModule{id: "unlisted", state: ModuleActive, entriesErr: errors.New(ErrCodeIOError, "no index")}
	healthy := greeterModule("healthy", ModuleActive, "fine # trailing comment", "", "# only comment")

	tracker, err := NewModuleTracker(newFakeHost(broken, unlisted, healthy),
		WithTrackerErrorHandler(func(err error, source string) { handled = append(handled, source) }))
	if err != nil {
		t.Fatal(err)
	}
	defer tracker.Close()

	if n := len(tracker.Errors()); n != 3 {
		t.Errorf("Expected 3 recorded errors, got %d", n)
	}
	if len(handled) != 3 {
		t.Errorf("Expected 3 handled errors, got %v", handled)
	}
	for _, err := range tracker.Errors() {
		if !HasCode(err, ErrCodeMalformedResource) {
			t.Errorf("Expected malformed resource code, got %v", err)
		}
	}

	resources := tracker.Resources(CapabilityName(greeterType))
	want := []ModuleResource{{"broken", "good"}, {"healthy", "fine"}}
	if !reflect.DeepEqual(resources, want) {
		t.Errorf("Expected %v, got %v", want, resources)
	}
}

func TestModuleTracker_HighestVersionWins(t *testing.T) {
	older := greeterModule("plugin-1", ModuleActive, "old-impl")
	older.name = "plugin"
	older.version = "1.2.0"
	newer := greeterModule("plugin-2", ModuleActive, "new-impl")
	newer.name = "plugin"
	newer.version = "1.10.0"
	invalid := greeterModule("plugin-0", ModuleActive, "bad-impl")
	invalid.name = "plugin"
	invalid.version = "not-a-version"

	tracker, _ := NewModuleTracker(newFakeHost(older, newer, invalid))
	defer tracker.Close()

	resources := tracker.Resources(CapabilityName(greeterType))
	if len(resources) != 1 || resources[0].Implementation != "new-impl" {
		t.Errorf("Expected only new-impl, got %v", resources)
	}
}

func TestModuleTracker_CustomPrefixAndClose(t *testing.T) {
	m := &fakeModule{id: "m", state: ModuleActive, entries: map[string]string{
		"plugins/" + CapabilityName(greeterType): "custom",
		greeterListing:                           "ignored",
	}}
	host := newFakeHost(m)
	tracker, _ := NewModuleTracker(host, WithServicePrefix("plugins/"))

	res := tracker.Resources(CapabilityName(greeterType))
	if len(res) != 1 || res[0].Implementation != "custom" {
		t.Errorf("Expected custom prefix listing, got %v", res)
	}

	if host.listenerCount() != 1 {
		t.Fatalf("Expected one listener, got %d", host.listenerCount())
	}
	tracker.Close()
	tracker.Close()
	if host.listenerCount() != 0 {
		t.Errorf("Expected listener removed on Close")
	}
}

func TestModuleTracker_NilHost(t *testing.T) {
	if _, err := NewModuleTracker(nil); !HasCode(err, ErrCodeInvalidConfig) {
		t.Errorf("Expected invalid config, got %v", err)
	}
}

func TestModuleTracker_ConcurrentReadsSeeWholeSnapshots(t *testing.T) {
	host := newFakeHost()
	tracker, _ := NewModuleTracker(host)
	defer tracker.Close()

	modules := make([]*fakeModule, 8)
	for i := range modules {
		modules[i] = greeterModule(string(rune('a'+i)), ModuleInstalled, "impl")
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for round := 0; round < 50; round++ {
			for _, m := range modules {
				host.emit(m, ModuleActive)
			}
			for _, m := range modules {
				host.emit(m, ModuleStopped)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			for _, b := range tracker.ResourceBundles() {
				if len(b.Services) != 1 {
					t.Errorf("Observed a partially indexed module %s", b.ID)
					return
				}
			}
		}
	}()
	wg.Wait()

	if n := len(tracker.ResourceBundles()); n != 0 {
		t.Errorf("Expected no active modules at the end, got %d", n)
	}
}

func TestModuleBackend_Find(t *testing.T) {
	catalog := NewCatalog()
	if err := Catalogue(catalog, "alpha", 10, func() greeter { return &namedGreeter{name: "alpha"} }); err != nil {
		t.Fatal(err)
	}
	if err := Catalogue(catalog, "beta", 20, func() greeter { return &namedGreeter{name: "beta"} }); err != nil {
		t.Fatal(err)
	}
	if err := Catalogue(catalog, "not-a-greeter", 5, func() PropertySource { return NewMapSource("x", 0, nil) }); err != nil {
		t.Fatal(err)
	}
	if err := Catalogue(catalog, "alpha", 1, func() greeter { return nil }); !HasCode(err, ErrCodeDuplicateRegistration) {
		t.Errorf("Expected duplicate catalog entry error, got %v", err)
	}

	host := newFakeHost(greeterModule("m1", ModuleActive, "alpha", "unknown", "not-a-greeter"))
	tracker, _ := NewModuleTracker(host)
	defer tracker.Close()

	backend := NewModuleBackend(tracker, catalog)
	static := newGreeterBackend(t, "static", StaticBackendOrdinal, map[string]int{"static-impl": 100})
	r := NewRegistry([]DiscoveryBackend{static, backend})

	svc, ok, err := GetService[greeter](r)
	if err != nil || !ok {
		t.Fatalf("GetService failed: %v", err)
	}
	if svc.Greet() != "alpha" {
		t.Errorf("Expected module backend to answer with alpha, got %s", svc.Greet())
	}
	if n := len(tracker.Errors()); n != 2 {
		t.Errorf("Expected unknown and mismatched entries recorded, got %d", n)
	}

	// A new module changes the generation and the cached list is rebuilt
	host.emit(greeterModule("m2", ModuleActive, "beta"), ModuleActive)
	svc, _, err = GetService[greeter](r)
	if err != nil {
		t.Fatal(err)
	}
	if svc.Greet() != "beta" {
		t.Errorf("Expected beta after module start, got %s", svc.Greet())
	}

	host.emit(greeterModule("m2", ModuleActive, "beta"), ModuleStopped)
	svc, _, _ = GetService[greeter](r)
	if svc.Greet() != "alpha" {
		t.Errorf("Expected alpha after module stop, got %s", svc.Greet())
	}

	// Rediscovery after each generation change reports m1's entries once
	for i := 0; i < 3; i++ {
		if _, err := backend.Find(greeterType); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(tracker.Errors()); n != 2 {
		t.Errorf("Expected malformed entries recorded once, got %d", n)
	}
}

func TestModuleBackend_NotApplicable(t *testing.T) {
	backend := NewModuleBackend(nil, NewCatalog())
	if _, err := backend.Find(greeterType); !HasCode(err, ErrCodeBackendNotApplicable) {
		t.Errorf("Expected not applicable, got %v", err)
	}
	if backend.Generation() != 0 {
		t.Errorf("Expected generation 0 without tracker")
	}

	static := newGreeterBackend(t, "static", StaticBackendOrdinal, map[string]int{"static-impl": 1})
	r := NewRegistry([]DiscoveryBackend{backend, static})
	svc, _, err := GetService[greeter](r)
	if err != nil || svc.Greet() != "static-impl" {
		t.Errorf("Expected static fallback, got %v %v", svc, err)
	}
}

func TestCatalog_Names(t *testing.T) {
	c := NewCatalog()
	_ = Catalogue(c, "zeta", 1, func() greeter { return &namedGreeter{} })
	_ = Catalogue(c, "alpha", 1, func() greeter { return &namedGreeter{} })
	if got := c.Names(); !reflect.DeepEqual(got, []string{"alpha", "zeta"}) {
		t.Errorf("Expected sorted names, got %v", got)
	}
	if err := c.Register(Registration{Name: "x"}); !HasCode(err, ErrCodeInvalidConfig) {
		t.Errorf("Expected invalid config, got %v", err)
	}
}

func TestModuleState_String(t *testing.T) {
	tests := map[ModuleState]string{
		ModuleUnknown:     "UNKNOWN",
		ModuleInstalled:   "INSTALLED",
		ModuleActive:      "ACTIVE",
		ModuleStopped:     "STOPPED",
		ModuleUninstalled: "UNINSTALLED",
	}
	for state, want := range tests {
		if state.String() != want {
			t.Errorf("Expected %s, got %s", want, state.String())
		}
	}
}

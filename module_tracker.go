// module_tracker.go: Event-driven index of resources exposed by active modules
//
// The tracker observes a host environment whose modules can be installed,
// started, stopped and removed at runtime. It keeps the set of modules that
// are currently active together with the service resources they expose, and
// updates that set one module at a time as lifecycle events arrive.
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/Masterminds/semver/v3"
	"github.com/agilira/go-errors"
)

// ServicePrefix is the resource directory scanned for service listings.
// An entry named ServicePrefix+<capability name> lists implementation names,
// one per line.
const ServicePrefix = "strata/services/"

// ModuleState is the lifecycle state of a host module.
type ModuleState int

const (
	ModuleUnknown ModuleState = iota
	ModuleInstalled
	ModuleActive
	ModuleStopped
	ModuleUninstalled
)

func (s ModuleState) String() string {
	switch s {
	case ModuleInstalled:
		return "INSTALLED"
	case ModuleActive:
		return "ACTIVE"
	case ModuleStopped:
		return "STOPPED"
	case ModuleUninstalled:
		return "UNINSTALLED"
	default:
		return "UNKNOWN"
	}
}

// Module is a unit of the host environment that can expose resources.
type Module interface {
	// ID uniquely identifies the module within the host.
	ID() string
	// Name is the symbolic name shared by all versions of the module.
	Name() string
	// Version is a semantic version, may be empty.
	Version() string
	// State is the current lifecycle state.
	State() ModuleState
	// Entries enumerates the module's named resource entries.
	Entries() ([]string, error)
	// Open reads one resource entry.
	Open(entry string) (io.ReadCloser, error)
}

// ModuleEvent reports a lifecycle transition of a module.
type ModuleEvent struct {
	Module Module
	State  ModuleState
}

// ModuleHost is the environment observed by the tracker. The tracker never
// changes module state.
type ModuleHost interface {
	// Modules lists the currently installed modules.
	Modules() ([]Module, error)
	// Subscribe registers a lifecycle listener and returns its cancel function.
	Subscribe(listener func(ModuleEvent)) (cancel func())
}

// ModuleInfo describes an active module and the services it lists.
type ModuleInfo struct {
	ID      string
	Name    string
	Version string
	// Services maps capability names to implementation names.
	Services map[string][]string
}

// ModuleResource is one implementation name contributed by a module.
type ModuleResource struct {
	ModuleID       string
	Implementation string
}

type trackedModule struct {
	info    ModuleInfo
	version *semver.Version // nil when Version is not a valid semver
}

// trackerSnapshot is immutable once published.
type trackerSnapshot struct {
	modules    map[string]*trackedModule
	generation uint64
}

// ModuleTracker maintains the resource set of active modules.
type ModuleTracker struct {
	host   ModuleHost
	prefix string

	mu       sync.Mutex // serializes event processing
	snapshot atomic.Pointer[trackerSnapshot]
	cancel   func()

	// Events arriving before the initial scan is published are queued.
	pendingMu sync.Mutex
	pending   []ModuleEvent
	seeded    bool

	errMu    sync.Mutex
	errs     []error
	reported map[string]bool

	auditLogger  *AuditLogger
	errorHandler func(err error, source string)
}

// TrackerOption configures a ModuleTracker.
type TrackerOption func(*ModuleTracker)

// WithTrackerAudit attaches an audit logger.
func WithTrackerAudit(logger *AuditLogger) TrackerOption {
	return func(t *ModuleTracker) { t.auditLogger = logger }
}

// WithTrackerErrorHandler receives every skipped resource.
func WithTrackerErrorHandler(handler func(err error, source string)) TrackerOption {
	return func(t *ModuleTracker) { t.errorHandler = handler }
}

// WithServicePrefix changes the scanned resource prefix.
func WithServicePrefix(prefix string) TrackerOption {
	return func(t *ModuleTracker) { t.prefix = prefix }
}

// NewModuleTracker subscribes to the lifecycle events of host, then scans
// its active modules once. Events delivered during the scan are applied
// after it, in arrival order.
func NewModuleTracker(host ModuleHost, opts ...TrackerOption) (*ModuleTracker, error) {
	if host == nil {
		return nil, errors.New(ErrCodeInvalidConfig, "module host cannot be nil")
	}

	t := &ModuleTracker{host: host, prefix: ServicePrefix}
	for _, opt := range opts {
		opt(t)
	}

	t.cancel = host.Subscribe(t.HandleEvent)

	modules, err := host.Modules()
	if err != nil {
		t.cancel()
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to enumerate host modules")
	}

	initial := &trackerSnapshot{modules: make(map[string]*trackedModule)}
	for _, m := range modules {
		if m == nil || m.State() != ModuleActive {
			continue
		}
		initial.modules[m.ID()] = t.index(m)
	}
	initial.generation = 1
	t.snapshot.Store(initial)

	for {
		t.pendingMu.Lock()
		queued := t.pending
		t.pending = nil
		if len(queued) == 0 {
			t.seeded = true
			t.pendingMu.Unlock()
			break
		}
		t.pendingMu.Unlock()
		for _, event := range queued {
			t.apply(event)
		}
	}
	return t, nil
}

// HandleEvent applies one lifecycle event. A transition into ModuleActive
// (re)indexes the module, any other state drops it. Only the affected module
// is touched.
func (t *ModuleTracker) HandleEvent(event ModuleEvent) {
	if event.Module == nil {
		return
	}

	t.pendingMu.Lock()
	if !t.seeded {
		t.pending = append(t.pending, event)
		t.pendingMu.Unlock()
		return
	}
	t.pendingMu.Unlock()

	t.apply(event)
}

func (t *ModuleTracker) apply(event ModuleEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()

	current := t.snapshot.Load()
	id := event.Module.ID()
	_, present := current.modules[id]

	if event.State != ModuleActive && !present {
		return
	}

	next := &trackerSnapshot{
		modules:    make(map[string]*trackedModule, len(current.modules)+1),
		generation: current.generation + 1,
	}
	for k, v := range current.modules {
		next.modules[k] = v
	}

	if event.State == ModuleActive {
		next.modules[id] = t.index(event.Module)
	} else {
		delete(next.modules, id)
	}
	t.snapshot.Store(next)

	t.auditLogger.Log(AuditInfo, "module_event", "tracker", "", nil, nil, map[string]interface{}{
		"module": id,
		"state":  event.State.String(),
	})
}

// ResourceBundles returns the active modules, sorted by ID.
func (t *ModuleTracker) ResourceBundles() []ModuleInfo {
	snap := t.snapshot.Load()
	out := make([]ModuleInfo, 0, len(snap.modules))
	for _, m := range snap.modules {
		out = append(out, m.info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Resources returns the implementations listed for a capability by active
// modules. When several active modules share a symbolic name only the one
// with the highest version contributes. Results are ordered by module ID,
// then listing order.
func (t *ModuleTracker) Resources(capability string) []ModuleResource {
	snap := t.snapshot.Load()

	winners := make(map[string]*trackedModule)
	for _, m := range snap.modules {
		if best, ok := winners[m.info.Name]; !ok || newerModule(m, best) {
			winners[m.info.Name] = m
		}
	}

	selected := make([]*trackedModule, 0, len(winners))
	for _, m := range winners {
		selected = append(selected, m)
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].info.ID < selected[j].info.ID })

	var out []ModuleResource
	for _, m := range selected {
		for _, impl := range m.info.Services[capability] {
			out = append(out, ModuleResource{ModuleID: m.info.ID, Implementation: impl})
		}
	}
	return out
}

// Generation increases with every change of the active set.
func (t *ModuleTracker) Generation() uint64 {
	return t.snapshot.Load().generation
}

// Errors returns the resource errors recorded so far.
func (t *ModuleTracker) Errors() []error {
	t.errMu.Lock()
	defer t.errMu.Unlock()
	out := make([]error, len(t.errs))
	copy(out, t.errs)
	return out
}

// Close stops listening to the host.
func (t *ModuleTracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
}

// newerModule orders modules sharing a name: valid versions beat invalid
// ones, higher versions win, IDs break ties.
func newerModule(a, b *trackedModule) bool {
	switch {
	case a.version != nil && b.version == nil:
		return true
	case a.version == nil && b.version != nil:
		return false
	case a.version != nil && b.version != nil && !a.version.Equal(b.version):
		return a.version.GreaterThan(b.version)
	default:
		return a.info.ID < b.info.ID
	}
}

// index reads the service listings of one module. Broken entries are
// recorded and skipped.
func (t *ModuleTracker) index(m Module) *trackedModule {
	tm := &trackedModule{
		info: ModuleInfo{
			ID:       m.ID(),
			Name:     m.Name(),
			Version:  m.Version(),
			Services: make(map[string][]string),
		},
	}
	if tm.info.Name == "" {
		tm.info.Name = tm.info.ID
	}
	if v, err := semver.NewVersion(m.Version()); err == nil {
		tm.version = v
	}

	entries, err := m.Entries()
	if err != nil {
		t.recordError(errors.Wrap(err, ErrCodeMalformedResource, "cannot enumerate module entries").
			WithContext("module", m.ID()), m.ID())
		return tm
	}

	for _, entry := range entries {
		if strings.HasSuffix(entry, "/") || !strings.HasPrefix(entry, t.prefix) {
			continue
		}
		capability := strings.TrimPrefix(entry, t.prefix)
		if capability == "" {
			continue
		}
		names, err := readServiceListing(m, entry)
		if err != nil {
			t.recordError(errors.Wrap(err, ErrCodeMalformedResource, "skipping service listing "+entry).
				WithContext("module", m.ID()).
				WithContext("entry", entry), m.ID()+":"+entry)
			continue
		}
		tm.info.Services[capability] = append(tm.info.Services[capability], names...)
	}
	return tm
}

// readServiceListing parses one listing: one name per line, '#' comments.
func readServiceListing(m Module, entry string) ([]string, error) {
	rc, err := m.Open(entry)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rc.Close() }()

	var names []string
	scanner := bufio.NewScanner(rc)
	line := 0
	for scanner.Scan() {
		line++
		text := scanner.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if strings.IndexFunc(text, unicode.IsSpace) >= 0 {
			return nil, fmt.Errorf("line %d: invalid implementation name %q", line, text)
		}
		names = append(names, text)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return names, nil
}

// recordErrorOnce records err unless an error with the same key was
// already recorded.
func (t *ModuleTracker) recordErrorOnce(key string, err error, source string) {
	t.errMu.Lock()
	if t.reported[key] {
		t.errMu.Unlock()
		return
	}
	if t.reported == nil {
		t.reported = make(map[string]bool)
	}
	t.reported[key] = true
	t.errMu.Unlock()

	t.recordError(err, source)
}

// recordError stores and reports a skipped resource.
func (t *ModuleTracker) recordError(err error, source string) {
	t.errMu.Lock()
	t.errs = append(t.errs, err)
	t.errMu.Unlock()

	if t.errorHandler != nil {
		t.errorHandler(err, source)
	}
	t.auditLogger.Log(AuditWarn, "malformed_resource", "tracker", source, nil, nil, map[string]interface{}{
		"error": err.Error(),
	})
}

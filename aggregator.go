// aggregator.go: Ordered set of sources merged under a combination policy
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"fmt"
	"hash/fnv"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/agilira/go-errors"
)

// aggregatorState is an immutable view published by copy-on-write.
type aggregatorState struct {
	sources  []PropertySource // descending ordinal, ties by name
	ordinals []int            // effective ordinal per source, same order
	filters  []PropertyFilter
	policy   CombinationPolicy
}

// Aggregator holds the configuration sources, filters and combination
// policy. Reads never block; writes are serialized.
type Aggregator struct {
	mu    sync.Mutex
	state atomic.Pointer[aggregatorState]

	auditLogger *AuditLogger
}

// NewAggregator creates an aggregator using DefaultPolicy.
func NewAggregator(sources ...PropertySource) (*Aggregator, error) {
	a := &Aggregator{}
	a.state.Store(&aggregatorState{policy: DefaultPolicy})
	if err := a.AddSources(sources...); err != nil {
		return nil, err
	}
	return a, nil
}

// WithAudit attaches an audit logger recording value conflicts.
func (a *Aggregator) WithAudit(logger *AuditLogger) *Aggregator {
	a.auditLogger = logger
	return a
}

// AddSources registers sources. Precedence depends only on ordinals and
// names, never on insertion order. Names must be unique.
func (a *Aggregator) AddSources(sources ...PropertySource) error {
	if len(sources) == 0 {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	cur := a.state.Load()
	names := make(map[string]bool, len(cur.sources)+len(sources))
	for _, s := range cur.sources {
		names[s.Name()] = true
	}

	next := cur.clone()
	for _, s := range sources {
		if s == nil {
			return errors.New(ErrCodeInvalidConfig, "property source cannot be nil")
		}
		if names[s.Name()] {
			return errors.New(ErrCodeDuplicateRegistration,
				fmt.Sprintf("property source %q already registered", s.Name())).
				WithContext("source", s.Name())
		}
		names[s.Name()] = true
		next.sources = append(next.sources, s)
	}
	next.sort()
	a.state.Store(next)
	return nil
}

// RemoveSources drops sources by name. Unknown names are ignored.
func (a *Aggregator) RemoveSources(names ...string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	next := a.state.Load().clone()
	kept := next.sources[:0]
	for _, s := range next.sources {
		if !drop[s.Name()] {
			kept = append(kept, s)
		}
	}
	next.sources = kept
	next.sort()
	a.state.Store(next)
}

// PropertySources returns the sources by descending ordinal, ties broken
// by name.
func (a *Aggregator) PropertySources() []PropertySource {
	st := a.state.Load()
	out := make([]PropertySource, len(st.sources))
	copy(out, st.sources)
	return out
}

// PropertySource finds a source by name.
func (a *Aggregator) PropertySource(name string) (PropertySource, bool) {
	for _, s := range a.state.Load().sources {
		if s.Name() == name {
			return s, true
		}
	}
	return nil, false
}

// AddFilters appends filters, applied in order after combination.
func (a *Aggregator) AddFilters(filters ...PropertyFilter) {
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.state.Load().clone()
	for _, f := range filters {
		if f != nil {
			next.filters = append(next.filters, f)
		}
	}
	a.state.Store(next)
}

// PropertyFilters returns the filters in application order.
func (a *Aggregator) PropertyFilters() []PropertyFilter {
	st := a.state.Load()
	out := make([]PropertyFilter, len(st.filters))
	copy(out, st.filters)
	return out
}

// SetCombinationPolicy replaces the policy. nil restores DefaultPolicy.
func (a *Aggregator) SetCombinationPolicy(policy CombinationPolicy) {
	if policy == nil {
		policy = DefaultPolicy
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	next := a.state.Load().clone()
	next.policy = policy
	a.state.Store(next)
}

// CombinationPolicy returns the active policy.
func (a *Aggregator) CombinationPolicy() CombinationPolicy {
	return a.state.Load().policy
}

// Evaluate combines the candidates of every source for key. It returns nil
// when no source defines the key. Filters are not applied.
func (a *Aggregator) Evaluate(key string) (*PropertyValue, error) {
	st := a.state.Load()
	candidates := make([]Candidate, 0, len(st.sources))
	for i := len(st.sources) - 1; i >= 0; i-- {
		s := st.sources[i]
		candidates = append(candidates, Candidate{Value: s.Get(key), Source: s.Name(), Ordinal: st.ordinals[i]})
	}
	pv, err := st.policy(key, candidates)
	if err != nil {
		a.reportConflict(key, err)
		return nil, err
	}
	return pv, nil
}

// Properties combines every key of every source. Sources are visited from
// the lowest to the highest ordinal. Keys without a value are absent.
// Filters are not applied.
func (a *Aggregator) Properties() (map[string]*PropertyValue, error) {
	st := a.state.Load()

	byKey := make(map[string][]Candidate)
	for i := len(st.sources) - 1; i >= 0; i-- {
		s := st.sources[i]
		for key, pv := range s.Properties() {
			byKey[key] = append(byKey[key], Candidate{Value: pv, Source: s.Name(), Ordinal: st.ordinals[i]})
		}
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]*PropertyValue, len(keys))
	for _, key := range keys {
		pv, err := st.policy(key, byKey[key])
		if err != nil {
			a.reportConflict(key, err)
			return nil, err
		}
		if pv != nil {
			out[key] = pv
		}
	}
	return out, nil
}

// Equal reports whether both aggregators hold the same sources.
func (a *Aggregator) Equal(other *Aggregator) bool {
	if a == nil || other == nil {
		return a == other
	}
	if a == other {
		return true
	}
	x, y := a.state.Load().sources, other.state.Load().sources
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if !sameSource(x[i], y[i]) {
			return false
		}
	}
	return true
}

// Hash is consistent with Equal.
func (a *Aggregator) Hash() uint64 {
	st := a.state.Load()
	h := fnv.New64a()
	for i, s := range st.sources {
		_, _ = h.Write([]byte(s.Name()))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(strconv.Itoa(st.ordinals[i])))
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64()
}

func (a *Aggregator) String() string {
	st := a.state.Load()
	var sb strings.Builder
	sb.WriteString("Aggregator{\n")
	sb.WriteString("  Property Sources\n")
	sb.WriteString("  ----------------\n")
	fmt.Fprintf(&sb, "  %-70s %s\n", "NAME", "ORDINAL")
	for i, s := range st.sources {
		fmt.Fprintf(&sb, "  %-70s %d\n", s.Name(), st.ordinals[i])
	}
	fmt.Fprintf(&sb, "  Filters: %d\n", len(st.filters))
	sb.WriteString("}")
	return sb.String()
}

func (a *Aggregator) reportConflict(key string, err error) {
	a.auditLogger.Log(AuditWarn, "value_conflict", "aggregator", "", nil, nil, map[string]interface{}{
		"key":   key,
		"error": err.Error(),
	})
}

func (st *aggregatorState) clone() *aggregatorState {
	next := &aggregatorState{policy: st.policy}
	next.sources = append([]PropertySource(nil), st.sources...)
	next.ordinals = append([]int(nil), st.ordinals...)
	next.filters = append([]PropertyFilter(nil), st.filters...)
	return next
}

// sort orders sources by effective ordinal, descending, then by name.
func (st *aggregatorState) sort() {
	type ranked struct {
		src     PropertySource
		ordinal int
	}
	rs := make([]ranked, len(st.sources))
	for i, s := range st.sources {
		rs[i] = ranked{src: s, ordinal: EffectiveOrdinal(s)}
	}
	sort.SliceStable(rs, func(i, j int) bool {
		if rs[i].ordinal != rs[j].ordinal {
			return rs[i].ordinal > rs[j].ordinal
		}
		return rs[i].src.Name() < rs[j].src.Name()
	})
	st.sources = make([]PropertySource, len(rs))
	st.ordinals = make([]int, len(rs))
	for i, r := range rs {
		st.sources[i] = r.src
		st.ordinals[i] = r.ordinal
	}
}

// configuration_test.go: Tests for typed lookups, binding and the binder
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"reflect"
	"strings"
	"testing"
	"time"
)

// newTestConfiguration builds a configuration over a defaults and an
// override map source.
func newTestConfiguration(t *testing.T, defaults, overrides map[string]string) *Configuration {
	t.Helper()
	agg := mustAggregator(t,
		NewMapSource("defaults", DefaultsOrdinal, defaults),
		NewMapSource("overrides", FileOrdinal, overrides),
	)
	cfg, err := NewConfiguration(agg, nil)
	if err != nil {
		t.Fatalf("Failed to create configuration: %v", err)
	}
	return cfg
}

func TestConfiguration_Get(t *testing.T) {
	cfg := newTestConfiguration(t,
		map[string]string{"server.port": "8080", "server.timeout": "5s", "debug": "off"},
		map[string]string{"server.port": "9090", "tags": "a,b"},
	)

	port, err := Get[int](cfg, "server.port")
	if err != nil {
		t.Fatalf("Failed to get port: %v", err)
	}
	if port != 9090 {
		t.Errorf("Expected override 9090, got %d", port)
	}

	timeout, err := Get[time.Duration](cfg, "server.timeout")
	if err != nil || timeout != 5*time.Second {
		t.Errorf("Expected 5s, got %v %v", timeout, err)
	}

	debug, err := Get[bool](cfg, "debug")
	if err != nil || debug {
		t.Errorf("Expected debug=false, got %v %v", debug, err)
	}

	tags, err := Get[[]string](cfg, "tags")
	if err != nil || !reflect.DeepEqual(tags, []string{"a", "b"}) {
		t.Errorf("Expected [a b], got %v %v", tags, err)
	}

	s, err := cfg.GetString("server.port")
	if err != nil || s != "9090" {
		t.Errorf("Expected raw 9090, got %q %v", s, err)
	}

	if _, err := Get[int](cfg, "absent"); !HasCode(err, ErrCodeKeyNotFound) {
		t.Errorf("Expected key not found, got %v", err)
	}
	if _, err := cfg.GetString("absent"); !HasCode(err, ErrCodeKeyNotFound) {
		t.Errorf("Expected key not found, got %v", err)
	}
}

func TestConfiguration_GetOrDefault(t *testing.T) {
	cfg := newTestConfiguration(t, map[string]string{"workers": "4", "broken": "many"}, nil)

	tests := []struct {
		name    string
		key     string
		def     int
		want    int
		wantErr bool
	}{
		{"present", "workers", 1, 4, false},
		{"absent uses default", "missing", 7, 7, false},
		{"conversion failure not masked", "broken", 7, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GetOrDefault(cfg, tt.key, tt.def)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if got != tt.want {
				t.Errorf("Expected %d, got %d", tt.want, got)
			}
		})
	}

	v, err := cfg.GetOrDefault("missing", reflect.TypeFor[string](), "fallback")
	if err != nil || v != "fallback" {
		t.Errorf("Expected fallback, got %v %v", v, err)
	}
}

func TestConfiguration_ConflictSurfaces(t *testing.T) {
	agg := mustAggregator(t,
		NewMapSource("a", 100, map[string]string{"k": "1"}),
		NewMapSource("b", 100, map[string]string{"k": "2"}),
	)
	cfg, err := NewConfiguration(agg, nil)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := Get[int](cfg, "k"); !HasCode(err, ErrCodeConflictingValue) {
		t.Errorf("Expected conflicting value error, got %v", err)
	}
	if _, err := GetOrDefault(cfg, "k", 3); !HasCode(err, ErrCodeConflictingValue) {
		t.Errorf("Expected conflict not masked by default, got %v", err)
	}
}

func TestConfiguration_Filters(t *testing.T) {
	cfg := newTestConfiguration(t, map[string]string{
		"db.password":   "hunter2",
		"db.host":       "localhost",
		"internal.seed": "42",
	}, nil)
	cfg.Aggregator().AddFilters(RedactFilter(), ExcludeFilter("internal."))

	pv, err := cfg.Value("db.password")
	if err != nil || pv.Value() != RedactedValue {
		t.Errorf("Expected redacted password, got %v %v", pv, err)
	}
	raw, err := cfg.EvaluateRawValue("db.password")
	if err != nil || raw.Value() != "hunter2" {
		t.Errorf("Expected raw value unfiltered, got %v %v", raw, err)
	}

	if pv, err := cfg.Value("internal.seed"); err != nil || pv != nil {
		t.Errorf("Expected excluded key hidden, got %v %v", pv, err)
	}
	if _, err := Get[int](cfg, "internal.seed"); !HasCode(err, ErrCodeKeyNotFound) {
		t.Errorf("Expected excluded key to read as absent, got %v", err)
	}

	props, err := cfg.Properties()
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"db.password": RedactedValue, "db.host": "localhost"}
	if !reflect.DeepEqual(props, want) {
		t.Errorf("Expected %v, got %v", want, props)
	}
}

type bindServer struct {
	Host    string        `strata:"host"`
	Port    int           `strata:"port"`
	Timeout time.Duration `strata:"timeout"`
	Tags    []string      `strata:"tags"`
	TLS     struct {
		Enabled bool   `strata:"enabled"`
		CA      string `strata:"ca"`
	} `strata:"tls"`
	Color colorName `strata:"color"`
}

func TestConfiguration_Bind(t *testing.T) {
	cfg := newTestConfiguration(t, map[string]string{
		"server.host":        "localhost",
		"server.port":        "8080",
		"server.timeout":     "1m",
		"server.tags":        "a, b",
		"server.tls.enabled": "yes",
		"server.tls.ca":      "/etc/ca.pem",
		"server.color":       "BLUE",
		"other.key":          "ignored",
	}, nil)

	var s bindServer
	if err := cfg.Bind("server", &s); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}

	if s.Host != "localhost" || s.Port != 8080 || s.Timeout != time.Minute {
		t.Errorf("Unexpected scalar fields %+v", s)
	}
	if !reflect.DeepEqual(s.Tags, []string{"a", "b"}) {
		t.Errorf("Expected tags [a b], got %v", s.Tags)
	}
	if !s.TLS.Enabled || s.TLS.CA != "/etc/ca.pem" {
		t.Errorf("Unexpected nested fields %+v", s.TLS)
	}
	if s.Color.name != "blue" {
		t.Errorf("Expected factory-built color, got %+v", s.Color)
	}
}

func TestConfiguration_BindErrors(t *testing.T) {
	cfg := newTestConfiguration(t, map[string]string{"server.port": "eighty"}, nil)

	var s bindServer
	if err := cfg.Bind("server", s); !HasCode(err, ErrCodeInvalidConfig) {
		t.Errorf("Expected non-pointer target rejected, got %v", err)
	}
	if err := cfg.Bind("server", &s); !HasCode(err, ErrCodeConversionFailed) {
		t.Errorf("Expected conversion failure, got %v", err)
	}
}

func TestNestKeys(t *testing.T) {
	props := map[string]string{
		"a":       "leaf",
		"a.b":     "1",
		"a.c.d":   "2",
		"x.y":     "3",
		"prefix.": "skip",
	}
	got := nestKeys(props, "")
	a, ok := got["a"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected parent to replace leaf, got %v", got["a"])
	}
	if a["b"] != "1" || a["c"].(map[string]interface{})["d"] != "2" {
		t.Errorf("Unexpected nesting %v", a)
	}

	sub := nestKeys(props, "x")
	if !reflect.DeepEqual(sub, map[string]interface{}{"y": "3"}) {
		t.Errorf("Expected {y:3}, got %v", sub)
	}
}

func TestConfigBinder_Apply(t *testing.T) {
	cfg := newTestConfiguration(t, map[string]string{
		"name":    "svc",
		"workers": "8",
		"limit":   "1099511627776",
		"verbose": "true",
		"ratio":   "0.75",
		"ttl":     "30s",
		"hosts":   "a,b",
	}, nil)

	var (
		name      string
		workers   int
		limit     int64
		verbose   bool
		ratio     float64
		ttl       time.Duration
		hosts     []string
		missing   = "untouched"
		defaulted int
	)

	binder := cfg.Binder().
		BindString(&name, "name").
		BindInt(&workers, "workers").
		BindInt64(&limit, "limit").
		BindBool(&verbose, "verbose").
		BindFloat64(&ratio, "ratio").
		BindDuration(&ttl, "ttl").
		BindStringSlice(&hosts, "hosts").
		BindString(&missing, "absent.string").
		BindInt(&defaulted, "absent.int", 3)

	if err := binder.Apply(); err != nil {
		t.Fatalf("Apply failed: %v", err)
	}

	if name != "svc" || workers != 8 || limit != 1<<40 || !verbose || ratio != 0.75 || ttl != 30*time.Second {
		t.Errorf("Unexpected bound values: %s %d %d %v %v %v", name, workers, limit, verbose, ratio, ttl)
	}
	if !reflect.DeepEqual(hosts, []string{"a", "b"}) {
		t.Errorf("Expected [a b], got %v", hosts)
	}
	if missing != "" {
		t.Errorf("Expected zero value for absent key without default, got %q", missing)
	}
	if defaulted != 3 {
		t.Errorf("Expected default 3, got %d", defaulted)
	}
	if keys := binder.Keys(); len(keys) != 9 || keys[0] != "name" {
		t.Errorf("Unexpected keys %v", keys)
	}
}

func TestConfigBinder_ApplyError(t *testing.T) {
	cfg := newTestConfiguration(t, map[string]string{"first": "ok", "port": "x"}, nil)

	var first string
	var port int
	err := cfg.Binder().BindString(&first, "first").BindInt(&port, "port").Apply()
	if !HasCode(err, ErrCodeInvalidConfig) || !strings.Contains(err.Error(), "port") {
		t.Fatalf("Expected binding error naming the key, got %v", err)
	}
	if first != "ok" {
		t.Errorf("Expected earlier binding applied, got %q", first)
	}
}

func TestConfiguration_OperatorsAndEquality(t *testing.T) {
	defaults := map[string]string{"k": "v"}
	a := newTestConfiguration(t, defaults, nil)
	b := newTestConfiguration(t, defaults, nil)

	if !a.Equal(b) {
		t.Error("Expected configurations over equal sources to be equal")
	}
	var nilCfg *Configuration
	if a.Equal(nilCfg) || !nilCfg.Equal(nil) {
		t.Error("Unexpected nil equality")
	}
	if !strings.Contains(a.String(), "defaults") {
		t.Errorf("Expected source names in %q", a.String())
	}

	same, err := a.With(nil)
	if err != nil || same != a {
		t.Error("Expected nil operator to return the same configuration")
	}
	derived, err := a.With(func(c *Configuration) (*Configuration, error) {
		agg := mustAggregator(t, NewMapSource("extra", 500, map[string]string{"k": "w"}))
		return NewConfiguration(agg, c.Converters())
	})
	if err != nil {
		t.Fatal(err)
	}
	if s, _ := derived.GetString("k"); s != "w" {
		t.Errorf("Expected derived value w, got %q", s)
	}

	n, err := Query(a, func(c *Configuration) (int, error) {
		props, err := c.Properties()
		return len(props), err
	})
	if err != nil || n != 1 {
		t.Errorf("Expected 1 property, got %d %v", n, err)
	}

	if _, err := NewConfiguration(nil, nil); !HasCode(err, ErrCodeInvalidConfig) {
		t.Errorf("Expected nil aggregator rejected, got %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}

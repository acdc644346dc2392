// audit_store_test.go: Tests for the SQLite audit backend and store
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"path/filepath"
	"testing"
	"time"
)

// seedAuditDB writes a few events through a SQLite-backed logger and returns
// the database path.
func seedAuditDB(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.db")
	auditor, err := NewAuditLogger(AuditConfig{Enabled: true, OutputFile: path, BufferSize: 100})
	if err != nil {
		t.Fatalf("Failed to create SQLite audit logger: %v", err)
	}

	auditor.Log(AuditInfo, "module_started", "modules", "", nil, nil, map[string]interface{}{"module": "alpha"})
	auditor.Log(AuditWarn, "ambiguous_service", "registry", "", nil, nil, map[string]interface{}{"capability": "greeter"})
	auditor.Log(AuditCritical, "backend_failed", "registry", "", nil, nil, nil)
	auditor.Log(AuditInfo, "reload", "watcher", "/etc/app.yaml", nil, nil, nil)

	if err := auditor.Close(); err != nil {
		t.Fatalf("Failed to close audit logger: %v", err)
	}
	return path
}

func openStore(t *testing.T, path string) *AuditStore {
	t.Helper()
	store, err := OpenAuditStore(path)
	if err != nil {
		t.Fatalf("Failed to open audit store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestAuditStore_Query(t *testing.T) {
	store := openStore(t, seedAuditDB(t))

	tests := []struct {
		name   string
		query  AuditQuery
		events []string
	}{
		{"all newest first", AuditQuery{}, []string{"reload", "backend_failed", "ambiguous_service", "module_started"}},
		{"by component", AuditQuery{Component: "registry"}, []string{"backend_failed", "ambiguous_service"}},
		{"by event", AuditQuery{Event: "module_started"}, []string{"module_started"}},
		{"by file", AuditQuery{FilePath: "/etc/app.yaml"}, []string{"reload"}},
		{"min level", AuditQuery{MinLevel: "warn"}, []string{"backend_failed", "ambiguous_service"}},
		{"limit", AuditQuery{Limit: 1}, []string{"reload"}},
		{"since", AuditQuery{Since: time.Hour, Component: "watcher"}, []string{"reload"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := store.Query(tt.query)
			if err != nil {
				t.Fatalf("Query failed: %v", err)
			}
			if len(records) != len(tt.events) {
				t.Fatalf("Expected %d records, got %d", len(tt.events), len(records))
			}
			for i, r := range records {
				if r.Event != tt.events[i] {
					t.Errorf("Position %d: expected %s, got %s", i, tt.events[i], r.Event)
				}
			}
		})
	}
}

func TestAuditStore_QueryDecodesContext(t *testing.T) {
	store := openStore(t, seedAuditDB(t))

	records, err := store.Query(AuditQuery{Event: "ambiguous_service"})
	if err != nil || len(records) != 1 {
		t.Fatalf("Expected one record, got %v %v", records, err)
	}
	r := records[0]
	if r.Context["capability"] != "greeter" {
		t.Errorf("Expected decoded context, got %v", r.Context)
	}
	if r.Level != "WARN" || r.Checksum == "" {
		t.Errorf("Unexpected record %+v", r)
	}
}

func TestAuditStore_QueryInvalidLevel(t *testing.T) {
	store := openStore(t, seedAuditDB(t))
	if _, err := store.Query(AuditQuery{MinLevel: "loud"}); !HasCode(err, ErrCodeInvalidConfig) {
		t.Errorf("Expected invalid level error, got %v", err)
	}
}

func TestAuditStore_Cleanup(t *testing.T) {
	store := openStore(t, seedAuditDB(t))

	if _, err := store.Cleanup(0, false); !HasCode(err, ErrCodeInvalidConfig) {
		t.Errorf("Expected non-positive age rejected, got %v", err)
	}

	n, err := store.Cleanup(time.Hour, true)
	if err != nil {
		t.Fatalf("Dry run failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected no events older than an hour, got %d", n)
	}

	n, err = store.Cleanup(time.Hour, false)
	if err != nil || n != 0 {
		t.Errorf("Expected nothing deleted, got %d %v", n, err)
	}

	records, _ := store.Query(AuditQuery{})
	if len(records) != 4 {
		t.Errorf("Expected all 4 events kept, got %d", len(records))
	}
}

func TestAuditStore_Stats(t *testing.T) {
	store := openStore(t, seedAuditDB(t))

	stats, err := store.Stats()
	if err != nil {
		t.Fatalf("Stats failed: %v", err)
	}
	if stats.TotalEvents != 4 {
		t.Errorf("Expected 4 events, got %d", stats.TotalEvents)
	}
	if stats.EventsByComponent["registry"] != 2 {
		t.Errorf("Expected 2 registry events, got %d", stats.EventsByComponent["registry"])
	}
	if stats.EventsByLevel["INFO"] != 2 {
		t.Errorf("Expected 2 INFO events, got %d", stats.EventsByLevel["INFO"])
	}
	if stats.SchemaVersion != 2 {
		t.Errorf("Expected schema version 2, got %d", stats.SchemaVersion)
	}
	if stats.OldestEvent == nil || stats.NewestEvent == nil {
		t.Error("Expected an event time range")
	}
}

func TestOpenAuditStore_RejectsNonDatabasePath(t *testing.T) {
	if _, err := OpenAuditStore(filepath.Join(t.TempDir(), "audit.jsonl")); !HasCode(err, ErrCodeInvalidAuditConfig) {
		t.Errorf("Expected non .db path rejected, got %v", err)
	}
}

func TestAuditStore_Path(t *testing.T) {
	path := seedAuditDB(t)
	store := openStore(t, path)
	if store.Path() != path {
		t.Errorf("Expected %s, got %s", path, store.Path())
	}
}

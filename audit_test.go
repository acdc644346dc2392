// audit_test.go: Tests for the audit logger and its JSONL backend
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// newJSONLAuditor opens an audit logger writing to a temporary JSONL file.
func newJSONLAuditor(t *testing.T, minLevel AuditLevel, bufferSize int) (*AuditLogger, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	auditor, err := NewAuditLogger(AuditConfig{
		Enabled:    true,
		OutputFile: path,
		MinLevel:   minLevel,
		BufferSize: bufferSize,
	})
	if err != nil {
		t.Fatalf("Failed to create audit logger: %v", err)
	}
	t.Cleanup(func() {
		if err := auditor.Close(); err != nil {
			t.Errorf("Failed to close auditor: %v", err)
		}
	})
	return auditor, path
}

// readAuditEvents decodes every line of a JSONL audit file.
func readAuditEvents(t *testing.T, path string) []AuditEvent {
	t.Helper()
	f, err := os.Open(path) // #nosec G304 -- test temp file
	if err != nil {
		t.Fatalf("Failed to open audit file: %v", err)
	}
	defer func() { _ = f.Close() }()

	var events []AuditEvent
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e AuditEvent
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			t.Fatalf("Invalid audit line %q: %v", scanner.Text(), err)
		}
		events = append(events, e)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("Failed to read audit file: %v", err)
	}
	return events
}

func TestAuditLogger_JSONL(t *testing.T) {
	auditor, path := newJSONLAuditor(t, AuditInfo, 10)

	auditor.Log(AuditWarn, "ambiguous_service", "registry", "", nil, nil, map[string]interface{}{
		"capability": "strata.greeter",
		"priority":   10,
	})
	auditor.Log(AuditInfo, "value_changed", "watcher", "/etc/app.yaml", "old", "new", nil)

	if err := auditor.Flush(); err != nil {
		t.Fatalf("Failed to flush auditor: %v", err)
	}

	events := readAuditEvents(t, path)
	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}

	first := events[0]
	if first.Event != "ambiguous_service" || first.Component != "registry" || first.Level != AuditWarn {
		t.Errorf("Unexpected first event %+v", first)
	}
	if first.Context["capability"] != "strata.greeter" {
		t.Errorf("Expected capability context, got %v", first.Context)
	}
	if len(first.Checksum) != 64 {
		t.Errorf("Expected SHA-256 checksum, got %q", first.Checksum)
	}
	if first.ProcessID != os.Getpid() {
		t.Errorf("Expected pid %d, got %d", os.Getpid(), first.ProcessID)
	}

	second := events[1]
	if second.FilePath != "/etc/app.yaml" || second.OldValue != "old" || second.NewValue != "new" {
		t.Errorf("Unexpected second event %+v", second)
	}
	if first.Checksum == second.Checksum {
		t.Error("Expected distinct checksums for distinct events")
	}
}

func TestAuditLogger_MinLevel(t *testing.T) {
	auditor, path := newJSONLAuditor(t, AuditWarn, 10)

	auditor.Log(AuditInfo, "dropped", "test", "", nil, nil, nil)
	auditor.Log(AuditCritical, "kept", "test", "", nil, nil, nil)
	auditor.LogSecurityEvent("unsafe_path", "path traversal attempt", nil)

	if err := auditor.Flush(); err != nil {
		t.Fatal(err)
	}
	events := readAuditEvents(t, path)
	if len(events) != 2 {
		t.Fatalf("Expected 2 events at or above WARN, got %d", len(events))
	}
	if events[0].Event != "kept" {
		t.Errorf("Expected kept, got %s", events[0].Event)
	}
	if events[1].Level != AuditSecurity || events[1].Context["details"] != "path traversal attempt" {
		t.Errorf("Unexpected security event %+v", events[1])
	}
}

func TestAuditLogger_BufferFlushesWhenFull(t *testing.T) {
	auditor, path := newJSONLAuditor(t, AuditInfo, 2)

	auditor.Log(AuditInfo, "one", "test", "", nil, nil, nil)
	auditor.Log(AuditInfo, "two", "test", "", nil, nil, nil)

	// No explicit flush: the second event filled the buffer.
	if events := readAuditEvents(t, path); len(events) != 2 {
		t.Errorf("Expected 2 events written on full buffer, got %d", len(events))
	}
}

func TestAuditLogger_PeriodicFlush(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	auditor, err := NewAuditLogger(AuditConfig{
		Enabled:       true,
		OutputFile:    path,
		BufferSize:    100,
		FlushInterval: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = auditor.Close() }()

	auditor.Log(AuditInfo, "tick", "test", "", nil, nil, nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if data, _ := os.ReadFile(path); len(data) > 0 { // #nosec G304 -- test temp file
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Error("Expected background flush to write the event")
}

func TestAuditLogger_NilAndDisabled(t *testing.T) {
	var nilLogger *AuditLogger
	nilLogger.Log(AuditCritical, "ignored", "test", "", nil, nil, nil)
	nilLogger.LogSecurityEvent("ignored", "details", nil)
	if err := nilLogger.Flush(); err != nil {
		t.Errorf("Expected nil flush to succeed, got %v", err)
	}
	if err := nilLogger.Close(); err != nil {
		t.Errorf("Expected nil close to succeed, got %v", err)
	}

	path := filepath.Join(t.TempDir(), "disabled.jsonl")
	disabled, err := NewAuditLogger(AuditConfig{OutputFile: path, BufferSize: 1})
	if err != nil {
		t.Fatal(err)
	}
	disabled.Log(AuditCritical, "ignored", "test", "", nil, nil, nil)
	if err := disabled.Close(); err != nil {
		t.Fatal(err)
	}
	if events := readAuditEvents(t, path); len(events) != 0 {
		t.Errorf("Expected no events from a disabled logger, got %d", len(events))
	}
}

func TestAuditLogger_CloseTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	auditor, err := NewAuditLogger(AuditConfig{Enabled: true, OutputFile: path, BufferSize: 10, FlushInterval: time.Second})
	if err != nil {
		t.Fatal(err)
	}
	auditor.Log(AuditInfo, "last", "test", "", nil, nil, nil)

	if err := auditor.Close(); err != nil {
		t.Fatalf("First close failed: %v", err)
	}
	if err := auditor.Close(); err != nil {
		t.Errorf("Second close failed: %v", err)
	}
	if events := readAuditEvents(t, path); len(events) != 1 {
		t.Errorf("Expected pending event flushed on close, got %d", len(events))
	}

	// Writes after close are dropped by the closed backend.
	auditor.Log(AuditInfo, "late", "test", "", nil, nil, nil)
	if err := auditor.Flush(); err == nil {
		t.Error("Expected flush to a closed backend to fail")
	}
}

func TestParseAuditLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    AuditLevel
		wantErr bool
	}{
		{"info", AuditInfo, false},
		{" WARN ", AuditWarn, false},
		{"warning", AuditWarn, false},
		{"critical", AuditCritical, false},
		{"error", AuditCritical, false},
		{"security", AuditSecurity, false},
		{"verbose", AuditInfo, true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAuditLevel(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
		})
	}
}

func TestAuditLevel_String(t *testing.T) {
	levels := map[AuditLevel]string{
		AuditInfo:      "INFO",
		AuditWarn:      "WARN",
		AuditCritical:  "CRITICAL",
		AuditSecurity:  "SECURITY",
		AuditLevel(42): "UNKNOWN",
	}
	for l, want := range levels {
		if l.String() != want {
			t.Errorf("Expected %s, got %s", want, l.String())
		}
	}
}

func TestCreateAuditBackend_Selection(t *testing.T) {
	dir := t.TempDir()

	jsonl, err := createAuditBackend(AuditConfig{OutputFile: filepath.Join(dir, "a.jsonl")})
	if err != nil {
		t.Fatalf("Failed to create JSONL backend: %v", err)
	}
	defer func() { _ = jsonl.Close() }()
	if _, ok := jsonl.(*jsonlAuditBackend); !ok {
		t.Errorf("Expected JSONL backend, got %T", jsonl)
	}

	db, err := createAuditBackend(AuditConfig{OutputFile: filepath.Join(dir, "a.db")})
	if err != nil {
		t.Fatalf("Failed to create SQLite backend: %v", err)
	}
	defer func() { _ = db.Close() }()
	if _, ok := db.(*sqliteAuditBackend); !ok {
		t.Errorf("Expected SQLite backend, got %T", db)
	}

	if _, err := newJSONLBackend(AuditConfig{}); !HasCode(err, ErrCodeInvalidAuditConfig) {
		t.Errorf("Expected JSONL without path to fail, got %v", err)
	}
}

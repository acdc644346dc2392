// audit_store.go: Read access to a stored SQLite audit trail
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/agilira/go-errors"
)

// AuditQuery filters stored events. Zero fields match everything.
type AuditQuery struct {
	Since     time.Duration
	Event     string
	Component string
	FilePath  string
	MinLevel  string
	Limit     int
}

// AuditRecord is a stored audit event.
type AuditRecord struct {
	ID          int64                  `json:"id"`
	Timestamp   string                 `json:"timestamp"`
	Level       string                 `json:"level"`
	Event       string                 `json:"event"`
	Component   string                 `json:"component"`
	FilePath    string                 `json:"file_path,omitempty"`
	ProcessName string                 `json:"process_name"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Checksum    string                 `json:"checksum"`
}

// AuditStore opens an existing SQLite audit database for inspection.
type AuditStore struct {
	backend *sqliteAuditBackend
}

// OpenAuditStore opens the database at path, or the unified database when
// path is empty.
func OpenAuditStore(path string) (*AuditStore, error) {
	if path != "" && !strings.HasSuffix(path, ".db") {
		return nil, errors.New(ErrCodeInvalidAuditConfig, "audit store path must end in .db").
			WithContext("path", path)
	}
	backend, err := newSQLiteBackend(AuditConfig{OutputFile: path})
	if err != nil {
		return nil, err
	}
	return &AuditStore{backend: backend}, nil
}

// Path returns the database path.
func (s *AuditStore) Path() string { return s.backend.dbPath }

// Query returns matching events, newest first.
func (s *AuditStore) Query(q AuditQuery) ([]AuditRecord, error) {
	var where []string
	var args []interface{}
	if q.Since > 0 {
		where = append(where, "created_at >= ?")
		args = append(args, sqliteCutoff(q.Since))
	}
	if q.Event != "" {
		where = append(where, "event = ?")
		args = append(args, q.Event)
	}
	if q.Component != "" {
		where = append(where, "component = ?")
		args = append(args, q.Component)
	}
	if q.FilePath != "" {
		where = append(where, "file_path = ?")
		args = append(args, q.FilePath)
	}
	if q.MinLevel != "" {
		min, err := ParseAuditLevel(q.MinLevel)
		if err != nil {
			return nil, err
		}
		var levels []string
		for l := min; l <= AuditSecurity; l++ {
			levels = append(levels, "?")
			args = append(args, l.String())
		}
		where = append(where, "level IN ("+strings.Join(levels, ",")+")")
	}

	query := "SELECT id, timestamp, level, event, component, file_path, process_name, context, checksum FROM audit_events"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id DESC"
	if q.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, q.Limit)
	}

	rows, err := s.backend.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to query audit events")
	}
	defer func() { _ = rows.Close() }()

	var out []AuditRecord
	for rows.Next() {
		var r AuditRecord
		var filePath, ctxJSON *string
		if err := rows.Scan(&r.ID, &r.Timestamp, &r.Level, &r.Event, &r.Component, &filePath, &r.ProcessName, &ctxJSON, &r.Checksum); err != nil {
			return nil, errors.Wrap(err, ErrCodeIOError, "failed to scan audit event")
		}
		if filePath != nil {
			r.FilePath = *filePath
		}
		if ctxJSON != nil && *ctxJSON != "" {
			if err := json.Unmarshal([]byte(*ctxJSON), &r.Context); err != nil {
				return nil, errors.Wrap(err, ErrCodeSerializationError, "failed to decode audit context").
					WithContext("id", r.Checksum)
			}
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to read audit events")
	}
	return out, nil
}

// Cleanup deletes events older than age and returns how many were removed.
// With dryRun it only counts them.
func (s *AuditStore) Cleanup(age time.Duration, dryRun bool) (int64, error) {
	if age <= 0 {
		return 0, errors.New(ErrCodeInvalidConfig, "cleanup age must be positive")
	}
	if dryRun {
		return s.backend.countOlderThan(age)
	}
	return s.backend.deleteOlderThan(age)
}

// Stats summarizes the stored trail.
func (s *AuditStore) Stats() (*AuditDatabaseStats, error) {
	return s.backend.GetStats()
}

// Close releases the database.
func (s *AuditStore) Close() error {
	return s.backend.Close()
}

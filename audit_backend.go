// audit_backend.go: Storage backends for the audit trail
//
// Events are stored in a SQLite database by default, falling back to a
// JSONL file when SQLite cannot be opened. AuditStore exposes the stored
// trail for querying and retention.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agilira/go-errors"
	_ "github.com/mattn/go-sqlite3" // SQLite driver registration
)

// auditBackend stores batches of audit events.
type auditBackend interface {
	// Write persists a batch of events. Implementations must be safe for
	// concurrent use.
	Write(events []AuditEvent) error

	// Flush commits pending writes to storage.
	Flush() error

	// Close releases all resources. The backend must not be used afterwards.
	Close() error

	// Maintenance runs retention and optimization tasks.
	Maintenance() error

	// GetStats returns statistics about the stored events.
	GetStats() (*AuditDatabaseStats, error)
}

// createAuditBackend picks a backend: a .jsonl OutputFile selects JSONL,
// anything else tries SQLite first and falls back to JSONL.
func createAuditBackend(config AuditConfig) (auditBackend, error) {
	if config.OutputFile != "" && filepath.Ext(config.OutputFile) == ".jsonl" {
		return newJSONLBackend(config)
	}

	backend, err := newSQLiteBackend(config)
	if err == nil {
		return backend, nil
	}

	jsonlBackend, jsonlErr := newJSONLBackend(config)
	if jsonlErr != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidAuditConfig, "all audit backends failed").
			WithContext("jsonl_error", jsonlErr.Error())
	}
	return jsonlBackend, nil
}

// getUnifiedAuditPath returns the shared SQLite database used when no .db
// OutputFile is configured.
func getUnifiedAuditPath() string {
	return filepath.Join(os.TempDir(), "strata", "system-audit.db")
}

// sqliteAuditBackend stores events in SQLite. sourceFile records the
// configured OutputFile so events from different loggers stay traceable.
type sqliteAuditBackend struct {
	db         *sql.DB
	dbPath     string
	sourceFile string
	insertStmt *sql.Stmt
	mu         sync.RWMutex
	closed     bool
}

func newSQLiteBackend(config AuditConfig) (*sqliteAuditBackend, error) {
	dbPath, err := setupDatabasePath(config)
	if err != nil {
		return nil, err
	}

	db, err := openSQLiteDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	backend := &sqliteAuditBackend{
		db:         db,
		dbPath:     dbPath,
		sourceFile: config.OutputFile,
	}
	if err := initializeBackendComponents(backend); err != nil {
		return nil, err
	}
	return backend, nil
}

// setupDatabasePath uses OutputFile when it ends in .db, otherwise the
// unified path, and creates the parent directory.
func setupDatabasePath(config AuditConfig) (string, error) {
	dbPath := getUnifiedAuditPath()
	if config.OutputFile != "" && filepath.Ext(config.OutputFile) == ".db" {
		dbPath = config.OutputFile
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0750); err != nil {
		return "", errors.Wrap(err, ErrCodeIOError, "failed to create audit database directory").
			WithContext("path", dbPath)
	}
	return dbPath, nil
}

// openSQLiteDatabase opens the database in WAL mode. Readers never block the
// writer and a locked database is retried for up to five seconds.
func openSQLiteDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_cache_size=1000", dbPath))
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to open audit database").
			WithContext("path", dbPath)
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to ping audit database").
			WithContext("path", dbPath)
	}
	return db, nil
}

func initializeBackendComponents(backend *sqliteAuditBackend) error {
	if err := backend.initializeSchema(); err != nil {
		_ = backend.Close()
		return errors.Wrap(err, ErrCodeIOError, "failed to initialize audit database schema")
	}

	if err := backend.prepareStatements(); err != nil {
		_ = backend.Close()
		return errors.Wrap(err, ErrCodeIOError, "failed to prepare audit database statements")
	}

	// Retention is best effort; a failing cleanup must not block startup.
	_ = backend.performMaintenance()
	return nil
}

// ensureSchemaVersion migrates the schema forward to currentSchemaVersion.
//   - Version 1: audit_events table with basic indexes
//   - Version 2: composite indexes for query patterns
func (s *sqliteAuditBackend) ensureSchemaVersion() error {
	const currentSchemaVersion = 2

	createSchemaInfoSQL := `
	CREATE TABLE IF NOT EXISTS schema_info (
		version INTEGER PRIMARY KEY,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`
	if _, err := s.db.Exec(createSchemaInfoSQL); err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to create schema_info table")
	}

	var version int
	err := s.db.QueryRow("SELECT version FROM schema_info ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return errors.Wrap(err, ErrCodeIOError, "failed to check schema version")
	}

	if version < currentSchemaVersion {
		if err := s.migrateSchema(version, currentSchemaVersion); err != nil {
			return errors.Wrap(err, ErrCodeIOError, fmt.Sprintf("schema migration from v%d to v%d failed", version, currentSchemaVersion))
		}
		_, err := s.db.Exec(`
			INSERT OR REPLACE INTO schema_info (version, updated_at)
			VALUES (?, CURRENT_TIMESTAMP)
		`, currentSchemaVersion)
		if err != nil {
			return errors.Wrap(err, ErrCodeIOError, "failed to update schema version")
		}
	}
	return nil
}

// migrateSchema applies migrations oldVersion+1..newVersion in one transaction.
func (s *sqliteAuditBackend) migrateSchema(oldVersion, newVersion int) (err error) {
	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to begin migration transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for version := oldVersion; version < newVersion; version++ {
		switch version {
		case 0:
			if err = s.migrateToV1(tx); err != nil {
				return err
			}
		case 1:
			if err = s.migrateToV2(tx); err != nil {
				return err
			}
		default:
			return errors.New(ErrCodeIOError, fmt.Sprintf("unknown migration path from version %d", version))
		}
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to commit migration transaction")
	}
	return nil
}

func (s *sqliteAuditBackend) migrateToV1(tx *sql.Tx) error {
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS audit_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		level TEXT NOT NULL,
		event TEXT NOT NULL,
		component TEXT NOT NULL,
		original_output_file TEXT NOT NULL,
		file_path TEXT,
		old_value TEXT,
		new_value TEXT,
		process_id INTEGER NOT NULL,
		process_name TEXT NOT NULL,
		context TEXT,
		checksum TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`
	if _, err := tx.Exec(createTableSQL); err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to create audit_events table")
	}

	basicIndexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_audit_timestamp ON audit_events(timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_audit_level ON audit_events(level)",
		"CREATE INDEX IF NOT EXISTS idx_audit_component ON audit_events(component)",
		"CREATE INDEX IF NOT EXISTS idx_audit_source ON audit_events(original_output_file)",
		"CREATE INDEX IF NOT EXISTS idx_audit_created_at ON audit_events(created_at)",
	}
	for _, indexSQL := range basicIndexes {
		if _, err := tx.Exec(indexSQL); err != nil {
			return errors.Wrap(err, ErrCodeIOError, "failed to create basic index")
		}
	}
	return nil
}

func (s *sqliteAuditBackend) migrateToV2(tx *sql.Tx) error {
	compositeIndexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_audit_component_time ON audit_events(component, timestamp)",
		"CREATE INDEX IF NOT EXISTS idx_audit_level_time ON audit_events(level, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_audit_source_component ON audit_events(original_output_file, component)",
		"CREATE INDEX IF NOT EXISTS idx_audit_event_component ON audit_events(event, component, timestamp)",
	}
	for _, indexSQL := range compositeIndexes {
		if _, err := tx.Exec(indexSQL); err != nil {
			return errors.Wrap(err, ErrCodeIOError, "failed to create composite index")
		}
	}
	return nil
}

// defaultRetention is how long maintenance keeps events.
const defaultRetention = 90 * 24 * time.Hour

// performMaintenance drops events older than defaultRetention and lets
// SQLite refresh planner statistics.
func (s *sqliteAuditBackend) performMaintenance() error {
	if _, err := s.deleteOlderThan(defaultRetention); err != nil {
		return err
	}
	for _, task := range []string{"PRAGMA optimize", "PRAGMA wal_checkpoint(FULL)"} {
		_, _ = s.db.Exec(task)
	}
	return nil
}

// sqliteCutoff formats now-age the way CURRENT_TIMESTAMP stores created_at.
func sqliteCutoff(age time.Duration) string {
	return time.Now().UTC().Add(-age).Format(sqliteTimeLayout)
}

const sqliteTimeLayout = "2006-01-02 15:04:05"

func (s *sqliteAuditBackend) deleteOlderThan(age time.Duration) (int64, error) {
	result, err := s.db.Exec("DELETE FROM audit_events WHERE created_at < ?", sqliteCutoff(age))
	if err != nil {
		return 0, errors.Wrap(err, ErrCodeIOError, "failed to cleanup old audit events")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, ErrCodeIOError, "failed to count deleted audit events")
	}
	return n, nil
}

func (s *sqliteAuditBackend) countOlderThan(age time.Duration) (int64, error) {
	var n int64
	if err := s.db.QueryRow("SELECT COUNT(*) FROM audit_events WHERE created_at < ?", sqliteCutoff(age)).Scan(&n); err != nil {
		return 0, errors.Wrap(err, ErrCodeIOError, "failed to count old audit events")
	}
	return n, nil
}

func (s *sqliteAuditBackend) initializeSchema() error {
	return s.ensureSchemaVersion()
}

func (s *sqliteAuditBackend) prepareStatements() error {
	insertSQL := `
	INSERT INTO audit_events (
		timestamp, level, event, component,
		original_output_file, process_id, process_name,
		file_path, old_value, new_value, context, checksum
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	stmt, err := s.db.Prepare(insertSQL)
	if err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to prepare insert statement")
	}
	s.insertStmt = stmt
	return nil
}

// AuditDatabaseStats summarizes a stored audit trail.
type AuditDatabaseStats struct {
	TotalEvents       int64            `json:"total_events"`
	EventsByLevel     map[string]int64 `json:"events_by_level"`
	EventsByComponent map[string]int64 `json:"events_by_component"`
	OldestEvent       *time.Time       `json:"oldest_event"`
	NewestEvent       *time.Time       `json:"newest_event"`
	DatabaseSize      int64            `json:"database_size_bytes"`
	SchemaVersion     int              `json:"schema_version"`
}

func (s *sqliteAuditBackend) getDatabaseStats() (*AuditDatabaseStats, error) {
	stats := &AuditDatabaseStats{
		EventsByLevel:     make(map[string]int64),
		EventsByComponent: make(map[string]int64),
	}

	if err := s.db.QueryRow("SELECT COUNT(*) FROM audit_events").Scan(&stats.TotalEvents); err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to get total events count")
	}
	if err := s.countGrouped("level", stats.EventsByLevel); err != nil {
		return nil, err
	}
	if err := s.countGrouped("component", stats.EventsByComponent); err != nil {
		return nil, err
	}
	if err := s.getEventTimeRange(stats); err != nil {
		return nil, err
	}

	err := s.db.QueryRow("SELECT version FROM schema_info ORDER BY version DESC LIMIT 1").Scan(&stats.SchemaVersion)
	if err != nil && err != sql.ErrNoRows {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to get schema version")
	}

	if info, err := os.Stat(s.dbPath); err == nil {
		stats.DatabaseSize = info.Size()
	}
	return stats, nil
}

// countGrouped fills out with event counts grouped by column, which must be
// one of the fixed column names below.
func (s *sqliteAuditBackend) countGrouped(column string, out map[string]int64) error {
	var query string
	switch column {
	case "level":
		query = "SELECT level, COUNT(*) FROM audit_events GROUP BY level"
	case "component":
		query = "SELECT component, COUNT(*) FROM audit_events GROUP BY component"
	default:
		return errors.New(ErrCodeInvalidConfig, "unsupported grouping column: "+column)
	}

	rows, err := s.db.Query(query)
	if err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to get events by "+column)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var key string
		var count int64
		if err := rows.Scan(&key, &count); err != nil {
			return errors.Wrap(err, ErrCodeIOError, "failed to scan "+column+" stats")
		}
		out[key] = count
	}
	return rows.Err()
}

func (s *sqliteAuditBackend) getEventTimeRange(stats *AuditDatabaseStats) error {
	var oldestStr, newestStr sql.NullString
	err := s.db.QueryRow("SELECT MIN(created_at), MAX(created_at) FROM audit_events").Scan(&oldestStr, &newestStr)
	if err != nil && err != sql.ErrNoRows {
		return errors.Wrap(err, ErrCodeIOError, "failed to get event time range")
	}

	if oldestStr.Valid {
		if oldest, err := time.Parse(sqliteTimeLayout, oldestStr.String); err == nil {
			stats.OldestEvent = &oldest
		}
	}
	if newestStr.Valid {
		if newest, err := time.Parse(sqliteTimeLayout, newestStr.String); err == nil {
			stats.NewestEvent = &newest
		}
	}
	return nil
}

// Write inserts the batch in a single transaction.
func (s *sqliteAuditBackend) Write(events []AuditEvent) (err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.New(ErrCodeIOError, "cannot write to closed SQLite audit backend")
	}
	if len(events) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to begin audit transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	txStmt := tx.Stmt(s.insertStmt)
	defer func() { _ = txStmt.Close() }()

	for _, event := range events {
		if err = s.insertEvent(txStmt, event); err != nil {
			return errors.Wrap(err, ErrCodeIOError, "failed to insert audit event").
				WithContext("event", event.Event)
		}
	}

	if err = tx.Commit(); err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to commit audit transaction")
	}
	return nil
}

func marshalOptional(v interface{}) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *sqliteAuditBackend) insertEvent(stmt *sql.Stmt, event AuditEvent) error {
	oldValueJSON, err := marshalOptional(event.OldValue)
	if err != nil {
		return errors.Wrap(err, ErrCodeSerializationError, "failed to serialize old_value")
	}
	newValueJSON, err := marshalOptional(event.NewValue)
	if err != nil {
		return errors.Wrap(err, ErrCodeSerializationError, "failed to serialize new_value")
	}
	var contextJSON string
	if event.Context != nil {
		if contextJSON, err = marshalOptional(event.Context); err != nil {
			return errors.Wrap(err, ErrCodeSerializationError, "failed to serialize context")
		}
	}

	_, err = stmt.Exec(
		event.Timestamp.Format(time.RFC3339Nano),
		event.Level.String(),
		event.Event,
		event.Component,
		s.sourceFile,
		event.ProcessID,
		event.ProcessName,
		event.FilePath,
		oldValueJSON,
		newValueJSON,
		contextJSON,
		event.Checksum,
	)
	return err
}

// Flush checkpoints the WAL.
func (s *sqliteAuditBackend) Flush() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil
	}
	return s.flushLocked()
}

func (s *sqliteAuditBackend) flushLocked() error {
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to flush SQLite audit backend")
	}
	return nil
}

// Maintenance runs retention and optimization.
func (s *sqliteAuditBackend) Maintenance() error {
	return s.performMaintenance()
}

// GetStats returns database statistics.
func (s *sqliteAuditBackend) GetStats() (*AuditDatabaseStats, error) {
	return s.getDatabaseStats()
}

// Close checkpoints the WAL and releases the statement and connection. It is
// safe to call more than once.
func (s *sqliteAuditBackend) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	var msgs []string
	if s.db != nil {
		if err := s.flushLocked(); err != nil {
			msgs = append(msgs, err.Error())
		}
	}
	if s.insertStmt != nil {
		if err := s.insertStmt.Close(); err != nil {
			msgs = append(msgs, "insert statement: "+err.Error())
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			msgs = append(msgs, "database: "+err.Error())
		}
	}

	if len(msgs) > 0 {
		return errors.New(ErrCodeIOError, "errors closing SQLite audit backend: "+strings.Join(msgs, "; "))
	}
	return nil
}

// jsonlAuditBackend appends one JSON object per line to OutputFile.
type jsonlAuditBackend struct {
	file       *os.File
	sourceFile string
	mu         sync.Mutex
	closed     bool
}

func newJSONLBackend(config AuditConfig) (*jsonlAuditBackend, error) {
	if config.OutputFile == "" {
		return nil, errors.New(ErrCodeInvalidAuditConfig, "JSONL backend requires OutputFile to be specified")
	}

	if err := os.MkdirAll(filepath.Dir(config.OutputFile), 0750); err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to create JSONL audit log directory")
	}

	file, err := os.OpenFile(config.OutputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeIOError, "failed to open JSONL audit log file").
			WithContext("path", config.OutputFile)
	}

	return &jsonlAuditBackend{file: file, sourceFile: config.OutputFile}, nil
}

// Write appends the batch, one event per line.
func (j *jsonlAuditBackend) Write(events []AuditEvent) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return errors.New(ErrCodeIOError, "cannot write to closed JSONL audit backend")
	}

	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			return errors.Wrap(err, ErrCodeSerializationError, "failed to serialize audit event")
		}
		if _, err := j.file.Write(append(data, '\n')); err != nil {
			return errors.Wrap(err, ErrCodeIOError, "failed to write audit event to JSONL")
		}
	}
	return nil
}

// Flush syncs the file.
func (j *jsonlAuditBackend) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	if err := j.file.Sync(); err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to sync JSONL audit file")
	}
	return nil
}

// Maintenance is a no-op; rotation of JSONL files is left to the host.
func (j *jsonlAuditBackend) Maintenance() error {
	return nil
}

// GetStats reports the file size only.
func (j *jsonlAuditBackend) GetStats() (*AuditDatabaseStats, error) {
	stats := &AuditDatabaseStats{
		EventsByLevel:     make(map[string]int64),
		EventsByComponent: make(map[string]int64),
		SchemaVersion:     1,
	}
	if info, err := os.Stat(j.sourceFile); err == nil {
		stats.DatabaseSize = info.Size()
	}
	return stats, nil
}

// Close closes the file. It is safe to call more than once.
func (j *jsonlAuditBackend) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	if j.file != nil {
		return j.file.Close()
	}
	return nil
}

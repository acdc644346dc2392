// audit.go: Audit trail for resolution diagnostics
//
// Components record notable events here: service ambiguity, failing
// discovery backends, malformed module resources, module lifecycle changes,
// value conflicts and conversion failures.
//
// Features:
// - Checksummed events for tamper detection
// - Structured context per event
// - Buffered writes with background flushing
// - Pluggable SQLite and JSONL storage
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
)

// AuditLevel orders audit events by severity.
type AuditLevel int

const (
	AuditInfo AuditLevel = iota
	AuditWarn
	AuditCritical
	AuditSecurity
)

// String returns the upper-case level name.
func (al AuditLevel) String() string {
	switch al {
	case AuditInfo:
		return "INFO"
	case AuditWarn:
		return "WARN"
	case AuditCritical:
		return "CRITICAL"
	case AuditSecurity:
		return "SECURITY"
	default:
		return "UNKNOWN"
	}
}

// ParseAuditLevel parses a level name such as "warn" or "critical".
func ParseAuditLevel(levelStr string) (AuditLevel, error) {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "info":
		return AuditInfo, nil
	case "warn", "warning":
		return AuditWarn, nil
	case "critical", "error":
		return AuditCritical, nil
	case "security":
		return AuditSecurity, nil
	default:
		return AuditInfo, errors.New(ErrCodeInvalidConfig, "invalid audit level: "+levelStr)
	}
}

// AuditEvent is one entry of the audit trail. OldValue and NewValue carry
// the raw values involved, Context the component specific details.
type AuditEvent struct {
	Timestamp   time.Time              `json:"timestamp"`
	Level       AuditLevel             `json:"level"`
	Event       string                 `json:"event"`
	Component   string                 `json:"component"`
	FilePath    string                 `json:"file_path,omitempty"`
	OldValue    interface{}            `json:"old_value,omitempty"`
	NewValue    interface{}            `json:"new_value,omitempty"`
	ProcessID   int                    `json:"process_id"`
	ProcessName string                 `json:"process_name"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Checksum    string                 `json:"checksum"`
}

// AuditConfig selects the backend and the buffering of an AuditLogger.
type AuditConfig struct {
	Enabled       bool          `json:"enabled"`
	OutputFile    string        `json:"output_file"`
	MinLevel      AuditLevel    `json:"min_level"`
	BufferSize    int           `json:"buffer_size"`
	FlushInterval time.Duration `json:"flush_interval"`
}

// DefaultAuditConfig returns the default audit configuration. The empty
// OutputFile selects the unified SQLite database; a path ending in .jsonl
// selects the JSONL backend.
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:       true,
		OutputFile:    "",
		MinLevel:      AuditInfo,
		BufferSize:    1000,
		FlushInterval: 5 * time.Second,
	}
}

// AuditLogger buffers events and flushes them to a storage backend. All
// methods are safe on a nil logger, so components can hold an optional one.
type AuditLogger struct {
	config      AuditConfig
	backend     auditBackend
	buffer      []AuditEvent
	bufferMu    sync.Mutex
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
	processID   int
	processName string
}

// NewAuditLogger creates an audit logger with automatic backend selection.
func NewAuditLogger(config AuditConfig) (*AuditLogger, error) {
	backend, err := createAuditBackend(config)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidAuditConfig, "failed to initialize audit backend")
	}

	logger := &AuditLogger{
		config:      config,
		backend:     backend,
		buffer:      make([]AuditEvent, 0, config.BufferSize),
		stopCh:      make(chan struct{}),
		processID:   os.Getpid(),
		processName: getProcessName(),
	}

	if config.FlushInterval > 0 {
		logger.flushTicker = time.NewTicker(config.FlushInterval)
		go logger.flushLoop()
	}

	return logger, nil
}

// Log buffers one event. Events below MinLevel, and every event of a
// disabled or nil logger, are dropped.
func (al *AuditLogger) Log(level AuditLevel, event, component, filePath string, oldVal, newVal interface{}, context map[string]interface{}) {
	if al == nil || al.backend == nil || !al.config.Enabled || level < al.config.MinLevel {
		return
	}

	auditEvent := AuditEvent{
		Timestamp:   timecache.CachedTime(),
		Level:       level,
		Event:       event,
		Component:   component,
		FilePath:    filePath,
		OldValue:    oldVal,
		NewValue:    newVal,
		ProcessID:   al.processID,
		ProcessName: al.processName,
		Context:     context,
	}
	auditEvent.Checksum = al.generateChecksum(auditEvent)

	al.bufferMu.Lock()
	al.buffer = append(al.buffer, auditEvent)
	if len(al.buffer) >= al.config.BufferSize {
		_ = al.flushBufferUnsafe()
	}
	al.bufferMu.Unlock()
}

// LogSecurityEvent records an AuditSecurity event with details stored in
// the context.
func (al *AuditLogger) LogSecurityEvent(event, details string, context map[string]interface{}) {
	if context == nil {
		context = make(map[string]interface{}, 1)
	}
	context["details"] = details
	al.Log(AuditSecurity, event, "strata", "", nil, nil, context)
}

// Flush writes the buffered events to the backend.
func (al *AuditLogger) Flush() error {
	if al == nil {
		return nil
	}
	al.bufferMu.Lock()
	defer al.bufferMu.Unlock()
	return al.flushBufferUnsafe()
}

// Close flushes pending events and releases the backend. Calling it more
// than once is a no-op.
func (al *AuditLogger) Close() error {
	if al == nil {
		return nil
	}
	var closeErr error
	al.closeOnce.Do(func() {
		close(al.stopCh)
		if al.flushTicker != nil {
			al.flushTicker.Stop()
		}
		if err := al.Flush(); err != nil {
			closeErr = errors.Wrap(err, ErrCodeIOError, "failed to flush audit logger during close")
			return
		}
		if al.backend != nil {
			if err := al.backend.Close(); err != nil {
				closeErr = errors.Wrap(err, ErrCodeIOError, "failed to close audit backend")
			}
		}
	})
	return closeErr
}

func (al *AuditLogger) flushLoop() {
	for {
		select {
		case <-al.flushTicker.C:
			_ = al.Flush()
		case <-al.stopCh:
			return
		}
	}
}

// flushBufferUnsafe requires bufferMu.
func (al *AuditLogger) flushBufferUnsafe() error {
	if len(al.buffer) == 0 || al.backend == nil {
		return nil
	}
	if err := al.backend.Write(al.buffer); err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to write audit events to backend")
	}
	al.buffer = al.buffer[:0]
	return nil
}

// generateChecksum hashes the identifying fields of event with SHA-256.
func (al *AuditLogger) generateChecksum(event AuditEvent) string {
	data := fmt.Sprintf("%s:%s:%s:%v:%v:%v",
		event.Timestamp.Format(time.RFC3339Nano),
		event.Event, event.Component, event.OldValue, event.NewValue, event.Context)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

func getProcessName() string {
	if len(os.Args) > 0 && os.Args[0] != "" {
		return filepath.Base(os.Args[0])
	}
	return "strata"
}

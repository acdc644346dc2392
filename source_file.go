// source_file.go: Property source backed by a configuration file
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
)

// fileSnapshot is the parsed content of one read of the file.
type fileSnapshot struct {
	values   map[string]string
	loadedAt time.Time
}

// FileSource serves the flattened content of a configuration file. The file
// is read at construction; Reload swaps in a fresh snapshot.
type FileSource struct {
	path    string
	name    string
	ordinal int
	format  ConfigFormat

	snapshot atomic.Pointer[fileSnapshot]
}

// FileSourceOption configures a FileSource.
type FileSourceOption func(*FileSource)

// WithFileOrdinal overrides FileOrdinal.
func WithFileOrdinal(ordinal int) FileSourceOption {
	return func(s *FileSource) { s.ordinal = ordinal }
}

// WithFileFormat forces a format instead of detecting it from the extension.
func WithFileFormat(format ConfigFormat) FileSourceOption {
	return func(s *FileSource) { s.format = format }
}

// WithFileName overrides the source name, which defaults to "file:<path>".
func WithFileName(name string) FileSourceOption {
	return func(s *FileSource) { s.name = name }
}

// NewFileSource reads and parses path.
func NewFileSource(path string, opts ...FileSourceOption) (*FileSource, error) {
	if path == "" {
		return nil, errors.New(ErrCodeInvalidConfig, "file source path cannot be empty")
	}
	clean := filepath.Clean(path)
	s := &FileSource{
		path:    clean,
		name:    "file:" + clean,
		ordinal: FileOrdinal,
		format:  DetectFormat(clean),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.format == FormatUnknown {
		return nil, errors.New(ErrCodeParseError, fmt.Sprintf("unsupported config format for file: %s", clean)).
			WithContext("path", clean)
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the file. On failure the previous snapshot is kept.
func (s *FileSource) Reload() error {
	data, err := os.ReadFile(s.path) // #nosec G304 -- path is supplied by the application
	if err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to read config file").
			WithContext("path", s.path)
	}
	parsed, err := ParseConfig(data, s.format)
	if err != nil {
		return errors.Wrap(err, ErrCodeParseError, fmt.Sprintf("failed to parse %s config", s.format)).
			WithContext("path", s.path)
	}
	s.snapshot.Store(&fileSnapshot{values: Flatten(parsed), loadedAt: timecache.CachedTime()})
	return nil
}

// Path returns the cleaned file path.
func (s *FileSource) Path() string { return s.path }

// Format returns the parser format in use.
func (s *FileSource) Format() ConfigFormat { return s.format }

// LoadedAt returns when the current snapshot was read.
func (s *FileSource) LoadedAt() time.Time { return s.snapshot.Load().loadedAt }

// Name implements PropertySource.
func (s *FileSource) Name() string { return s.name }

// Ordinal implements PropertySource.
func (s *FileSource) Ordinal() int { return s.ordinal }

// Get implements PropertySource.
func (s *FileSource) Get(key string) *PropertyValue {
	v, ok := s.snapshot.Load().values[key]
	if !ok {
		return nil
	}
	return NewPropertyValueBuilder(key, v).
		SetSource(s.name).
		AddMetadata("path", s.path).
		Build()
}

// Properties implements PropertySource.
func (s *FileSource) Properties() map[string]*PropertyValue {
	values := s.snapshot.Load().values
	out := make(map[string]*PropertyValue, len(values))
	for k := range values {
		out[k] = s.Get(k)
	}
	return out
}

// EqualSource implements SourceEqualer: same path, ordinal and content.
func (s *FileSource) EqualSource(other PropertySource) bool {
	o, ok := other.(*FileSource)
	if !ok {
		return false
	}
	if s == o {
		return true
	}
	if s.name != o.name || s.path != o.path || s.ordinal != o.ordinal {
		return false
	}
	a, b := s.snapshot.Load().values, o.snapshot.Load().values
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

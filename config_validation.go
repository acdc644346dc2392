// config_validation.go: Validation of library Options
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/agilira/go-errors"
)

// Validation errors
var (
	ErrInvalidPolicy        = errors.New(ErrCodeInvalidPolicy, "unknown combination policy")
	ErrInvalidJoinSeparator = errors.New(ErrCodeInvalidSeparator, "join policy requires a non-empty separator")
	ErrTooManyFiles         = errors.New(ErrCodeTooManyFiles, fmt.Sprintf("at most %d source files are supported", maxSourceFiles))
	ErrSourceFileNotFound   = errors.New(ErrCodeFileNotFound, "source file does not exist")
	ErrInvalidAuditConfig   = errors.New(ErrCodeInvalidAuditConfig, "audit configuration is invalid")
	ErrInvalidBufferSize    = errors.New(ErrCodeInvalidBufferSize, "buffer size must be positive")
	ErrInvalidFlushInterval = errors.New(ErrCodeInvalidFlushInterval, "flush interval must be positive")
	ErrInvalidOutputFile    = errors.New(ErrCodeInvalidOutputFile, "audit output file path is invalid")
)

// ValidationResult holds the errors and warnings found by ValidateDetailed.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`

	first error
}

// String returns a human-readable representation of validation results
func (vr ValidationResult) String() string {
	if vr.Valid {
		if len(vr.Warnings) == 0 {
			return "Configuration is valid"
		}
		return fmt.Sprintf("Configuration is valid with %d warning(s)", len(vr.Warnings))
	}
	return fmt.Sprintf("Configuration is invalid: %d error(s), %d warning(s)",
		len(vr.Errors), len(vr.Warnings))
}

func (vr *ValidationResult) addError(err error) {
	if vr.first == nil {
		vr.first = err
	}
	vr.Errors = append(vr.Errors, err.Error())
}

func (vr *ValidationResult) addWarning(msg string) {
	vr.Warnings = append(vr.Warnings, msg)
}

// Validate returns the first problem found by ValidateDetailed, or nil.
func (o *Options) Validate() error {
	result := o.ValidateDetailed()
	if result.Valid {
		return nil
	}
	return result.first
}

// ValidateDetailed checks every option and collects errors and warnings.
func (o *Options) ValidateDetailed() ValidationResult {
	result := ValidationResult{
		Errors:   make([]string, 0),
		Warnings: make([]string, 0),
	}

	o.validatePolicy(&result)
	o.validateFiles(&result)
	o.validateAuditConfig(&result)

	if o.WatchInterval < 0 {
		result.addError(errors.New(ErrCodeInvalidConfig, "watch interval cannot be negative"))
	} else if o.WatchInterval > 0 && o.WatchInterval < 100*time.Millisecond {
		result.addWarning("Watch intervals below 100ms may impact CPU usage")
	}
	if o.WatchInterval > 0 && len(o.Files) == 0 {
		result.addWarning("WatchInterval is set but there are no file sources to watch")
	}

	result.Valid = len(result.Errors) == 0
	return result
}

func (o *Options) validatePolicy(result *ValidationResult) {
	switch o.Policy {
	case "", PolicyDefault, PolicyLastWins:
	case PolicyJoin:
		if o.JoinSeparator == "" {
			result.addError(ErrInvalidJoinSeparator)
		}
	default:
		result.addError(errors.Wrap(ErrInvalidPolicy, ErrCodeInvalidPolicy,
			fmt.Sprintf("unknown combination policy '%s'", o.Policy)).
			WithContext("policy", o.Policy))
	}

	if o.DisableEnv && o.EnvPrefix != "" {
		result.addWarning("EnvPrefix is ignored because the environment source is disabled")
	}
}

func (o *Options) validateFiles(result *ValidationResult) {
	if len(o.Files) > maxSourceFiles {
		result.addError(ErrTooManyFiles)
		return
	}

	seen := make(map[string]bool, len(o.Files))
	for _, path := range o.Files {
		clean := filepath.Clean(path)
		if seen[clean] {
			result.addWarning(fmt.Sprintf("file '%s' is listed more than once", path))
			continue
		}
		seen[clean] = true

		info, err := os.Stat(clean)
		switch {
		case err != nil:
			result.addError(errors.Wrap(ErrSourceFileNotFound, ErrCodeFileNotFound,
				fmt.Sprintf("source file '%s' does not exist", path)).
				WithContext("path", path))
		case info.IsDir():
			result.addError(errors.New(ErrCodeInvalidConfig,
				fmt.Sprintf("source file '%s' is a directory", path)).
				WithContext("path", path))
		case DetectFormat(clean) == FormatUnknown:
			result.addError(errors.New(ErrCodeParseError,
				fmt.Sprintf("format of '%s' cannot be detected from its extension", path)).
				WithContext("path", path))
		}
	}
}

func (o *Options) validateAuditConfig(result *ValidationResult) {
	if !o.Audit.Enabled {
		return
	}

	if o.Audit.BufferSize < 0 {
		result.addError(ErrInvalidBufferSize)
	} else if o.Audit.BufferSize == 0 {
		result.addWarning("Audit buffer size is 0, consider setting to 100-1000 for better performance")
	} else if o.Audit.BufferSize > 10000 {
		result.addWarning("Large audit buffer size may consume significant memory")
	}

	if o.Audit.FlushInterval < 0 {
		result.addError(ErrInvalidFlushInterval)
	} else if o.Audit.FlushInterval == 0 {
		result.addWarning("Audit flush interval is 0, events are written when the buffer fills")
	} else if o.Audit.FlushInterval < 100*time.Millisecond {
		result.addWarning("Frequent audit flushing may impact I/O performance")
	}

	// An empty OutputFile selects the unified database.
	if o.Audit.OutputFile != "" {
		if err := validateOutputFile(o.Audit.OutputFile); err != nil {
			result.addError(err)
		}
	}
}

// validateOutputFile checks that the audit output's directory exists.
func validateOutputFile(outputFile string) error {
	cleanPath := filepath.Clean(outputFile)
	if cleanPath == "." || cleanPath == "/" {
		return errors.Wrap(ErrInvalidOutputFile, ErrCodeInvalidOutputFile,
			fmt.Sprintf("path '%s' is not a valid file path", outputFile))
	}

	dir := filepath.Dir(cleanPath)
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.New(ErrCodeInvalidOutputFile,
				fmt.Sprintf("directory '%s' does not exist", dir))
		}
		return errors.Wrap(err, ErrCodeInvalidOutputFile,
			fmt.Sprintf("cannot access directory '%s'", dir))
	}
	if !info.IsDir() {
		return errors.New(ErrCodeInvalidOutputFile,
			fmt.Sprintf("'%s' is not a directory", dir))
	}
	return nil
}

// ValidateEnvironmentOptions validates the options described by STRATA_*
// variables.
func ValidateEnvironmentOptions() error {
	opts, err := LoadOptionsFromEnv()
	if err != nil {
		return errors.Wrap(err, ErrCodeInvalidConfig, "failed to load options from environment")
	}
	return opts.Validate()
}

// LoadOptionsFile reads Options from a JSON document, applying defaults
// first.
func LoadOptionsFile(path string) (*Options, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 - options file chosen by the caller
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeFileNotFound, "failed to read options file '"+path+"'")
	}

	opts := (&Options{}).WithDefaults()
	if err := json.Unmarshal(data, opts); err != nil {
		return nil, errors.Wrap(err, ErrCodeParseError, "failed to parse options file").
			WithContext("path", path)
	}
	return opts, nil
}

// ValidateOptionsFile loads and validates an options file.
func ValidateOptionsFile(path string) error {
	if path == "" {
		return errors.New(ErrCodeInvalidConfig, "options file path cannot be empty")
	}
	opts, err := LoadOptionsFile(path)
	if err != nil {
		return err
	}
	return opts.Validate()
}

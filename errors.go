// errors.go: Error codes for the strata configuration resolver
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	goerrors "errors"

	"github.com/agilira/go-errors"
)

// Error codes for strata operations
const (
	ErrCodeAmbiguousPriority     = "STRATA_AMBIGUOUS_PRIORITY"
	ErrCodeConflictingValue      = "STRATA_CONFLICTING_VALUE"
	ErrCodeUnsupportedType       = "STRATA_UNSUPPORTED_TYPE"
	ErrCodeConversionFailed      = "STRATA_CONVERSION_FAILED"
	ErrCodeDiscoveryFailed       = "STRATA_DISCOVERY_FAILED"
	ErrCodeBackendNotApplicable  = "STRATA_BACKEND_NOT_APPLICABLE"
	ErrCodeMalformedResource     = "STRATA_MALFORMED_RESOURCE"
	ErrCodeKeyNotFound           = "STRATA_KEY_NOT_FOUND"
	ErrCodeInvalidConfig         = "STRATA_INVALID_CONFIG"
	ErrCodeParseError            = "STRATA_PARSE_ERROR"
	ErrCodeIOError               = "STRATA_IO_ERROR"
	ErrCodeDuplicateRegistration = "STRATA_DUPLICATE_REGISTRATION"
	ErrCodeInvalidAuditConfig    = "STRATA_INVALID_AUDIT_CONFIG"
	ErrCodeInvalidBufferSize     = "STRATA_INVALID_BUFFER_SIZE"
	ErrCodeInvalidFlushInterval  = "STRATA_INVALID_FLUSH_INTERVAL"
	ErrCodeInvalidOutputFile     = "STRATA_INVALID_OUTPUT_FILE"
	ErrCodeHelpRequested         = "STRATA_HELP_REQUESTED"
	ErrCodeSerializationError    = "STRATA_SERIALIZATION_ERROR"
	ErrCodeInvalidPolicy         = "STRATA_INVALID_POLICY"
	ErrCodeInvalidSeparator      = "STRATA_INVALID_SEPARATOR"
	ErrCodeTooManyFiles          = "STRATA_TOO_MANY_FILES"
	ErrCodeFileNotFound          = "STRATA_FILE_NOT_FOUND"
	ErrCodeWatcherBusy           = "STRATA_WATCHER_BUSY"
	ErrCodeWatcherStopped        = "STRATA_WATCHER_STOPPED"
	ErrCodeUnsafePath            = "STRATA_UNSAFE_PATH"
)

// ErrNotApplicable is returned by a DiscoveryBackend that cannot operate in
// the current environment. The registry stops consulting such a backend.
var ErrNotApplicable = errors.New(ErrCodeBackendNotApplicable, "discovery backend not applicable in this environment")

// ErrHelpRequested is returned by FlagSource.Parse when -h or --help is given.
var ErrHelpRequested = errors.New(ErrCodeHelpRequested, "help requested")

// HasCode reports whether any error in err's chain carries the given code.
func HasCode(err error, code string) bool {
	for err != nil {
		if coder, ok := err.(errors.ErrorCoder); ok && string(coder.ErrorCode()) == code {
			return true
		}
		err = goerrors.Unwrap(err)
	}
	return false
}

// ErrorCode returns the code of the outermost coded error in err's chain,
// or an empty string.
func ErrorCode(err error) string {
	var coder errors.ErrorCoder
	if goerrors.As(err, &coder) {
		return string(coder.ErrorCode())
	}
	return ""
}

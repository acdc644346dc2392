// path_security.go: Validation of user-supplied source file paths
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/agilira/go-errors"
)

const (
	maxPathLength = 4096
	maxPathDepth  = 50
)

var (
	traversalPatterns = []string{"..", "../", "..\\", "/..", "\\.."}

	encodedPatterns = []string{
		"%2e%2e", "%252e%252e", "%2f", "%252f", "%5c", "%255c", "%00", "%2500",
	}

	sensitivePaths = []string{
		"/etc/passwd", "/etc/shadow", "/proc/", "/sys/", "/dev/",
		"windows/system32", "system volume information",
		".ssh/", ".aws/", ".docker/",
	}

	windowsDevices = map[string]bool{
		"CON": true, "PRN": true, "AUX": true, "NUL": true,
		"COM1": true, "COM2": true, "COM3": true, "COM4": true, "COM5": true,
		"COM6": true, "COM7": true, "COM8": true, "COM9": true,
		"LPT1": true, "LPT2": true, "LPT3": true, "LPT4": true, "LPT5": true,
		"LPT6": true, "LPT7": true, "LPT8": true, "LPT9": true,
	}
)

// ValidateSecurePath rejects paths with traversal sequences (plain or
// URL-encoded), sensitive system locations, Windows device names, control
// characters and excessive length or depth.
func ValidateSecurePath(path string) error {
	if path == "" {
		return unsafePath(path, "empty path not allowed")
	}

	for _, pattern := range traversalPatterns {
		if strings.Contains(path, pattern) {
			return unsafePath(path, "path contains traversal pattern: "+pattern)
		}
	}

	lower := strings.ToLower(path)
	for _, pattern := range encodedPatterns {
		if strings.Contains(lower, pattern) {
			return unsafePath(path, "path contains URL-encoded traversal pattern: "+pattern)
		}
	}

	slashed := strings.ReplaceAll(lower, "\\", "/")
	for _, sensitive := range sensitivePaths {
		if strings.Contains(slashed, sensitive) {
			return unsafePath(path, "access to system file or directory not allowed: "+sensitive)
		}
	}

	base := strings.ToUpper(filepath.Base(path))
	if dot := strings.IndexByte(base, '.'); dot != -1 {
		base = base[:dot]
	}
	if windowsDevices[base] {
		return unsafePath(path, "windows device name not allowed: "+base)
	}

	if len(path) > maxPathLength {
		return unsafePath(path, fmt.Sprintf("path too long (max %d characters): %d", maxPathLength, len(path)))
	}
	if depth := strings.Count(path, "/") + strings.Count(path, "\\"); depth > maxPathDepth {
		return unsafePath(path, fmt.Sprintf("path too complex (max %d directory levels): %d", maxPathDepth, depth))
	}

	for _, r := range path {
		if r < 32 && r != '\t' {
			return unsafePath(path, fmt.Sprintf("control character in path not allowed: %d", r))
		}
	}
	return nil
}

func unsafePath(path, msg string) error {
	return errors.New(ErrCodeUnsafePath, msg).WithContext("path", path)
}

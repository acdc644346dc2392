// path_security_test.go: Tests for source path validation
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"strings"
	"testing"
)

func TestValidateSecurePath(t *testing.T) {
	tests := []struct {
		name string
		path string
		msg  string
	}{
		{"plain relative", "config/app.yaml", ""},
		{"absolute", "/srv/app/config.json", ""},
		{"windows style", `C:\app\config.ini`, ""},
		{"empty", "", "empty path"},
		{"parent traversal", "../secrets.json", "traversal"},
		{"nested traversal", "conf/../../x.yaml", "traversal"},
		{"encoded dots", "conf/%2e%2e/x.yaml", "URL-encoded"},
		{"double encoded", "conf/%252e%252e/x", "URL-encoded"},
		{"encoded null", "app.json%00.txt", "URL-encoded"},
		{"etc passwd", "/etc/passwd", "system file"},
		{"proc", "/proc/self/environ", "system file"},
		{"ssh dir", "/home/u/.ssh/config", "system file"},
		{"windows system32", `C:\Windows\System32\drivers`, "system file"},
		{"device name", "CON.json", "device name"},
		{"device in dir", "conf/lpt1.yaml", "device name"},
		{"too long", strings.Repeat("a", maxPathLength+1), "too long"},
		{"too deep", strings.Repeat("d/", maxPathDepth+1) + "f", "too complex"},
		{"control char", "app\x01.json", "control character"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSecurePath(tt.path)
			if tt.msg == "" {
				if err != nil {
					t.Errorf("Expected %q accepted, got %v", tt.path, err)
				}
				return
			}
			if !HasCode(err, ErrCodeUnsafePath) {
				t.Fatalf("Expected unsafe path error, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.msg) {
				t.Errorf("Expected %q in %q", tt.msg, err.Error())
			}
		})
	}
}

// text_validation.go: Syntax checks for line-oriented config formats
//
// Copyright (c) 2025 AGILira
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/agilira/go-errors"
)

// validateINISection checks a [section] header.
func validateINISection(line string, lineNum int) error {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "[") || !strings.HasSuffix(trimmed, "]") {
		return errors.New(ErrCodeParseError,
			fmt.Sprintf("invalid INI section at line %d: malformed brackets", lineNum))
	}

	content := trimmed[1 : len(trimmed)-1]
	if strings.ContainsAny(content, "[]") {
		return errors.New(ErrCodeParseError,
			fmt.Sprintf("invalid INI section at line %d: nested brackets not supported", lineNum))
	}
	if strings.TrimSpace(content) == "" {
		return errors.New(ErrCodeParseError,
			fmt.Sprintf("invalid INI section at line %d: empty section name", lineNum))
	}
	return nil
}

// validateTextKey rejects empty keys and keys holding control or
// non-printable characters. format names the format in the message.
func validateTextKey(format, key string, lineNum int) error {
	if key == "" {
		return errors.New(ErrCodeParseError,
			fmt.Sprintf("invalid %s key at line %d: key cannot be empty", format, lineNum))
	}

	for _, char := range key {
		if char == '\x00' {
			return errors.New(ErrCodeParseError,
				fmt.Sprintf("invalid %s key at line %d: null byte not allowed in keys", format, lineNum))
		}
		if !unicode.IsPrint(char) && char != '\t' {
			return errors.New(ErrCodeParseError,
				fmt.Sprintf("invalid %s key at line %d: non-printable character not allowed in keys", format, lineNum))
		}
	}
	return nil
}

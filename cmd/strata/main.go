// strata: command-line inspection of layered configurations
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package main

import (
	"fmt"
	"os"

	"github.com/agilira/strata"
	"github.com/agilira/strata/cmd/cli"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	manager := cli.NewManager()

	// STRATA_AUDIT_ENABLED=true records CLI activity in the audit trail.
	if opts, err := strata.LoadOptionsFromEnv(); err == nil && opts.Audit.Enabled {
		if logger, err := strata.NewAuditLogger(opts.Audit); err == nil {
			manager.WithAudit(logger)
			defer func() { _ = logger.Close() }()
		}
	}

	if err := manager.Run(args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	return 0
}

// Package cli provides the command-line interface for inspecting strata
// configurations.
//
// Commands:
// - get: resolve and convert a single key
// - list: print the filtered properties
// - sources: print the ordered property sources
// - watch: reload file sources on change
// - convert: run the converter chain on a raw value
// - audit: query, clean up and summarize the SQLite audit trail
// - info, completion
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"io"
	"os"

	"github.com/agilira/orpheus/pkg/orpheus"
	"github.com/agilira/strata"
)

// Version is reported by the info command.
const Version = "1.0.0"

const formatFlagUsage = "Source files, comma separated (json|yaml|toml|hcl|ini|properties)"

// Manager routes CLI commands to their handlers.
type Manager struct {
	app         *orpheus.App
	auditLogger *strata.AuditLogger
	out         io.Writer
}

// NewManager creates a manager with every command registered.
func NewManager() *Manager {
	app := orpheus.New("strata").
		SetDescription("Layered configuration resolution and inspection").
		SetVersion(Version)

	manager := &Manager{
		app: app,
		out: os.Stdout,
	}

	manager.setupConfigCommands()
	manager.setupAuditCommands()
	manager.setupUtilityCommands()

	return manager
}

// WithAudit records every resolved configuration in the audit trail.
func (m *Manager) WithAudit(auditLogger *strata.AuditLogger) *Manager {
	m.auditLogger = auditLogger
	return m
}

// SetOutput redirects command output, os.Stdout by default.
func (m *Manager) SetOutput(w io.Writer) *Manager {
	m.out = w
	return m
}

// Run executes the CLI with the provided arguments.
func (m *Manager) Run(args []string) error {
	return m.app.Run(args)
}

func addSourceFlags(cmd *orpheus.Command) {
	cmd.AddFlag("file", "f", "", formatFlagUsage)
	cmd.AddFlag("env-prefix", "e", "", "Environment variable prefix")
	cmd.AddFlag("policy", "p", strata.PolicyDefault, "Combination policy (default|last-wins|join)")
	cmd.AddBoolFlag("no-env", "", false, "Disable the environment source")
	cmd.AddBoolFlag("redact", "r", false, "Redact secret-looking keys")
}

// setupConfigCommands registers get, list, sources and convert.
func (m *Manager) setupConfigCommands() {
	// get <key> [--type=string]
	getCmd := orpheus.NewCommand("get", "Resolve a configuration value").
		AddFlag("type", "t", "string", "Target type ("+typeNames()+")").
		SetHandler(m.handleGet)
	addSourceFlags(getCmd)
	m.app.AddCommand(getCmd)

	// list [--prefix=]
	listCmd := orpheus.NewCommand("list", "List resolved properties").
		AddFlag("prefix", "", "", "Key prefix filter").
		AddBoolFlag("meta", "m", false, "Show source and metadata").
		SetHandler(m.handleList)
	addSourceFlags(listCmd)
	m.app.AddCommand(listCmd)

	// sources
	sourcesCmd := orpheus.NewCommand("sources", "Show property sources in resolution order").
		SetHandler(m.handleSources)
	addSourceFlags(sourcesCmd)
	m.app.AddCommand(sourcesCmd)

	// watch [--interval=5s]
	watchCmd := orpheus.NewCommand("watch", "Reload file sources on change and print updates").
		AddFlag("interval", "i", "5s", "Polling interval").
		AddBoolFlag("verbose", "v", false, "Print every property after a reload").
		SetHandler(m.handleWatch)
	addSourceFlags(watchCmd)
	m.app.AddCommand(watchCmd)

	// convert <type> <raw>
	convertCmd := orpheus.NewCommand("convert", "Convert a raw value and show the converter chain").
		AddBoolFlag("chain", "c", false, "Print the resolved converter chain").
		SetHandler(m.handleConvert)
	m.app.AddCommand(convertCmd)
}

// setupAuditCommands registers the audit command group.
func (m *Manager) setupAuditCommands() {
	auditCmd := orpheus.NewCommand("audit", "Audit trail management")

	queryCmd := auditCmd.Subcommand("query", "Query audit events", m.handleAuditQuery)
	queryCmd.AddFlag("db", "", "", "Audit database (default: unified database)")
	queryCmd.AddFlag("since", "s", "24h", "Time range (e.g., 24h, 7d, 2w)")
	queryCmd.AddFlag("event", "e", "", "Event type filter")
	queryCmd.AddFlag("component", "c", "", "Component filter")
	queryCmd.AddFlag("level", "", "", "Minimum level (info|warn|critical|security)")
	queryCmd.AddIntFlag("limit", "l", 100, "Maximum results")

	cleanupCmd := auditCmd.Subcommand("cleanup", "Delete old audit events", m.handleAuditCleanup)
	cleanupCmd.AddFlag("db", "", "", "Audit database (default: unified database)")
	cleanupCmd.AddFlag("older-than", "o", "30d", "Delete entries older than")
	cleanupCmd.AddBoolFlag("dry-run", "d", false, "Show what would be deleted")

	statsCmd := auditCmd.Subcommand("stats", "Summarize the audit trail", m.handleAuditStats)
	statsCmd.AddFlag("db", "", "", "Audit database (default: unified database)")

	m.app.AddCommand(auditCmd)
}

// setupUtilityCommands registers info and completion.
func (m *Manager) setupUtilityCommands() {
	infoCmd := orpheus.NewCommand("info", "System information and diagnostics")
	infoCmd.SetHandler(m.handleInfo)
	infoCmd.AddBoolFlag("verbose", "v", false, "Verbose system information")
	m.app.AddCommand(infoCmd)

	completionCmd := orpheus.NewCommand("completion", "Generate shell completion scripts")
	completionCmd.SetHandler(m.handleCompletion)
	m.app.AddCommand(completionCmd)
}

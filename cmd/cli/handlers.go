// Command handlers for the strata CLI
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync/atomic"
	"syscall"

	"github.com/agilira/go-errors"
	"github.com/agilira/orpheus/pkg/orpheus"
	"github.com/agilira/strata"
)

// handleGet resolves one key and converts it to --type.
func (m *Manager) handleGet(ctx *orpheus.Context) error {
	key := ctx.GetArg(0)
	if key == "" {
		return errors.New(strata.ErrCodeInvalidConfig, "usage: strata get <key>")
	}
	t, err := lookupType(ctx.GetFlagString("type"))
	if err != nil {
		return err
	}

	cfg, err := m.loadConfiguration(ctx)
	if err != nil {
		return err
	}
	defer closeQuietly(cfg)

	m.auditLogger.Log(strata.AuditInfo, "cli_get", "cli", "", nil, nil, map[string]interface{}{
		"key":  key,
		"type": t.String(),
	})

	value, err := cfg.Get(key, t)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintln(m.out, formatValue(value))
	return nil
}

// handleList prints every filtered property under --prefix.
func (m *Manager) handleList(ctx *orpheus.Context) error {
	prefix := ctx.GetFlagString("prefix")
	showMeta := ctx.GetFlagBool("meta")

	cfg, err := m.loadConfiguration(ctx)
	if err != nil {
		return err
	}
	defer closeQuietly(cfg)

	values, err := cfg.PropertyValues()
	if err != nil {
		return err
	}

	keys := filterKeys(values, prefix)
	if len(keys) == 0 {
		if prefix != "" {
			_, _ = fmt.Fprintf(m.out, "No keys found with prefix '%s'\n", prefix)
		} else {
			_, _ = fmt.Fprintln(m.out, "No configuration keys found")
		}
		return nil
	}

	for _, k := range keys {
		pv := values[k]
		if showMeta {
			_, _ = fmt.Fprintf(m.out, "%s = %s  [%s]\n", k, pv.Value(), pv.Source())
			continue
		}
		_, _ = fmt.Fprintf(m.out, "%s = %s\n", k, pv.Value())
	}
	return nil
}

// handleSources prints the sources lowest precedence first.
func (m *Manager) handleSources(ctx *orpheus.Context) error {
	cfg, err := m.loadConfiguration(ctx)
	if err != nil {
		return err
	}
	defer closeQuietly(cfg)

	agg := cfg.Aggregator()
	_, _ = fmt.Fprintf(m.out, "Policy: %s\n", ctx.GetFlagString("policy"))
	for i, src := range agg.PropertySources() {
		_, _ = fmt.Fprintf(m.out, "%2d. %-40s ordinal=%d keys=%d\n",
			i+1, src.Name(), strata.EffectiveOrdinal(src), len(src.Properties()))
	}
	return nil
}

// handleWatch reloads file sources until interrupted.
func (m *Manager) handleWatch(ctx *orpheus.Context) error {
	interval, err := parseExtendedDuration(ctx.GetFlagString("interval"))
	if err != nil {
		return err
	}
	verbose := ctx.GetFlagBool("verbose")

	opts := optionsFromFlags(ctx)
	if len(opts.Files) == 0 {
		return errors.New(strata.ErrCodeInvalidConfig, "watch requires at least one --file")
	}
	for _, f := range opts.Files {
		if err := strata.ValidateSecurePath(f); err != nil {
			return err
		}
	}

	var current atomic.Pointer[strata.Configuration]
	opts.WatchInterval = interval
	opts.ErrorHandler = func(err error, path string) {
		_, _ = fmt.Fprintf(m.out, "Reload failed for %s: %v\n", path, err)
	}
	opts.OnReload = func(change strata.SourceChange) {
		if change.IsDelete {
			_, _ = fmt.Fprintf(m.out, "Source removed: %s (keeping last values)\n", change.Path)
			return
		}
		_, _ = fmt.Fprintf(m.out, "Reloaded %s\n", change.Source)
		if cfg := current.Load(); verbose && cfg != nil {
			if props, err := cfg.Properties(); err == nil {
				for _, k := range filterKeys(props, "") {
					_, _ = fmt.Fprintf(m.out, "  %s = %s\n", k, props[k])
				}
			}
		}
	}

	cfg, err := strata.New(opts)
	if err != nil {
		return err
	}
	current.Store(cfg)
	defer closeQuietly(cfg.WithAudit(m.auditLogger))

	_, _ = fmt.Fprintf(m.out, "Watching %s (interval: %v)\n", strings.Join(opts.Files, ", "), interval)
	_, _ = fmt.Fprintln(m.out, "Press Ctrl+C to stop...")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sig)
	<-sig
	return nil
}

// handleConvert converts <raw> to <type> without loading any source.
func (m *Manager) handleConvert(ctx *orpheus.Context) error {
	typeName := ctx.GetArg(0)
	raw := ctx.GetArg(1)
	if typeName == "" {
		return errors.New(strata.ErrCodeInvalidConfig, "usage: strata convert <type> <raw>")
	}
	t, err := lookupType(typeName)
	if err != nil {
		return err
	}

	converters := strata.NewConverterManager(strata.WithConverterAudit(m.auditLogger))
	if ctx.GetFlagBool("chain") {
		for _, reg := range converters.Resolve(t) {
			_, _ = fmt.Fprintf(m.out, "  %s via %s (%T)\n", reg.Registered, reg.Path, reg.Converter)
		}
	}

	value, err := converters.Convert("cli", raw, t)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(m.out, "%s -> %s\n", t, formatValue(value))
	return nil
}

// handleAuditQuery prints matching audit events, newest first.
func (m *Manager) handleAuditQuery(ctx *orpheus.Context) error {
	since, err := parseExtendedDuration(ctx.GetFlagString("since"))
	if err != nil {
		return err
	}

	store, err := strata.OpenAuditStore(ctx.GetFlagString("db"))
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	records, err := store.Query(strata.AuditQuery{
		Since:     since,
		Event:     ctx.GetFlagString("event"),
		Component: ctx.GetFlagString("component"),
		MinLevel:  ctx.GetFlagString("level"),
		Limit:     ctx.GetFlagInt("limit"),
	})
	if err != nil {
		return err
	}

	if len(records) == 0 {
		_, _ = fmt.Fprintln(m.out, "No audit events found")
		return nil
	}
	for _, r := range records {
		_, _ = fmt.Fprintf(m.out, "%s %-8s %-12s %s", r.Timestamp, r.Level, r.Component, r.Event)
		if len(r.Context) > 0 {
			_, _ = fmt.Fprintf(m.out, " %v", r.Context)
		}
		_, _ = fmt.Fprintln(m.out)
	}
	return nil
}

// handleAuditCleanup deletes events older than --older-than.
func (m *Manager) handleAuditCleanup(ctx *orpheus.Context) error {
	age, err := parseExtendedDuration(ctx.GetFlagString("older-than"))
	if err != nil {
		return err
	}
	dryRun := ctx.GetFlagBool("dry-run")

	store, err := strata.OpenAuditStore(ctx.GetFlagString("db"))
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	n, err := store.Cleanup(age, dryRun)
	if err != nil {
		return err
	}
	if dryRun {
		_, _ = fmt.Fprintf(m.out, "Would delete %d event(s) older than %v\n", n, age)
		return nil
	}
	_, _ = fmt.Fprintf(m.out, "Deleted %d event(s) older than %v\n", n, age)
	return nil
}

// handleAuditStats summarizes the audit database.
func (m *Manager) handleAuditStats(ctx *orpheus.Context) error {
	store, err := strata.OpenAuditStore(ctx.GetFlagString("db"))
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	stats, err := store.Stats()
	if err != nil {
		return err
	}

	_, _ = fmt.Fprintf(m.out, "Database: %s\n", store.Path())
	_, _ = fmt.Fprintf(m.out, "Schema version: %d\n", stats.SchemaVersion)
	_, _ = fmt.Fprintf(m.out, "Size: %d bytes\n", stats.DatabaseSize)
	_, _ = fmt.Fprintf(m.out, "Total events: %d\n", stats.TotalEvents)
	for _, level := range filterKeys(stats.EventsByLevel, "") {
		_, _ = fmt.Fprintf(m.out, "  %-10s %d\n", level, stats.EventsByLevel[level])
	}
	if stats.OldestEvent != nil && stats.NewestEvent != nil {
		_, _ = fmt.Fprintf(m.out, "Range: %s .. %s\n", stats.OldestEvent.Format("2006-01-02 15:04:05"), stats.NewestEvent.Format("2006-01-02 15:04:05"))
	}
	return nil
}

// handleInfo displays version and capability information.
func (m *Manager) handleInfo(ctx *orpheus.Context) error {
	verbose := ctx.GetFlagBool("verbose")

	_, _ = fmt.Fprintf(m.out, "strata configuration resolver\n")
	_, _ = fmt.Fprintf(m.out, "Version: %s\n", Version)
	_, _ = fmt.Fprintf(m.out, "Supported formats: JSON, YAML, TOML, HCL, INI, Properties\n")
	_, _ = fmt.Fprintf(m.out, "Combination policies: %s, %s, %s\n", strata.PolicyDefault, strata.PolicyLastWins, strata.PolicyJoin)

	if verbose {
		converters := strata.NewConverterManager()
		names := make([]string, 0)
		for _, t := range converters.TargetTypes() {
			names = append(names, t.String())
		}
		_, _ = fmt.Fprintf(m.out, "\nGo version: %s\n", runtime.Version())
		_, _ = fmt.Fprintf(m.out, "Built-in converters: %s\n", strings.Join(names, ", "))
		_, _ = fmt.Fprintf(m.out, "Audit logging: %v\n", m.auditLogger != nil)
	}
	return nil
}

const commandList = "get list sources watch convert audit info completion"

// handleCompletion generates shell completion scripts.
func (m *Manager) handleCompletion(ctx *orpheus.Context) error {
	shell := ctx.GetArg(0)

	switch shell {
	case "bash":
		_, _ = fmt.Fprintf(m.out, "# Bash completion for strata\n")
		_, _ = fmt.Fprintf(m.out, "# Add to ~/.bashrc: source <(strata completion bash)\n")
		_, _ = fmt.Fprintf(m.out, "_strata_completion() {\n")
		_, _ = fmt.Fprintf(m.out, "  COMPREPLY=($(compgen -W '%s' -- \"${COMP_WORDS[COMP_CWORD]}\"))\n", commandList)
		_, _ = fmt.Fprintf(m.out, "}\n")
		_, _ = fmt.Fprintf(m.out, "complete -F _strata_completion strata\n")
	case "zsh":
		_, _ = fmt.Fprintf(m.out, "# Zsh completion for strata\n")
		_, _ = fmt.Fprintf(m.out, "#compdef strata\n")
		_, _ = fmt.Fprintf(m.out, "_strata() {\n")
		_, _ = fmt.Fprintf(m.out, "  _arguments '1: :(%s)'\n", commandList)
		_, _ = fmt.Fprintf(m.out, "}\n")
	case "fish":
		_, _ = fmt.Fprintf(m.out, "# Fish completion for strata\n")
		_, _ = fmt.Fprintf(m.out, "complete -c strata -f -a '%s'\n", commandList)
	default:
		return errors.New(strata.ErrCodeInvalidConfig, fmt.Sprintf("unsupported shell: %s", shell))
	}
	return nil
}

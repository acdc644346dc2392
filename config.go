// config.go: Library options and assembly of a ready Configuration
//
// Copyright (c) 2025 AGILira
// Series: AGILira System Libraries
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"time"

	"github.com/agilira/go-errors"
)

// Combination policy names accepted by Options.Policy.
const (
	PolicyDefault   = "default"
	PolicyLastWins  = "last-wins"
	PolicyJoin      = "join"
	DefaultJoinSep  = ","
	DefaultsSource  = "defaults"
	maxSourceFiles  = 256
	defaultAuditBuf = 1000
)

// Options describes the sources, policy and filters of a Configuration.
type Options struct {
	// Defaults are served by a source named "defaults" at DefaultsOrdinal.
	Defaults map[string]string `json:"defaults,omitempty"`

	// Files are loaded as file sources. Format is detected from the extension.
	Files []string `json:"files,omitempty"`
	// FileOrdinal is the ordinal of every file source. Zero means FileOrdinal.
	FileOrdinal int `json:"file_ordinal,omitempty"`

	// EnvPrefix is prepended to environment keys.
	EnvPrefix string `json:"env_prefix,omitempty"`
	// DisableEnv turns the environment source off.
	DisableEnv bool `json:"disable_env,omitempty"`

	// Args are parsed into a command-line source. Nil means no such source.
	Args []string `json:"-"`
	// ArgsPrefix is prepended to command-line keys.
	ArgsPrefix string `json:"args_prefix,omitempty"`

	// Policy is one of PolicyDefault, PolicyLastWins or PolicyJoin.
	Policy string `json:"policy,omitempty"`
	// JoinSeparator is used by PolicyJoin.
	JoinSeparator string `json:"join_separator,omitempty"`

	// RedactSecrets adds RedactFilter with its default markers.
	RedactSecrets bool `json:"redact_secrets,omitempty"`
	// ExcludePrefixes adds an ExcludeFilter.
	ExcludePrefixes []string `json:"exclude_prefixes,omitempty"`

	// Registry supplies PropertySource, PropertyFilter and TypedConverter
	// services. Nil skips loading.
	Registry *Registry `json:"-"`

	// WatchInterval, when positive, polls the file sources and reloads them
	// on change until the configuration is closed.
	WatchInterval time.Duration `json:"watch_interval,omitempty"`
	// OnReload is called after a watched file source reloaded.
	OnReload ReloadCallback `json:"-"`

	// Audit configures the audit trail shared by every component.
	Audit AuditConfig `json:"audit"`

	// ErrorHandler receives errors that do not fail the call.
	ErrorHandler func(err error, source string) `json:"-"`
}

// WithDefaults applies sensible defaults to the options.
func (o *Options) WithDefaults() *Options {
	opts := *o

	if opts.FileOrdinal == 0 {
		opts.FileOrdinal = FileOrdinal
	}
	if opts.Policy == "" {
		opts.Policy = PolicyDefault
	}
	if opts.JoinSeparator == "" {
		opts.JoinSeparator = DefaultJoinSep
	}
	if opts.Audit == (AuditConfig{}) {
		opts.Audit = DefaultAuditConfig()
		opts.Audit.Enabled = false
	}
	if opts.Audit.BufferSize == 0 {
		opts.Audit.BufferSize = defaultAuditBuf
	}
	if opts.Audit.FlushInterval == 0 {
		opts.Audit.FlushInterval = 5 * time.Second
	}

	return &opts
}

// combinationPolicy maps the policy name to its implementation.
func (o *Options) combinationPolicy() CombinationPolicy {
	switch o.Policy {
	case PolicyLastWins:
		return LastWinsPolicy
	case PolicyJoin:
		return JoinPolicy(o.JoinSeparator)
	default:
		return DefaultPolicy
	}
}

// New assembles a Configuration from options: defaults, files, environment
// and command-line sources, the selected policy, filters and converters.
func New(options Options) (*Configuration, error) {
	opts := options.WithDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	var auditLogger *AuditLogger
	if opts.Audit.Enabled {
		logger, err := NewAuditLogger(opts.Audit)
		if err != nil {
			return nil, err
		}
		auditLogger = logger
	}

	sources, err := opts.buildSources()
	if err != nil {
		_ = auditLogger.Close()
		return nil, err
	}
	var filters []PropertyFilter
	if opts.Registry != nil {
		provided, err := GetServices[PropertySource](opts.Registry)
		if err != nil {
			_ = auditLogger.Close()
			return nil, errors.Wrap(err, ErrCodeInvalidConfig, "cannot load property sources from registry")
		}
		sources = append(sources, provided...)
		if filters, err = GetServices[PropertyFilter](opts.Registry); err != nil {
			_ = auditLogger.Close()
			return nil, errors.Wrap(err, ErrCodeInvalidConfig, "cannot load property filters from registry")
		}
	}

	agg, err := NewAggregator(sources...)
	if err != nil {
		_ = auditLogger.Close()
		return nil, err
	}
	agg.WithAudit(auditLogger)
	agg.SetCombinationPolicy(opts.combinationPolicy())
	if opts.RedactSecrets {
		agg.AddFilters(RedactFilter())
	}
	if len(opts.ExcludePrefixes) > 0 {
		agg.AddFilters(ExcludeFilter(opts.ExcludePrefixes...))
	}
	agg.AddFilters(filters...)

	converters := NewConverterManager(WithConverterAudit(auditLogger))
	if opts.Registry != nil {
		if err := converters.LoadFrom(opts.Registry); err != nil {
			if opts.ErrorHandler != nil {
				opts.ErrorHandler(err, "converters")
			}
			auditLogger.Log(AuditWarn, "converter_load_failed", "converters", "", nil, nil, map[string]interface{}{
				"error": err.Error(),
			})
		}
	}

	cfg, err := NewConfiguration(agg, converters)
	if err != nil {
		_ = auditLogger.Close()
		return nil, err
	}
	cfg.auditLogger = auditLogger
	cfg.ownedAudit = auditLogger

	if opts.WatchInterval > 0 {
		if err := cfg.startWatcher(opts); err != nil {
			_ = cfg.Close()
			return nil, err
		}
	}
	return cfg, nil
}

func (o *Options) buildSources() ([]PropertySource, error) {
	var sources []PropertySource

	if len(o.Defaults) > 0 {
		sources = append(sources, NewMapSource(DefaultsSource, DefaultsOrdinal, o.Defaults))
	}

	for _, path := range o.Files {
		fs, err := NewFileSource(path, WithFileOrdinal(o.FileOrdinal))
		if err != nil {
			return nil, err
		}
		sources = append(sources, fs)
	}

	envOpts := []EnvSourceOption{}
	if o.EnvPrefix != "" {
		envOpts = append(envOpts, WithEnvPrefix(o.EnvPrefix))
	}
	if o.DisableEnv {
		envOpts = append(envOpts, WithEnvDisabled(true))
	}
	sources = append(sources, NewEnvSource(envOpts...))

	if o.Args != nil {
		sources = append(sources, NewCLISource(o.Args, WithCLIPrefix(o.ArgsPrefix)))
	}
	return sources, nil
}

func (c *Configuration) startWatcher(opts *Options) error {
	w := NewWatcher(WatcherConfig{
		PollInterval: opts.WatchInterval,
		ErrorHandler: opts.ErrorHandler,
	}).WithAudit(c.auditLogger)
	if err := w.WatchAggregator(c.aggregator, opts.OnReload); err != nil {
		return err
	}
	if err := w.Start(); err != nil {
		return err
	}
	c.watcher = w
	return nil
}

// env_config.go: Options from STRATA_* environment variables
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/agilira/go-errors"
)

// EnvConfig mirrors the environment variables read by LoadOptionsFromEnv.
type EnvConfig struct {
	// Sources
	Files      []string `env:"STRATA_FILES"` // comma separated
	EnvPrefix  string   `env:"STRATA_ENV_PREFIX"`
	EnvDisable bool     `env:"STRATA_ENV_DISABLE"`
	ArgsPrefix string   `env:"STRATA_ARGS_PREFIX"`

	// File reloading
	WatchInterval time.Duration `env:"STRATA_WATCH_INTERVAL"`

	// Combination and filtering
	Policy          string   `env:"STRATA_POLICY"`
	JoinSeparator   string   `env:"STRATA_JOIN_SEPARATOR"`
	RedactSecrets   bool     `env:"STRATA_REDACT_SECRETS"`
	ExcludePrefixes []string `env:"STRATA_EXCLUDE_PREFIXES"` // comma separated

	// Audit
	AuditEnabled       bool          `env:"STRATA_AUDIT_ENABLED"`
	AuditOutputFile    string        `env:"STRATA_AUDIT_OUTPUT_FILE"`
	AuditMinLevel      string        `env:"STRATA_AUDIT_MIN_LEVEL"`
	AuditBufferSize    int           `env:"STRATA_AUDIT_BUFFER_SIZE"`
	AuditFlushInterval time.Duration `env:"STRATA_AUDIT_FLUSH_INTERVAL"`
}

// LoadOptionsFromEnv builds Options from STRATA_* variables, with defaults
// applied for anything unset.
func LoadOptionsFromEnv() (*Options, error) {
	envConfig := &EnvConfig{}
	if err := loadEnvVars(envConfig); err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidConfig, "failed to load environment configuration")
	}

	opts := &Options{}
	if err := convertEnvToOptions(envConfig, opts); err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidConfig, "failed to convert environment configuration")
	}
	return opts.WithDefaults(), nil
}

// LoadOptionsMultiSource overlays STRATA_* variables on base. Variables win
// over base; base wins over defaults.
func LoadOptionsMultiSource(base Options) (*Options, error) {
	merged := base.WithDefaults()

	env, err := LoadOptionsFromEnv()
	if err != nil {
		return merged, err
	}
	mergeOptions(merged, env)
	return merged, nil
}

func loadEnvVars(envConfig *EnvConfig) error {
	if err := loadSourceVars(envConfig); err != nil {
		return err
	}
	loadPolicyVars(envConfig)
	return loadAuditVars(envConfig)
}

func loadSourceVars(envConfig *EnvConfig) error {
	envConfig.Files = splitList(os.Getenv("STRATA_FILES"))
	envConfig.EnvPrefix = os.Getenv("STRATA_ENV_PREFIX")
	if v := os.Getenv("STRATA_ENV_DISABLE"); v != "" {
		envConfig.EnvDisable = parseBool(v)
	}
	envConfig.ArgsPrefix = os.Getenv("STRATA_ARGS_PREFIX")
	if len(envConfig.Files) > maxSourceFiles {
		return errors.New(ErrCodeInvalidConfig, "too many files in STRATA_FILES")
	}
	if v := os.Getenv("STRATA_WATCH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return errors.New(ErrCodeInvalidConfig, "invalid STRATA_WATCH_INTERVAL format").
				WithContext("value", v)
		}
		envConfig.WatchInterval = d
	}
	return nil
}

func loadPolicyVars(envConfig *EnvConfig) {
	envConfig.Policy = os.Getenv("STRATA_POLICY")
	envConfig.JoinSeparator = os.Getenv("STRATA_JOIN_SEPARATOR")
	if v := os.Getenv("STRATA_REDACT_SECRETS"); v != "" {
		envConfig.RedactSecrets = parseBool(v)
	}
	envConfig.ExcludePrefixes = splitList(os.Getenv("STRATA_EXCLUDE_PREFIXES"))
}

func loadAuditVars(envConfig *EnvConfig) error {
	if v := os.Getenv("STRATA_AUDIT_ENABLED"); v != "" {
		envConfig.AuditEnabled = parseBool(v)
	}
	envConfig.AuditOutputFile = os.Getenv("STRATA_AUDIT_OUTPUT_FILE")
	envConfig.AuditMinLevel = os.Getenv("STRATA_AUDIT_MIN_LEVEL")

	if v := os.Getenv("STRATA_AUDIT_BUFFER_SIZE"); v != "" {
		buffer, err := strconv.Atoi(v)
		if err != nil || buffer <= 0 {
			return errors.New(ErrCodeInvalidConfig, "invalid STRATA_AUDIT_BUFFER_SIZE value").
				WithContext("value", v)
		}
		envConfig.AuditBufferSize = buffer
	}

	if v := os.Getenv("STRATA_AUDIT_FLUSH_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return errors.New(ErrCodeInvalidConfig, "invalid STRATA_AUDIT_FLUSH_INTERVAL format").
				WithContext("value", v)
		}
		envConfig.AuditFlushInterval = d
	}
	return nil
}

func convertEnvToOptions(envConfig *EnvConfig, opts *Options) error {
	opts.Files = envConfig.Files
	opts.EnvPrefix = envConfig.EnvPrefix
	opts.DisableEnv = envConfig.EnvDisable
	opts.ArgsPrefix = envConfig.ArgsPrefix
	opts.WatchInterval = envConfig.WatchInterval
	opts.RedactSecrets = envConfig.RedactSecrets
	opts.ExcludePrefixes = envConfig.ExcludePrefixes
	opts.JoinSeparator = envConfig.JoinSeparator

	if envConfig.Policy != "" {
		switch strings.ToLower(envConfig.Policy) {
		case PolicyDefault, PolicyLastWins, PolicyJoin:
			opts.Policy = strings.ToLower(envConfig.Policy)
		default:
			return errors.New(ErrCodeInvalidConfig, "invalid combination policy").
				WithContext("policy", envConfig.Policy)
		}
	}

	return convertAuditConfig(envConfig, opts)
}

func convertAuditConfig(envConfig *EnvConfig, opts *Options) error {
	if !envConfig.AuditEnabled && envConfig.AuditOutputFile == "" {
		return nil
	}

	opts.Audit = DefaultAuditConfig()
	opts.Audit.Enabled = envConfig.AuditEnabled
	if envConfig.AuditOutputFile != "" {
		opts.Audit.OutputFile = envConfig.AuditOutputFile
	}
	if envConfig.AuditMinLevel != "" {
		level, err := ParseAuditLevel(envConfig.AuditMinLevel)
		if err != nil {
			return err
		}
		opts.Audit.MinLevel = level
	}
	if envConfig.AuditBufferSize > 0 {
		opts.Audit.BufferSize = envConfig.AuditBufferSize
	}
	if envConfig.AuditFlushInterval > 0 {
		opts.Audit.FlushInterval = envConfig.AuditFlushInterval
	}
	return nil
}

// mergeOptions copies the values env actually sets onto base.
func mergeOptions(base, env *Options) {
	if len(env.Files) > 0 {
		base.Files = append(base.Files, env.Files...)
	}
	if env.EnvPrefix != "" {
		base.EnvPrefix = env.EnvPrefix
	}
	if env.DisableEnv {
		base.DisableEnv = true
	}
	if env.ArgsPrefix != "" {
		base.ArgsPrefix = env.ArgsPrefix
	}
	if env.WatchInterval > 0 {
		base.WatchInterval = env.WatchInterval
	}
	if env.Policy != PolicyDefault {
		base.Policy = env.Policy
	}
	if env.JoinSeparator != DefaultJoinSep {
		base.JoinSeparator = env.JoinSeparator
	}
	if env.RedactSecrets {
		base.RedactSecrets = true
	}
	if len(env.ExcludePrefixes) > 0 {
		base.ExcludePrefixes = append(base.ExcludePrefixes, env.ExcludePrefixes...)
	}

	if env.Audit.Enabled {
		base.Audit.Enabled = true
	}
	if env.Audit.OutputFile != "" {
		base.Audit.OutputFile = env.Audit.OutputFile
	}
	if env.Audit.MinLevel != AuditInfo {
		base.Audit.MinLevel = env.Audit.MinLevel
	}
	if env.Audit.BufferSize > 0 && env.Audit.BufferSize != defaultAuditBuf {
		base.Audit.BufferSize = env.Audit.BufferSize
	}
	if env.Audit.FlushInterval > 0 && env.Audit.FlushInterval != 5*time.Second {
		base.Audit.FlushInterval = env.Audit.FlushInterval
	}
}

func splitList(value string) []string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseBool parses boolean values from environment variables
// Supports: true/false, 1/0, yes/no, on/off, enabled/disabled
func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "1", "yes", "on", "enabled":
		return true
	default:
		return false
	}
}

// GetEnvWithDefault returns environment variable value or default if not set
func GetEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// GetEnvDurationWithDefault returns environment variable as duration or default
func GetEnvDurationWithDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// GetEnvIntWithDefault returns environment variable as int or default
func GetEnvIntWithDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// GetEnvBoolWithDefault returns environment variable as bool or default
func GetEnvBoolWithDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return parseBool(value)
	}
	return defaultValue
}

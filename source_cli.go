// source_cli.go: Property sources fed by command-line arguments
//
// CLISource turns free-form arguments into properties. FlagSource exposes
// declared flash-flags flags, with their environment fallbacks, as
// properties keyed by the flag name with dashes turned into dots.
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	flashflags "github.com/agilira/flash-flags"
	"github.com/agilira/go-errors"
)

// Process variables consulted by NewCLISource when no arguments are given.
const (
	MainArgsVar       = "STRATA_MAIN_ARGS"
	MainArgsPrefixVar = "STRATA_MAIN_ARGS_PREFIX"
)

// CLISourceName is the default name of CLISource.
const CLISourceName = "CLI"

// Args is an immutable parse of command-line arguments:
//
//	--key=value   key -> value
//	--flag        flag -> flag
//	-key value    key -> value
//	value         value -> value
//
// A trailing -key without a value is dropped.
type Args struct {
	raw    []string
	prefix string
	values map[string]string
}

// ParseArgs parses args, prepending prefix to every key.
func ParseArgs(prefix string, args ...string) *Args {
	values := make(map[string]string)
	pending := ""
	hasPending := false

	for _, arg := range args {
		switch {
		case strings.HasPrefix(arg, "--"):
			arg = arg[2:]
			if idx := strings.Index(arg, "="); idx > 0 {
				values[prefix+strings.TrimSpace(arg[:idx])] = strings.TrimSpace(arg[idx+1:])
				hasPending = false
			} else {
				values[prefix+arg] = arg
			}
		case strings.HasPrefix(arg, "-"):
			pending, hasPending = arg[1:], true
		case hasPending:
			values[prefix+pending] = arg
			hasPending = false
		default:
			values[prefix+arg] = arg
		}
	}

	return &Args{raw: append([]string(nil), args...), prefix: prefix, values: values}
}

// Raw returns the arguments as given.
func (a *Args) Raw() []string { return append([]string(nil), a.raw...) }

// Prefix returns the key prefix.
func (a *Args) Prefix() string { return a.prefix }

// Values returns a copy of the parsed pairs.
func (a *Args) Values() map[string]string {
	out := make(map[string]string, len(a.values))
	for k, v := range a.values {
		out[k] = v
	}
	return out
}

// CLISource serves a parsed argument snapshot.
type CLISource struct {
	name    string
	ordinal int
	args    *Args
}

// CLISourceOption configures a CLISource.
type CLISourceOption func(*cliSourceSettings)

type cliSourceSettings struct {
	name      string
	ordinal   int
	prefix    string
	hasPrefix bool
}

// WithCLIPrefix prepends prefix to every key.
func WithCLIPrefix(prefix string) CLISourceOption {
	return func(s *cliSourceSettings) { s.prefix, s.hasPrefix = prefix, true }
}

// WithCLIOrdinal overrides CommandLineOrdinal.
func WithCLIOrdinal(ordinal int) CLISourceOption {
	return func(s *cliSourceSettings) { s.ordinal = ordinal }
}

// WithCLIName overrides CLISourceName.
func WithCLIName(name string) CLISourceOption {
	return func(s *cliSourceSettings) { s.name = name }
}

// NewCLISource parses args. When args is nil, STRATA_MAIN_ARGS is split on
// whitespace instead; STRATA_MAIN_ARGS_PREFIX supplies the default prefix.
func NewCLISource(args []string, opts ...CLISourceOption) *CLISource {
	settings := cliSourceSettings{name: CLISourceName, ordinal: CommandLineOrdinal}
	for _, opt := range opts {
		opt(&settings)
	}
	if args == nil {
		args = strings.Fields(os.Getenv(MainArgsVar))
	}
	if !settings.hasPrefix {
		settings.prefix = os.Getenv(MainArgsPrefixVar)
	}
	return &CLISource{
		name:    settings.name,
		ordinal: settings.ordinal,
		args:    ParseArgs(settings.prefix, args...),
	}
}

// Args returns the parsed snapshot.
func (s *CLISource) Args() *Args { return s.args }

// Name implements PropertySource.
func (s *CLISource) Name() string { return s.name }

// Ordinal implements PropertySource.
func (s *CLISource) Ordinal() int { return s.ordinal }

// Get implements PropertySource.
func (s *CLISource) Get(key string) *PropertyValue {
	v, ok := s.args.values[key]
	if !ok {
		return nil
	}
	return NewPropertyValue(key, v, s.name)
}

// Properties implements PropertySource.
func (s *CLISource) Properties() map[string]*PropertyValue {
	return valuesOf(s.name, s.args.values)
}

func (s *CLISource) String() string {
	return fmt.Sprintf("CLISource{name=%s, ordinal=%d, args=%v}", s.name, s.ordinal, s.args.raw)
}

// flagKind records how to render a declared flag.
type flagKind int

const (
	flagString flagKind = iota
	flagInt
	flagBool
	flagDuration
	flagStringSlice
)

// FlagSource declares typed flags with flash-flags and serves the ones the
// user set, on the command line or through APPNAME_FLAG_NAME variables.
type FlagSource struct {
	flags   *flashflags.FlagSet
	appName string
	ordinal int

	mu              sync.RWMutex
	kinds           map[string]flagKind
	given           map[string]bool
	fromEnv         map[string]string
	parsed          bool
	includeDefaults bool
}

// NewFlagSource creates a flag source for appName.
func NewFlagSource(appName string) *FlagSource {
	return &FlagSource{
		flags:   flashflags.New(appName),
		appName: appName,
		ordinal: CommandLineOrdinal,
		kinds:   make(map[string]flagKind),
		given:   make(map[string]bool),
	}
}

// SetDescription sets the application description for help text.
func (fs *FlagSource) SetDescription(description string) *FlagSource {
	fs.flags.SetDescription(description)
	return fs
}

// SetVersion sets the application version for help text.
func (fs *FlagSource) SetVersion(version string) *FlagSource {
	fs.flags.SetVersion(version)
	return fs
}

// SetOrdinal overrides CommandLineOrdinal.
func (fs *FlagSource) SetOrdinal(ordinal int) *FlagSource {
	fs.ordinal = ordinal
	return fs
}

// IncludeDefaults makes unset flags contribute their default value.
func (fs *FlagSource) IncludeDefaults() *FlagSource {
	fs.mu.Lock()
	fs.includeDefaults = true
	fs.mu.Unlock()
	return fs
}

// StringFlag adds a string flag.
func (fs *FlagSource) StringFlag(name, defaultValue, usage string) *FlagSource {
	fs.flags.String(name, defaultValue, usage)
	return fs.declare(name, flagString)
}

// IntFlag adds an integer flag.
func (fs *FlagSource) IntFlag(name string, defaultValue int, usage string) *FlagSource {
	fs.flags.Int(name, defaultValue, usage)
	return fs.declare(name, flagInt)
}

// BoolFlag adds a boolean flag.
func (fs *FlagSource) BoolFlag(name string, defaultValue bool, usage string) *FlagSource {
	fs.flags.Bool(name, defaultValue, usage)
	return fs.declare(name, flagBool)
}

// DurationFlag adds a duration flag.
func (fs *FlagSource) DurationFlag(name string, defaultValue time.Duration, usage string) *FlagSource {
	fs.flags.Duration(name, defaultValue, usage)
	return fs.declare(name, flagDuration)
}

// StringSliceFlag adds a string slice flag.
func (fs *FlagSource) StringSliceFlag(name string, defaultValue []string, usage string) *FlagSource {
	fs.flags.StringSlice(name, defaultValue, usage)
	return fs.declare(name, flagStringSlice)
}

func (fs *FlagSource) declare(name string, kind flagKind) *FlagSource {
	fs.mu.Lock()
	fs.kinds[name] = kind
	fs.mu.Unlock()
	return fs
}

// Parse parses args. It returns ErrHelpRequested for -h or --help.
func (fs *FlagSource) Parse(args []string) error {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return ErrHelpRequested
		}
	}

	fs.flags.SetEnvPrefix(strings.ToUpper(fs.appName))
	if err := fs.flags.Parse(args); err != nil {
		return errors.Wrap(err, ErrCodeParseError, "failed to parse command-line flags")
	}

	given := make(map[string]bool)
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") {
			continue
		}
		name := strings.TrimLeft(arg, "-")
		if idx := strings.Index(name, "="); idx >= 0 {
			name = name[:idx]
		}
		given[name] = true
	}

	// Variables only fill flags the command line left unset
	fromEnv := make(map[string]string)
	fs.mu.Lock()
	for name := range fs.kinds {
		if given[name] {
			continue
		}
		if v, ok := os.LookupEnv(fs.FlagToEnvKey(name)); ok {
			fromEnv[name] = v
		}
	}
	fs.given = given
	fs.fromEnv = fromEnv
	fs.parsed = true
	fs.mu.Unlock()
	return nil
}

// PrintUsage prints help for all flags.
func (fs *FlagSource) PrintUsage() {
	fs.flags.PrintHelp()
}

// BoundFlags maps each declared flag name to its property key.
func (fs *FlagSource) BoundFlags() map[string]string {
	result := make(map[string]string)
	fs.flags.VisitAll(func(flag *flashflags.Flag) {
		result[flag.Name()] = flagNameToConfigKey(flag.Name())
	})
	return result
}

// FlagToEnvKey converts "server-port" to "APPNAME_SERVER_PORT".
func (fs *FlagSource) FlagToEnvKey(flagName string) string {
	return strings.ToUpper(fs.appName + "_" + strings.ReplaceAll(flagName, "-", "_"))
}

// Name implements PropertySource.
func (fs *FlagSource) Name() string { return "flags:" + fs.appName }

// Ordinal implements PropertySource.
func (fs *FlagSource) Ordinal() int { return fs.ordinal }

// Get implements PropertySource.
func (fs *FlagSource) Get(key string) *PropertyValue {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	for name, kind := range fs.kinds {
		if flagNameToConfigKey(name) == key {
			return fs.valueLocked(name, kind)
		}
	}
	return nil
}

// Properties implements PropertySource.
func (fs *FlagSource) Properties() map[string]*PropertyValue {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	out := make(map[string]*PropertyValue)
	for name, kind := range fs.kinds {
		if pv := fs.valueLocked(name, kind); pv != nil {
			out[pv.Key()] = pv
		}
	}
	return out
}

func (fs *FlagSource) valueLocked(name string, kind flagKind) *PropertyValue {
	if !fs.parsed {
		return nil
	}
	envValue, inEnv := fs.fromEnv[name]
	if !fs.given[name] && !inEnv && !fs.includeDefaults {
		return nil
	}

	raw := envValue
	if !inEnv {
		raw = fs.flagValue(name, kind)
	}
	return NewPropertyValueBuilder(flagNameToConfigKey(name), raw).
		SetSource(fs.Name()).
		AddMetadata("flag", name).
		Build()
}

func (fs *FlagSource) flagValue(name string, kind flagKind) string {
	var raw string
	switch kind {
	case flagInt:
		raw = strconv.Itoa(fs.flags.GetInt(name))
	case flagBool:
		raw = strconv.FormatBool(fs.flags.GetBool(name))
	case flagDuration:
		raw = fs.flags.GetDuration(name).String()
	case flagStringSlice:
		raw = strings.Join(fs.flags.GetStringSlice(name), ",")
	default:
		raw = fs.flags.GetString(name)
	}
	return raw
}

// flagNameToConfigKey converts a flag name to a property key.
func flagNameToConfigKey(flagName string) string {
	return strings.ReplaceAll(flagName, "-", ".")
}

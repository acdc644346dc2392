// sources_test.go: Tests for environment, command-line, flag and file sources
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package strata

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

// writeTempFile writes content to name inside a fresh temp dir.
func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
	return path
}

func clearEnvSourceVars(t *testing.T) {
	t.Helper()
	for _, name := range []string{EnvSourcePrefixVar, EnvSourceDisableVar, DefaultsDisableVar, MainArgsVar, MainArgsPrefixVar} {
		t.Setenv(name, "")
	}
}

func TestEnvSource_Lookup(t *testing.T) {
	clearEnvSourceVars(t)
	t.Setenv("STRATA_TEST_DB_HOST", "db.internal")
	t.Setenv("strata_test_exact", "exact")

	src := NewEnvSource()
	tests := []struct {
		key  string
		want string
	}{
		{"STRATA_TEST_DB_HOST", "db.internal"},
		{"strata.test.db.host", "db.internal"},
		{"strata_test_exact", "exact"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			pv := src.Get(tt.key)
			if pv == nil {
				t.Fatalf("Expected a value for %s", tt.key)
			}
			if pv.Value() != tt.want || pv.Key() != tt.key {
				t.Errorf("Expected %s=%s, got %s", tt.key, tt.want, pv)
			}
			if pv.Source() != EnvSourceName {
				t.Errorf("Expected source %s, got %s", EnvSourceName, pv.Source())
			}
		})
	}

	for _, key := range []string{"strata.test.missing", "strata-test-db-host", "strata_test_db_host", "Strata.Test.Db.Host"} {
		if pv := src.Get(key); pv != nil {
			t.Errorf("Expected nil for %s, got %s", key, pv)
		}
	}
	if src.Ordinal() != EnvironmentOrdinal {
		t.Errorf("Expected ordinal %d, got %d", EnvironmentOrdinal, src.Ordinal())
	}
}

func TestEnvSource_PropertiesMatchGet(t *testing.T) {
	clearEnvSourceVars(t)
	t.Setenv("STRATA_TEST_DB_HOST", "upper")
	t.Setenv("strata_test_db_port", "lower")

	for _, src := range []*EnvSource{NewEnvSource(), NewEnvSource(WithEnvPrefix("env."))} {
		props := src.Properties()
		for _, key := range []string{
			src.Prefix() + "strata.test.db.host",
			src.Prefix() + "STRATA_TEST_DB_HOST",
			src.Prefix() + "strata_test_db_port",
		} {
			pv := src.Get(key)
			listed, ok := props[key]
			if pv == nil || !ok {
				t.Fatalf("Expected %s from both Get and Properties, got %v / %v", key, pv, listed)
			}
			if listed.Value() != pv.Value() || listed.Key() != key {
				t.Errorf("Expected %s=%s in Properties, got %s", key, pv.Value(), listed)
			}
		}

		// Lower-case variables have no alias
		if _, ok := props[src.Prefix()+"strata.test.db.port"]; ok {
			t.Error("Expected no alias for a lower-case variable")
		}
		if pv := src.Get(src.Prefix() + "strata.test.db.port"); pv != nil {
			t.Errorf("Expected Get to agree on the missing alias, got %s", pv)
		}
		for key, listed := range props {
			if pv := src.Get(key); pv == nil || pv.Value() != listed.Value() {
				t.Errorf("Properties lists %s=%s but Get returns %v", key, listed.Value(), pv)
			}
		}
	}
}

func TestEnvSource_PrefixAndDisable(t *testing.T) {
	clearEnvSourceVars(t)
	t.Setenv("STRATA_TEST_PREFIXED", "v")

	prefixed := NewEnvSource(WithEnvPrefix("env."))
	if pv := prefixed.Get("env.STRATA_TEST_PREFIXED"); pv == nil || pv.Value() != "v" {
		t.Errorf("Expected prefixed lookup to succeed, got %v", pv)
	}
	if pv := prefixed.Get("STRATA_TEST_PREFIXED"); pv != nil {
		t.Error("Expected unprefixed lookup to fail")
	}
	if _, ok := prefixed.Properties()["env.STRATA_TEST_PREFIXED"]; !ok {
		t.Error("Expected Properties to expose prefixed keys")
	}

	disabled := NewEnvSource(WithEnvDisabled(true))
	if !disabled.IsDisabled() || disabled.Get("STRATA_TEST_PREFIXED") != nil || len(disabled.Properties()) != 0 {
		t.Error("Expected disabled source to hold no properties")
	}
	if !strings.Contains(disabled.Name(), "disabled") {
		t.Errorf("Expected disabled marker in name, got %s", disabled.Name())
	}

	t.Setenv(EnvSourceDisableVar, "true")
	if !NewEnvSource().IsDisabled() {
		t.Error("Expected STRATA_ENVPROPS_DISABLE to disable the source")
	}
	t.Setenv(EnvSourceDisableVar, "")
	t.Setenv(EnvSourcePrefixVar, "pfx.")
	if NewEnvSource().Prefix() != "pfx." {
		t.Error("Expected STRATA_ENVPROPS_PREFIX to set the prefix")
	}
	if NewEnvSource(WithEnvPrefix("opt.")).Prefix() != "opt." {
		t.Error("Expected options to override the process variables")
	}
}

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		args   []string
		want   map[string]string
	}{
		{"long with value", "", []string{"--port=8080", "--host = x"}, map[string]string{"port": "8080", "host": "x"}},
		{"long flag", "", []string{"--verbose"}, map[string]string{"verbose": "verbose"}},
		{"short with value", "", []string{"-level", "debug"}, map[string]string{"level": "debug"}},
		{"bare value", "", []string{"standalone"}, map[string]string{"standalone": "standalone"}},
		{"trailing short dropped", "", []string{"-dangling"}, map[string]string{}},
		{"prefix", "cli.", []string{"--a=1", "-b", "2"}, map[string]string{"cli.a": "1", "cli.b": "2"}},
		{"empty long value", "", []string{"--empty="}, map[string]string{"empty": ""}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := ParseArgs(tt.prefix, tt.args...)
			if got := args.Values(); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
			if !reflect.DeepEqual(args.Raw(), tt.args) {
				t.Errorf("Expected raw %v, got %v", tt.args, args.Raw())
			}
		})
	}
}

func TestCLISource(t *testing.T) {
	clearEnvSourceVars(t)

	src := NewCLISource([]string{"--db.port=5432", "--debug"}, WithCLIName("cmd"), WithCLIOrdinal(450))
	if src.Name() != "cmd" || src.Ordinal() != 450 {
		t.Errorf("Unexpected name/ordinal %s/%d", src.Name(), src.Ordinal())
	}
	if pv := src.Get("db.port"); pv == nil || pv.Value() != "5432" || pv.Source() != "cmd" {
		t.Errorf("Expected db.port=5432 from cmd, got %v", pv)
	}
	if len(src.Properties()) != 2 {
		t.Errorf("Expected 2 properties, got %d", len(src.Properties()))
	}

	// The snapshot is not affected by later changes to the caller's slice
	args := []string{"--k=v"}
	snap := NewCLISource(args)
	args[0] = "--k=changed"
	if snap.Get("k").Value() != "v" {
		t.Error("Expected the argument snapshot to be immutable")
	}
}

func TestCLISource_FromProcessVariables(t *testing.T) {
	clearEnvSourceVars(t)
	t.Setenv(MainArgsVar, "--a=1 -b 2")
	t.Setenv(MainArgsPrefixVar, "main.")

	src := NewCLISource(nil)
	want := map[string]string{"main.a": "1", "main.b": "2"}
	if got := src.Args().Values(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v, got %v", want, got)
	}
	if src.Args().Prefix() != "main." {
		t.Errorf("Expected prefix main., got %s", src.Args().Prefix())
	}

	explicit := NewCLISource(nil, WithCLIPrefix(""))
	if _, ok := explicit.Args().Values()["a"]; !ok {
		t.Error("Expected WithCLIPrefix to override STRATA_MAIN_ARGS_PREFIX")
	}
}

func TestFlagSource(t *testing.T) {
	t.Setenv("STRATATEST_LOG_LEVEL", "warn")

	fs := NewFlagSource("stratatest").
		SetDescription("test app").
		SetVersion("1.0.0").
		StringFlag("server-host", "localhost", "host").
		IntFlag("server-port", 8080, "port").
		BoolFlag("debug", false, "debug").
		StringFlag("log-level", "info", "log level").
		StringFlag("unset", "fallback", "never given")

	if pv := fs.Get("server.port"); pv != nil {
		t.Error("Expected no values before Parse")
	}
	if err := fs.Parse([]string{"--server-port=9090", "--server-host=example.com"}); err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	tests := []struct {
		key  string
		want string
	}{
		{"server.port", "9090"},
		{"server.host", "example.com"},
		{"log.level", "warn"},
	}
	for _, tt := range tests {
		pv := fs.Get(tt.key)
		if pv == nil || pv.Value() != tt.want {
			t.Errorf("Expected %s=%s, got %v", tt.key, tt.want, pv)
			continue
		}
		if pv.Source() != "flags:stratatest" {
			t.Errorf("Unexpected source %s", pv.Source())
		}
	}
	if fs.Get("unset") != nil {
		t.Error("Expected unset flag to be absent without IncludeDefaults")
	}

	fs.IncludeDefaults()
	if pv := fs.Get("unset"); pv == nil || pv.Value() != "fallback" {
		t.Errorf("Expected default with IncludeDefaults, got %v", pv)
	}
	if n := len(fs.Properties()); n != 5 {
		t.Errorf("Expected 5 properties with defaults, got %d", n)
	}

	bound := fs.BoundFlags()
	if bound["server-port"] != "server.port" {
		t.Errorf("Expected server-port bound to server.port, got %v", bound)
	}
	if fs.FlagToEnvKey("server-port") != "STRATATEST_SERVER_PORT" {
		t.Errorf("Unexpected env key %s", fs.FlagToEnvKey("server-port"))
	}
}

func TestFlagSource_Help(t *testing.T) {
	fs := NewFlagSource("helptest").StringFlag("x", "", "x")
	if err := fs.Parse([]string{"--help"}); err != ErrHelpRequested {
		t.Errorf("Expected ErrHelpRequested, got %v", err)
	}
	if !HasCode(fs.Parse([]string{"-h"}), ErrCodeHelpRequested) {
		t.Error("Expected help code for -h")
	}
}

func TestFileSource(t *testing.T) {
	path := writeTempFile(t, "app.yaml", "server:\n  port: 8080\nname: demo\n")

	src, err := NewFileSource(path)
	if err != nil {
		t.Fatalf("NewFileSource failed: %v", err)
	}
	if src.Format() != FormatYAML || src.Ordinal() != FileOrdinal {
		t.Errorf("Unexpected format/ordinal %s/%d", src.Format(), src.Ordinal())
	}
	if src.Name() != "file:"+filepath.Clean(path) {
		t.Errorf("Unexpected name %s", src.Name())
	}
	pv := src.Get("server.port")
	if pv == nil || pv.Value() != "8080" {
		t.Fatalf("Expected server.port=8080, got %v", pv)
	}
	if p, _ := pv.MetaEntry("path"); p != src.Path() {
		t.Errorf("Expected path metadata %s, got %s", src.Path(), p)
	}
	if src.LoadedAt().IsZero() {
		t.Error("Expected LoadedAt to be set")
	}

	// A successful reload swaps content
	if err := os.WriteFile(path, []byte("server:\n  port: 9090\n"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := src.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	if src.Get("server.port").Value() != "9090" || src.Get("name") != nil {
		t.Errorf("Expected reloaded content, got %v", src.Properties())
	}

	// A failed reload keeps the last good snapshot
	if err := os.WriteFile(path, []byte("server: [broken"), 0600); err != nil {
		t.Fatal(err)
	}
	if err := src.Reload(); !HasCode(err, ErrCodeParseError) {
		t.Errorf("Expected parse error, got %v", err)
	}
	if src.Get("server.port").Value() != "9090" {
		t.Error("Expected previous snapshot after failed reload")
	}
}

func TestFileSource_Options(t *testing.T) {
	path := writeTempFile(t, "settings.txt", `{"k": "v"}`)

	if _, err := NewFileSource(path); !HasCode(err, ErrCodeParseError) {
		t.Errorf("Expected unknown format error, got %v", err)
	}

	src, err := NewFileSource(path, WithFileFormat(FormatJSON), WithFileName("settings"), WithFileOrdinal(150))
	if err != nil {
		t.Fatal(err)
	}
	if src.Name() != "settings" || src.Ordinal() != 150 || src.Get("k").Value() != "v" {
		t.Errorf("Options not applied: %s %d", src.Name(), src.Ordinal())
	}
}

func TestFileSource_Errors(t *testing.T) {
	tests := []struct {
		name string
		path string
		code string
	}{
		{"empty path", "", ErrCodeInvalidConfig},
		{"missing file", filepath.Join(t.TempDir(), "missing.json"), ErrCodeIOError},
		{"invalid content", writeTempFile(t, "bad.json", "{"), ErrCodeParseError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewFileSource(tt.path); !HasCode(err, tt.code) {
				t.Errorf("Expected %s, got %v", tt.code, err)
			}
		})
	}
}

func TestFileSource_Equality(t *testing.T) {
	path := writeTempFile(t, "eq.json", `{"a": 1}`)
	first, _ := NewFileSource(path)
	second, _ := NewFileSource(path)
	if !first.EqualSource(second) {
		t.Error("Expected two reads of the same file to be equal")
	}
	other, _ := NewFileSource(path, WithFileOrdinal(1))
	if first.EqualSource(other) {
		t.Error("Expected different ordinals to differ")
	}
	if first.EqualSource(NewMapSource(first.Name(), first.Ordinal(), map[string]string{"a": "1"})) {
		t.Error("Expected different source types to differ")
	}
}

// Package strata resolves configuration from layered property sources and
// converts raw values into typed results, with a service registry that lets
// converters and other capabilities be contributed by loadable modules.
//
// # Architecture Overview
//
// Strata consists of five cooperating components:
//  1. **Capability Registry**: ordered service discovery across backends
//  2. **Module Tracker**: follows modules as they start and stop and exposes their resources
//  3. **Source Aggregator**: combines property sources by ordinal under a combination policy
//  4. **Conversion Resolver**: finds converters for a target type through its type hierarchy
//  5. **Configuration Facade**: typed lookups, struct binding and fluent variable binding
//
// Around them sit the ambient pieces: file, environment and command-line
// sources, a polling file watcher, and an audit trail with SQLite and JSONL
// backends.
//
// # Quick Start
//
//	cfg, err := strata.New(strata.Options{
//		Defaults:  map[string]string{"server.port": "8080"},
//		Files:     []string{"config.yaml"},
//		EnvPrefix: "APP_",
//		Args:      os.Args[1:],
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer cfg.Close()
//
//	port, err := strata.Get[int](cfg, "server.port")
//	timeout, err := strata.GetOrDefault(cfg, "server.timeout", 30*time.Second)
//
// # Property Sources and Ordinals
//
// Every source has a name and an ordinal. Higher ordinals override lower ones.
// A source can override its ordinal through the reserved property
// "strata.ordinal". The built-in ordinals are:
//   - DefaultsOrdinal (0) for Options.Defaults
//   - FileOrdinal (100) for configuration files
//   - EnvironmentOrdinal (300) for environment variables
//   - CommandLineOrdinal (400) for --key=value arguments
//
// Files are parsed by extension. JSON, YAML, TOML, HCL, INI and Properties
// are supported, and RegisterParser adds more. Nested documents are flattened
// into dotted keys.
//
// # Combination Policies
//
// When several sources provide a key the aggregator hands every candidate,
// in ascending ordinal order, to the combination policy:
//
//	agg.SetCombinationPolicy(strata.DefaultPolicy)       // highest ordinal wins
//	agg.SetCombinationPolicy(strata.LastWinsPolicy)      // last non-nil candidate wins
//	agg.SetCombinationPolicy(strata.JoinPolicy(","))     // values joined
//
// Filters run after combination. RedactFilter masks secret-looking keys and
// ExcludeFilter hides key prefixes.
//
// # Typed Conversion
//
// Converters are looked up for the exact target type first, then for its
// declared supertypes and interfaces, then for factory methods and
// constructors declared on the TypeGraph:
//
//	m := strata.NewConverterManager()
//	strata.RegisterFunc(m, func(s string) (net.IP, error) { ... })
//	ip, err := strata.Get[net.IP](cfg, "listen.addr")
//
// Each failed attempt is recorded in the ConversionContext, so the final
// error names every converter that was tried.
//
// # Binding
//
// Bind decodes a subtree into a struct using the "strata" tag:
//
//	var db struct {
//		Host    string        `strata:"host"`
//		Port    int           `strata:"port"`
//		Timeout time.Duration `strata:"timeout"`
//	}
//	err := cfg.Bind("database", &db)
//
// The fluent binder assigns individual variables:
//
//	err := cfg.Binder().
//		BindString(&host, "database.host", "localhost").
//		BindInt(&port, "database.port", 5432).
//		Apply()
//
// # Service Registry and Modules
//
// Services are registered against a capability type in discovery backends.
// The registry asks its backends in ordinal order and returns the services of
// the first backend that knows the capability, sorted by priority:
//
//	strata.RegisterService[strata.TypedConverter]("ip", 10, newIPConverter)
//	services, err := strata.GetServices[strata.TypedConverter](strata.DefaultRegistry())
//
// A ModuleTracker follows module lifecycle events from a host and exposes the
// resources of started modules. ModuleBackend turns those resources into
// registrations using a Catalog of named factories.
//
// # Watching
//
// With Options.WatchInterval set, file sources are polled and reloaded in
// place when they change. A reload that fails keeps the last good contents.
//
// # Thread Safety
//
// Registries, aggregators, converter managers and sources are safe for
// concurrent use. File reloads swap an atomic snapshot, so readers never see
// a half-parsed file.
//
// # Errors and Auditing
//
// Errors carry go-errors codes such as ErrCodeKeyNotFound or
// ErrCodeConversionFailed; use HasCode to test for them. When auditing is
// enabled, ambiguous services, failing backends, module changes, reloads and
// conversion failures are written to the audit trail.
//
// Repository: https://github.com/agilira/strata
package strata

package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

const defaultConfigPath = "configs/kafka-wordsplit.yaml"

// CLIConfig holds command-line configuration
type CLIConfig struct {
	// ConfigPaths are merged in order, later files overriding earlier ones.
	ConfigPaths []string
	LogLevel    string
	LogFormat   string
	Debug       bool
	StatsEvery  time.Duration
	ShowVersion bool
	ShowHelp    bool
	Validate    bool
}

func parseFlags(args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)

	layers := &layerFlag{paths: splitList(getEnv("SEMTOPO_CONFIG", defaultConfigPath))}
	fs.Var(layers, "config",
		"Configuration file, repeatable; later files override earlier ones (env: SEMTOPO_CONFIG, comma separated)")
	fs.Var(layers, "c", "Shorthand for -config")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("SEMTOPO_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: SEMTOPO_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("SEMTOPO_LOG_FORMAT", "json"),
		"Log format: json, text (env: SEMTOPO_LOG_FORMAT)")

	fs.BoolVar(&cfg.Debug, "debug",
		getEnvBool("SEMTOPO_DEBUG", false),
		"Enable debug logging (env: SEMTOPO_DEBUG)")

	fs.DurationVar(&cfg.StatsEvery, "stats-interval",
		getEnvDuration("SEMTOPO_STATS_INTERVAL", 30*time.Second),
		"How often stage counters are logged, 0 to disable (env: SEMTOPO_STATS_INTERVAL)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() { printDetailedHelp(fs.Output(), fs) }

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	cfg.ConfigPaths = layers.paths
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}
	if cfg.ShowHelp {
		fs.Usage()
	}
	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}
	if len(cfg.ConfigPaths) == 0 {
		return fmt.Errorf("no config file given")
	}
	for _, path := range cfg.ConfigPaths {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("config file not found: %s", path)
		}
	}
	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}
	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}
	if cfg.StatsEvery < 0 {
		return fmt.Errorf("invalid stats interval: %s", cfg.StatsEvery)
	}
	return nil
}

func printDetailedHelp(w io.Writer, fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(w, `%s - stream topology runner

Usage: %s [options]

Options:
`, appName, os.Args[0])
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Topology kinds (topology.kind):
  kafka-wordsplit       Kafka lines split into words, written by word
  jetstream-wordsplit   JetStream lines split into words, written by word
  random-suffix         random words uppercased and suffixed with a timestamp

Examples:
  # Run the Kafka word split demo
  %s --config=configs/kafka-wordsplit.yaml

  # Layer a local override over a shipped config
  %s -c configs/kafka-wordsplit.yaml -c local.yaml

  # Run with debug logging
  %s --log-level=debug --log-format=text

  # Override settings from the environment
  export SEMTOPO_KAFKA_BROKERS=broker1:9092,broker2:9092
  export SEMTOPO_DELIVERY_ENABLED=true
  %s

  # Validate configuration only
  %s --validate

Version: %s
Build: %s
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], Version, BuildTime)
}

// layerFlag collects repeated -config values. The first explicit value
// replaces the default taken from the environment.
type layerFlag struct {
	paths []string
	set   bool
}

func (f *layerFlag) String() string {
	if f == nil {
		return ""
	}
	return strings.Join(f.paths, ",")
}

func (f *layerFlag) Set(value string) error {
	if !f.set {
		f.paths, f.set = nil, true
	}
	f.paths = append(f.paths, splitList(value)...)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

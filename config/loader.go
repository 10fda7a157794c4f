package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "flashdb.yaml"

// Backend names understood by the benchmark.
const (
	BackendNetwork = "network"
	BackendTable   = "table"
	BackendREST    = "rest"
)

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// The YAML file is optional; a missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom is Load with an explicit YAML path.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	if err := loadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("config env: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

func loadYAML(cfg *Config, path string) error {
	if path == "" {
		return nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // G304: operator supplied path
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays FLASHDB_* variables onto cfg. Empty values are ignored.
func loadEnv(cfg *Config) error {
	setString(&cfg.Server.Addr, "FLASHDB_SERVER_ADDR")
	setString(&cfg.Admin.Addr, "FLASHDB_ADMIN_ADDR")
	setString(&cfg.Client.Addr, "FLASHDB_CLIENT_ADDR")
	setString(&cfg.Table.Driver, "FLASHDB_TABLE_DRIVER")
	setString(&cfg.Table.DSN, "FLASHDB_TABLE_DSN")
	setString(&cfg.Bench.AdminURL, "FLASHDB_BENCH_ADMIN_URL")
	setString(&cfg.Logging.Level, "FLASHDB_LOG_LEVEL")
	setString(&cfg.Logging.Service, "FLASHDB_LOG_SERVICE")
	setList(&cfg.Bench.Backends, "FLASHDB_BENCH_BACKENDS")

	return errors.Join(
		setBool(&cfg.Admin.Enabled, "FLASHDB_ADMIN_ENABLED"),
		setDuration(&cfg.Server.IdleTimeout, "FLASHDB_SERVER_IDLE_TIMEOUT"),
		setDuration(&cfg.Server.SweepInterval, "FLASHDB_SWEEP_INTERVAL"),
		setDuration(&cfg.Client.ReadTimeout, "FLASHDB_CLIENT_READ_TIMEOUT"),
		setDuration(&cfg.Client.WriteTimeout, "FLASHDB_CLIENT_WRITE_TIMEOUT"),
		setDuration(&cfg.Bench.TTL, "FLASHDB_BENCH_TTL"),
		setInt(&cfg.Bench.Iterations, "FLASHDB_BENCH_ITERATIONS"),
	)
}

func validate(cfg *Config) error {
	var errs []error
	if cfg.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}
	if cfg.Client.Addr == "" {
		errs = append(errs, errors.New("client.addr is required"))
	}
	switch cfg.Table.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("table.driver %q must be sqlite or postgres", cfg.Table.Driver))
	}
	if cfg.Table.Driver == "postgres" && cfg.Table.DSN == "" {
		errs = append(errs, errors.New("table.dsn is required for postgres"))
	}
	if cfg.Bench.Iterations <= 0 {
		errs = append(errs, errors.New("bench.iterations must be positive"))
	}
	if cfg.Bench.TTL < 0 {
		errs = append(errs, errors.New("bench.ttl must not be negative"))
	}
	known := []string{BackendNetwork, BackendTable, BackendREST}
	for _, b := range cfg.Bench.Backends {
		if !slices.Contains(known, b) {
			errs = append(errs, fmt.Errorf("bench.backends: unknown backend %q", b))
		}
	}
	return errors.Join(errs...)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setList(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*dst = out
}

func setBool(dst *bool, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = b
	return nil
}

func setInt(dst *int, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = n
	return nil
}

func setDuration(dst *time.Duration, key string) error {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	*dst = d
	return nil
}

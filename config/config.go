// Package config loads process configuration for the FlashDB binaries.
package config

import "time"

// Config holds every setting the server, benchmark and CLI binaries read.
type Config struct {
	Server  Server  `yaml:"server"`
	Admin   Admin   `yaml:"admin"`
	Client  Client  `yaml:"client"`
	Table   Table   `yaml:"table"`
	Bench   Bench   `yaml:"bench"`
	Logging Logging `yaml:"logging"`
}

// Server configures the line protocol listener.
type Server struct {
	Addr          string        `yaml:"addr"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	WriteTimeout  time.Duration `yaml:"write_timeout"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	MaxLineLength int           `yaml:"max_line_length"`
}

// Admin configures the HTTP admin API served next to the line protocol.
type Admin struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Client configures network store connections.
type Client struct {
	Addr         string        `yaml:"addr"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// Table configures the embedded table store.
type Table struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// Bench configures the comparison workload.
type Bench struct {
	Iterations int `yaml:"iterations"`
	// TTL of zero writes keys that never expire.
	TTL      time.Duration `yaml:"ttl"`
	Backends []string      `yaml:"backends"`
	AdminURL string        `yaml:"admin_url"`
}

// Logging configures the slog logger.
type Logging struct {
	Level   string `yaml:"level"`
	Service string `yaml:"service"`
}

// Defaults returns the configuration used when neither YAML nor ENV override a field.
func Defaults() Config {
	return Config{
		Server: Server{
			Addr:          "127.0.0.1:2006",
			IdleTimeout:   5 * time.Minute,
			WriteTimeout:  5 * time.Second,
			SweepInterval: 10 * time.Second,
			MaxLineLength: 1 << 20,
		},
		Admin: Admin{
			Enabled: true,
			Addr:    "127.0.0.1:2007",
		},
		Client: Client{
			Addr:         "127.0.0.1:2006",
			DialTimeout:  5 * time.Second,
			ReadTimeout:  2 * time.Second,
			WriteTimeout: 2 * time.Second,
		},
		Table: Table{
			Driver: "sqlite",
			DSN:    ":memory:",
		},
		Bench: Bench{
			Iterations: 1000,
			TTL:        time.Hour,
			Backends:   []string{"network", "table"},
			AdminURL:   "http://127.0.0.1:2007",
		},
		Logging: Logging{
			Level:   "info",
			Service: "flashdb",
		},
	}
}

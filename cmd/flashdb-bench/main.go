// Command flashdb-bench writes and reads the same records against the
// configured backends and prints a timing table.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/adeilh/flashdb/bench"
	"github.com/adeilh/flashdb/cache/network"
	"github.com/adeilh/flashdb/cache/rest"
	"github.com/adeilh/flashdb/cache/table"
	"github.com/adeilh/flashdb/config"
	"github.com/adeilh/flashdb/internal/logger"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("flashdb-bench", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigFile, "path to the YAML config file")
	iterations := fs.Int("n", 0, "records per backend (overrides config)")
	backends := fs.String("backends", "", "comma-separated backends: network, table, rest (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if *iterations > 0 {
		cfg.Bench.Iterations = *iterations
	}
	if *backends != "" {
		cfg.Bench.Backends = strings.Split(*backends, ",")
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	targets, cleanup, err := openBackends(ctx, cfg, log)
	defer cleanup()
	if err != nil {
		return err
	}

	report, err := bench.Run(ctx, targets, bench.Options{
		Iterations: cfg.Bench.Iterations,
		TTL:        bench.TTL(cfg.Bench.TTL),
		Logger:     log,
	})
	if err != nil {
		return fmt.Errorf("bench: %w", err)
	}
	return report.Write(os.Stdout)
}

// openBackends connects every configured backend. The returned cleanup is
// always safe to call, including after an error.
func openBackends(ctx context.Context, cfg *config.Config, log *slog.Logger) ([]bench.Backend, func(), error) {
	var (
		targets []bench.Backend
		closers []func() error
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](); err != nil {
				log.Warn("close backend", "error", err)
			}
		}
	}

	for _, name := range cfg.Bench.Backends {
		switch name = strings.TrimSpace(name); name {
		case config.BackendNetwork:
			store, err := network.Dial(ctx, network.Options{
				Addr:         cfg.Client.Addr,
				DialTimeout:  cfg.Client.DialTimeout,
				ReadTimeout:  cfg.Client.ReadTimeout,
				WriteTimeout: cfg.Client.WriteTimeout,
				Logger:       log,
			})
			if err != nil {
				return nil, cleanup, fmt.Errorf("network backend: %w", err)
			}
			closers = append(closers, store.Close)
			targets = append(targets, bench.Backend{Name: name, Store: store})

		case config.BackendTable:
			dialect, err := table.DialectFor(cfg.Table.Driver)
			if err != nil {
				return nil, cleanup, err
			}
			db, err := dialect.Open(ctx, cfg.Table.DSN)
			if err != nil {
				return nil, cleanup, fmt.Errorf("table backend: %w", err)
			}
			closers = append(closers, db.Close)
			store, err := table.New(ctx, db, dialect)
			if err != nil {
				return nil, cleanup, fmt.Errorf("table backend: %w", err)
			}
			if removed, err := store.Purge(ctx); err != nil {
				return nil, cleanup, fmt.Errorf("table backend: %w", err)
			} else if removed > 0 {
				log.Info("purged expired rows", "driver", dialect.Name, "removed", removed)
			}
			targets = append(targets, bench.Backend{Name: name, Store: store})

		case config.BackendREST:
			targets = append(targets, bench.Backend{Name: name, Store: rest.New(cfg.Bench.AdminURL)})

		default:
			return nil, cleanup, fmt.Errorf("unknown backend %q", name)
		}
	}
	if len(targets) == 0 {
		return nil, cleanup, errors.New("no backends configured")
	}
	return targets, cleanup, nil
}

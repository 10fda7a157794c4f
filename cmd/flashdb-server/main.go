// Command flashdb-server runs the in-memory cache behind the line protocol
// and, when enabled, the HTTP admin API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/adeilh/flashdb/cache/memory"
	"github.com/adeilh/flashdb/config"
	"github.com/adeilh/flashdb/httpx"
	"github.com/adeilh/flashdb/internal/logger"
	"github.com/adeilh/flashdb/server"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("flashdb-server", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigFile, "path to the YAML config file")
	addr := fs.String("addr", "", "line protocol listen address (overrides config)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadFrom(*configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	log := logger.New(cfg.Logging)
	slog.SetDefault(log)
	log.Info("config loaded",
		"addr", cfg.Server.Addr,
		"admin_enabled", cfg.Admin.Enabled,
		"admin_addr", cfg.Admin.Addr,
		"sweep_interval", cfg.Server.SweepInterval,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.New(memory.New(), server.Options{
		Addr:          cfg.Server.Addr,
		IdleTimeout:   cfg.Server.IdleTimeout,
		WriteTimeout:  cfg.Server.WriteTimeout,
		SweepInterval: cfg.Server.SweepInterval,
		MaxLineLength: cfg.Server.MaxLineLength,
		Logger:        log,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.ListenAndServe(gctx); err != nil {
			return fmt.Errorf("line protocol: %w", err)
		}
		return nil
	})

	if cfg.Admin.Enabled {
		admin := httpx.NewServer(
			httpx.WithAddress(cfg.Admin.Addr),
			httpx.WithLogger(log),
		)
		admin.RegisterRoutes(srv.AdminRoutes())
		g.Go(func() error {
			log.Info("admin api listening", "addr", admin.Address())
			if err := admin.Start(gctx); err != nil {
				return fmt.Errorf("admin api: %w", err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("shutdown complete", "stats", srv.Stats())
	return nil
}

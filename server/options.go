package server

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/adeilh/flashdb/protocol"
)

// Options controls the line protocol listener.
type Options struct {
	Addr string
	// IdleTimeout closes connections that send nothing for this long. Zero disables it.
	IdleTimeout  time.Duration
	WriteTimeout time.Duration
	// SweepInterval is how often expired entries are purged. Zero disables the sweeper.
	SweepInterval time.Duration
	MaxLineLength int
	Logger        *slog.Logger
	// Meter receives the server instruments. Nil means the global meter.
	Meter metric.Meter
}

func (o Options) withDefaults() Options {
	if o.Addr == "" {
		o.Addr = "127.0.0.1:2006"
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.MaxLineLength <= 0 {
		o.MaxLineLength = protocol.MaxLineLength
	}
	if o.SweepInterval < 0 {
		o.SweepInterval = 0
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	return o
}

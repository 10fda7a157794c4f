// Package bench drives the same sequential workload against several cache
// stores and times each phase. It measures per-operation round-trip cost;
// it does not check the values it reads back.
package bench

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/adeilh/flashdb/cache"
)

type Phase string

const (
	PhaseWrite Phase = "write"
	PhaseRead  Phase = "read"
)

// Backend is a named store under test.
type Backend struct {
	Name  string
	Store cache.Store
}

// Options configures a run. Zero values fall back to the defaults below.
type Options struct {
	// Iterations is the number of keys written and then read per backend.
	Iterations int
	// TTL is applied to every write. Nil means DefaultTTL; zero means the
	// keys never expire.
	TTL       *time.Duration
	KeyPrefix string
	// Payload is the value written for every key. Empty means the JSON
	// encoding of DefaultRecord(*TTL).
	Payload string
	Logger  *slog.Logger
	// Now is the timer used for phase durations.
	Now func() time.Time
}

// DefaultTTL is written when Options.TTL is nil.
const DefaultTTL = time.Hour

// TTL returns a pointer to d for Options.TTL.
func TTL(d time.Duration) *time.Duration { return &d }

func (o Options) withDefaults() (Options, error) {
	if o.Iterations <= 0 {
		o.Iterations = 1000
	}
	if o.TTL == nil {
		o.TTL = TTL(DefaultTTL)
	}
	if *o.TTL < 0 {
		return o, cache.ErrInvalidTTL
	}
	if o.KeyPrefix == "" {
		o.KeyPrefix = "user:"
	}
	if o.Payload == "" {
		b, err := json.Marshal(DefaultRecord(*o.TTL))
		if err != nil {
			return o, err
		}
		o.Payload = string(b)
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o, nil
}

// User and Record shape the default payload, a small serialized session.
type User struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

type Record struct {
	User User  `json:"user"`
	TTL  int64 `json:"ttl"`
}

func DefaultRecord(ttl time.Duration) Record {
	return Record{
		User: User{ID: 1, Name: "Test User", Email: "test@example.com"},
		TTL:  int64(ttl / time.Second),
	}
}

// Result is the timing of one phase against one backend.
type Result struct {
	Backend string
	Phase   Phase
	Ops     int
	Elapsed time.Duration
	// Misses counts reads that found nothing. Informational only.
	Misses int
}

// OpsPerSec returns throughput, or 0 when nothing was timed.
func (r Result) OpsPerSec() float64 {
	if r.Elapsed <= 0 {
		return 0
	}
	return float64(r.Ops) / r.Elapsed.Seconds()
}

// PhaseError aborts a run. No timings are reported for an aborted run.
type PhaseError struct {
	Backend   string
	Phase     Phase
	Iteration int
	Key       string
	Err       error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("bench: %s %s failed at iteration %d (key %q): %v", e.Backend, e.Phase, e.Iteration, e.Key, e.Err)
}

func (e *PhaseError) Unwrap() error { return e.Err }

// Run executes the write phase against every backend in order, then the read
// phase against every backend in order. Operations never overlap. The first
// failure ends the run.
func Run(ctx context.Context, backends []Backend, opts Options) (Report, error) {
	cfg, err := opts.withDefaults()
	if err != nil {
		return Report{}, fmt.Errorf("bench: %w", err)
	}
	if err := validateBackends(backends); err != nil {
		return Report{}, err
	}

	report := Report{Iterations: cfg.Iterations, TTL: *cfg.TTL, PayloadBytes: len(cfg.Payload)}
	for _, phase := range []Phase{PhaseWrite, PhaseRead} {
		for _, b := range backends {
			res, err := runPhase(ctx, b, phase, cfg)
			if err != nil {
				cfg.Logger.Error("phase failed", "backend", b.Name, "phase", phase, "error", err)
				return Report{}, err
			}
			cfg.Logger.Info("phase complete",
				"backend", b.Name,
				"phase", phase,
				"ops", res.Ops,
				"elapsed", res.Elapsed,
				"misses", res.Misses,
			)
			report.Results = append(report.Results, res)
		}
	}
	return report, nil
}

func runPhase(ctx context.Context, b Backend, phase Phase, cfg Options) (Result, error) {
	res := Result{Backend: b.Name, Phase: phase}
	start := cfg.Now()
	for i := 0; i < cfg.Iterations; i++ {
		if err := ctx.Err(); err != nil {
			return Result{}, &PhaseError{Backend: b.Name, Phase: phase, Iteration: i, Err: err}
		}
		key := cfg.KeyPrefix + strconv.Itoa(i)
		var err error
		switch phase {
		case PhaseWrite:
			err = b.Store.Set(ctx, key, cfg.Payload, *cfg.TTL)
		case PhaseRead:
			var found bool
			_, found, err = b.Store.Get(ctx, key)
			if err == nil && !found {
				res.Misses++
			}
		}
		if err != nil {
			return Result{}, &PhaseError{Backend: b.Name, Phase: phase, Iteration: i, Key: key, Err: err}
		}
		res.Ops++
	}
	res.Elapsed = cfg.Now().Sub(start)
	return res, nil
}

func validateBackends(backends []Backend) error {
	if len(backends) == 0 {
		return errors.New("bench: no backends")
	}
	seen := make(map[string]bool, len(backends))
	for _, b := range backends {
		switch {
		case b.Name == "":
			return errors.New("bench: backend name is required")
		case b.Store == nil:
			return fmt.Errorf("bench: backend %q has no store", b.Name)
		case seen[b.Name]:
			return fmt.Errorf("bench: duplicate backend %q", b.Name)
		}
		seen[b.Name] = true
	}
	return nil
}

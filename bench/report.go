package bench

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"
)

// Report holds the timings of a completed run in execution order.
type Report struct {
	Iterations   int
	TTL          time.Duration
	PayloadBytes int
	Results      []Result
}

// Lookup returns the result for backend and phase.
func (r Report) Lookup(backend string, phase Phase) (Result, bool) {
	for _, res := range r.Results {
		if res.Backend == backend && res.Phase == phase {
			return res, true
		}
	}
	return Result{}, false
}

// Write prints the report as an aligned table.
func (r Report) Write(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "iterations=%d ttl=%s payload=%dB\n", r.Iterations, r.TTL, r.PayloadBytes); err != nil {
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BACKEND\tPHASE\tOPS\tELAPSED\tOPS/SEC\tMISSES")
	for _, res := range r.Results {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%.0f\t%d\n",
			res.Backend, res.Phase, res.Ops, res.Elapsed.Round(time.Microsecond), res.OpsPerSec(), res.Misses)
	}
	return tw.Flush()
}

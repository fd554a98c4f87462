package engine

import (
	"context"

	"github.com/kilnbuild/kiln/pkg/graph"
	"github.com/kilnbuild/kiln/pkg/rule"
)

// Options configures one run.
type Options struct {
	// DryRun reports what would be rebuilt without executing actions.
	DryRun bool

	// KeepGoing continues past a failed rule, discarding only its
	// dependents. The default stops dispatching after the first failure.
	KeepGoing bool

	// Workers is the number of concurrent rule executors. Zero or one
	// selects the serial scheduler.
	Workers int

	// Placement selects where actions run. Empty defaults to PlaceThread.
	Placement Placement

	// RunnerPath locates the kiln-runner binary. Required for PlaceProcess.
	RunnerPath string

	// Observers receive the build's event stream.
	Observers []Observer
}

// Make builds the closure. Rule failures are reported through events and
// the summary; the returned error is reserved for fatal conditions that
// abort the run, such as a rejected memo record, a broken worker transport,
// an observer panic, or interruption.
func Make(ctx context.Context, closure *graph.Closure, opts Options) (Summary, error) {
	if closure == nil || closure.Len() == 0 {
		return Summary{}, NewConfigError("nothing to build", nil)
	}

	var exec executor = threadExecutor{}
	if opts.Placement == PlaceProcess && !opts.DryRun {
		if opts.RunnerPath == "" {
			return Summary{}, NewConfigError("process placement requires a runner path", nil)
		}
		pe := newProcessExecutor(opts.RunnerPath)
		defer func() { _ = pe.close() }()

		rules := make([]*rule.Rule, 0, closure.Len())
		for _, id := range closure.Order() {
			rules = append(rules, closure.Rule(id))
		}
		if err := pe.probeClosure(ctx, rules); err != nil {
			return Summary{}, err
		}
		exec = pe
	}

	p := &pipeline{
		closure:   closure,
		opts:      opts,
		exec:      exec,
		observers: opts.Observers,
	}

	if opts.Workers <= 1 {
		return runSerial(ctx, p)
	}
	return runParallel(ctx, p, opts.Workers)
}

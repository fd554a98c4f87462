package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/kilnbuild/kiln/pkg/rule"
	"github.com/kilnbuild/kiln/pkg/worker/client"
	"github.com/kilnbuild/kiln/pkg/worker/protocol"
)

// Placement selects where rule actions execute.
type Placement string

const (
	// PlaceThread runs actions on the scheduler's own goroutines.
	PlaceThread Placement = "thread"

	// PlaceProcess ships transferable actions to isolated worker processes.
	// Actions that cannot be serialized still run in-process.
	PlaceProcess Placement = "process"
)

// executor runs one rule's action. Placement decides the implementation;
// both run the same handler code for the built-in actions, so the choice
// never changes what a rule does, only where it does it.
type executor interface {
	execute(ctx context.Context, r *rule.Rule) error
	close() error
}

// threadExecutor runs every action in-process.
type threadExecutor struct{}

func (threadExecutor) execute(ctx context.Context, r *rule.Rule) error {
	return r.Action().Run(ctx)
}

func (threadExecutor) close() error { return nil }

// processExecutor runs transferable actions in pooled worker processes.
// Every transferable rule is probed before its action runs: the rule's spec
// is shipped to a worker, decoded, and echoed back, proving that this
// particular spec survives the process boundary before any real work
// crosses it. Probe results are cached per rule id.
type processExecutor struct {
	pool *client.Pool

	mu     sync.Mutex
	probed map[int]error
}

func newProcessExecutor(runnerPath string) *processExecutor {
	return &processExecutor{
		pool:   client.NewPool(client.Config{RunnerPath: runnerPath}),
		probed: make(map[int]error),
	}
}

// probeClosure probes every transferable rule in the closure before any
// dispatch. An unroundtrippable spec fails the run up front instead of
// midway through it.
func (e *processExecutor) probeClosure(ctx context.Context, rules []*rule.Rule) error {
	for _, r := range rules {
		tr, ok := r.Action().(rule.Transferable)
		if !ok {
			continue
		}
		spec, err := tr.Spec()
		if err != nil {
			return NewFatalError(fmt.Sprintf("serialize action for rule %q", r.Name()), err)
		}
		if err := e.probe(ctx, r.ID(), spec); err != nil {
			return NewFatalError(fmt.Sprintf("worker placement probe failed for rule %q", r.Name()), err)
		}
	}
	return nil
}

func (e *processExecutor) execute(ctx context.Context, r *rule.Rule) error {
	tr, ok := r.Action().(rule.Transferable)
	if !ok {
		return r.Action().Run(ctx)
	}
	spec, err := tr.Spec()
	if err != nil {
		return fmt.Errorf("serialize action: %w", err)
	}

	if err := e.probe(ctx, r.ID(), spec); err != nil {
		return NewFatalError("worker placement probe failed", err)
	}

	w, err := e.pool.Get(ctx)
	if err != nil {
		return NewFatalError("no worker available", err)
	}
	runErr := w.Run(ctx, spec)
	e.pool.Put(w)
	return runErr
}

// probe validates spec round-tripping once per rule per run. Pool errors
// are not cached; a later attempt may find a healthy worker.
func (e *processExecutor) probe(ctx context.Context, id int, spec *protocol.ActionSpec) error {
	e.mu.Lock()
	if err, ok := e.probed[id]; ok {
		e.mu.Unlock()
		return err
	}
	e.mu.Unlock()

	w, err := e.pool.Get(ctx)
	if err != nil {
		return err
	}
	err = w.Probe(ctx, spec)
	e.pool.Put(w)

	e.mu.Lock()
	e.probed[id] = err
	e.mu.Unlock()
	return err
}

func (e *processExecutor) close() error {
	return e.pool.Close()
}

package engine

import (
	"context"
	"sync"
)

// parallelRun is the shared state of one parallel execution: a ready queue
// guarded by a mutex and condition variable, per-rule dependency
// countdowns, and the reverse-dependency map used to release dependents
// when a rule completes.
type parallelRun struct {
	p *pipeline

	mu   sync.Mutex
	cond *sync.Cond

	ready    []int
	waiting  map[int]int
	revDeps  map[int][]int
	updated  map[int]bool
	badDep   map[int]bool
	pending  int
	inFlight int

	stop  bool
	fatal error
	sum   Summary

	stopOnFail sync.Once
}

// runParallel executes the closure on a fixed pool of worker goroutines.
// A rule becomes ready when its last in-closure dependency reaches a
// terminal state; a failed or discarded dependency discards the dependent
// instead of readying it.
func runParallel(ctx context.Context, p *pipeline, workers int) (Summary, error) {
	order := p.closure.Order()
	run := &parallelRun{
		p:       p,
		waiting: make(map[int]int, len(order)),
		revDeps: make(map[int][]int, len(order)),
		updated: make(map[int]bool, len(order)),
		badDep:  make(map[int]bool),
		pending: len(order),
		sum:     Summary{Total: len(order)},
	}
	run.cond = sync.NewCond(&run.mu)

	inClosure := make(map[int]bool, len(order))
	for _, id := range order {
		inClosure[id] = true
	}
	for _, id := range order {
		n := 0
		for _, dep := range p.closure.Rule(id).Deps() {
			if !inClosure[dep] {
				continue
			}
			n++
			run.revDeps[dep] = append(run.revDeps[dep], id)
		}
		run.waiting[id] = n
		if n == 0 {
			run.ready = append(run.ready, id)
		}
	}

	// Interruption wakes the workers; rules already executing see the
	// cancelled context and fail through the normal path, including their
	// failure-side postprocess.
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case <-ctx.Done():
			run.mu.Lock()
			run.stop = true
			if run.fatal == nil {
				run.fatal = NewFatalError("build interrupted", ctx.Err())
			}
			run.cond.Broadcast()
			run.mu.Unlock()
		case <-watchDone:
		}
	}()

	if workers > len(order) {
		workers = len(order)
	}
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			run.worker(ctx)
		}()
	}
	wg.Wait()

	run.mu.Lock()
	defer run.mu.Unlock()
	// Rules never dispatched because the run stopped early.
	run.sum.Discarded += run.pending
	run.pending = 0
	if run.fatal == nil && ctx.Err() != nil {
		run.fatal = NewFatalError("build interrupted", ctx.Err())
	}
	if run.fatal != nil {
		_ = p.emit(Event{Type: EventFatalError, Err: run.fatal})
	}
	return run.sum, run.fatal
}

// worker pulls ready rules until the run stops or drains.
func (r *parallelRun) worker(ctx context.Context) {
	for {
		r.mu.Lock()
		for len(r.ready) == 0 && !r.stop && r.pending+r.inFlight > 0 {
			r.cond.Wait()
		}
		if r.stop || len(r.ready) == 0 {
			r.mu.Unlock()
			return
		}
		id := r.ready[0]
		r.ready = r.ready[1:]
		r.pending--
		r.inFlight++

		rl := r.p.closure.Rule(id)
		depUpdated := false
		for _, dep := range rl.Deps() {
			if r.updated[dep] {
				depUpdated = true
			}
		}
		r.mu.Unlock()

		out, err := r.p.process(ctx, rl, depUpdated)

		r.mu.Lock()
		r.inFlight--
		switch out {
		case outcomeUpdated:
			r.sum.Updated++
			r.updated[id] = true
		case outcomeSkipped:
			r.sum.Skipped++
		case outcomeFailed:
			r.sum.Failed++
		}
		if err != nil {
			r.stop = true
			if r.fatal == nil {
				r.fatal = err
			}
			r.cond.Broadcast()
			r.mu.Unlock()
			return
		}
		if out == outcomeFailed {
			if !r.p.opts.KeepGoing {
				r.stop = true
				r.mu.Unlock()
				r.stopOnFail.Do(func() {
					if emitErr := r.p.emit(Event{Type: EventStopOnFail, Rule: rl}); emitErr != nil {
						r.mu.Lock()
						if r.fatal == nil {
							r.fatal = emitErr
						}
						r.mu.Unlock()
					}
				})
				r.mu.Lock()
				r.cond.Broadcast()
				r.mu.Unlock()
				return
			}
			r.release(id, true)
		} else {
			r.release(id, false)
		}
		if r.pending+r.inFlight == 0 {
			r.cond.Broadcast()
		}
		r.mu.Unlock()
	}
}

// release decrements dependents' countdowns after id reached a terminal
// state. A dependent whose countdown hits zero is readied, or discarded if
// any of its dependencies went bad. Discards cascade. Caller holds the
// mutex.
func (r *parallelRun) release(id int, bad bool) {
	for _, dep := range r.revDeps[id] {
		if bad {
			r.badDep[dep] = true
		}
		r.waiting[dep]--
		if r.waiting[dep] > 0 {
			continue
		}
		if r.badDep[dep] {
			r.sum.Discarded++
			r.pending--
			r.release(dep, true)
		} else {
			r.ready = append(r.ready, dep)
			r.cond.Signal()
		}
	}
}

package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/kilnbuild/kiln/pkg/graph"
	"github.com/kilnbuild/kiln/pkg/rule"
)

// outcome is what became of one dispatched rule.
type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeUpdated
	outcomeFailed
)

// pipeline holds the per-run state shared by the serial and parallel
// schedulers: the closure, the options, the placement executor, and the
// observer list. The per-rule phase sequence lives here so both schedulers
// produce identical event streams for identical graphs.
type pipeline struct {
	closure   *graph.Closure
	opts      Options
	exec      executor
	observers []Observer
}

// emit dispatches an event to every observer. A panicking observer is
// converted into a fatal error; the run must abort rather than continue
// with an observer in an unknown state.
func (p *pipeline) emit(ev Event) (err error) {
	ev.Timestamp = time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			err = NewFatalError(fmt.Sprintf("observer panicked on %s event", ev.Type),
				fmt.Errorf("%v", rec))
		}
	}()
	for _, obs := range p.observers {
		obs.OnEvent(ev)
	}
	return nil
}

// process takes one rule through check, preprocess, action, and
// postprocess, emitting exactly one terminal event. The returned error is
// reserved for fatal conditions; ordinary rule failures are folded into the
// outcome.
func (p *pipeline) process(ctx context.Context, r *rule.Rule, depUpdated bool) (outcome, error) {
	check, err := r.CheckUpdate(depUpdated, p.opts.DryRun)
	if err != nil {
		// Hard memo failure: tampered record or encoding switch. Never
		// silently rebuilt over.
		return outcomeFailed, NewFatalError("memo record rejected", err).WithRule(r.Name())
	}

	switch check.Decision {
	case rule.UpToDate:
		ev := Event{Type: EventSkip, Rule: r, Direct: p.closure.Requested(r.ID())}
		if err := p.emit(ev); err != nil {
			return outcomeSkipped, err
		}
		return outcomeSkipped, nil

	case rule.Infeasible:
		ev := Event{
			Type:   EventUpdateInfeasible,
			Rule:   r,
			Reason: check.Reason,
			Err:    newRuleError(ErrorKindInfeasible, r.Name(), check.Reason, nil),
		}
		if err := p.emit(ev); err != nil {
			return outcomeFailed, err
		}
		return outcomeFailed, nil
	}

	// Necessary, or PossiblyNecessary in a dry run.
	if p.opts.DryRun {
		if err := p.emit(Event{Type: EventDryRun, Rule: r}); err != nil {
			return outcomeUpdated, err
		}
		return outcomeUpdated, nil
	}

	if err := r.Preprocess(); err != nil {
		ev := Event{
			Type: EventPreProcessError,
			Rule: r,
			Err:  newRuleError(ErrorKindPreprocess, r.Name(), "preprocess failed", err),
		}
		if emitErr := p.emit(ev); emitErr != nil {
			return outcomeFailed, emitErr
		}
		return outcomeFailed, nil
	}

	if err := p.emit(Event{Type: EventStart, Rule: r}); err != nil {
		return outcomeFailed, err
	}

	if execErr := p.runAction(ctx, r); execErr != nil {
		// Outputs may be half-written; stamp them so the next run sees
		// "must rebuild" even if the content looks plausible.
		_ = r.Postprocess(false)
		if IsFatal(execErr) {
			return outcomeFailed, execErr
		}
		ev := Event{
			Type: EventExecError,
			Rule: r,
			Err:  newRuleError(ErrorKindExecution, r.Name(), "action failed", execErr),
		}
		if emitErr := p.emit(ev); emitErr != nil {
			return outcomeFailed, emitErr
		}
		return outcomeFailed, nil
	}

	if err := r.Postprocess(true); err != nil {
		ev := Event{
			Type: EventPostProcessError,
			Rule: r,
			Err:  newRuleError(ErrorKindPostprocess, r.Name(), "postprocess failed", err),
		}
		if emitErr := p.emit(ev); emitErr != nil {
			return outcomeFailed, emitErr
		}
		return outcomeFailed, nil
	}

	if err := p.emit(Event{Type: EventDone, Rule: r}); err != nil {
		return outcomeUpdated, err
	}
	return outcomeUpdated, nil
}

// runAction executes the action through the placement executor, converting
// a panic into an ordinary execution error so one bad rule cannot take down
// the scheduler.
func (p *pipeline) runAction(ctx context.Context, r *rule.Rule) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("action panicked: %v", rec)
		}
	}()
	return p.exec.execute(ctx, r)
}

package engine

import (
	"context"
)

// runSerial executes the closure one rule at a time in dependency order.
// Rules whose dependencies failed or were discarded are discarded without
// dispatch and without events.
func runSerial(ctx context.Context, p *pipeline) (Summary, error) {
	order := p.closure.Order()
	sum := Summary{Total: len(order)}
	updated := make(map[int]bool)
	bad := make(map[int]bool)

	for i, id := range order {
		if err := ctx.Err(); err != nil {
			sum.Discarded += len(order) - i
			fatal := NewFatalError("build interrupted", err)
			_ = p.emit(Event{Type: EventFatalError, Err: fatal})
			return sum, fatal
		}

		r := p.closure.Rule(id)

		depBad := false
		depUpdated := false
		for _, dep := range r.Deps() {
			if bad[dep] {
				depBad = true
			}
			if updated[dep] {
				depUpdated = true
			}
		}
		if depBad {
			sum.Discarded++
			bad[id] = true
			continue
		}

		out, err := p.process(ctx, r, depUpdated)
		switch out {
		case outcomeUpdated:
			sum.Updated++
			updated[id] = true
		case outcomeSkipped:
			sum.Skipped++
		case outcomeFailed:
			sum.Failed++
			bad[id] = true
		}
		if err != nil {
			sum.Discarded += len(order) - i - 1
			_ = p.emit(Event{Type: EventFatalError, Rule: r, Err: err})
			return sum, err
		}

		if out == outcomeFailed && !p.opts.KeepGoing {
			if emitErr := p.emit(Event{Type: EventStopOnFail, Rule: r}); emitErr != nil {
				sum.Discarded += len(order) - i - 1
				return sum, emitErr
			}
			sum.Discarded += len(order) - i - 1
			return sum, nil
		}
	}

	return sum, nil
}

package commands

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/kilnbuild/kiln/pkg/engine"
	"github.com/kilnbuild/kiln/pkg/telemetry"
)

// telemetryObserver translates the event stream into metrics and traces: an
// outcome counter for every terminal event and, for rules that actually ran,
// a span plus a duration sample covering Start through the terminal event.
// Rules that skip, dry-run or turn out infeasible never start, so they get
// an outcome but no span.
type telemetryObserver struct {
	ctx     context.Context
	tracer  *telemetry.Tracer
	metrics *telemetry.Metrics

	mu      sync.Mutex
	started map[int]ruleSpan
}

type ruleSpan struct {
	span  trace.Span
	begin time.Time
}

// newTelemetryObserver creates an observer whose rule spans nest under the
// span carried by ctx.
func newTelemetryObserver(ctx context.Context, tel *telemetry.Telemetry) *telemetryObserver {
	return &telemetryObserver{
		ctx:     ctx,
		tracer:  tel.Tracer,
		metrics: tel.Metrics,
		started: make(map[int]ruleSpan),
	}
}

// OnEvent implements engine.Observer. Safe for the parallel scheduler.
func (o *telemetryObserver) OnEvent(ev engine.Event) {
	if ev.Rule == nil {
		return
	}

	if ev.Type == engine.EventStart {
		_, span := o.tracer.StartRuleSpan(o.ctx, ev.Rule.ID(), ev.Rule.Name())
		o.mu.Lock()
		o.started[ev.Rule.ID()] = ruleSpan{span: span, begin: ev.Timestamp}
		o.mu.Unlock()
		return
	}

	if !ev.Terminal() {
		return
	}
	o.metrics.RecordRuleOutcome(string(ev.Type))

	o.mu.Lock()
	rs, ok := o.started[ev.Rule.ID()]
	delete(o.started, ev.Rule.ID())
	o.mu.Unlock()
	if !ok {
		return
	}

	o.metrics.RecordRuleDuration(string(ev.Type), ev.Timestamp.Sub(rs.begin))
	if ev.Err != nil {
		telemetry.RecordError(rs.span, ev.Err)
	} else {
		telemetry.RecordSuccess(rs.span)
	}
	rs.span.End()
}

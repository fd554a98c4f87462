package stores

import (
	"context"
	"sync"
	"time"

	"github.com/kilnbuild/kiln/pkg/engine"
)

// Recorder is an engine observer that persists terminal rule events to a
// history store. Write failures are collected rather than surfaced through
// the event stream, so a broken history database never fails a build.
type Recorder struct {
	store   HistoryStore
	buildID string

	mu     sync.Mutex
	starts map[int]time.Time
	errs   []error
}

// NewRecorder creates a recorder that attributes outcomes to the given build.
func NewRecorder(store HistoryStore, buildID string) *Recorder {
	return &Recorder{
		store:   store,
		buildID: buildID,
		starts:  make(map[int]time.Time),
	}
}

// OnEvent implements engine.Observer.
func (r *Recorder) OnEvent(ev engine.Event) {
	if ev.Rule == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if ev.Type == engine.EventStart {
		r.starts[ev.Rule.ID()] = ev.Timestamp
		return
	}
	if !ev.Terminal() {
		return
	}

	outcome := &RuleOutcome{
		BuildID:   r.buildID,
		RuleID:    ev.Rule.ID(),
		RuleName:  ev.Rule.Name(),
		Event:     string(ev.Type),
		Timestamp: ev.Timestamp,
	}
	if ev.Reason != "" {
		reason := ev.Reason
		outcome.Reason = &reason
	}
	if ev.Err != nil {
		msg := ev.Err.Error()
		outcome.Error = &msg
	}
	if started, ok := r.starts[ev.Rule.ID()]; ok {
		outcome.DurationMS = ev.Timestamp.Sub(started).Milliseconds()
		delete(r.starts, ev.Rule.ID())
	}

	if err := r.store.AppendRuleOutcome(context.Background(), outcome); err != nil {
		r.errs = append(r.errs, err)
	}
}

// Errs returns any store write errors collected during the run.
func (r *Recorder) Errs() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

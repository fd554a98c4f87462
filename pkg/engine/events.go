package engine

import (
	"fmt"
	"time"

	"github.com/kilnbuild/kiln/pkg/rule"
)

// EventType identifies what happened to a rule or to the run.
type EventType string

const (
	// EventSkip is terminal: the rule was checked and found up to date.
	EventSkip EventType = "skip"

	// EventStart marks the beginning of a rule's execution. It is the only
	// non-terminal rule event; a Done or error event always follows.
	EventStart EventType = "start"

	// EventDone is terminal: the rule executed and finalized successfully.
	EventDone EventType = "done"

	// EventDryRun is terminal: the rule would be executed, but the run is a
	// dry run.
	EventDryRun EventType = "dry-run"

	// EventUpdateInfeasible is terminal: staleness could not be determined.
	EventUpdateInfeasible EventType = "update-infeasible"

	// EventPreProcessError is terminal: the pre-execution phase failed.
	EventPreProcessError EventType = "preprocess-error"

	// EventExecError is terminal: the action returned an error or panicked.
	EventExecError EventType = "exec-error"

	// EventPostProcessError is terminal: finalization after a successful
	// action failed.
	EventPostProcessError EventType = "postprocess-error"

	// EventStopOnFail is run-level: a failure occurred and the run is not in
	// keep-going mode, so no further rules will be dispatched.
	EventStopOnFail EventType = "stop-on-fail"

	// EventFatalError is run-level: the build machinery itself failed and
	// the run is aborting.
	EventFatalError EventType = "fatal-error"
)

// Event is one entry in the build's event stream. Every dispatched rule
// produces exactly one terminal event; rules discarded without being
// dispatched produce none.
type Event struct {
	// Type is the event classification.
	Type EventType

	// Rule is the subject rule. Nil for run-level events.
	Rule *rule.Rule

	// Direct is set on Skip events for rules that were named as targets
	// rather than pulled in as dependencies.
	Direct bool

	// Reason carries the explanation on UpdateInfeasible events.
	Reason string

	// Err carries the failure on error events.
	Err error

	// Timestamp records when the event was emitted.
	Timestamp time.Time
}

// String renders the event for logs.
func (e Event) String() string {
	name := ""
	if e.Rule != nil {
		name = e.Rule.Name()
	}
	switch {
	case e.Err != nil:
		return fmt.Sprintf("%s %s: %v", e.Type, name, e.Err)
	case e.Reason != "":
		return fmt.Sprintf("%s %s: %s", e.Type, name, e.Reason)
	default:
		return fmt.Sprintf("%s %s", e.Type, name)
	}
}

// Terminal reports whether the event closes out its rule.
func (e Event) Terminal() bool {
	switch e.Type {
	case EventSkip, EventDone, EventDryRun, EventUpdateInfeasible,
		EventPreProcessError, EventExecError, EventPostProcessError:
		return true
	}
	return false
}

// Observer receives build events. Implementations must be safe for
// concurrent use when the parallel scheduler is selected. A panicking
// observer aborts the run with a fatal error.
type Observer interface {
	OnEvent(Event)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(Event)

// OnEvent implements Observer.
func (f ObserverFunc) OnEvent(ev Event) { f(ev) }

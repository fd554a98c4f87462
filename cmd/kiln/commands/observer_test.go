package commands

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/kilnbuild/kiln/pkg/engine"
	"github.com/kilnbuild/kiln/pkg/graph"
	"github.com/kilnbuild/kiln/pkg/rule"
	"github.com/kilnbuild/kiln/pkg/telemetry"
)

func testObserver(t *testing.T) (*telemetryObserver, *rule.Rule) {
	t.Helper()

	tel, err := telemetry.NewTelemetry(telemetry.DefaultConfig())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = tel.Shutdown(context.Background()) })

	store := graph.NewStore(nil)
	r, err := store.Add(rule.Def{
		Name:    "gen",
		Outputs: []rule.File{{Path: filepath.Join(t.TempDir(), "gen.txt")}},
		Action:  &rule.FuncAction{Name: "gen", Fn: func(context.Context) error { return nil }},
	})
	if err != nil {
		t.Fatal(err)
	}
	return newTelemetryObserver(context.Background(), tel), r
}

func TestTelemetryObserverSpanLifecycle(t *testing.T) {
	obs, r := testObserver(t)

	begin := time.Now()
	obs.OnEvent(engine.Event{Type: engine.EventStart, Rule: r, Timestamp: begin})
	if _, ok := obs.started[r.ID()]; !ok {
		t.Fatal("start event did not open a span")
	}

	obs.OnEvent(engine.Event{Type: engine.EventDone, Rule: r, Timestamp: begin.Add(10 * time.Millisecond)})
	if _, ok := obs.started[r.ID()]; ok {
		t.Error("terminal event left the span open")
	}
}

func TestTelemetryObserverErrorEndsSpan(t *testing.T) {
	obs, r := testObserver(t)

	begin := time.Now()
	obs.OnEvent(engine.Event{Type: engine.EventStart, Rule: r, Timestamp: begin})
	obs.OnEvent(engine.Event{
		Type:      engine.EventExecError,
		Rule:      r,
		Err:       errors.New("boom"),
		Timestamp: begin.Add(time.Millisecond),
	})
	if len(obs.started) != 0 {
		t.Error("error event left the span open")
	}
}

func TestTelemetryObserverTerminalWithoutStart(t *testing.T) {
	obs, r := testObserver(t)

	// Skipped rules never start; only the outcome counter moves.
	obs.OnEvent(engine.Event{Type: engine.EventSkip, Rule: r, Timestamp: time.Now()})
	if len(obs.started) != 0 {
		t.Errorf("started = %d, want empty", len(obs.started))
	}

	// Run-level events carry no rule and are ignored.
	obs.OnEvent(engine.Event{Type: engine.EventStopOnFail, Timestamp: time.Now()})
}

package engine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/kilnbuild/kiln/pkg/graph"
	"github.com/kilnbuild/kiln/pkg/rule"
	"github.com/kilnbuild/kiln/pkg/worker/protocol"
)

// A nil pool panics on Get, so these tests prove the cached paths never
// reach for a worker.

func TestProcessExecutorProbeCachePerRule(t *testing.T) {
	specErr := errors.New("spec did not round-trip")
	e := &processExecutor{
		probed: map[int]error{
			0: nil,
			1: specErr,
		},
	}

	spec := &protocol.ActionSpec{Type: protocol.ActionFileWrite}
	if err := e.probe(context.Background(), 0, spec); err != nil {
		t.Errorf("probe(0) = %v, want cached nil", err)
	}
	if err := e.probe(context.Background(), 1, spec); !errors.Is(err, specErr) {
		t.Errorf("probe(1) = %v, want cached %v", err, specErr)
	}
}

func TestProbeClosureSkipsNonTransferable(t *testing.T) {
	dir := t.TempDir()
	store := graph.NewStore(nil)
	a, b := chain(t, store, dir)

	e := &processExecutor{probed: map[int]error{}}
	if err := e.probeClosure(context.Background(), []*rule.Rule{a, b}); err != nil {
		t.Errorf("probeClosure = %v, want nil for function actions", err)
	}
}

func TestProbeClosureReportsCachedFailure(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "gen.txt")

	action, err := rule.NewWriteFileAction(out, []byte("payload"), 0)
	if err != nil {
		t.Fatal(err)
	}
	store := graph.NewStore(nil)
	r, err := store.Add(rule.Def{
		Name:    "gen",
		Outputs: []rule.File{{Path: out}},
		Action:  action,
	})
	if err != nil {
		t.Fatal(err)
	}

	specErr := errors.New("spec did not round-trip")
	e := &processExecutor{probed: map[int]error{r.ID(): specErr}}

	err = e.probeClosure(context.Background(), []*rule.Rule{r})
	if err == nil {
		t.Fatal("probeClosure accepted a rule with a failed probe")
	}
	if !IsFatal(err) {
		t.Errorf("probeClosure error = %v, want fatal", err)
	}
	if !errors.Is(err, specErr) {
		t.Errorf("probeClosure error = %v, want wrapped %v", err, specErr)
	}
}

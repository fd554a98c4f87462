package graph

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/kilnbuild/kiln/pkg/rule"
)

func TestAssembleOrder(t *testing.T) {
	dir := t.TempDir()
	store, rules := chainStore(t, dir)

	closure, err := Assemble(store.RuleTarget(rules[2]))
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}

	want := []int{rules[0].ID(), rules[1].ID(), rules[2].ID()}
	got := closure.Order()
	if len(got) != len(want) {
		t.Fatalf("Order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Order = %v, want %v", got, want)
			break
		}
	}

	if !closure.Requested(rules[2].ID()) {
		t.Error("app not marked requested")
	}
	if closure.Requested(rules[0].ID()) {
		t.Error("transitive dependency marked requested")
	}
}

func TestAssembleDeduplicates(t *testing.T) {
	dir := t.TempDir()
	store, rules := chainStore(t, dir)

	// mid appears both as a target and as app's dependency
	closure, err := Assemble(store.RuleTarget(rules[1]), store.RuleTarget(rules[2], rules[1]))
	if err != nil {
		t.Fatalf("Assemble error: %v", err)
	}
	if closure.Len() != 3 {
		t.Errorf("Len = %d, want 3", closure.Len())
	}

	seen := make(map[int]bool)
	for _, id := range closure.Order() {
		if seen[id] {
			t.Errorf("rule %d appears twice in order", id)
		}
		seen[id] = true
	}
}

func TestAssembleNoTargets(t *testing.T) {
	if _, err := Assemble(); err == nil {
		t.Error("Assemble() with no targets succeeded")
	}
}

func TestAssembleCrossStore(t *testing.T) {
	dir := t.TempDir()
	storeA, rulesA := chainStore(t, filepath.Join(dir, "a"))
	storeB, rulesB := chainStore(t, filepath.Join(dir, "b"))

	_, err := Assemble(storeA.RuleTarget(rulesA[0]), storeB.RuleTarget(rulesB[0]))
	if !errors.Is(err, ErrCrossStore) {
		t.Errorf("Assemble error = %v, want ErrCrossStore", err)
	}
}

func TestAssembleUnknownRule(t *testing.T) {
	dir := t.TempDir()
	store, _ := chainStore(t, dir)

	_, err := Assemble(store.Target(42))
	if !errors.Is(err, ErrUnknownRule) {
		t.Errorf("Assemble error = %v, want ErrUnknownRule", err)
	}
}

func TestForwardReferenceCannotCloseCycle(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(nil)

	// a consumes b's output before b is registered. Producer lookups only
	// see earlier rules, so the forward reference stays an original input
	// instead of closing a cycle.
	a, err := store.Add(rule.Def{
		Name:    "a",
		Outputs: []rule.File{{Path: filepath.Join(dir, "a.out")}},
		Inputs:  []rule.File{{Path: filepath.Join(dir, "b.out")}},
		Action:  noop(),
	})
	if err != nil {
		t.Fatal(err)
	}
	b, err := store.Add(rule.Def{
		Name:    "b",
		Outputs: []rule.File{{Path: filepath.Join(dir, "b.out")}},
		Inputs:  []rule.File{{Path: filepath.Join(dir, "a.out")}},
		Action:  noop(),
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(a.Deps()) != 0 {
		t.Errorf("a deps = %v, want none", a.Deps())
	}
	if !a.Inputs()[0].Original {
		t.Error("forward reference not tagged original")
	}
	if got := b.Deps(); len(got) != 1 || got[0] != a.ID() {
		t.Errorf("b deps = %v, want [%d]", got, a.ID())
	}

	if _, err := Assemble(store.Target(a.ID(), b.ID())); err != nil {
		t.Errorf("Assemble error: %v", err)
	}
}

func TestToDOT(t *testing.T) {
	dir := t.TempDir()
	store, rules := chainStore(t, dir)

	closure, err := Assemble(store.RuleTarget(rules[2]))
	if err != nil {
		t.Fatal(err)
	}

	dot := closure.ToDOT()
	if !strings.HasPrefix(dot, "digraph BuildGraph {") {
		t.Errorf("missing digraph header:\n%s", dot)
	}
	for _, r := range rules {
		if !strings.Contains(dot, escapeDOT(r.Name())) {
			t.Errorf("rule %q missing from DOT output", r.Name())
		}
	}
	edge := `"rule_0" -> "rule_1"`
	if !strings.Contains(dot, edge) {
		t.Errorf("edge %s missing:\n%s", edge, dot)
	}
	if !strings.Contains(dot, "lightblue") {
		t.Error("requested rule not highlighted")
	}
}

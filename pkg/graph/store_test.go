package graph

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/kilnbuild/kiln/pkg/memo"
	"github.com/kilnbuild/kiln/pkg/rule"
)

func noop() rule.Action {
	return &rule.FuncAction{Name: "noop", Fn: func(context.Context) error { return nil }}
}

// chainStore registers src -> mid -> app, where mid consumes src's output
// and app consumes mid's.
func chainStore(t *testing.T, dir string) (*Store, []*rule.Rule) {
	t.Helper()
	store := NewStore(nil)

	src, err := store.Add(rule.Def{
		Name:    "src",
		Outputs: []rule.File{{Path: filepath.Join(dir, "src.o")}},
		Inputs:  []rule.File{{Path: filepath.Join(dir, "src.c")}},
		Action:  noop(),
	})
	if err != nil {
		t.Fatalf("Add(src) error: %v", err)
	}

	mid, err := store.Add(rule.Def{
		Name:    "mid",
		Outputs: []rule.File{{Path: filepath.Join(dir, "mid.a")}},
		Inputs:  []rule.File{{Path: filepath.Join(dir, "src.o")}},
		Action:  noop(),
	})
	if err != nil {
		t.Fatalf("Add(mid) error: %v", err)
	}

	app, err := store.Add(rule.Def{
		Name:    "app",
		Outputs: []rule.File{{Path: filepath.Join(dir, "app")}},
		Inputs:  []rule.File{{Path: filepath.Join(dir, "mid.a")}},
		Action:  noop(),
	})
	if err != nil {
		t.Fatalf("Add(app) error: %v", err)
	}

	return store, []*rule.Rule{src, mid, app}
}

func TestStoreDependencyInference(t *testing.T) {
	dir := t.TempDir()
	_, rules := chainStore(t, dir)

	if len(rules[0].Deps()) != 0 {
		t.Errorf("src deps = %v, want none", rules[0].Deps())
	}
	if got := rules[1].Deps(); len(got) != 1 || got[0] != rules[0].ID() {
		t.Errorf("mid deps = %v, want [%d]", got, rules[0].ID())
	}
	if got := rules[2].Deps(); len(got) != 1 || got[0] != rules[1].ID() {
		t.Errorf("app deps = %v, want [%d]", got, rules[1].ID())
	}

	// Originality tagging follows producer lookups
	if !rules[0].Inputs()[0].Original {
		t.Error("src.c tagged as produced")
	}
	if rules[1].Inputs()[0].Original {
		t.Error("src.o tagged as original")
	}
}

func TestStoreDuplicateOutput(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(nil)
	out := filepath.Join(dir, "out.txt")

	def := rule.Def{
		Name:    "a",
		Outputs: []rule.File{{Path: out}},
		Action:  noop(),
	}
	if _, err := store.Add(def); err != nil {
		t.Fatalf("Add error: %v", err)
	}

	def.Name = "b"
	if _, err := store.Add(def); !errors.Is(err, ErrDuplicateOutput) {
		t.Errorf("duplicate output error = %v, want ErrDuplicateOutput", err)
	}

	// Duplicates within one definition are caught too
	dup := rule.Def{
		Name:    "c",
		Outputs: []rule.File{{Path: filepath.Join(dir, "x")}, {Path: filepath.Join(dir, "x")}},
		Action:  noop(),
	}
	if _, err := store.Add(dup); !errors.Is(err, ErrDuplicateOutput) {
		t.Errorf("within-def duplicate error = %v, want ErrDuplicateOutput", err)
	}
}

func TestStoreRejectsBadDefs(t *testing.T) {
	store := NewStore(nil)

	if _, err := store.Add(rule.Def{Name: "none", Action: noop()}); err == nil {
		t.Error("zero outputs accepted")
	}
	if _, err := store.Add(rule.Def{
		Name:    "empty",
		Outputs: []rule.File{{Path: ""}},
		Action:  noop(),
	}); err == nil {
		t.Error("empty output path accepted")
	}
}

func TestStoreCodecVerifyAtAdd(t *testing.T) {
	codec, err := memo.NewAuthCodec([]byte("0123456789abcdef"))
	if err != nil {
		t.Fatal(err)
	}
	store := NewStore(codec)

	inner := memo.List{memo.Nil{}}
	outer := memo.List{inner}
	inner[0] = outer

	_, err = store.Add(rule.Def{
		Name:    "cyclic",
		Outputs: []rule.File{{Path: "out"}},
		Action:  noop(),
		Args:    outer,
	})
	if !errors.Is(err, memo.ErrCyclicValue) {
		t.Errorf("Add(cyclic args) error = %v, want ErrCyclicValue", err)
	}
}

func TestStoreRuleLookup(t *testing.T) {
	dir := t.TempDir()
	store, rules := chainStore(t, dir)

	r, err := store.Rule(rules[1].ID())
	if err != nil || r != rules[1] {
		t.Errorf("Rule(%d) = %v, %v", rules[1].ID(), r, err)
	}
	if _, err := store.Rule(99); !errors.Is(err, ErrUnknownRule) {
		t.Errorf("Rule(99) error = %v, want ErrUnknownRule", err)
	}
	if store.Len() != 3 {
		t.Errorf("Len = %d, want 3", store.Len())
	}
}

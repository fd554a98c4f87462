package memo

import (
	"errors"
	"strings"
	"testing"
)

func TestCanonicalDeterminism(t *testing.T) {
	a := Map{
		"argv":  List{String("gcc"), String("-O2")},
		"debug": Bool(false),
		"jobs":  Int(4),
	}
	b := Map{
		"jobs":  Int(4),
		"debug": Bool(false),
		"argv":  List{String("gcc"), String("-O2")},
	}

	encA, err := Canonical(a)
	if err != nil {
		t.Fatalf("Canonical(a) error: %v", err)
	}
	encB, err := Canonical(b)
	if err != nil {
		t.Fatalf("Canonical(b) error: %v", err)
	}
	if encA != encB {
		t.Errorf("map key order changed the encoding:\n%s\n%s", encA, encB)
	}
}

func TestCanonicalKindTags(t *testing.T) {
	tests := []struct {
		name string
		a    Value
		b    Value
	}{
		{"string vs int", String("1"), Int(1)},
		{"string vs path", String("/tmp/x"), Path("/tmp/x")},
		{"string vs bytes", String("ab"), Bytes("ab")},
		{"int vs float", Int(1), Float(1)},
		{"list vs set", List{Int(1)}, Set{Int(1)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encA, err := Canonical(tt.a)
			if err != nil {
				t.Fatalf("Canonical(a) error: %v", err)
			}
			encB, err := Canonical(tt.b)
			if err != nil {
				t.Fatalf("Canonical(b) error: %v", err)
			}
			if encA == encB {
				t.Errorf("distinct kinds share encoding %q", encA)
			}
		})
	}
}

func TestCanonicalSetOrderInsensitive(t *testing.T) {
	a := Set{String("x"), String("y"), Int(3)}
	b := Set{Int(3), String("y"), String("x")}

	encA, _ := Canonical(a)
	encB, _ := Canonical(b)
	if encA != encB {
		t.Errorf("set element order changed the encoding:\n%s\n%s", encA, encB)
	}
}

func TestCanonicalAtomUsesMemoSide(t *testing.T) {
	atom := Atom{
		Real: String("postgres://user:hunter2@db/prod"),
		Memo: String("db-credentials-v3"),
	}

	enc, err := Canonical(atom)
	if err != nil {
		t.Fatalf("Canonical error: %v", err)
	}
	if strings.Contains(enc, "hunter2") {
		t.Errorf("real value leaked into encoding: %s", enc)
	}
	memoOnly, _ := Canonical(String("db-credentials-v3"))
	if enc != memoOnly {
		t.Errorf("atom encoding %q differs from memo side %q", enc, memoOnly)
	}
}

func TestCanonicalCycleRejected(t *testing.T) {
	inner := List{Nil{}}
	outer := List{inner}
	inner[0] = outer

	_, err := Canonical(outer)
	if !errors.Is(err, ErrCyclicValue) {
		t.Errorf("Canonical(cycle) error = %v, want ErrCyclicValue", err)
	}
}

func TestCanonicalSharedSubtreeAllowed(t *testing.T) {
	shared := List{Int(1), Int(2)}
	v := Map{"a": shared, "b": shared}

	if _, err := Canonical(v); err != nil {
		t.Errorf("shared subtree rejected: %v", err)
	}
}

func TestFromGo(t *testing.T) {
	v, err := FromGo(map[string]any{
		"name":  "app",
		"jobs":  4,
		"ratio": 0.5,
		"flags": []any{"-v", true},
	})
	if err != nil {
		t.Fatalf("FromGo error: %v", err)
	}

	want := Map{
		"name":  String("app"),
		"jobs":  Int(4),
		"ratio": Float(0.5),
		"flags": List{String("-v"), Bool(true)},
	}
	if !Equal(v, want) {
		t.Errorf("FromGo produced unexpected tree")
	}

	if _, err := FromGo(struct{}{}); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("FromGo(struct{}{}) error = %v, want ErrUnsupportedType", err)
	}
}

func TestFromGoCycleRejected(t *testing.T) {
	l := []any{nil}
	l[0] = l
	if _, err := FromGo(l); !errors.Is(err, ErrCyclicValue) {
		t.Errorf("FromGo(cyclic list) error = %v, want ErrCyclicValue", err)
	}

	m := map[string]any{}
	m["self"] = m
	if _, err := FromGo(m); !errors.Is(err, ErrCyclicValue) {
		t.Errorf("FromGo(cyclic map) error = %v, want ErrCyclicValue", err)
	}

	// Sharing without a cycle stays legal.
	shared := []any{"x"}
	if _, err := FromGo(map[string]any{"a": shared, "b": shared}); err != nil {
		t.Errorf("FromGo(shared subtree) error = %v", err)
	}
}

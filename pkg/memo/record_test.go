package memo

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSidecarPath(t *testing.T) {
	got := SidecarPath(filepath.Join("out", "bin", "app"))
	want := filepath.Join("out", "bin", ".metadata", "app")
	if got != want {
		t.Errorf("SidecarPath = %q, want %q", got, want)
	}
}

func TestRecordSaveLoad(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "app")

	rec := &Record{
		Encoding: EncodingStringHash,
		Args:     `s"hello"`,
		Files:    map[string]string{"in0": "abc123"},
	}
	if err := rec.Save(output); err != nil {
		t.Fatalf("Save error: %v", err)
	}

	loaded, err := Load(output)
	if err != nil {
		t.Fatalf("Load error: %v", err)
	}
	if loaded.Encoding != rec.Encoding || loaded.Args != rec.Args {
		t.Errorf("loaded record differs: %+v", loaded)
	}
	if loaded.Files["in0"] != "abc123" {
		t.Errorf("loaded files differ: %v", loaded.Files)
	}
}

func TestLoadMissingRecord(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "never-built"))
	if !errors.Is(err, ErrRecordNotFound) {
		t.Errorf("Load(missing) error = %v, want ErrRecordNotFound", err)
	}
}

func TestLoadMalformedRecord(t *testing.T) {
	dir := t.TempDir()
	output := filepath.Join(dir, "app")
	sidecar := SidecarPath(output)
	if err := os.MkdirAll(filepath.Dir(sidecar), 0o755); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		data string
	}{
		{"not json", "{{{"},
		{"missing encoding", `{"args":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := os.WriteFile(sidecar, []byte(tt.data), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := Load(output); !errors.Is(err, ErrMalformedRecord) {
				t.Errorf("Load error = %v, want ErrMalformedRecord", err)
			}
		})
	}
}

func TestRemoveTolerantOfAbsence(t *testing.T) {
	if err := Remove(filepath.Join(t.TempDir(), "nothing")); err != nil {
		t.Errorf("Remove(absent) error: %v", err)
	}
}

func TestMemoMatches(t *testing.T) {
	m, err := New(NewStringHashCodec(), Map{"opt": Int(2)})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}

	rec, err := m.Fresh(map[string]*LazyDigest{"in0": ResolvedDigest("aaa")})
	if err != nil {
		t.Fatalf("Fresh error: %v", err)
	}

	tests := []struct {
		name    string
		stored  *Record
		files   map[string]*LazyDigest
		want    bool
		wantErr error
	}{
		{
			name:   "unchanged",
			stored: rec,
			files:  map[string]*LazyDigest{"in0": ResolvedDigest("aaa")},
			want:   true,
		},
		{
			name:   "nil record",
			stored: nil,
			files:  nil,
			want:   false,
		},
		{
			name:   "file content changed",
			stored: rec,
			files:  map[string]*LazyDigest{"in0": ResolvedDigest("bbb")},
			want:   false,
		},
		{
			name:   "file set changed",
			stored: rec,
			files: map[string]*LazyDigest{
				"in0": ResolvedDigest("aaa"),
				"in1": ResolvedDigest("ccc"),
			},
			want: false,
		},
		{
			name:    "foreign encoding",
			stored:  &Record{Encoding: EncodingAuthenticated, Args: "deadbeef"},
			files:   nil,
			wantErr: ErrEncodingMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Matches(tt.stored, tt.files)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Errorf("Matches error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Matches error: %v", err)
			}
			if got != tt.want {
				t.Errorf("Matches = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMemoArgsChangeDetected(t *testing.T) {
	before, err := New(NewStringHashCodec(), Map{"opt": Int(2)})
	if err != nil {
		t.Fatal(err)
	}
	rec, err := before.Fresh(nil)
	if err != nil {
		t.Fatal(err)
	}

	after, err := New(NewStringHashCodec(), Map{"opt": Int(3)})
	if err != nil {
		t.Fatal(err)
	}
	ok, err := after.Matches(rec, nil)
	if err != nil {
		t.Fatalf("Matches error: %v", err)
	}
	if ok {
		t.Error("changed arguments reported as matching")
	}
}

func TestMemoVerifyAtConstruction(t *testing.T) {
	inner := List{Nil{}}
	outer := List{inner}
	inner[0] = outer

	if _, err := New(NewStringHashCodec(), outer); !errors.Is(err, ErrCyclicValue) {
		t.Errorf("New(cycle) error = %v, want ErrCyclicValue", err)
	}
}

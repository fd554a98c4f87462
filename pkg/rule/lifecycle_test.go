package rule

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kilnbuild/kiln/pkg/memo"
)

func TestPreprocessCreatesOutputDirs(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "deep", "nested", "out.txt")

	r := newTestRule(t, Def{Outputs: []File{{Path: out}}}, nil)
	if err := r.Preprocess(); err != nil {
		t.Fatalf("Preprocess error: %v", err)
	}

	info, err := os.Stat(filepath.Dir(out))
	if err != nil || !info.IsDir() {
		t.Errorf("output directory not created: %v", err)
	}
}

func TestPostprocessSuccessWritesRecord(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.txt")
	writeFile(t, out, "built")

	r := newTestRule(t, Def{Outputs: []File{{Path: out}}, Args: memo.Int(1)}, nil)
	if err := r.Postprocess(true); err != nil {
		t.Fatalf("Postprocess error: %v", err)
	}

	if _, err := memo.Load(out); err != nil {
		t.Errorf("no memo record after success: %v", err)
	}
}

func TestPostprocessMissingOutput(t *testing.T) {
	dir := t.TempDir()
	r := newTestRule(t, Def{Outputs: []File{{Path: filepath.Join(dir, "never.txt")}}}, nil)

	err := r.Postprocess(true)
	if !errors.Is(err, ErrOutputMissing) {
		t.Errorf("Postprocess error = %v, want ErrOutputMissing", err)
	}
}

func TestPostprocessOutputIsDirectory(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "outdir")
	if err := os.Mkdir(out, 0o755); err != nil {
		t.Fatal(err)
	}

	r := newTestRule(t, Def{Outputs: []File{{Path: out}}}, nil)
	err := r.Postprocess(true)
	if !errors.Is(err, ErrOutputMissing) {
		t.Errorf("Postprocess error = %v, want ErrOutputMissing", err)
	}
}

func TestPostprocessFailureStampsOutputs(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "out.txt")
	writeFile(t, out, "half-written")

	r := newTestRule(t, Def{Outputs: []File{{Path: out}}}, nil)
	if err := r.Postprocess(false); err != nil {
		t.Fatalf("Postprocess error: %v", err)
	}

	info, err := os.Stat(out)
	if err != nil {
		t.Fatal(err)
	}
	if !info.ModTime().Equal(time.Unix(0, 0)) {
		t.Errorf("failed output mtime = %v, want epoch sentinel", info.ModTime())
	}

	// The stamped output forces a rebuild on the next check
	check, err := r.CheckUpdate(false, false)
	if err != nil {
		t.Fatal(err)
	}
	if check.Decision != Necessary {
		t.Errorf("Decision = %v, want Necessary after failure stamp", check.Decision)
	}
}

func TestPostprocessFailureToleratesMissingOutputs(t *testing.T) {
	dir := t.TempDir()
	r := newTestRule(t, Def{Outputs: []File{{Path: filepath.Join(dir, "never.txt")}}}, nil)

	if err := r.Postprocess(false); err != nil {
		t.Errorf("Postprocess(false) error for absent output: %v", err)
	}
}

func TestClean(t *testing.T) {
	r, _, out := freshRule(t, t.TempDir(), false)

	if err := r.Clean(); err != nil {
		t.Fatalf("Clean error: %v", err)
	}

	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Errorf("output still present after Clean: %v", err)
	}
	if _, err := memo.Load(out); !errors.Is(err, memo.ErrRecordNotFound) {
		t.Errorf("memo record still present after Clean: %v", err)
	}

	// Cleaning twice is fine
	if err := r.Clean(); err != nil {
		t.Errorf("second Clean error: %v", err)
	}
}

func TestNewValidation(t *testing.T) {
	codec := memo.NewStringHashCodec()

	if _, err := New(0, Def{Action: noopAction()}, nil, nil, codec, nil); err == nil {
		t.Error("zero outputs accepted")
	}
	if _, err := New(0, Def{Outputs: []File{{Path: "x"}}}, nil, nil, codec, nil); err == nil {
		t.Error("nil action accepted")
	}
}

func TestNewDefaultsNameToPrimaryOutput(t *testing.T) {
	r := newTestRule(t, Def{Outputs: []File{{Path: "out/app"}}}, nil)
	if r.Name() != "out/app" {
		t.Errorf("Name = %q, want primary output path", r.Name())
	}
}

package rule

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/kilnbuild/kiln/pkg/memo"
)

// ErrOutputMissing is returned by Postprocess when the action reported
// success but a declared output does not exist as a regular file. It is a
// contract violation, surfaced distinctly from an action failure.
var ErrOutputMissing = errors.New("rule: action succeeded but output is missing")

// Preprocess creates parent directories for all outputs. An existing
// directory is not an error; anything else, such as a permission failure,
// is.
func (r *Rule) Preprocess() error {
	for _, out := range r.outputs {
		if err := os.MkdirAll(filepath.Dir(out.Path), 0o755); err != nil {
			return fmt.Errorf("rule %s: create output directory: %w", r.name, err)
		}
	}
	return nil
}

// Postprocess finalizes an execution. On success it verifies that every
// declared output now exists as a regular file and persists a fresh memo
// record. On failure it stamps every existing output with the invalid-mtime
// sentinel so the next run's staleness check reliably sees "must rebuild",
// and leaves the stale memo record in place.
func (r *Rule) Postprocess(success bool) error {
	if !success {
		var firstErr error
		for _, out := range r.outputs {
			if _, err := os.Stat(out.Path); err != nil {
				continue
			}
			if err := stampInvalid(out.Path); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("rule %s: mark output invalid: %w", r.name, err)
			}
			r.hashes.Invalidate(out.Path)
		}
		return firstErr
	}

	for _, out := range r.outputs {
		info, err := os.Stat(out.Path)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrOutputMissing, out.Path)
		}
		if !info.Mode().IsRegular() {
			return fmt.Errorf("%w: %s is not a regular file", ErrOutputMissing, out.Path)
		}
		r.hashes.Invalidate(out.Path)
	}

	rec, err := r.memo.Fresh(r.valueDigests())
	if err != nil {
		return fmt.Errorf("rule %s: compute memo: %w", r.name, err)
	}
	if err := rec.Save(r.PrimaryOutput()); err != nil {
		return fmt.Errorf("rule %s: %w", r.name, err)
	}
	return nil
}

// Clean deletes the rule's output files and memo sidecar. The in-memory
// rule is untouched; a later build simply finds everything missing.
func (r *Rule) Clean() error {
	var firstErr error
	for _, out := range r.outputs {
		if err := os.Remove(out.Path); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = fmt.Errorf("rule %s: remove %s: %w", r.name, out.Path, err)
		}
		r.hashes.Invalidate(out.Path)
	}
	if err := memo.Remove(r.PrimaryOutput()); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

package rule

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/kilnbuild/kiln/pkg/memo"
)

// Decision is the outcome of the staleness predicate.
type Decision int

const (
	// UpToDate means no check found a reason to rebuild.
	UpToDate Decision = iota
	// Necessary means the rule must be re-executed.
	Necessary
	// PossiblyNecessary is the dry-run-only signal for "a dependency would
	// be rebuilt, so this rule would be re-evaluated"; an actual run might
	// still find its inputs unchanged.
	PossiblyNecessary
	// Infeasible means staleness cannot be determined: a required input is
	// missing or carries the invalid-mtime sentinel.
	Infeasible
)

// String implements fmt.Stringer for log output.
func (d Decision) String() string {
	switch d {
	case UpToDate:
		return "up-to-date"
	case Necessary:
		return "necessary"
	case PossiblyNecessary:
		return "possibly-necessary"
	case Infeasible:
		return "infeasible"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// Check is a Decision plus the human-readable reason for Infeasible.
type Check struct {
	Decision Decision
	Reason   string
}

// CheckUpdate evaluates the ordered staleness checks; the first decisive
// check wins. depUpdated tells the rule whether any dependency was updated
// earlier in the same run. A returned error is reserved for hard memo
// failures (authentication, encoding switch); everything else is folded
// into the Decision.
func (r *Rule) CheckUpdate(depUpdated, dryRun bool) (Check, error) {
	// 1. Input validity.
	inputTimes := make([]time.Time, len(r.inputs))
	for i, in := range r.inputs {
		info, err := os.Stat(in.Path)
		if err != nil {
			if os.IsNotExist(err) && dryRun && !in.Original {
				// Another rule's output, hypothetically produced earlier in
				// this dry run.
				inputTimes[i] = time.Time{}
				continue
			}
			if dryRun {
				return Check{Decision: Necessary}, nil
			}
			return Check{
				Decision: Infeasible,
				Reason:   fmt.Sprintf("input %s is not available: %v", in.Path, err),
			}, nil
		}
		if invalidMtime(info.ModTime()) {
			if dryRun {
				return Check{Decision: Necessary}, nil
			}
			return Check{
				Decision: Infeasible,
				Reason:   fmt.Sprintf("input %s was produced by a failed run", in.Path),
			}, nil
		}
		inputTimes[i] = info.ModTime()
	}

	// 2. Output existence.
	var oldestOutput time.Time
	for _, out := range r.outputs {
		info, err := os.Stat(out.Path)
		if err != nil || invalidMtime(info.ModTime()) {
			return Check{Decision: Necessary}, nil
		}
		if oldestOutput.IsZero() || info.ModTime().Before(oldestOutput) {
			oldestOutput = info.ModTime()
		}
	}

	// 3. Dry-run propagation.
	if dryRun && depUpdated {
		return Check{Decision: PossiblyNecessary}, nil
	}

	// 4. Timestamp comparison for plain-file inputs. Strictly after: an
	// input written in the same timestamp tick as the oldest output still
	// reads as up to date. Inputs that must not miss same-tick edits should
	// be marked value and compared by content instead.
	for i, in := range r.inputs {
		if in.Value {
			continue
		}
		if inputTimes[i].After(oldestOutput) {
			return Check{Decision: Necessary}, nil
		}
	}

	// 5. Memo comparison: eager on arguments, lazy on value-file contents.
	stored, err := memo.Load(r.PrimaryOutput())
	if err != nil {
		if errors.Is(err, memo.ErrRecordNotFound) {
			return Check{Decision: Necessary}, nil
		}
		if isHardMemoErr(err) {
			return Check{}, err
		}
		return Check{Decision: Necessary}, nil
	}
	match, err := r.memo.Matches(stored, r.valueDigests())
	if err != nil {
		if isHardMemoErr(err) {
			return Check{}, err
		}
		return Check{Decision: Necessary}, nil
	}
	if !match {
		return Check{Decision: Necessary}, nil
	}

	return Check{Decision: UpToDate}, nil
}

// isHardMemoErr distinguishes the memo failures that must surface to the
// caller from the ones that merely mean "rebuild". A tampered record or an
// encoding switch is reported, never silently rebuilt over.
func isHardMemoErr(err error) bool {
	return errors.Is(err, memo.ErrAuthentication) || errors.Is(err, memo.ErrEncodingMismatch)
}

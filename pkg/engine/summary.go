package engine

import "fmt"

// Summary is the final accounting of a run. Every rule in the closure lands
// in exactly one of the four outcome buckets.
type Summary struct {
	// Total is the number of rules in the closure.
	Total int `json:"total"`

	// Updated counts rules that were executed (or, in a dry run, would have
	// been).
	Updated int `json:"updated"`

	// Skipped counts rules found up to date.
	Skipped int `json:"skipped"`

	// Failed counts rules that were dispatched and ended in an error event.
	Failed int `json:"failed"`

	// Discarded counts rules that were never dispatched: their turn never
	// came because a dependency failed or the run stopped early.
	Discarded int `json:"discarded"`
}

// OK reports whether every rule completed as updated or skipped.
func (s Summary) OK() bool {
	return s.Failed == 0 && s.Discarded == 0
}

// String renders the summary for logs.
func (s Summary) String() string {
	return fmt.Sprintf("total=%d updated=%d skipped=%d failed=%d discarded=%d",
		s.Total, s.Updated, s.Skipped, s.Failed, s.Discarded)
}

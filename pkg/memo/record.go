package memo

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// MetadataDir is the per-directory folder holding memo sidecar files.
const MetadataDir = ".metadata"

// Record is the persisted memoization state of one rule: the encoded
// non-file arguments plus the last-known content digest of every value-file
// input, keyed by that input's slot in the argument structure.
type Record struct {
	Encoding string            `json:"encoding"`
	Args     string            `json:"args"`
	MAC      string            `json:"mac,omitempty"`
	Files    map[string]string `json:"files,omitempty"`
}

// SidecarPath derives the sidecar location for a rule from its primary
// output path: <output-dir>/.metadata/<output-basename>.
func SidecarPath(primaryOutput string) string {
	dir, base := filepath.Split(primaryOutput)
	return filepath.Join(dir, MetadataDir, base)
}

// Memo binds a codec to a rule's argument tree. It is created once at rule
// construction, when Verify rejects non-encodable or non-round-trippable
// arguments, and is consulted on every staleness check thereafter.
type Memo struct {
	codec Codec
	args  Value
}

// New verifies the argument tree against the codec and returns the memo.
func New(codec Codec, args Value) (*Memo, error) {
	if codec == nil {
		return nil, errors.New("memo: codec is required")
	}
	if args == nil {
		args = Nil{}
	}
	if err := codec.Verify(args); err != nil {
		return nil, err
	}
	return &Memo{codec: codec, args: args}, nil
}

// Fresh computes a complete record from the current arguments and value-file
// digests. Every lazy digest is forced; Fresh runs only after a successful
// execution, when the content hashes are needed regardless.
func (m *Memo) Fresh(files map[string]*LazyDigest) (*Record, error) {
	payload, mac, err := m.codec.EncodeArgs(m.args)
	if err != nil {
		return nil, err
	}
	rec := &Record{
		Encoding: m.codec.Encoding(),
		Args:     payload,
		MAC:      mac,
	}
	if len(files) > 0 {
		rec.Files = make(map[string]string, len(files))
		for slot, digest := range files {
			sum, err := digest.Value()
			if err != nil {
				return nil, fmt.Errorf("digest for %s: %w", slot, err)
			}
			rec.Files[slot] = sum
		}
	}
	return rec, nil
}

// Matches compares a stored record against the current arguments and
// value-file contents. The argument comparison is eager; file digests are
// only computed when the arguments already matched, so unchanged runs pay
// the hashing cost at most once per file. ErrEncodingMismatch and
// ErrAuthentication are hard errors, distinguished from a plain mismatch.
func (m *Memo) Matches(stored *Record, files map[string]*LazyDigest) (bool, error) {
	if stored == nil {
		return false, nil
	}
	if stored.Encoding != m.codec.Encoding() {
		return false, fmt.Errorf("%w: record has %q, rule uses %q",
			ErrEncodingMismatch, stored.Encoding, m.codec.Encoding())
	}
	ok, err := m.codec.MatchArgs(stored.Args, stored.MAC, m.args)
	if err != nil || !ok {
		return ok, err
	}
	if len(stored.Files) != len(files) {
		return false, nil
	}
	for slot, digest := range files {
		recorded, ok := stored.Files[slot]
		if !ok {
			return false, nil
		}
		current, err := digest.Value()
		if err != nil {
			return false, err
		}
		if current != recorded {
			return false, nil
		}
	}
	return true, nil
}

// Save writes the record to the sidecar derived from primaryOutput,
// creating the metadata directory as needed.
func (r *Record) Save(primaryOutput string) error {
	path := SidecarPath(primaryOutput)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("memo: create metadata dir: %w", err)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("memo: encode record: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("memo: write record: %w", err)
	}
	return nil
}

// Load reads the sidecar record for primaryOutput. A missing sidecar is
// ErrRecordNotFound; callers treat it as "must rebuild", unlike a malformed
// or tampered record which is surfaced.
func Load(primaryOutput string) (*Record, error) {
	data, err := os.ReadFile(SidecarPath(primaryOutput))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("memo: read record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if rec.Encoding == "" {
		return nil, fmt.Errorf("%w: missing encoding", ErrMalformedRecord)
	}
	return &rec, nil
}

// Remove deletes the sidecar record, tolerating absence. Used by clean
// operations alongside output deletion.
func Remove(primaryOutput string) error {
	err := os.Remove(SidecarPath(primaryOutput))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("memo: remove record: %w", err)
	}
	return nil
}

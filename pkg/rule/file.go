package rule

import (
	"os"
	"time"
)

// File is an output or input file handle. A value file's staleness is
// judged by content digest in addition to modification time, so touching it
// without changing its bytes does not force a rebuild.
type File struct {
	// Path is the filesystem location.
	Path string `json:"path"`

	// Value marks the file as content-hashed for staleness.
	Value bool `json:"value,omitempty"`
}

// Input is a file consumed by a rule, tagged with whether it is an original
// source (no other rule produces it).
type Input struct {
	File

	// Original is true when no rule in the store produces this path.
	Original bool `json:"original"`
}

// epoch is the engine's private invalid-mtime sentinel. Outputs of a failed
// run are stamped with it so a later staleness check cannot mistake a
// half-written file for a valid up-to-date one.
var epoch = time.Unix(0, 0)

// invalidMtime reports whether a modification time carries the sentinel.
func invalidMtime(t time.Time) bool {
	return !t.After(epoch)
}

// stampInvalid marks the file at path with the epoch sentinel.
func stampInvalid(path string) error {
	return os.Chtimes(path, epoch, epoch)
}

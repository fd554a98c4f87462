// Package memo implements the memoization backend of the kiln build engine.
//
// A rule's non-file arguments are captured at registration time as a Value
// tree: a closed set of scalar atoms (strings, integers, floats, booleans,
// byte strings, paths) and containers (lists, string-keyed maps, sets), plus
// two leaves specific to build rules: FileRef, a placeholder standing in for
// an input or output file, and Atom, which lets a caller substitute the
// representation that gets memoized for a value the action receives.
//
// Two interchangeable codecs turn a Value tree into a persistable Record:
//
//   - StringHashCodec canonicalizes the tree into a deterministic,
//     type-tagged string (map keys sorted, set elements ordered by their
//     encodings) and hashes it once it exceeds a size threshold, bounding
//     sidecar storage.
//   - AuthCodec serializes the tree and protects the payload with an
//     HMAC-SHA256 under a caller-supplied key. The MAC is re-verified before
//     a loaded record is trusted; a verification failure is a hard
//     ErrAuthentication, never a silent rebuild.
//
// Records are persisted as sidecar files next to a rule's primary output
// (<output-dir>/.metadata/<output-basename>). Value-file content digests are
// stored per input slot and compared lazily through LazyDigest, so large
// unchanged files are only hashed when a cheaper check was inconclusive. A
// process-wide HashCache memoizes content digests keyed by path and
// invalidates entries whose recorded mtime no longer matches the file.
package memo

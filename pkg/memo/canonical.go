package memo

import (
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// Sentinel errors shared by the codecs.
var (
	ErrUnsupportedType   = errors.New("memo: unsupported argument type")
	ErrCyclicValue       = errors.New("memo: cyclic argument structure")
	ErrAuthentication    = errors.New("memo: record authentication failed")
	ErrEncodingMismatch  = errors.New("memo: record written by a different encoding")
	ErrRoundTrip         = errors.New("memo: arguments do not survive a serialization round trip")
	ErrMissingKey        = errors.New("memo: authenticated encoding requires a key")
	ErrRecordNotFound    = errors.New("memo: record not found")
	ErrMalformedRecord   = errors.New("memo: malformed record")
)

// digestDomain separates kiln content digests from other users of the same
// hash function. The null byte prevents domain/payload boundary ambiguity.
const digestDomain = "kiln/memo/v1"

// Canonical encodes a Value tree into a deterministic, type-tagged string.
// Map keys are emitted in sorted order, set elements in the order of their
// own encodings, and every scalar carries a kind tag so that, for example,
// the string "1" and the integer 1 never produce the same encoding. Cyclic
// structures are rejected with ErrCyclicValue.
func Canonical(v Value) (string, error) {
	var sb strings.Builder
	if err := writeCanonical(&sb, v, map[uintptr]bool{}); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func writeCanonical(sb *strings.Builder, v Value, visiting map[uintptr]bool) error {
	if v == nil {
		v = Nil{}
	}
	if id, ok := containerID(v); ok {
		if visiting[id] {
			return ErrCyclicValue
		}
		visiting[id] = true
		defer delete(visiting, id)
	}

	switch val := v.(type) {
	case Nil:
		sb.WriteString("nil")
	case String:
		sb.WriteString("s")
		sb.WriteString(strconv.Quote(string(val)))
	case Int:
		sb.WriteString("i:")
		sb.WriteString(strconv.FormatInt(int64(val), 10))
	case Float:
		sb.WriteString("f:")
		sb.WriteString(strconv.FormatFloat(float64(val), 'g', -1, 64))
	case Bool:
		sb.WriteString("b:")
		sb.WriteString(strconv.FormatBool(bool(val)))
	case Bytes:
		sb.WriteString("y:")
		sb.WriteString(hex.EncodeToString(val))
	case Path:
		sb.WriteString("p")
		sb.WriteString(strconv.Quote(string(val)))
	case List:
		sb.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				sb.WriteByte(',')
			}
			if err := writeCanonical(sb, elem, visiting); err != nil {
				return err
			}
		}
		sb.WriteByte(']')
	case Map:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.Quote(k))
			sb.WriteByte('=')
			if err := writeCanonical(sb, val[k], visiting); err != nil {
				return err
			}
		}
		sb.WriteByte('}')
	case Set:
		encs := make([]string, len(val))
		for i, elem := range val {
			var esb strings.Builder
			if err := writeCanonical(&esb, elem, visiting); err != nil {
				return err
			}
			encs[i] = esb.String()
		}
		sort.Strings(encs)
		sb.WriteByte('<')
		for i, enc := range encs {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(enc)
		}
		sb.WriteByte('>')
	case FileRef:
		sb.WriteString("file(")
		sb.WriteString(strconv.Quote(val.Slot))
		sb.WriteByte(')')
	case Atom:
		return writeCanonical(sb, val.Memo, visiting)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
	return nil
}

// ContentDigest computes the domain-separated BLAKE2b-256 digest of raw
// bytes, hex encoded. It is used both for oversized canonical strings and
// for value-file contents.
func ContentDigest(data []byte) string {
	h, _ := blake2b.New256(nil)
	h.Write([]byte(digestDomain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

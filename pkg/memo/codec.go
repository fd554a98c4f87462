package memo

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Codec encoding names persisted in sidecar records.
const (
	EncodingStringHash    = "strhash"
	EncodingAuthenticated = "auth"
)

// Codec converts a bound-argument Value tree into the persistable argument
// payload of a Record and decides whether a stored payload still matches.
type Codec interface {
	// Encoding is the name written into Record.Encoding.
	Encoding() string

	// EncodeArgs produces the payload (and optional MAC) for the tree.
	EncodeArgs(v Value) (payload, mac string, err error)

	// MatchArgs reports whether a stored payload matches the current tree.
	// AuthCodec returns ErrAuthentication when the MAC does not verify.
	MatchArgs(payload, mac string, current Value) (bool, error)

	// Verify checks, at rule-registration time, that the tree is encodable
	// and (for serializing codecs) that it survives a round trip.
	Verify(v Value) error
}

// StringHashCodec memoizes arguments as their canonical string, replaced by
// a content digest once the string exceeds Threshold bytes so sidecar files
// stay small no matter how large the argument structure is.
type StringHashCodec struct {
	// Threshold is the canonical-string length above which only the digest
	// is stored. Zero selects DefaultHashThreshold.
	Threshold int
}

// DefaultHashThreshold bounds stored canonical strings to 1 KiB.
const DefaultHashThreshold = 1024

const hashedPrefix = "blake2b:"

// NewStringHashCodec returns a hash-of-string codec with the default
// threshold.
func NewStringHashCodec() *StringHashCodec {
	return &StringHashCodec{Threshold: DefaultHashThreshold}
}

func (c *StringHashCodec) Encoding() string { return EncodingStringHash }

func (c *StringHashCodec) EncodeArgs(v Value) (string, string, error) {
	enc, err := Canonical(v)
	if err != nil {
		return "", "", err
	}
	threshold := c.Threshold
	if threshold <= 0 {
		threshold = DefaultHashThreshold
	}
	if len(enc) > threshold {
		return hashedPrefix + ContentDigest([]byte(enc)), "", nil
	}
	return enc, "", nil
}

func (c *StringHashCodec) MatchArgs(payload, _ string, current Value) (bool, error) {
	fresh, _, err := c.EncodeArgs(current)
	if err != nil {
		return false, err
	}
	return payload == fresh, nil
}

func (c *StringHashCodec) Verify(v Value) error {
	_, err := Canonical(v)
	return err
}

// AuthCodec serializes the argument tree and authenticates the payload with
// HMAC-SHA256 under a caller-supplied key. A record whose MAC fails to
// verify is reported as ErrAuthentication rather than being treated as
// stale: a tampered or foreign memo must surface, not trigger a silent
// rebuild.
type AuthCodec struct {
	key []byte
}

// NewAuthCodec builds an authenticated codec. An empty key is a
// configuration error raised here, not at first use.
func NewAuthCodec(key []byte) (*AuthCodec, error) {
	if len(key) == 0 {
		return nil, ErrMissingKey
	}
	k := make([]byte, len(key))
	copy(k, key)
	return &AuthCodec{key: k}, nil
}

// NewAuthCodecHex is NewAuthCodec for a hex-encoded key string.
func NewAuthCodecHex(hexKey string) (*AuthCodec, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("memo: invalid hex key: %w", err)
	}
	return NewAuthCodec(key)
}

func (c *AuthCodec) Encoding() string { return EncodingAuthenticated }

func (c *AuthCodec) EncodeArgs(v Value) (string, string, error) {
	serialized, err := serializeValue(v)
	if err != nil {
		return "", "", err
	}
	payload := hex.EncodeToString(serialized)
	return payload, c.sign(serialized), nil
}

func (c *AuthCodec) MatchArgs(payload, mac string, current Value) (bool, error) {
	serialized, err := hex.DecodeString(payload)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	if !hmac.Equal([]byte(c.sign(serialized)), []byte(mac)) {
		return false, ErrAuthentication
	}
	stored, err := deserializeValue(serialized)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	return Equal(stored, current), nil
}

// Verify performs the serialize/deserialize/compare-equal round trip the
// codec depends on. A tree that fails it is rejected at registration time
// instead of producing an undetectable always-stale or never-stale memo.
func (c *AuthCodec) Verify(v Value) error {
	serialized, err := serializeValue(v)
	if err != nil {
		return err
	}
	back, err := deserializeValue(serialized)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRoundTrip, err)
	}
	if !Equal(back, v) {
		return ErrRoundTrip
	}
	return nil
}

func (c *AuthCodec) sign(data []byte) string {
	mac := hmac.New(sha256.New, c.key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// wireValue is the JSON shape of a serialized Value node. Integers travel as
// decimal strings to survive the float64 funnel of encoding/json.
type wireValue struct {
	T string               `json:"t"`
	S string               `json:"s,omitempty"`
	B bool                 `json:"b,omitempty"`
	L []wireValue          `json:"l,omitempty"`
	M map[string]wireValue `json:"m,omitempty"`
}

func serializeValue(v Value) ([]byte, error) {
	w, err := toWire(v, map[uintptr]bool{})
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

func deserializeValue(data []byte) (Value, error) {
	var w wireValue
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	return fromWire(w)
}

func toWire(v Value, visiting map[uintptr]bool) (wireValue, error) {
	if v == nil {
		v = Nil{}
	}
	if id, ok := containerID(v); ok {
		if visiting[id] {
			return wireValue{}, ErrCyclicValue
		}
		visiting[id] = true
		defer delete(visiting, id)
	}

	switch val := v.(type) {
	case Nil:
		return wireValue{T: "nil"}, nil
	case String:
		return wireValue{T: "str", S: string(val)}, nil
	case Int:
		return wireValue{T: "int", S: fmt.Sprintf("%d", int64(val))}, nil
	case Float:
		return wireValue{T: "float", S: fmt.Sprintf("%x", float64(val))}, nil
	case Bool:
		return wireValue{T: "bool", B: bool(val)}, nil
	case Bytes:
		return wireValue{T: "bytes", S: base64.StdEncoding.EncodeToString(val)}, nil
	case Path:
		return wireValue{T: "path", S: string(val)}, nil
	case List:
		l := make([]wireValue, len(val))
		for i, elem := range val {
			w, err := toWire(elem, visiting)
			if err != nil {
				return wireValue{}, err
			}
			l[i] = w
		}
		return wireValue{T: "list", L: l}, nil
	case Map:
		m := make(map[string]wireValue, len(val))
		for k, elem := range val {
			w, err := toWire(elem, visiting)
			if err != nil {
				return wireValue{}, err
			}
			m[k] = w
		}
		return wireValue{T: "map", M: m}, nil
	case Set:
		l := make([]wireValue, len(val))
		for i, elem := range val {
			w, err := toWire(elem, visiting)
			if err != nil {
				return wireValue{}, err
			}
			l[i] = w
		}
		return wireValue{T: "set", L: l}, nil
	case FileRef:
		return wireValue{T: "file", S: val.Slot}, nil
	case Atom:
		return toWire(val.Memo, visiting)
	default:
		return wireValue{}, fmt.Errorf("%w: %T", ErrUnsupportedType, v)
	}
}

func fromWire(w wireValue) (Value, error) {
	switch w.T {
	case "nil":
		return Nil{}, nil
	case "str":
		return String(w.S), nil
	case "int":
		var n int64
		if _, err := fmt.Sscanf(w.S, "%d", &n); err != nil {
			return nil, fmt.Errorf("bad int %q: %w", w.S, err)
		}
		return Int(n), nil
	case "float":
		var f float64
		if _, err := fmt.Sscanf(w.S, "%x", &f); err != nil {
			return nil, fmt.Errorf("bad float %q: %w", w.S, err)
		}
		return Float(f), nil
	case "bool":
		return Bool(w.B), nil
	case "bytes":
		data, err := base64.StdEncoding.DecodeString(w.S)
		if err != nil {
			return nil, fmt.Errorf("bad bytes: %w", err)
		}
		return Bytes(data), nil
	case "path":
		return Path(w.S), nil
	case "list":
		l := make(List, len(w.L))
		for i, elem := range w.L {
			v, err := fromWire(elem)
			if err != nil {
				return nil, err
			}
			l[i] = v
		}
		return l, nil
	case "map":
		m := make(Map, len(w.M))
		for k, elem := range w.M {
			v, err := fromWire(elem)
			if err != nil {
				return nil, err
			}
			m[k] = v
		}
		return m, nil
	case "set":
		s := make(Set, len(w.L))
		for i, elem := range w.L {
			v, err := fromWire(elem)
			if err != nil {
				return nil, err
			}
			s[i] = v
		}
		return s, nil
	case "file":
		return FileRef{Slot: w.S}, nil
	default:
		return nil, fmt.Errorf("unknown wire tag %q", w.T)
	}
}

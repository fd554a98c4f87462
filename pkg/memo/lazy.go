package memo

import "sync"

// LazyDigest defers a content digest until it is actually compared. The
// compute function runs at most once; both the digest and any error are
// cached for subsequent calls.
type LazyDigest struct {
	once    sync.Once
	compute func() (string, error)
	value   string
	err     error
}

// NewLazyDigest wraps a digest computation.
func NewLazyDigest(compute func() (string, error)) *LazyDigest {
	return &LazyDigest{compute: compute}
}

// ResolvedDigest returns a LazyDigest that is already known, used by tests
// and by records reloaded from disk.
func ResolvedDigest(sum string) *LazyDigest {
	d := &LazyDigest{}
	d.once.Do(func() {})
	d.value = sum
	return d
}

// Value forces the digest.
func (d *LazyDigest) Value() (string, error) {
	d.once.Do(func() {
		if d.compute != nil {
			d.value, d.err = d.compute()
		}
	})
	return d.value, d.err
}

package memo

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"
)

// HashCache memoizes file content digests keyed by path. An entry is only
// trusted while the file's mtime and size still match what was recorded;
// on mismatch that entry alone is recomputed. The cache is shared across
// scheduler workers, so all access goes through one mutex.
type HashCache struct {
	mu      sync.Mutex
	entries map[string]hashEntry
}

type hashEntry struct {
	mtime time.Time
	size  int64
	sum   string
}

// NewHashCache returns an empty cache scoped to one build invocation.
func NewHashCache() *HashCache {
	return &HashCache{entries: make(map[string]hashEntry)}
}

// Digest returns the content digest of the file at path, reusing a cached
// value when the file is unchanged.
func (c *HashCache) Digest(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("memo: stat %s: %w", path, err)
	}

	c.mu.Lock()
	entry, ok := c.entries[path]
	c.mu.Unlock()
	if ok && entry.mtime.Equal(info.ModTime()) && entry.size == info.Size() {
		return entry.sum, nil
	}

	sum, err := fileDigest(path)
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.entries[path] = hashEntry{mtime: info.ModTime(), size: info.Size(), sum: sum}
	c.mu.Unlock()
	return sum, nil
}

// Lazy returns a LazyDigest over this cache for path.
func (c *HashCache) Lazy(path string) *LazyDigest {
	return NewLazyDigest(func() (string, error) {
		return c.Digest(path)
	})
}

// Invalidate drops the entry for path, if any. Clean operations call this
// after deleting outputs.
func (c *HashCache) Invalidate(path string) {
	c.mu.Lock()
	delete(c.entries, path)
	c.mu.Unlock()
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("memo: open %s: %w", path, err)
	}
	defer f.Close()

	h, _ := blake2b.New256(nil)
	h.Write([]byte(digestDomain))
	h.Write([]byte{0x00})
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("memo: hash %s: %w", path, err)
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

package latechunk

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache holds embeddings for one run, keyed by content hash. Each key is
// written at most once; concurrent lookups of a missing key share a single
// embedder call.
type Cache struct {
	mu    sync.RWMutex
	vecs  map[string][]float32
	group singleflight.Group
}

func NewCache() *Cache {
	return &Cache{vecs: make(map[string][]float32)}
}

// Key returns the content hash used as a cache key.
func Key(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// Lookup returns the cached vector for text.
func (c *Cache) Lookup(text string) ([]float32, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.vecs[Key(text)]
	return v, ok
}

// Store records v for text unless a vector is already present, and returns
// the vector that ends up cached.
func (c *Cache) Store(text string, v []float32) []float32 {
	key := Key(text)
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.vecs[key]; ok {
		return old
	}
	c.vecs[key] = v
	return v
}

// Len returns the number of cached vectors.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.vecs)
}

// Get returns the cached vector for text, computing it with fn on a miss.
// hit reports whether fn was skipped.
func (c *Cache) Get(ctx context.Context, text string, fn func(context.Context, string) ([]float32, error)) (vec []float32, hit bool, err error) {
	if v, ok := c.Lookup(text); ok {
		return v, true, nil
	}
	res, err, _ := c.group.Do(Key(text), func() (any, error) {
		if v, ok := c.Lookup(text); ok {
			return v, nil
		}
		v, err := fn(ctx, text)
		if err != nil {
			return nil, err
		}
		return c.Store(text, v), nil
	})
	if err != nil {
		return nil, false, err
	}
	return res.([]float32), false, nil
}

package watermark

import (
	"strconv"
	"sync"

	"golang.org/x/text/unicode/norm"
)

// Cache holds rendered overlays for the lifetime of one job.
type Cache struct {
	mu     sync.Mutex
	items  map[string][]byte
	hits   int
	misses int
}

func NewCache() *Cache {
	return &Cache{items: map[string][]byte{}}
}

// Key identifies a text overlay by content, size and opacity.
func Key(content string, size, opacity float64) string {
	return norm.NFC.String(content) + "\x00" +
		strconv.FormatFloat(size, 'g', -1, 64) + "\x00" +
		strconv.FormatFloat(opacity, 'g', -1, 64)
}

// GetOrCreate returns the cached value or stores the result of create.
// Errors are not cached.
func (c *Cache) GetOrCreate(key string, create func() ([]byte, error)) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.items[key]; ok {
		c.hits++
		return v, nil
	}
	c.misses++
	v, err := create()
	if err != nil {
		return nil, err
	}
	c.items[key] = v
	return v, nil
}

// Stats returns hit and miss counters.
func (c *Cache) Stats() (hits, misses int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

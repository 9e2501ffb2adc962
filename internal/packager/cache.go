package packager

import (
	"sync"

	"golang.org/x/sync/singleflight"
)

// Cache memoizes archive locations by entry-path identity within one
// packaging session. It is constructed by the session owner (one template
// transform, one CLI invocation) and passed explicitly into each pipeline
// call; it is never a process-wide singleton and entries are never evicted
// within the session's lifetime.
//
// Keys are exact strings: callers canonicalize entry paths before use.
type Cache struct {
	mu       sync.Mutex
	archives map[string]string
	group    singleflight.Group
}

// NewCache creates an empty session cache.
func NewCache() *Cache {
	return &Cache{archives: make(map[string]string)}
}

// Get returns the archive previously stored for entry, if any.
func (c *Cache) Get(entry string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	archive, ok := c.archives[entry]
	return archive, ok
}

// Put records the archive built for entry.
func (c *Cache) Put(entry, archive string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.archives[entry] = archive
}

// Once returns the cached archive for entry or runs build exactly once,
// storing its result. Concurrent callers for the same entry coalesce onto a
// single in-flight build and all receive the same archive path. Build
// failures are not cached.
func (c *Cache) Once(entry string, build func() (string, error)) (string, error) {
	if archive, ok := c.Get(entry); ok {
		return archive, nil
	}

	v, err, _ := c.group.Do(entry, func() (interface{}, error) {
		// A racing build may have completed while we queued.
		if archive, ok := c.Get(entry); ok {
			return archive, nil
		}
		archive, err := build()
		if err != nil {
			return nil, err
		}
		c.Put(entry, archive)
		return archive, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

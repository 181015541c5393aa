package pipeline

import (
	"crypto/sha256"
	"sync"
)

// DefaultCacheSize is the number of compiled libraries a Compiler keeps.
const DefaultCacheSize = 8

// sourceDigest identifies WGSL source by content.
type sourceDigest [sha256.Size]byte

func digestOf(source string) sourceDigest {
	return sha256.Sum256([]byte(source))
}

// libraryCache is an LRU of compiled libraries keyed by source digest.
// When it grows past softLimit the least recently used quarter is evicted.
//
// libraryCache is safe for concurrent use.
type libraryCache struct {
	mu        sync.Mutex
	entries   map[sourceDigest]*cachedLibrary
	softLimit int
	tick      int64

	hits, misses uint64
}

type cachedLibrary struct {
	lib   *Library
	atime int64
}

func newLibraryCache(softLimit int) *libraryCache {
	return &libraryCache{
		entries:   make(map[sourceDigest]*cachedLibrary),
		softLimit: softLimit,
	}
}

// getOrCompile returns the cached library for source or compiles it.
// A hit under another name returns a copy carrying name that shares the
// compiled words. Failed compilations are not cached.
func (c *libraryCache) getOrCompile(name, source string) (*Library, error) {
	key := digestOf(source)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.tick++
	if e, ok := c.entries[key]; ok {
		e.atime = c.tick
		c.hits++
		if e.lib.Name == name {
			return e.lib, nil
		}
		lib := *e.lib
		lib.Name = name
		return &lib, nil
	}
	c.misses++

	lib, err := CompileLibrary(name, source)
	if err != nil {
		return nil, err
	}
	c.entries[key] = &cachedLibrary{lib: lib, atime: c.tick}
	if c.softLimit > 0 && len(c.entries) > c.softLimit {
		c.evictOldest()
	}
	return lib, nil
}

// evictOldest removes the least recently used entries until a quarter
// of the limit is free. Caller must hold c.mu.
func (c *libraryCache) evictOldest() {
	target := max(c.softLimit*3/4, 1)
	for len(c.entries) > target {
		var (
			oldest sourceDigest
			atime  int64 = -1
		)
		for k, e := range c.entries {
			if atime < 0 || e.atime < atime {
				oldest, atime = k, e.atime
			}
		}
		delete(c.entries, oldest)
	}
}

// CacheStats reports library cache usage.
type CacheStats struct {
	Len    int
	Hits   uint64
	Misses uint64
}

func (c *libraryCache) stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CacheStats{Len: len(c.entries), Hits: c.hits, Misses: c.misses}
}

package store

import (
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

type blockKey struct {
	page, res int
	id        uint64
}

// overhead is the approximate bookkeeping cost of one entry.
const overhead = 64

// blockLRU keeps recently used decoded blocks, bounded by their total size.
type blockLRU struct {
	mu sync.Mutex
	c  *simplelru.LRU[blockKey, []byte]

	free, size int
}

func newBlockLRU(size int) *blockLRU {
	c := &blockLRU{free: size, size: size}

	// The actual maximum will be smaller than size, but set it to size
	// because we don't know the block sizes in advance.
	lru, err := simplelru.NewLRU(max(size, 1), func(_ blockKey, v []byte) {
		c.free += cap(v) + overhead
	})
	if err != nil {
		panic(err) // only returned for size <= 0
	}
	c.c = lru

	return c
}

// Add stores a copy of buf. Blocks larger than the cache are not stored.
func (c *blockLRU) Add(k blockKey, buf []byte) {
	if c.size == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.c.Remove(k)

	v := make([]byte, len(buf))
	copy(v, buf)
	size := cap(v) + overhead
	if size > c.size {
		return
	}

	for size > c.free {
		if _, _, ok := c.c.RemoveOldest(); !ok {
			break
		}
	}

	c.c.Add(k, v)
	c.free -= size
}

// Get returns the cached block; the returned slice must not be modified.
func (c *blockLRU) Get(k blockKey) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.c.Get(k)
}

// Purge removes every entry.
func (c *blockLRU) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.c.Purge()
}

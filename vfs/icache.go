package vfs

import (
	"container/list"
	"sync"

	"golang.org/x/sync/singleflight"

	"riscvkern/kernel/defs"
)

// ICacheKey identifies a cached inode by its owning device and inode
// number.
type ICacheKey struct {
	Dev uint64
	Ino uint64
}

// FetchFunc loads an inode from backing storage on a cache miss.
type FetchFunc func(key ICacheKey) (Inode, defs.Err_t)

// ICache is an LRU inode cache. Concurrent misses for the same key collapse
// into a single FetchFunc call via singleflight, the way a real inode cache
// avoids two readers both issuing the same block I/O (grounded on
// hanwen-go-fuse's fuse/test use of golang.org/x/sync/errgroup for
// concurrent-lookup testing, extended here to x/sync/singleflight for the
// analogous fill-collapsing problem on the read side).
type ICache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List // of *icacheEntry, front = most recently used
	index    map[ICacheKey]*list.Element
	group    singleflight.Group
	fetch    FetchFunc
}

type icacheEntry struct {
	key  ICacheKey
	node Inode
}

// NewICache returns a cache holding at most capacity inodes, filling misses
// via fetch.
func NewICache(capacity int, fetch FetchFunc) *ICache {
	return &ICache{
		capacity: capacity,
		ll:       list.New(),
		index:    make(map[ICacheKey]*list.Element),
		fetch:    fetch,
	}
}

// Get returns the cached inode for key, loading it via fetch on a miss.
func (c *ICache) Get(key ICacheKey) (Inode, defs.Err_t) {
	c.mu.Lock()
	if el, ok := c.index[key]; ok {
		c.ll.MoveToFront(el)
		node := el.Value.(*icacheEntry).node
		c.mu.Unlock()
		return node, 0
	}
	c.mu.Unlock()

	v, err, _ := c.group.Do(cacheKeyString(key), func() (interface{}, error) {
		node, kerr := c.fetch(key)
		if kerr != 0 {
			return nil, errFromKernel(kerr)
		}
		return node, nil
	})
	if err != nil {
		return nil, errFromGo(err)
	}
	node := v.(Inode)

	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		c.ll.MoveToFront(el)
		return el.Value.(*icacheEntry).node, 0
	}
	el := c.ll.PushFront(&icacheEntry{key: key, node: node})
	c.index[key] = el
	c.evictLocked()
	return node, 0
}

// Insert installs node directly, used when a backend creates a fresh inode
// (create/mkdir) and wants it cache-resident without a round trip through
// fetch.
func (c *ICache) Insert(key ICacheKey, node Inode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		el.Value.(*icacheEntry).node = node
		c.ll.MoveToFront(el)
		return
	}
	el := c.ll.PushFront(&icacheEntry{key: key, node: node})
	c.index[key] = el
	c.evictLocked()
}

// Remove drops key from the cache, used on unlink once the link count
// reaches zero.
func (c *ICache) Remove(key ICacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.index[key]; ok {
		c.ll.Remove(el)
		delete(c.index, key)
	}
}

func (c *ICache) evictLocked() {
	for c.ll.Len() > c.capacity {
		back := c.ll.Back()
		if back == nil {
			return
		}
		e := back.Value.(*icacheEntry)
		c.ll.Remove(back)
		delete(c.index, e.key)
	}
}

type kernelErr struct{ e defs.Err_t }

func (k kernelErr) Error() string { return "vfs inode fetch error" }

func errFromKernel(e defs.Err_t) error { return kernelErr{e} }

func errFromGo(err error) defs.Err_t {
	if ke, ok := err.(kernelErr); ok {
		return ke.e
	}
	return -defs.EIO
}

func cacheKeyString(k ICacheKey) string {
	var buf [32]byte
	n := putUint64Hex(buf[:], k.Dev)
	buf[n] = ':'
	n++
	n += putUint64Hex(buf[n:], k.Ino)
	return string(buf[:n])
}

func putUint64Hex(buf []byte, v uint64) int {
	const hex = "0123456789abcdef"
	if v == 0 {
		buf[0] = '0'
		return 1
	}
	var tmp [16]byte
	i := 16
	for v > 0 {
		i--
		tmp[i] = hex[v&0xf]
		v >>= 4
	}
	return copy(buf, tmp[i:])
}

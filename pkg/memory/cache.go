// Package memory provides the shared in-memory page cache of the storage core.
package memory

import (
	"cmp"
	"log/slog"
	"slices"
	"strconv"
	"sync"
	"sync/atomic"

	dberror "litepage/pkg/error"
	"litepage/pkg/logging"
	"litepage/pkg/primitives"
	"litepage/pkg/storage/page"

	"golang.org/x/sync/singleflight"
)

const component = "MemoryCache"

// Loader fills buf with the bytes of the page at pos. It is called on a
// cache miss, outside the cache lock.
type Loader func(pos primitives.Position, buf *page.Buffer) error

// Options configures a Cache.
type Options struct {
	// PageSize is the size of every buffer the cache hands out.
	PageSize int

	// MaxPages is the number of resident buffers above which the cache
	// starts evicting. It is a soft limit: when every resident page is held
	// or dirty the cache grows instead of failing.
	MaxPages int

	// MaxFree caps the free list. Buffers recycled beyond it are dropped.
	MaxFree int
}

// DefaultOptions returns options for 8 KB pages and a 1000 page cache.
func DefaultOptions() Options {
	return Options{PageSize: 8192, MaxPages: 1000, MaxFree: 256}
}

// node represents a single node in the doubly linked list
type node struct {
	buf  *page.Buffer
	prev *node
	next *node
}

// flight tracks a readable load in progress. A commit of the same identity
// while the load runs marks it stale, and its bytes are then discarded.
type flight struct {
	stale bool
}

// Cache is the single authority over which page buffers exist in memory.
//
// Every identity maps to at most one readable buffer, shared by any number of
// readers. A writable buffer is always a private clone: readers keep
// observing the previous bytes until the writer calls Commit, which swaps the
// clone in. A readable buffer replaced while readers still hold it is
// detached and recycled when its last reader releases it.
//
// Readable buffers sit on an LRU list (most recently used at the head).
// Eviction only reclaims buffers that are unheld and clean.
type Cache struct {
	pageSize int
	maxPages int
	maxFree  int

	mu        sync.Mutex
	readable  map[primitives.PageIdentity]*node
	writable  map[primitives.PageIdentity]*page.Buffer
	inflight  map[primitives.PageIdentity]*flight
	detached  map[*page.Buffer]struct{}
	free      []*page.Buffer
	allocated int
	head      *node // Dummy head node (most recently used end)
	tail      *node // Dummy tail node (least recently used end)

	loads singleflight.Group

	// flushMu serializes writers flushing this cache so that an older
	// snapshot is never written over a newer one.
	flushMu sync.Mutex

	hits      atomic.Int64
	misses    atomic.Int64
	evictions atomic.Int64

	log *slog.Logger
}

// NewCache creates an empty cache.
func NewCache(opts Options) (*Cache, error) {
	if err := primitives.ValidatePageSize(opts.PageSize); err != nil {
		return nil, dberror.New(dberror.ErrCategoryUser, dberror.CodeInvalidConfig, err.Error()).
			WithOp("NewCache", component)
	}
	if opts.MaxPages <= 0 {
		return nil, dberror.Newf(dberror.ErrCategoryUser, dberror.CodeInvalidConfig,
			"max pages must be positive", "got %d", opts.MaxPages).WithOp("NewCache", component)
	}
	if opts.MaxFree < 0 {
		opts.MaxFree = 0
	}

	head := &node{}
	tail := &node{}
	head.next = tail
	tail.prev = head

	return &Cache{
		pageSize: opts.PageSize,
		maxPages: opts.MaxPages,
		maxFree:  opts.MaxFree,
		readable: make(map[primitives.PageIdentity]*node),
		writable: make(map[primitives.PageIdentity]*page.Buffer),
		inflight: make(map[primitives.PageIdentity]*flight),
		detached: make(map[*page.Buffer]struct{}),
		head:     head,
		tail:     tail,
		log:      logging.WithComponent(component),
	}, nil
}

// PageSize returns the size of the buffers handed out by this cache.
func (c *Cache) PageSize() int {
	return c.pageSize
}

// addToFront adds a node right after the head (marks as most recently used) - O(1)
func (c *Cache) addToFront(n *node) {
	n.prev = c.head
	n.next = c.head.next
	c.head.next.prev = n
	c.head.next = n
}

// removeNode removes a node from the linked list - O(1)
func (c *Cache) removeNode(n *node) {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.prev, n.next = nil, nil
}

// moveToFront moves an existing node to the front (marks as most recently used) - O(1)
func (c *Cache) moveToFront(n *node) {
	c.removeNode(n)
	c.addToFront(n)
}

func (c *Cache) checkIdentity(op string, pos primitives.Position, mode primitives.FileMode) error {
	if !mode.IsValid() {
		return dberror.InvalidArg(component, op, "unknown file mode", "%s", mode)
	}
	if !primitives.IsAligned(pos, c.pageSize) {
		return dberror.InvalidArg(component, op, "position is not page aligned",
			"position %d, page size %d", pos, c.pageSize)
	}
	return nil
}

func flightKey(id primitives.PageIdentity) string {
	return strconv.Itoa(int(id.Mode)) + ":" + strconv.FormatInt(int64(id.Position), 10)
}

// GetReadablePage returns the shared buffer for (pos, mode), loading it with
// loader on a miss. Concurrent misses on the same identity run loader once.
// The caller must hand the buffer back with Release.
func (c *Cache) GetReadablePage(pos primitives.Position, mode primitives.FileMode, loader Loader) (*page.Buffer, error) {
	if err := c.checkIdentity("GetReadablePage", pos, mode); err != nil {
		return nil, err
	}
	id := primitives.PageIdentity{Position: pos, Mode: mode}

	for loaded := false; ; loaded = true {
		c.mu.Lock()
		if n, ok := c.readable[id]; ok {
			n.buf.AddShare(1)
			c.moveToFront(n)
			c.mu.Unlock()
			if !loaded {
				c.hits.Add(1)
			}
			return n.buf, nil
		}
		c.mu.Unlock()

		_, err, _ := c.loads.Do(flightKey(id), func() (any, error) {
			return nil, c.load(id, loader)
		})
		if err != nil {
			return nil, err
		}
		// The loaded page is pinned by the next iteration. If it was evicted
		// or superseded in between, the loop observes the current state.
	}
}

// load reads one page into a fresh buffer and publishes it as readable.
func (c *Cache) load(id primitives.PageIdentity, loader Loader) error {
	c.mu.Lock()
	if _, ok := c.readable[id]; ok {
		c.mu.Unlock()
		return nil
	}
	buf := c.allocate()
	f := &flight{}
	c.inflight[id] = f
	c.mu.Unlock()

	c.misses.Add(1)
	buf.Bind(id.Position, id.Mode)

	if err := loader(id.Position, buf); err != nil {
		c.mu.Lock()
		delete(c.inflight, id)
		c.recycle(buf)
		c.mu.Unlock()
		logging.WithPage(id.Position, id.Mode).Warn("page load failed", "component", component, "error", err)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.inflight, id)
	if _, ok := c.readable[id]; ok || f.stale {
		c.recycle(buf)
		return nil
	}

	buf.SetShare(page.Unheld)
	n := &node{buf: buf}
	c.readable[id] = n
	c.addToFront(n)
	return nil
}

// GetWritablePage returns a private, exclusively held copy of (pos, mode).
// If the page is cached its bytes are cloned, otherwise loader fills the
// copy. Asking for a second writable handle on an identity that already has
// one is a programming error and panics.
func (c *Cache) GetWritablePage(pos primitives.Position, mode primitives.FileMode, loader Loader) (*page.Buffer, error) {
	if err := c.checkIdentity("GetWritablePage", pos, mode); err != nil {
		return nil, err
	}
	id := primitives.PageIdentity{Position: pos, Mode: mode}

	c.mu.Lock()
	if _, held := c.writable[id]; held {
		c.mu.Unlock()
		dberror.Violation(component, "GetWritablePage", "page %s is already held writable", id)
	}

	buf := c.allocate()
	buf.Bind(pos, mode)
	buf.SetShare(page.Writable)
	c.writable[id] = buf

	if n, ok := c.readable[id]; ok {
		src := n.buf
		src.AddShare(1)
		c.moveToFront(n)
		c.mu.Unlock()

		copy(buf.Bytes(), src.Bytes())
		c.hits.Add(1)
		c.Release(src)
		return buf, nil
	}
	c.mu.Unlock()

	c.misses.Add(1)
	if err := loader(pos, buf); err != nil {
		c.mu.Lock()
		delete(c.writable, id)
		c.recycle(buf)
		c.mu.Unlock()
		logging.WithPage(pos, mode).Warn("writable page load failed", "component", component, "error", err)
		return nil, err
	}
	return buf, nil
}

// NewPage returns a zeroed writable buffer that is not yet bound to a
// position. Bind it with SetPosition before Commit.
func (c *Cache) NewPage() *page.Buffer {
	c.mu.Lock()
	buf := c.allocate()
	c.mu.Unlock()

	buf.SetShare(page.Writable)
	return buf
}

// Commit publishes a writable buffer as the readable version of its page
// and marks it dirty. The caller's handle ends here; read the page again to
// keep using it.
func (c *Cache) Commit(buf *page.Buffer) {
	if !buf.IsWritable() {
		dberror.Violation(component, "Commit", "%s is not writable", buf)
	}
	if !buf.IsBound() {
		dberror.Violation(component, "Commit", "%s has no position", buf)
	}
	id := buf.Identity()

	c.mu.Lock()
	defer c.mu.Unlock()

	if w, ok := c.writable[id]; ok && w != buf {
		dberror.Violation(component, "Commit", "page %s is held writable by another handle", id)
	}
	delete(c.writable, id)

	if f, ok := c.inflight[id]; ok {
		f.stale = true
	}

	buf.SetShare(page.Unheld)
	buf.SetDirty(true)

	if n, ok := c.readable[id]; ok {
		old := n.buf
		n.buf = buf
		c.moveToFront(n)
		if old.ShareCount() == page.Unheld {
			c.recycle(old)
		} else {
			c.detached[old] = struct{}{}
		}
		return
	}

	n := &node{buf: buf}
	c.readable[id] = n
	c.addToFront(n)
}

// Discard drops a writable buffer without publishing it.
func (c *Cache) Discard(buf *page.Buffer) {
	if !buf.IsWritable() {
		dberror.Violation(component, "Discard", "%s is not writable", buf)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if buf.IsBound() {
		if w, ok := c.writable[buf.Identity()]; ok && w == buf {
			delete(c.writable, buf.Identity())
		}
	}
	c.recycle(buf)
}

// Release hands back a readable buffer obtained from GetReadablePage or
// DirtyPages.
func (c *Cache) Release(buf *page.Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if buf.ShareCount() <= page.Unheld {
		dberror.Violation(component, "Release", "%s is not held readable", buf)
	}
	if buf.AddShare(-1) > page.Unheld {
		return
	}
	if _, ok := c.detached[buf]; ok {
		delete(c.detached, buf)
		c.recycle(buf)
	}
}

// MarkClean clears the dirty flag after the page bytes reached disk. A
// buffer already superseded by a later Commit is left alone: the newer
// version still has to be written.
func (c *Cache) MarkClean(buf *page.Buffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isCurrent(buf) {
		buf.SetDirty(false)
	}
}

// IsCurrent reports whether buf is the readable version of its page.
func (c *Cache) IsCurrent(buf *page.Buffer) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isCurrent(buf)
}

func (c *Cache) isCurrent(buf *page.Buffer) bool {
	if !buf.IsBound() {
		return false
	}
	n, ok := c.readable[buf.Identity()]
	return ok && n.buf == buf
}

// LockFlush serializes page writes from every writer sharing this cache.
// Call the returned function to unlock.
func (c *Cache) LockFlush() (unlock func()) {
	c.flushMu.Lock()
	return c.flushMu.Unlock
}

// DirtyPages returns every dirty readable page, pinned, ordered by mode and
// position. Release each one after it has been written.
func (c *Cache) DirtyPages() []*page.Buffer {
	c.mu.Lock()
	defer c.mu.Unlock()

	var dirty []*page.Buffer
	for _, n := range c.readable {
		if n.buf.IsDirty() {
			n.buf.AddShare(1)
			dirty = append(dirty, n.buf)
		}
	}

	slices.SortFunc(dirty, func(a, b *page.Buffer) int {
		if a.Mode() != b.Mode() {
			return cmp.Compare(a.Mode(), b.Mode())
		}
		return cmp.Compare(a.Position(), b.Position())
	})
	return dirty
}

// Clear drops every readable page. It fails with CACHE_IN_USE while any
// page is held, writable or dirty.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.writable) > 0 || len(c.detached) > 0 {
		return dberror.Newf(dberror.ErrCategoryConcurrency, dberror.CodeCacheInUse,
			"cache has pages in use", "%d writable, %d detached", len(c.writable), len(c.detached)).
			WithOp("Clear", component)
	}
	for id, n := range c.readable {
		if n.buf.ShareCount() != page.Unheld || n.buf.IsDirty() {
			return dberror.Newf(dberror.ErrCategoryConcurrency, dberror.CodeCacheInUse,
				"cache has pages in use", "page %s: %s", id, n.buf).
				WithOp("Clear", component)
		}
	}

	for id, n := range c.readable {
		c.removeNode(n)
		delete(c.readable, id)
		c.recycle(n.buf)
	}
	return nil
}

// allocate returns a zeroed buffer from the free list, from an evicted page,
// or freshly allocated. Must be called with c.mu held.
func (c *Cache) allocate() *page.Buffer {
	if n := len(c.free); n > 0 {
		buf := c.free[n-1]
		c.free = c.free[:n-1]
		return buf
	}

	if c.allocated >= c.maxPages {
		if buf := c.evict(); buf != nil {
			return buf
		}
		c.log.Debug("cache above capacity, nothing evictable", "allocated", c.allocated, "max", c.maxPages)
	}

	c.allocated++
	return page.NewBuffer(c.pageSize)
}

// evict removes the least recently used unheld, clean page and returns its
// buffer reset for reuse. Must be called with c.mu held.
func (c *Cache) evict() *page.Buffer {
	for n := c.tail.prev; n != c.head; n = n.prev {
		buf := n.buf
		if buf.ShareCount() != page.Unheld || buf.IsDirty() {
			continue
		}

		id := buf.Identity()
		c.removeNode(n)
		delete(c.readable, id)
		c.evictions.Add(1)
		c.log.Debug("page evicted", "position", int64(id.Position), "mode", id.Mode.String())

		buf.Reset()
		return buf
	}
	return nil
}

// recycle resets buf and puts it on the free list. Must be called with c.mu held.
func (c *Cache) recycle(buf *page.Buffer) {
	buf.Reset()
	if len(c.free) < c.maxFree {
		c.free = append(c.free, buf)
		return
	}
	c.allocated--
}

// Stats is a point-in-time snapshot of cache counters.
type Stats struct {
	Allocated int
	Readable  int
	Writable  int
	Detached  int
	Free      int
	Hits      int64
	Misses    int64
	Evictions int64
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		Allocated: c.allocated,
		Readable:  len(c.readable),
		Writable:  len(c.writable),
		Detached:  len(c.detached),
		Free:      len(c.free),
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

// Package page defines the in-memory representation of one physical page:
// a fixed-size byte buffer tagged with its position and file mode.
package page

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"sync/atomic"

	dberror "litepage/pkg/error"
	"litepage/pkg/primitives"

	"github.com/zeebo/blake3"
)

// Share counter states. Values above zero count outstanding readers.
const (
	// Writable marks a buffer exclusively held by one writer.
	Writable int32 = -1

	// Unheld marks a buffer resident in the cache with no outstanding handle.
	Unheld int32 = 0
)

// Buffer is exactly one page of bytes plus its identity.
//
// Buffer performs no internal locking on its bytes: the memory cache decides
// who may read or mutate them. The share counter and dirty flag are atomic so
// that they can be inspected from any goroutine.
type Buffer struct {
	position primitives.Position
	mode     primitives.FileMode
	data     []byte
	share    atomic.Int32
	dirty    atomic.Bool
}

// NewBuffer allocates a zeroed, unbound buffer of pageSize bytes.
func NewBuffer(pageSize int) *Buffer {
	return &Buffer{
		position: primitives.NoPosition,
		data:     make([]byte, pageSize),
	}
}

// Size returns the page size of this buffer.
func (b *Buffer) Size() int {
	return len(b.data)
}

// Position returns the byte offset of this page within its file.
func (b *Buffer) Position() primitives.Position {
	return b.position
}

// Mode returns the file this page belongs to.
func (b *Buffer) Mode() primitives.FileMode {
	return b.mode
}

// Identity returns the cache key of this page.
func (b *Buffer) Identity() primitives.PageIdentity {
	return primitives.PageIdentity{Position: b.position, Mode: b.mode}
}

// IsBound reports whether the buffer has been assigned a page position.
func (b *Buffer) IsBound() bool {
	return b.position != primitives.NoPosition
}

// Bytes returns the full backing slice. Callers holding a readable handle
// must not mutate it.
func (b *Buffer) Bytes() []byte {
	return b.data
}

// ShareCount returns the current share counter.
func (b *Buffer) ShareCount() int32 {
	return b.share.Load()
}

// IsWritable reports whether the buffer is exclusively held by a writer.
func (b *Buffer) IsWritable() bool {
	return b.share.Load() == Writable
}

// IsDirty reports whether the buffer holds bytes not yet written to disk.
func (b *Buffer) IsDirty() bool {
	return b.dirty.Load()
}

// SetDirty sets the dirty flag.
func (b *Buffer) SetDirty(dirty bool) {
	b.dirty.Store(dirty)
}

// SetPosition gives a page obtained from NewPage its place in a file. Only
// an unbound writable buffer can be placed; a page read from a file keeps
// its identity for life.
func (b *Buffer) SetPosition(pos primitives.Position, mode primitives.FileMode) error {
	if !b.IsWritable() {
		return dberror.Newf(dberror.ErrCategoryUser, dberror.CodeCacheConsistency,
			"cannot rebind a non-writable page", "page %s", b.Identity()).
			WithOp("SetPosition", "PageBuffer")
	}
	if b.IsBound() {
		return dberror.Newf(dberror.ErrCategoryUser, dberror.CodeCacheConsistency,
			"page already has a position", "page %s", b.Identity()).
			WithOp("SetPosition", "PageBuffer")
	}
	if !mode.IsValid() {
		return dberror.InvalidArg("PageBuffer", "SetPosition", "unknown file mode", "%s", mode)
	}
	if !primitives.IsAligned(pos, len(b.data)) {
		return dberror.InvalidArg("PageBuffer", "SetPosition", "position is not page aligned",
			"position %d, page size %d", pos, len(b.data))
	}
	b.position = pos
	b.mode = mode
	return nil
}

// Bind sets identity without any state checks. Used by the cache when it
// takes a buffer from its free list.
func (b *Buffer) Bind(pos primitives.Position, mode primitives.FileMode) {
	b.position = pos
	b.mode = mode
}

// SetShare stores the share counter. The counter is owned by the memory
// cache, which only mutates it while holding its own lock.
func (b *Buffer) SetShare(n int32) {
	b.share.Store(n)
}

// AddShare adjusts the share counter and returns the new value.
func (b *Buffer) AddShare(delta int32) int32 {
	return b.share.Add(delta)
}

// Reset zeroes the bytes and returns the buffer to its unbound state.
func (b *Buffer) Reset() {
	clear(b.data)
	b.position = primitives.NoPosition
	b.mode = primitives.Data
	b.share.Store(Unheld)
	b.dirty.Store(false)
}

// Clear zeroes the page bytes but keeps identity and state.
func (b *Buffer) Clear() {
	clear(b.data)
}

// CopyFrom copies the bytes of other into b. Both must share a page size.
func (b *Buffer) CopyFrom(other *Buffer) error {
	if len(other.data) != len(b.data) {
		return dberror.Newf(dberror.ErrCategoryUser, dberror.CodeBufferOutOfBounds,
			"page size mismatch", "copy %d bytes into %d", len(other.data), len(b.data)).
			WithOp("CopyFrom", "PageBuffer")
	}
	copy(b.data, other.data)
	return nil
}

// Equal reports whether both buffers hold the same bytes.
func (b *Buffer) Equal(other *Buffer) bool {
	return bytes.Equal(b.data, other.data)
}

// Digest returns the BLAKE3-256 digest of the page bytes.
func (b *Buffer) Digest() [32]byte {
	return blake3.Sum256(b.data)
}

// DigestHex returns Digest as a hex string.
func (b *Buffer) DigestHex() string {
	d := b.Digest()
	return hex.EncodeToString(d[:])
}

// Slice returns a bounds-checked view of count bytes starting at offset.
func (b *Buffer) Slice(offset, count int) (Slice, error) {
	if err := checkRange(len(b.data), offset, count); err != nil {
		return Slice{}, err
	}
	return Slice{Array: b.data, Offset: offset, Count: count}, nil
}

// Full returns a view over the whole page.
func (b *Buffer) Full() Slice {
	return Slice{Array: b.data, Offset: 0, Count: len(b.data)}
}

// ReadAt implements io.ReaderAt over the page bytes.
func (b *Buffer) ReadAt(p []byte, off int64) (int, error) {
	return b.Full().ReadAt(p, off)
}

// WriteAt implements io.WriterAt over the page bytes.
func (b *Buffer) WriteAt(p []byte, off int64) (int, error) {
	return b.Full().WriteAt(p, off)
}

// String returns a string representation of this buffer
func (b *Buffer) String() string {
	pos := "unbound"
	if b.IsBound() {
		pos = fmt.Sprintf("%d", b.position)
	}
	return fmt.Sprintf("PageBuffer(%s@%s, share=%d, dirty=%v)", b.mode, pos, b.ShareCount(), b.IsDirty())
}

package disk

import (
	"context"

	"litepage/pkg/encryption"
	"litepage/pkg/memory"
	"litepage/pkg/primitives"
	"litepage/pkg/storage/page"
	"litepage/pkg/storage/stream"
)

// Reader obtains pages through the shared cache, loading misses from disk
// with its own rented streams. Use one Reader per goroutine and Close it
// when done.
type Reader struct {
	facade
	cache *memory.Cache
}

// NewReader creates a Reader over cache and the two stream pools. A nil
// codec reads plain pages. ctx bounds blocking stream rentals.
func NewReader(ctx context.Context, cache *memory.Cache, data, log *stream.Pool, codec encryption.Codec) *Reader {
	return &Reader{
		facade: newFacade(ctx, "DiskReader", data, log, codec, cache.PageSize()),
		cache:  cache,
	}
}

// ReadPage returns the page at pos in the file selected by mode. A readable
// page must be handed back with Cache.Release; a writable one with
// Cache.Commit or Cache.Discard.
func (r *Reader) ReadPage(pos primitives.Position, writable bool, mode primitives.FileMode) (*page.Buffer, error) {
	if err := r.checkOpen("ReadPage"); err != nil {
		return nil, err
	}

	s, err := r.stream(mode)
	if err != nil {
		return nil, err
	}

	load := func(pos primitives.Position, buf *page.Buffer) error {
		if err := r.seek(s, pos, "ReadPage"); err != nil {
			return err
		}
		return r.codec.Decrypt(s, buf.Bytes(), pos)
	}

	if writable {
		return r.cache.GetWritablePage(pos, mode, load)
	}
	return r.cache.GetReadablePage(pos, mode, load)
}

// NewPage returns a zeroed writable page with no position. No stream is
// rented.
func (r *Reader) NewPage() (*page.Buffer, error) {
	if err := r.checkOpen("NewPage"); err != nil {
		return nil, err
	}
	return r.cache.NewPage(), nil
}

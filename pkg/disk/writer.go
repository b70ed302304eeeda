package disk

import (
	"context"
	"errors"

	"litepage/pkg/encryption"
	dberror "litepage/pkg/error"
	"litepage/pkg/memory"
	"litepage/pkg/primitives"
	"litepage/pkg/storage/page"
	"litepage/pkg/storage/stream"
)

// Writer persists pages to the data and log files. Like Reader it rents at
// most one stream per file, lazily, and belongs to one goroutine.
//
// Writers sharing a cache take its flush lock around every write, so two
// writers never interleave pages of different ages.
type Writer struct {
	facade
	cache *memory.Cache
	zero  []byte
}

// NewWriter creates a Writer over cache and the two stream pools.
func NewWriter(ctx context.Context, cache *memory.Cache, data, log *stream.Pool, codec encryption.Codec) *Writer {
	return &Writer{
		facade: newFacade(ctx, "DiskWriter", data, log, codec, cache.PageSize()),
		cache:  cache,
	}
}

// WritePage writes the bytes of buf at its position. Cache flags are left
// untouched.
func (w *Writer) WritePage(buf *page.Buffer) error {
	if err := w.checkOpen("WritePage"); err != nil {
		return err
	}
	unlock := w.cache.LockFlush()
	defer unlock()
	return w.writePage(buf)
}

func (w *Writer) writePage(buf *page.Buffer) error {
	if !buf.IsBound() {
		return dberror.InvalidArg(w.kind, "WritePage", "page has no position", "%s", buf.Identity())
	}
	if buf.Size() != w.pageSize {
		return dberror.InvalidArg(w.kind, "WritePage", "page size mismatch",
			"page %d bytes, file %d bytes", buf.Size(), w.pageSize)
	}

	s, err := w.stream(buf.Mode())
	if err != nil {
		return err
	}
	if err := w.fillGap(s, buf.Position(), "WritePage"); err != nil {
		return err
	}
	if err := w.seek(s, buf.Position(), "WritePage"); err != nil {
		return err
	}
	return w.codec.Encrypt(s, buf.Bytes(), buf.Position())
}

// fillGap writes encrypted zero pages from the end of an encrypted file up
// to pos. An encrypted file never has holes: every block below its last
// page authenticates.
func (w *Writer) fillGap(s stream.Stream, pos primitives.Position, op string) error {
	if w.codec.Overhead() == 0 {
		return nil
	}
	size, err := s.Size()
	if err != nil {
		return dberror.Wrap(err, dberror.CodeIOFailure, op, w.kind)
	}

	physical := int64(w.pageSize + w.codec.Overhead())
	next := primitives.Position(size / physical * int64(w.pageSize))
	if next >= pos {
		return nil
	}

	if w.zero == nil {
		w.zero = make([]byte, w.pageSize)
	}
	if err := w.seek(s, next, op); err != nil {
		return err
	}
	for p := next; p < pos; p += primitives.Position(w.pageSize) {
		if err := w.codec.Encrypt(s, w.zero, p); err != nil {
			return err
		}
	}
	w.log.Debug("filled gap with empty pages", "from", int64(next), "to", int64(pos))
	return nil
}

// WritePages writes bufs in order, syncs the files and only then marks the
// written pages clean. A readable buffer that a later Commit has superseded
// is skipped, since its newer copy is still dirty. It stops at the first
// failure and returns how many pages reached stable storage.
func (w *Writer) WritePages(bufs []*page.Buffer) (int, error) {
	if err := w.checkOpen("WritePages"); err != nil {
		return 0, err
	}
	unlock := w.cache.LockFlush()
	defer unlock()
	return w.writePages(bufs)
}

func (w *Writer) writePages(bufs []*page.Buffer) (int, error) {
	written := make([]*page.Buffer, 0, len(bufs))
	for _, buf := range bufs {
		if !buf.IsWritable() && !w.cache.IsCurrent(buf) {
			continue
		}
		if err := w.writePage(buf); err != nil {
			return 0, err
		}
		written = append(written, buf)
	}
	if len(written) == 0 {
		return 0, nil
	}

	if err := w.Sync(); err != nil {
		return 0, err
	}
	for _, buf := range written {
		w.cache.MarkClean(buf)
	}
	return len(written), nil
}

// Flush writes every dirty cached page and syncs the files. Pages stay
// dirty unless the sync succeeds.
func (w *Writer) Flush() (int, error) {
	if err := w.checkOpen("Flush"); err != nil {
		return 0, err
	}
	unlock := w.cache.LockFlush()
	defer unlock()

	dirty := w.cache.DirtyPages()
	defer func() {
		for _, buf := range dirty {
			w.cache.Release(buf)
		}
	}()

	n, err := w.writePages(dirty)
	if err != nil {
		w.log.Error("flush failed", "written", n, "pending", len(dirty)-n, "error", err)
		return n, err
	}
	if n > 0 {
		w.log.Debug("flushed dirty pages", "pages", n)
	}
	return n, nil
}

// Sync flushes every rented stream to stable storage.
func (w *Writer) Sync() error {
	var errs []error
	for mode, s := range w.rented {
		if s == nil {
			continue
		}
		if err := s.Sync(); err != nil {
			errs = append(errs, dberror.Wrap(err, dberror.CodeIOFailure, "Sync", w.kind).
				WithDetail("%s file", primitives.FileMode(mode)))
		}
	}
	return errors.Join(errs...)
}

// Length returns the logical size of the file selected by mode: the number
// of whole pages it holds times the page size.
func (w *Writer) Length(mode primitives.FileMode) (int64, error) {
	if err := w.checkOpen("Length"); err != nil {
		return 0, err
	}
	s, err := w.stream(mode)
	if err != nil {
		return 0, err
	}
	size, err := s.Size()
	if err != nil {
		return 0, dberror.Wrap(err, dberror.CodeIOFailure, "Length", w.kind)
	}

	physical := int64(w.pageSize + w.codec.Overhead())
	return size / physical * int64(w.pageSize), nil
}

// SetLength truncates or extends the file selected by mode to hold length
// bytes of pages. length must be page aligned. An encrypted file grows by
// encrypted empty pages rather than by a hole.
func (w *Writer) SetLength(mode primitives.FileMode, length int64) error {
	if err := w.checkOpen("SetLength"); err != nil {
		return err
	}
	if length < 0 || !primitives.IsAligned(primitives.Position(length), w.pageSize) {
		return dberror.InvalidArg(w.kind, "SetLength", "length is not page aligned",
			"length %d, page size %d", length, w.pageSize)
	}
	s, err := w.stream(mode)
	if err != nil {
		return err
	}

	unlock := w.cache.LockFlush()
	defer unlock()

	physical := w.codec.Offset(primitives.Position(length), w.pageSize)
	if w.codec.Overhead() > 0 {
		size, err := s.Size()
		if err != nil {
			return dberror.Wrap(err, dberror.CodeIOFailure, "SetLength", w.kind)
		}
		if size < physical {
			return w.fillGap(s, primitives.Position(length), "SetLength")
		}
	}

	if err := s.Truncate(physical); err != nil {
		return dberror.Wrap(err, dberror.CodeIOFailure, "SetLength", w.kind).
			WithDetail("%s file to %d bytes", mode, physical)
	}
	return nil
}

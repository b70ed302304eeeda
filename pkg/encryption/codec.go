// Package encryption makes pages opaque on disk. A Codec moves exactly one
// page between a stream and a plaintext buffer, owning any difference
// between the plaintext page size and its on-disk footprint.
package encryption

import (
	"errors"
	"io"

	dberror "litepage/pkg/error"
	"litepage/pkg/primitives"
)

const component = "Codec"

// Codec reads and writes one page at the stream's current cursor.
type Codec interface {
	// Overhead is the number of bytes each page occupies on disk beyond
	// the page size.
	Overhead() int

	// Offset maps a logical page position to its physical byte offset.
	Offset(pos primitives.Position, pageSize int) int64

	// Encrypt writes page, which belongs at pos, to w.
	Encrypt(w io.Writer, page []byte, pos primitives.Position) error

	// Decrypt fills page from r. A page that was never written (the
	// stream ends exactly at the cursor) decodes to zeros.
	Decrypt(r io.Reader, page []byte, pos primitives.Position) error
}

// Plain is the codec used when encryption is disabled: bytes are copied
// as-is and positions map one to one.
type Plain struct{}

var _ Codec = Plain{}

// Overhead implements Codec.
func (Plain) Overhead() int { return 0 }

// Offset implements Codec.
func (Plain) Offset(pos primitives.Position, _ int) int64 { return int64(pos) }

// Encrypt implements Codec.
func (Plain) Encrypt(w io.Writer, page []byte, pos primitives.Position) error {
	if _, err := w.Write(page); err != nil {
		return ioError("Encrypt", err, "write page at %d", pos)
	}
	return nil
}

// Decrypt implements Codec.
func (Plain) Decrypt(r io.Reader, page []byte, pos primitives.Position) error {
	_, err := readPage(r, page, pos)
	return err
}

// readPage fills dst from r. It reports false when the stream was already
// at its end, in which case dst is zeroed.
func readPage(r io.Reader, dst []byte, pos primitives.Position) (bool, error) {
	n, err := io.ReadFull(r, dst)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, io.EOF):
		clear(dst)
		return false, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		return false, ioError("Decrypt", err, "short read at %d: got %d of %d bytes", pos, n, len(dst))
	default:
		return false, ioError("Decrypt", err, "read page at %d", pos)
	}
}

func ioError(op string, cause error, format string, args ...any) error {
	return dberror.Newf(dberror.ErrCategorySystem, dberror.CodeIOFailure, "page i/o failed", format, args...).
		WithOp(op, component).
		WithCause(cause)
}

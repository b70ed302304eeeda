package page

import (
	"encoding/binary"

	dberror "litepage/pkg/error"
)

// Slice is a bounded window over a page's bytes. All offsets passed to its
// methods are relative to Offset and checked against Count.
type Slice struct {
	Array  []byte
	Offset int
	Count  int
}

func checkRange(size, offset, count int) error {
	if offset < 0 || count < 0 || offset > size-count {
		return dberror.Newf(dberror.ErrCategoryUser, dberror.CodeBufferOutOfBounds,
			"buffer access out of bounds", "offset %d count %d size %d", offset, count, size)
	}
	return nil
}

// Bytes returns the window as a sub-slice of the backing array.
func (s Slice) Bytes() []byte {
	return s.Array[s.Offset : s.Offset+s.Count]
}

// Sub returns a narrower view, relative to this one.
func (s Slice) Sub(offset, count int) (Slice, error) {
	if err := checkRange(s.Count, offset, count); err != nil {
		return Slice{}, err
	}
	return Slice{Array: s.Array, Offset: s.Offset + offset, Count: count}, nil
}

func (s Slice) window(off int64, n int) ([]byte, error) {
	if off > int64(s.Count) {
		return nil, checkRange(s.Count, s.Count+1, n)
	}
	if err := checkRange(s.Count, int(off), n); err != nil {
		return nil, err
	}
	start := s.Offset + int(off)
	return s.Array[start : start+n], nil
}

// ReadAt copies len(p) bytes starting at off into p. Reads never cross the
// window; a request that would is rejected without copying anything.
func (s Slice) ReadAt(p []byte, off int64) (int, error) {
	w, err := s.window(off, len(p))
	if err != nil {
		return 0, err
	}
	return copy(p, w), nil
}

// WriteAt copies p into the window at off.
func (s Slice) WriteAt(p []byte, off int64) (int, error) {
	w, err := s.window(off, len(p))
	if err != nil {
		return 0, err
	}
	return copy(w, p), nil
}

// Clear zeroes the window.
func (s Slice) Clear() {
	clear(s.Bytes())
}

// Fill sets every byte of the window to v.
func (s Slice) Fill(v byte) {
	b := s.Bytes()
	for i := range b {
		b[i] = v
	}
}

// Byte returns the byte at off.
func (s Slice) Byte(off int) (byte, error) {
	w, err := s.window(int64(off), 1)
	if err != nil {
		return 0, err
	}
	return w[0], nil
}

// PutByte stores v at off.
func (s Slice) PutByte(off int, v byte) error {
	w, err := s.window(int64(off), 1)
	if err != nil {
		return err
	}
	w[0] = v
	return nil
}

// Bool reads a one-byte boolean at off.
func (s Slice) Bool(off int) (bool, error) {
	v, err := s.Byte(off)
	return v != 0, err
}

// PutBool stores a one-byte boolean at off.
func (s Slice) PutBool(off int, v bool) error {
	var b byte
	if v {
		b = 1
	}
	return s.PutByte(off, b)
}

// Uint16 reads a little-endian uint16 at off.
func (s Slice) Uint16(off int) (uint16, error) {
	w, err := s.window(int64(off), 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(w), nil
}

// PutUint16 stores a little-endian uint16 at off.
func (s Slice) PutUint16(off int, v uint16) error {
	w, err := s.window(int64(off), 2)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint16(w, v)
	return nil
}

// Uint32 reads a little-endian uint32 at off.
func (s Slice) Uint32(off int) (uint32, error) {
	w, err := s.window(int64(off), 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(w), nil
}

// PutUint32 stores a little-endian uint32 at off.
func (s Slice) PutUint32(off int, v uint32) error {
	w, err := s.window(int64(off), 4)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(w, v)
	return nil
}

// Uint64 reads a little-endian uint64 at off.
func (s Slice) Uint64(off int) (uint64, error) {
	w, err := s.window(int64(off), 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(w), nil
}

// PutUint64 stores a little-endian uint64 at off.
func (s Slice) PutUint64(off int, v uint64) error {
	w, err := s.window(int64(off), 8)
	if err != nil {
		return err
	}
	binary.LittleEndian.PutUint64(w, v)
	return nil
}

// IsZero reports whether every byte in the window is zero.
func (s Slice) IsZero() bool {
	for _, b := range s.Bytes() {
		if b != 0 {
			return false
		}
	}
	return true
}

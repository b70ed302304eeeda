package primitives

import (
	"fmt"
	"math"
)

// Position is a byte offset within one physical file.
// Page positions are always a multiple of the configured page size.
type Position int64

// NoPosition marks a buffer that is not yet bound to a persisted page.
const NoPosition Position = math.MaxInt64

// FileMode identifies which physical file a page belongs to.
type FileMode uint8

const (
	// Data is the main data file.
	Data FileMode = iota

	// Log is the write-ahead log file.
	Log
)

// String returns the lower-case name of the mode.
func (m FileMode) String() string {
	switch m {
	case Data:
		return "data"
	case Log:
		return "log"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// IsValid reports whether m is one of the known file modes.
func (m FileMode) IsValid() bool {
	return m == Data || m == Log
}

// PageIdentity is the cache key of a page: two requests with the same
// identity always observe the same logical page.
type PageIdentity struct {
	Position Position
	Mode     FileMode
}

// String returns a string representation of the identity
func (id PageIdentity) String() string {
	return fmt.Sprintf("%s@%d", id.Mode, id.Position)
}

// PageIndex is the zero-based index of a page inside its file.
type PageIndex uint64

// MinPageSize and MaxPageSize bound the configurable page size.
const (
	MinPageSize = 512
	MaxPageSize = 1 << 20
)

// ValidatePageSize checks that size is a power of two within the supported range.
func ValidatePageSize(size int) error {
	if size < MinPageSize || size > MaxPageSize {
		return fmt.Errorf("page size %d out of range [%d, %d]", size, MinPageSize, MaxPageSize)
	}
	if size&(size-1) != 0 {
		return fmt.Errorf("page size %d is not a power of two", size)
	}
	return nil
}

// IndexOf returns the page index addressed by pos.
func IndexOf(pos Position, pageSize int) PageIndex {
	return PageIndex(int64(pos) / int64(pageSize))
}

// PositionOf returns the byte offset of the page with the given index.
func PositionOf(index PageIndex, pageSize int) Position {
	return Position(int64(index) * int64(pageSize))
}

// IsAligned reports whether pos is a non-negative multiple of pageSize.
func IsAligned(pos Position, pageSize int) bool {
	return pos >= 0 && int64(pos)%int64(pageSize) == 0
}

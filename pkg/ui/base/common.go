package base

import (
	"fmt"
	"strings"
)

// BytesPerRow is the width of one hex dump row.
const BytesPerRow = 16

// PadString pads a string to the specified width with spaces
func PadString(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// TruncateString truncates a string to maxWidth with ellipsis
func TruncateString(s string, maxWidth int) string {
	if len(s) <= maxWidth {
		return s
	}
	if maxWidth < 3 {
		return s[:maxWidth]
	}
	return s[:maxWidth-3] + "..."
}

// ByteClass groups byte values for colouring a dump.
type ByteClass int

const (
	ClassZero ByteClass = iota
	ClassPrintable
	ClassControl
	ClassHigh
)

// Classify returns the class of b.
func Classify(b byte) ByteClass {
	switch {
	case b == 0:
		return ClassZero
	case b >= 0x20 && b < 0x7F:
		return ClassPrintable
	case b < 0x20 || b == 0x7F:
		return ClassControl
	default:
		return ClassHigh
	}
}

// Printable returns b as an ASCII character, or '.' when it has none.
func Printable(b byte) byte {
	if Classify(b) == ClassPrintable {
		return b
	}
	return '.'
}

// HexRow formats one dump row: an offset, up to BytesPerRow hex bytes split
// in two groups of eight, and their ASCII rendering.
func HexRow(offset int, row []byte) string {
	var hex, ascii strings.Builder
	for i := 0; i < BytesPerRow; i++ {
		if i == BytesPerRow/2 {
			hex.WriteByte(' ')
		}
		if i < len(row) {
			fmt.Fprintf(&hex, "%02x ", row[i])
			ascii.WriteByte(Printable(row[i]))
		} else {
			hex.WriteString("   ")
		}
	}
	return fmt.Sprintf("%08x  %s |%s|", offset, hex.String(), ascii.String())
}

// HexRows splits data into dump rows starting at base offset.
func HexRows(base int, data []byte) []string {
	rows := make([]string, 0, (len(data)+BytesPerRow-1)/BytesPerRow)
	for off := 0; off < len(data); off += BytesPerRow {
		end := min(off+BytesPerRow, len(data))
		rows = append(rows, HexRow(base+off, data[off:end]))
	}
	return rows
}

// CompactRows is HexRows with runs of identical rows folded into a single
// "*" line.
func CompactRows(base int, data []byte) []string {
	var rows []string
	var prev []byte
	folded := false
	for off := 0; off < len(data); off += BytesPerRow {
		end := min(off+BytesPerRow, len(data))
		row := data[off:end]
		if prev != nil && string(prev) == string(row) {
			if !folded {
				rows = append(rows, "*")
				folded = true
			}
			continue
		}
		rows = append(rows, HexRow(base+off, row))
		prev, folded = row, false
	}
	return rows
}

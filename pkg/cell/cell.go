// Package cell holds the native side of the calling convention: the 32-bit cell
// word, the canonical float transform and the helpers that move cells, cell
// arrays and C strings in and out of native linear memory.
package cell

import "math"

// Cell is the native word of the calling convention.
type Cell = int32

// Size is the width of a cell in native memory, in bytes.
const Size = 4

// FloatToCell reinterprets the bits of f as a cell.
func FloatToCell(f float32) Cell {
	return Cell(math.Float32bits(f))
}

// CellToFloat is the exact inverse of FloatToCell.
func CellToFloat(c Cell) float32 {
	return math.Float32frombits(uint32(c))
}

// EncodeNumber converts a scripting number to a cell. Integral numbers that fit
// in a cell are stored as integers, everything else goes through the float
// transform (and so loses precision down to float32).
func EncodeNumber(n float64) Cell {
	if IsInt32(n) {
		return Cell(n)
	}
	return FloatToCell(float32(n))
}

// IsInt32 reports whether n is integral and representable as a cell.
func IsInt32(n float64) bool {
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return false
	}
	if n != math.Trunc(n) {
		return false
	}
	// -0 is integral but has no integer representation of its own.
	if n == 0 && math.Signbit(n) {
		return false
	}
	return n >= math.MinInt32 && n <= math.MaxInt32
}

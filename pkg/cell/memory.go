package cell

import (
	"errors"
	"fmt"
)

// Memory is the view of native linear memory the codec needs. It is the
// read/write subset of wazero's api.Memory, so a guest module's memory can be
// passed directly.
type Memory interface {
	Size() uint32
	Read(offset, byteCount uint32) ([]byte, bool)
	Write(offset uint32, v []byte) bool
	ReadUint32Le(offset uint32) (uint32, bool)
	WriteUint32Le(offset, v uint32) bool
}

var (
	// ErrOutOfRange is returned when an access falls outside native memory.
	ErrOutOfRange = errors.New("cell: address out of range")
	// ErrNoMemory is returned when no native memory is attached yet.
	ErrNoMemory = errors.New("cell: no native memory")
)

func rangeError(addr, n uint32) error {
	return fmt.Errorf("%w: %d bytes at 0x%x", ErrOutOfRange, n, addr)
}

// Load reads the cell stored at addr.
func Load(mem Memory, addr uint32) (Cell, error) {
	if mem == nil {
		return 0, ErrNoMemory
	}
	v, ok := mem.ReadUint32Le(addr)
	if !ok {
		return 0, rangeError(addr, Size)
	}
	return Cell(v), nil
}

// Store writes c at addr.
func Store(mem Memory, addr uint32, c Cell) error {
	if mem == nil {
		return ErrNoMemory
	}
	if !mem.WriteUint32Le(addr, uint32(c)) {
		return rangeError(addr, Size)
	}
	return nil
}

// LoadArray reads count consecutive cells starting at addr.
func LoadArray(mem Memory, addr, count uint32) ([]Cell, error) {
	cells := make([]Cell, count)
	for i := uint32(0); i < count; i++ {
		c, err := Load(mem, addr+i*Size)
		if err != nil {
			return nil, err
		}
		cells[i] = c
	}
	return cells, nil
}

// LoadString reads a string of at most maxLen bytes from addr. Unless binary is
// set, the string ends at the first NUL byte.
func LoadString(mem Memory, addr, maxLen uint32, binary bool) (string, error) {
	if mem == nil {
		return "", ErrNoMemory
	}
	if avail := mem.Size(); addr <= avail && maxLen > avail-addr {
		// Buffers declared past the end of memory are read up to the end.
		maxLen = avail - addr
	}
	buf, ok := mem.Read(addr, maxLen)
	if !ok {
		return "", rangeError(addr, maxLen)
	}
	if !binary {
		for i, b := range buf {
			if b == 0 {
				buf = buf[:i]
				break
			}
		}
	}
	return string(buf), nil
}

// StoreString copies s into the size-byte buffer at addr, truncating so that
// the terminating NUL always fits. It returns the number of bytes written.
// Truncation is byte oriented and may split a multi-byte UTF-8 sequence.
func StoreString(mem Memory, addr, size uint32, s string) (uint32, error) {
	if size == 0 {
		return 0, nil
	}
	if mem == nil {
		return 0, ErrNoMemory
	}
	n := uint32(len(s)) + 1
	if n > size {
		n = size
	}
	buf := make([]byte, n)
	copy(buf, s[:n-1])
	buf[n-1] = 0
	if !mem.Write(addr, buf) {
		return 0, rangeError(addr, n)
	}
	return n, nil
}

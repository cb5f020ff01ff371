package cell

import "fmt"

// Arena hands out native buffers from a region of linear memory. Allocation is
// a pointer bump; Reset frees everything at once.
type Arena struct {
	mem    Memory
	base   uint32
	offset uint32
}

// NewArena creates an arena that allocates from base to the end of mem.
// Address 0 is never handed out so callers can use it as "no buffer".
func NewArena(mem Memory, base uint32) *Arena {
	if base == 0 {
		base = Size
	}
	return &Arena{mem: mem, base: base, offset: base}
}

// Reset frees all allocations.
func (a *Arena) Reset() {
	a.offset = a.base
}

// Alloc reserves n zeroed bytes aligned to a cell boundary.
func (a *Arena) Alloc(n uint32) (uint32, error) {
	padding := (Size - (a.offset % Size)) % Size
	addr := a.offset + padding
	if addr+n > a.mem.Size() || addr+n < addr {
		return 0, fmt.Errorf("%w: arena exhausted allocating %d bytes", ErrOutOfRange, n)
	}
	if n > 0 && !a.mem.Write(addr, make([]byte, n)) {
		return 0, rangeError(addr, n)
	}
	a.offset = addr + n
	return addr, nil
}

// AllocCells stores cells in a fresh buffer and returns its address.
func (a *Arena) AllocCells(cells ...Cell) (uint32, error) {
	addr, err := a.Alloc(uint32(len(cells)) * Size)
	if err != nil {
		return 0, err
	}
	for i, c := range cells {
		if err := Store(a.mem, addr+uint32(i)*Size, c); err != nil {
			return 0, err
		}
	}
	return addr, nil
}

// AllocString stores s NUL-terminated in a size-byte buffer (at least
// len(s)+1) and returns its address.
func (a *Arena) AllocString(s string, size uint32) (uint32, error) {
	if need := uint32(len(s)) + 1; size < need {
		size = need
	}
	addr, err := a.Alloc(size)
	if err != nil {
		return 0, err
	}
	if _, err := StoreString(a.mem, addr, size, s); err != nil {
		return 0, err
	}
	return addr, nil
}

// Stats returns information about the arena usage.
func (a *Arena) Stats() (used uint32, total uint32) {
	return a.offset - a.base, a.mem.Size() - a.base
}

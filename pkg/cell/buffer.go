package cell

import "encoding/binary"

// Buffer is native memory backed by a Go byte slice, for hosts that own their
// buffers instead of sharing a guest module's memory.
type Buffer []byte

// NewBuffer allocates a zeroed buffer of size bytes.
func NewBuffer(size uint32) Buffer {
	return make(Buffer, size)
}

func (b Buffer) Size() uint32 {
	return uint32(len(b))
}

func (b Buffer) has(offset, n uint32) bool {
	end := uint64(offset) + uint64(n)
	return end <= uint64(len(b))
}

// Read returns a view of n bytes at offset. Writes to the view are visible in
// the buffer, as with wazero memory.
func (b Buffer) Read(offset, n uint32) ([]byte, bool) {
	if !b.has(offset, n) {
		return nil, false
	}
	return b[offset : offset+n : offset+n], true
}

func (b Buffer) Write(offset uint32, v []byte) bool {
	if !b.has(offset, uint32(len(v))) {
		return false
	}
	copy(b[offset:], v)
	return true
}

func (b Buffer) ReadUint32Le(offset uint32) (uint32, bool) {
	if !b.has(offset, 4) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(b[offset:]), true
}

func (b Buffer) WriteUint32Le(offset, v uint32) bool {
	if !b.has(offset, 4) {
		return false
	}
	binary.LittleEndian.PutUint32(b[offset:], v)
	return true
}

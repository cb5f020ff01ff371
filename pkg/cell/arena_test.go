package cell

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArenaAlloc(t *testing.T) {
	mem := NewBuffer(64)
	arena := NewArena(mem, 0)

	a, err := arena.Alloc(3)
	require.NoError(t, err)
	assert.Equal(t, uint32(Size), a, "address 0 is never handed out")

	b, err := arena.Alloc(4)
	require.NoError(t, err)
	assert.Equal(t, uint32(8), b, "allocations are cell aligned")

	used, total := arena.Stats()
	assert.Equal(t, uint32(8), used)
	assert.Equal(t, uint32(60), total)

	_, err = arena.Alloc(100)
	assert.ErrorIs(t, err, ErrOutOfRange)

	arena.Reset()
	c, err := arena.Alloc(1)
	require.NoError(t, err)
	assert.Equal(t, a, c)
}

func TestArenaAllocZeroes(t *testing.T) {
	mem := NewBuffer(16)
	for i := range mem {
		mem[i] = 0xff
	}
	arena := NewArena(mem, 0)

	addr, err := arena.Alloc(8)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 8), []byte(mem[addr:addr+8]))
}

func TestArenaAllocCellsAndStrings(t *testing.T) {
	mem := NewBuffer(64)
	arena := NewArena(mem, 16)

	addr, err := arena.AllocCells(7, 8, 9)
	require.NoError(t, err)
	assert.Equal(t, uint32(16), addr)
	cells, err := LoadArray(mem, addr, 3)
	require.NoError(t, err)
	assert.Equal(t, []Cell{7, 8, 9}, cells)

	saddr, err := arena.AllocString("hey", 8)
	require.NoError(t, err)
	assert.Equal(t, uint32(28), saddr)
	s, err := LoadString(mem, saddr, 8, false)
	require.NoError(t, err)
	assert.Equal(t, "hey", s)

	// A buffer smaller than the string grows to fit it.
	laddr, err := arena.AllocString("longer", 2)
	require.NoError(t, err)
	s, err = LoadString(mem, laddr, 7, false)
	require.NoError(t, err)
	assert.Equal(t, "longer", s)
}

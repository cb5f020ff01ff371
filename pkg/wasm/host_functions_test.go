package wasm

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spbridge/pkg/bridge"
	"spbridge/pkg/cell"
	"spbridge/pkg/host"
	"spbridge/pkg/script"
)

// guestModule is a minimal guest that imports fn_lookup, fn_push_cell and
// fn_execute from "sp". Its "run" export does
//
//	h := fn_lookup("double"); fn_push_cell(h, 21); fn_execute(h, 16)
//	return *(*int32)(16)
var guestModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	// type: (i32, i32) -> i32, () -> i32
	0x01, 0x0b, 0x02,
	0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	0x60, 0x00, 0x01, 0x7f,
	// import
	0x02, 0x32, 0x03,
	0x02, 's', 'p', 0x09, 'f', 'n', '_', 'l', 'o', 'o', 'k', 'u', 'p', 0x00, 0x00,
	0x02, 's', 'p', 0x0c, 'f', 'n', '_', 'p', 'u', 's', 'h', '_', 'c', 'e', 'l', 'l', 0x00, 0x00,
	0x02, 's', 'p', 0x0a, 'f', 'n', '_', 'e', 'x', 'e', 'c', 'u', 't', 'e', 0x00, 0x00,
	// function
	0x03, 0x02, 0x01, 0x01,
	// memory
	0x05, 0x03, 0x01, 0x00, 0x01,
	// export
	0x07, 0x10, 0x02,
	0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
	0x03, 'r', 'u', 'n', 0x00, 0x03,
	// code
	0x0a, 0x21, 0x01, 0x1f,
	0x01, 0x01, 0x7f, // one i32 local
	0x41, 0x00, 0x41, 0x06, 0x10, 0x00, 0x21, 0x00, // local0 = fn_lookup(0, 6)
	0x20, 0x00, 0x41, 0x15, 0x10, 0x01, 0x1a, // fn_push_cell(local0, 21)
	0x20, 0x00, 0x41, 0x10, 0x10, 0x02, 0x1a, // fn_execute(local0, 16)
	0x41, 0x10, 0x28, 0x02, 0x00, // i32.load 16
	0x0b,
	// data: "double" at 0
	0x0b, 0x0c, 0x01,
	0x00, 0x41, 0x00, 0x0b, 0x06, 'd', 'o', 'u', 'b', 'l', 'e',
}

// initGuestModule makes the same calls as guestModule from its _initialize
// start function, so they happen while LoadPlugin instantiates it.
var initGuestModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	// type: (i32, i32) -> i32, () -> ()
	0x01, 0x0a, 0x02,
	0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	0x60, 0x00, 0x00,
	// import
	0x02, 0x32, 0x03,
	0x02, 's', 'p', 0x09, 'f', 'n', '_', 'l', 'o', 'o', 'k', 'u', 'p', 0x00, 0x00,
	0x02, 's', 'p', 0x0c, 'f', 'n', '_', 'p', 'u', 's', 'h', '_', 'c', 'e', 'l', 'l', 0x00, 0x00,
	0x02, 's', 'p', 0x0a, 'f', 'n', '_', 'e', 'x', 'e', 'c', 'u', 't', 'e', 0x00, 0x00,
	// function
	0x03, 0x02, 0x01, 0x01,
	// memory
	0x05, 0x03, 0x01, 0x00, 0x01,
	// export
	0x07, 0x18, 0x02,
	0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00,
	0x0b, '_', 'i', 'n', 'i', 't', 'i', 'a', 'l', 'i', 'z', 'e', 0x00, 0x03,
	// code
	0x0a, 0x1c, 0x01, 0x1a,
	0x01, 0x01, 0x7f,
	0x41, 0x00, 0x41, 0x06, 0x10, 0x00, 0x21, 0x00, // local0 = fn_lookup(0, 6)
	0x20, 0x00, 0x41, 0x15, 0x10, 0x01, 0x1a, // fn_push_cell(local0, 21)
	0x20, 0x00, 0x41, 0x10, 0x10, 0x02, 0x1a, // fn_execute(local0, 16)
	0x0b,
	// data: "double" at 0
	0x0b, 0x0c, 0x01,
	0x00, 0x41, 0x00, 0x0b, 0x06, 'd', 'o', 'u', 'b', 'l', 'e',
}

func writePlugin(t *testing.T, manifest string, binary []byte) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "manifest.yaml"), []byte(manifest), 0644))
	if binary != nil {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "guest.wasm"), binary, 0644))
	}
	return dir
}

func TestGuestDrivesBridge(t *testing.T) {
	pm, err := NewPluginManager(context.Background(), "")
	require.NoError(t, err)
	defer pm.Close()

	dir := writePlugin(t, `
name: guest
version: 1.0.0
binary: guest.wasm
entry: run
functions:
  - name: double
    expr: args[0] * 2
`, guestModule)

	plugin, err := pm.LoadPlugin(dir)
	require.NoError(t, err)
	assert.Equal(t, "guest", plugin.Module)

	results, err := pm.Run(context.Background(), "guest")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, int32(42), int32(uint32(results[0])))

	fn, ok := plugin.Binding.Function(0)
	require.True(t, ok, "the guest keeps its handle")
	assert.Equal(t, bridge.Idle, fn.State())
}

func TestGuestCallsDuringInitialize(t *testing.T) {
	pm, err := NewPluginManager(context.Background(), "")
	require.NoError(t, err)
	defer pm.Close()

	dir := writePlugin(t, `
name: starter
binary: guest.wasm
functions:
  - name: double
    expr: args[0] * 2
`, initGuestModule)

	plugin, err := pm.LoadPlugin(dir)
	require.NoError(t, err)

	c, err := cell.Load(plugin.Host.Memory(), 16)
	require.NoError(t, err)
	assert.Equal(t, cell.Cell(42), c, "fn_execute from _initialize wrote its result")
}

func newBinding(t *testing.T, exprs map[string]string) (*Binding, cell.Buffer) {
	t.Helper()
	reg := script.NewRegistry()
	for name, source := range exprs {
		_, err := reg.RegisterExpr(name, source)
		require.NoError(t, err)
	}
	mem := cell.NewBuffer(64)
	return &Binding{Runtime: host.NewRuntime(reg, mem)}, mem
}

func TestBindingHandles(t *testing.T) {
	b, _ := newBinding(t, map[string]string{"a": "1", "b": "2"})

	assert.Equal(t, invalidHandle, b.Lookup("missing"))

	ha := b.Lookup("a")
	hb := b.Lookup("b")
	assert.Equal(t, int32(0), ha)
	assert.Equal(t, int32(1), hb)

	assert.True(t, b.Release(ha))
	assert.False(t, b.Release(ha))
	_, ok := b.Function(ha)
	assert.False(t, ok)

	assert.Equal(t, ha, b.Lookup("b"), "released slots are reused")

	b.ReleaseAll()
	_, ok = b.Function(hb)
	assert.False(t, ok)
}

func TestBindingExecute(t *testing.T) {
	b, mem := newBinding(t, map[string]string{
		"add":  "args[0] + args[1]",
		"text": `"no number"`,
		"boom": `fail("nope")`,
		"both": `[setref(args[0], 9), 7][1]`,
	})
	b.Runtime.SetReporter(host.NewLogSink(b.Runtime, nil))
	ctx := context.Background()

	h := b.Lookup("add")
	fn, _ := b.Function(h)
	require.NoError(t, fn.PushCell(2))
	require.NoError(t, fn.PushCell(3))
	assert.Equal(t, bridge.ErrNone, b.Execute(ctx, h, 8))
	c, _ := cell.Load(mem, 8)
	assert.Equal(t, cell.Cell(5), c)

	t.Run("non-numeric result leaves the cell alone", func(t *testing.T) {
		require.NoError(t, cell.Store(mem, 12, 7))
		h := b.Lookup("text")
		assert.Equal(t, bridge.ErrNone, b.Execute(ctx, h, 12))
		c, _ := cell.Load(mem, 12)
		assert.Equal(t, cell.Cell(7), c)
	})

	t.Run("abort", func(t *testing.T) {
		require.NoError(t, cell.Store(mem, 16, 7))
		h := b.Lookup("boom")
		assert.Equal(t, bridge.ErrAborted, b.Execute(ctx, h, 16))
		c, _ := cell.Load(mem, 16)
		assert.Equal(t, cell.Cell(7), c)
	})

	t.Run("copy-back to the result address wins", func(t *testing.T) {
		require.NoError(t, cell.Store(mem, 20, 1))
		h := b.Lookup("both")
		fn, _ := b.Function(h)
		require.NoError(t, fn.PushCellByRef(20, bridge.CopyBack))
		assert.Equal(t, bridge.ErrNone, b.Execute(ctx, h, 20))
		c, _ := cell.Load(mem, 20)
		assert.Equal(t, cell.Cell(9), c)
	})

	t.Run("bad result address cancels the call", func(t *testing.T) {
		require.NoError(t, fn.PushCell(1))
		assert.Equal(t, bridge.ErrMemAccess, b.Execute(ctx, h, 1000))
		assert.Equal(t, 0, fn.Pending())
	})

	assert.Equal(t, bridge.ErrNotRunnable, b.Execute(ctx, 99, 0))
	require.NoError(t, fn.PushCell(4))
	require.NoError(t, fn.PushCell(4))
	assert.Equal(t, bridge.ErrNone, b.Execute(ctx, h, 0), "address 0 discards the result")
}

func TestBindingWithoutMemory(t *testing.T) {
	reg := script.NewRegistry()
	_, err := reg.RegisterExpr("double", "setref(args[0], deref(args[0]) * 2)")
	require.NoError(t, err)
	b := &Binding{Runtime: host.NewRuntime(reg, nil)}

	h := b.Lookup("double")
	fn, _ := b.Function(h)
	assert.ErrorIs(t, fn.PushCellByRef(0, bridge.CopyBack), bridge.ErrMemAccess)
	assert.Equal(t, bridge.ErrMemAccess, b.Execute(context.Background(), h, 4))
	assert.Equal(t, 0, fn.Pending())
}

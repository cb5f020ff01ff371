package wasm

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tetratelabs/wazero/api"

	"spbridge/pkg/bridge"
	"spbridge/pkg/cell"
	"spbridge/pkg/host"
)

// HostModuleName is the import module guests use for the bridge functions.
const HostModuleName = "sp"

// invalidHandle is returned to guests by fn_lookup when no function matches.
const invalidHandle int32 = -1

// Binding connects one guest module to the scripting runtime it calls into.
// Bridges looked up by the guest are kept in a handle table.
type Binding struct {
	Runtime *host.Runtime

	mu      sync.Mutex
	handles []*bridge.Function
}

// Lookup returns a handle for the named script function, or -1.
func (b *Binding) Lookup(name string) int32 {
	fn, err := b.Runtime.GetFunctionByName(name)
	if err != nil {
		slog.Warn("Guest looked up unknown function", "name", name)
		return invalidHandle
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for i, h := range b.handles {
		if h == nil {
			b.handles[i] = fn
			return int32(i)
		}
	}
	b.handles = append(b.handles, fn)
	return int32(len(b.handles) - 1)
}

// Function resolves a guest handle.
func (b *Binding) Function(handle int32) (*bridge.Function, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if handle < 0 || int(handle) >= len(b.handles) || b.handles[handle] == nil {
		return nil, false
	}
	return b.handles[handle], true
}

// Release closes the bridge behind handle and frees the slot.
func (b *Binding) Release(handle int32) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if handle < 0 || int(handle) >= len(b.handles) || b.handles[handle] == nil {
		return false
	}
	b.handles[handle].Close()
	b.handles[handle] = nil
	return true
}

// ReleaseAll closes every bridge of the binding.
func (b *Binding) ReleaseAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, fn := range b.handles {
		if fn != nil {
			fn.Close()
		}
		b.handles[i] = nil
	}
	b.handles = b.handles[:0]
}

// Execute runs the call behind handle and stores a numeric result at
// resultAddr (0 means "no result wanted"). The result is written before
// references are copied back.
func (b *Binding) Execute(ctx context.Context, handle int32, resultAddr uint32) bridge.Code {
	fn, ok := b.Function(handle)
	if !ok {
		return bridge.ErrNotRunnable
	}

	pc := b.Runtime.DefaultContext()
	if resultAddr == 0 {
		return bridge.CodeOf(fn.ExecuteWith(ctx, pc, nil))
	}
	if _, err := cell.Load(b.Runtime.Memory(), resultAddr); err != nil {
		fn.Cancel()
		return bridge.ErrMemAccess
	}
	return bridge.CodeOf(fn.ExecuteAt(ctx, pc, resultAddr))
}

// attach gives the runtime the guest's memory if it has none yet. This is the
// case while the guest's start function runs inside LoadPlugin.
func (b *Binding) attach(m api.Module) {
	if b.Runtime.Memory() != nil {
		return
	}
	if mem := m.Memory(); mem != nil {
		b.Runtime.SetMemory(mem)
	}
}

// HostFunctions provides the bridge functions guests import from the "sp"
// module. Guests are matched to their Binding by module name.
type HostFunctions struct {
	runtime *Runtime

	mu       sync.RWMutex
	bindings map[string]*Binding
}

// NewHostFunctions creates host functions for WASM plugins
func NewHostFunctions(runtime *Runtime) *HostFunctions {
	return &HostFunctions{
		runtime:  runtime,
		bindings: make(map[string]*Binding),
	}
}

// Bind attaches the guest module called moduleName to rt. It must happen
// before the module is instantiated so calls made during initialization
// resolve.
func (hf *HostFunctions) Bind(moduleName string, rt *host.Runtime) *Binding {
	b := &Binding{Runtime: rt}
	hf.mu.Lock()
	hf.bindings[moduleName] = b
	hf.mu.Unlock()
	return b
}

// Unbind releases every bridge of moduleName.
func (hf *HostFunctions) Unbind(moduleName string) {
	hf.mu.Lock()
	b, ok := hf.bindings[moduleName]
	delete(hf.bindings, moduleName)
	hf.mu.Unlock()
	if ok {
		b.ReleaseAll()
	}
}

func (hf *HostFunctions) binding(m api.Module) (*Binding, bool) {
	hf.mu.RLock()
	defer hf.mu.RUnlock()
	b, ok := hf.bindings[m.Name()]
	if !ok {
		slog.Error("Bridge call from unbound module", "module", m.Name())
		return nil, false
	}
	b.attach(m)
	return b, true
}

// RegisterHostFunctions registers all host functions with the WASM runtime
func (hf *HostFunctions) RegisterHostFunctions(ctx context.Context) error {
	hostBuilder := hf.runtime.runtime.NewHostModuleBuilder(HostModuleName)

	hostBuilder.NewFunctionBuilder().WithFunc(hf.fnLookup).Export("fn_lookup")
	hostBuilder.NewFunctionBuilder().WithFunc(hf.fnRelease).Export("fn_release")
	hostBuilder.NewFunctionBuilder().WithFunc(hf.fnPushCell).Export("fn_push_cell")
	hostBuilder.NewFunctionBuilder().WithFunc(hf.fnPushCellRef).Export("fn_push_cell_ref")
	hostBuilder.NewFunctionBuilder().WithFunc(hf.fnPushFloat).Export("fn_push_float")
	hostBuilder.NewFunctionBuilder().WithFunc(hf.fnPushFloatRef).Export("fn_push_float_ref")
	hostBuilder.NewFunctionBuilder().WithFunc(hf.fnPushArray).Export("fn_push_array")
	hostBuilder.NewFunctionBuilder().WithFunc(hf.fnPushString).Export("fn_push_string")
	hostBuilder.NewFunctionBuilder().WithFunc(hf.fnPushStringEx).Export("fn_push_string_ex")
	hostBuilder.NewFunctionBuilder().WithFunc(hf.fnExecute).Export("fn_execute")
	hostBuilder.NewFunctionBuilder().WithFunc(hf.fnCancel).Export("fn_cancel")

	if _, err := hostBuilder.Instantiate(ctx); err != nil {
		return fmt.Errorf("failed to instantiate host module: %w", err)
	}
	return nil
}

// fnLookup resolves a script function by name.
// Signature: fn_lookup(name_ptr: i32, name_len: i32) -> handle: i32
func (hf *HostFunctions) fnLookup(ctx context.Context, m api.Module, namePtr, nameLen uint32) int32 {
	b, ok := hf.binding(m)
	if !ok {
		return invalidHandle
	}
	name, ok := m.Memory().Read(namePtr, nameLen)
	if !ok {
		slog.Error("Failed to read function name from WASM memory")
		return invalidHandle
	}
	return b.Lookup(string(name))
}

// Signature: fn_release(handle: i32) -> ok: i32
func (hf *HostFunctions) fnRelease(ctx context.Context, m api.Module, handle int32) uint32 {
	b, ok := hf.binding(m)
	if !ok || !b.Release(handle) {
		return 0
	}
	return 1
}

// withFunction resolves handle and runs push, translating the outcome into a
// guest error code.
func (hf *HostFunctions) withFunction(m api.Module, handle int32, push func(*bridge.Function) error) uint32 {
	b, ok := hf.binding(m)
	if !ok {
		return uint32(bridge.ErrNotRunnable)
	}
	fn, ok := b.Function(handle)
	if !ok {
		return uint32(bridge.ErrNotRunnable)
	}
	return uint32(bridge.CodeOf(push(fn)))
}

// Signature: fn_push_cell(handle: i32, value: i32) -> code: i32
func (hf *HostFunctions) fnPushCell(ctx context.Context, m api.Module, handle, value int32) uint32 {
	return hf.withFunction(m, handle, func(fn *bridge.Function) error {
		return fn.PushCell(value)
	})
}

// Signature: fn_push_cell_ref(handle: i32, addr: i32, flags: i32) -> code: i32
func (hf *HostFunctions) fnPushCellRef(ctx context.Context, m api.Module, handle int32, addr, flags uint32) uint32 {
	return hf.withFunction(m, handle, func(fn *bridge.Function) error {
		return fn.PushCellByRef(addr, bridge.Flags(flags))
	})
}

// Signature: fn_push_float(handle: i32, value: f32) -> code: i32
func (hf *HostFunctions) fnPushFloat(ctx context.Context, m api.Module, handle int32, value float32) uint32 {
	return hf.withFunction(m, handle, func(fn *bridge.Function) error {
		return fn.PushFloat(value)
	})
}

// Signature: fn_push_float_ref(handle: i32, addr: i32, flags: i32) -> code: i32
func (hf *HostFunctions) fnPushFloatRef(ctx context.Context, m api.Module, handle int32, addr, flags uint32) uint32 {
	return hf.withFunction(m, handle, func(fn *bridge.Function) error {
		return fn.PushFloatByRef(addr, bridge.Flags(flags))
	})
}

// Signature: fn_push_array(handle: i32, addr: i32, cells: i32, flags: i32) -> code: i32
func (hf *HostFunctions) fnPushArray(ctx context.Context, m api.Module, handle int32, addr, cells, flags uint32) uint32 {
	return hf.withFunction(m, handle, func(fn *bridge.Function) error {
		return fn.PushArray(addr, cells, bridge.Flags(flags))
	})
}

// fnPushString pushes the NUL-terminated string at addr.
// Signature: fn_push_string(handle: i32, addr: i32) -> code: i32
func (hf *HostFunctions) fnPushString(ctx context.Context, m api.Module, handle int32, addr uint32) uint32 {
	return hf.withFunction(m, handle, func(fn *bridge.Function) error {
		mem := m.Memory()
		if addr >= mem.Size() {
			return fmt.Errorf("%w: string at 0x%x", bridge.ErrMemAccess, addr)
		}
		s, err := cell.LoadString(mem, addr, mem.Size()-addr, false)
		if err != nil {
			return fmt.Errorf("%w: %w", bridge.ErrMemAccess, err)
		}
		return fn.PushString(s)
	})
}

// Signature: fn_push_string_ex(handle: i32, addr: i32, length: i32, sz_flags: i32, cp_flags: i32) -> code: i32
func (hf *HostFunctions) fnPushStringEx(ctx context.Context, m api.Module, handle int32, addr, length, szFlags, cpFlags uint32) uint32 {
	return hf.withFunction(m, handle, func(fn *bridge.Function) error {
		return fn.PushStringEx(addr, length, bridge.Flags(szFlags), bridge.Flags(cpFlags))
	})
}

// Signature: fn_execute(handle: i32, result_ptr: i32) -> code: i32
func (hf *HostFunctions) fnExecute(ctx context.Context, m api.Module, handle int32, resultPtr uint32) uint32 {
	b, ok := hf.binding(m)
	if !ok {
		return uint32(bridge.ErrNotRunnable)
	}
	return uint32(b.Execute(ctx, handle, resultPtr))
}

// Signature: fn_cancel(handle: i32) -> code: i32
func (hf *HostFunctions) fnCancel(ctx context.Context, m api.Module, handle int32) uint32 {
	return hf.withFunction(m, handle, func(fn *bridge.Function) error {
		fn.Cancel()
		return nil
	})
}

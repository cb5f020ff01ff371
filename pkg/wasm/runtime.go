package wasm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"sync"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
)

// scratchModule is a module with one exported page of memory and nothing
// else. It backs native buffers for plugins that ship no binary.
var scratchModule = []byte{
	0x00, 0x61, 0x73, 0x6d, // magic
	0x01, 0x00, 0x00, 0x00, // version
	0x05, 0x03, 0x01, 0x00, 0x01, // memory section: 1 memory, min 1 page
	0x07, 0x0a, 0x01, 0x06, 'm', 'e', 'm', 'o', 'r', 'y', 0x02, 0x00, // export "memory"
}

// Runtime manages native plugin modules
type Runtime struct {
	runtime wazero.Runtime
	ctx     context.Context

	mu      sync.RWMutex
	modules map[string]api.Module
}

// NewRuntime creates a new WASM runtime
func NewRuntime(ctx context.Context) (*Runtime, error) {
	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().
		WithCompilationCache(wazero.NewCompilationCache()))

	// Instantiate WASI for guests built against it (TinyGo, wasi-libc)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	return &Runtime{
		runtime: r,
		ctx:     ctx,
		modules: make(map[string]api.Module),
	}, nil
}

// LoadModule loads a WASM module from file
func (r *Runtime) LoadModule(name string, wasmPath string) (api.Module, error) {
	wasmBytes, err := os.ReadFile(wasmPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read WASM file %s: %w", wasmPath, err)
	}

	module, err := r.LoadModuleBytes(name, wasmBytes)
	if err != nil {
		return nil, err
	}
	slog.Info("✅ WASM module loaded", "name", name, "path", wasmPath)
	return module, nil
}

// LoadModuleBytes compiles and instantiates wasmBytes under name.
func (r *Runtime) LoadModuleBytes(name string, wasmBytes []byte) (api.Module, error) {
	r.mu.RLock()
	_, exists := r.modules[name]
	r.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("module %s already loaded", name)
	}

	compiled, err := r.runtime.CompileModule(r.ctx, wasmBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to compile WASM module %s: %w", name, err)
	}

	// Plugins are reactors: only initialize them, the entry export is called
	// explicitly.
	module, err := r.runtime.InstantiateModule(r.ctx, compiled, wazero.NewModuleConfig().
		WithName(name).
		WithStartFunctions("_initialize"))
	if err != nil {
		return nil, fmt.Errorf("failed to instantiate WASM module %s: %w", name, err)
	}

	r.mu.Lock()
	r.modules[name] = module
	r.mu.Unlock()
	return module, nil
}

// NewScratchMemory instantiates a memory-only module under name and returns
// its memory.
func (r *Runtime) NewScratchMemory(name string) (api.Memory, error) {
	module, err := r.LoadModuleBytes(name, scratchModule)
	if err != nil {
		return nil, err
	}
	return module.Memory(), nil
}

// CallFunction calls an exported function from a loaded module
// Returns result and any error. Includes panic recovery.
func (r *Runtime) CallFunction(ctx context.Context, moduleName string, functionName string, params ...uint64) (results []uint64, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			stack := string(debug.Stack())
			slog.Error("🔥 PANIC in WASM execution",
				"module", moduleName,
				"function", functionName,
				"panic", rec,
				"stack", stack,
			)
			err = fmt.Errorf("WASM panic in %s.%s: %v", moduleName, functionName, rec)
		}
	}()

	module, err := r.module(moduleName)
	if err != nil {
		return nil, err
	}

	fn := module.ExportedFunction(functionName)
	if fn == nil {
		return nil, fmt.Errorf("function %s not found in module %s", functionName, moduleName)
	}

	results, err = fn.Call(ctx, params...)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s.%s: %w", moduleName, functionName, err)
	}

	return results, nil
}

// GetMemory returns the memory of a module for reading/writing
func (r *Runtime) GetMemory(moduleName string) (api.Memory, error) {
	module, err := r.module(moduleName)
	if err != nil {
		return nil, err
	}

	memory := module.Memory()
	if memory == nil {
		return nil, fmt.Errorf("module %s has no exported memory", moduleName)
	}

	return memory, nil
}

// UnloadModule unloads a WASM module and frees resources
func (r *Runtime) UnloadModule(name string) error {
	r.mu.Lock()
	module, exists := r.modules[name]
	delete(r.modules, name)
	r.mu.Unlock()
	if !exists {
		return fmt.Errorf("module %s not loaded", name)
	}

	if err := module.Close(r.ctx); err != nil {
		return fmt.Errorf("failed to close module %s: %w", name, err)
	}

	slog.Info("WASM module unloaded", "name", name)
	return nil
}

// Close closes the runtime and all loaded modules
func (r *Runtime) Close() error {
	for _, name := range r.ListModules() {
		if err := r.UnloadModule(name); err != nil {
			slog.Error("Failed to unload module", "name", name, "error", err)
		}
	}

	if err := r.runtime.Close(r.ctx); err != nil {
		return fmt.Errorf("failed to close WASM runtime: %w", err)
	}

	slog.Info("WASM runtime closed")
	return nil
}

// ListModules returns names of all loaded modules
func (r *Runtime) ListModules() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.modules))
	for name := range r.modules {
		names = append(names, name)
	}
	return names
}

func (r *Runtime) module(name string) (api.Module, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	module, exists := r.modules[name]
	if !exists {
		return nil, fmt.Errorf("module %s not loaded", name)
	}
	return module, nil
}

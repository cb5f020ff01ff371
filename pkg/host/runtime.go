package host

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"spbridge/pkg/bridge"
	"spbridge/pkg/cell"
	"spbridge/pkg/script"
)

// Runtime implements bridge.Runtime on top of a script.Registry.
//
// OWNERSHIP: Borrows the registry and the native memory.
// THREAD-SAFETY: Setters and lookups are safe for concurrent use. Calls into
// the scripting side are not serialized here; see Enter.
type Runtime struct {
	registry *script.Registry
	context  *Context

	mu   sync.RWMutex
	mem  cell.Memory
	sink bridge.ErrorSink

	depth atomic.Int32
}

// NewRuntime creates a runtime whose default context calls into reg. mem may
// be nil until the native side is loaded (see SetMemory).
func NewRuntime(reg *script.Registry, mem cell.Memory) *Runtime {
	r := &Runtime{
		registry: reg,
		mem:      mem,
	}
	r.context = &Context{runtime: r, name: "default"}
	r.sink = NewLogSink(r, slog.Default())
	return r
}

func (r *Runtime) Registry() *script.Registry {
	return r.registry
}

func (r *Runtime) DefaultContext() bridge.Context {
	return r.context
}

// Enter marks entry into the scripting scope. Scopes nest: a script function
// may push and execute other bridges while it runs. The depth is only
// bookkeeping; callers on different goroutines must serialize themselves.
func (r *Runtime) Enter() func() {
	r.depth.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() { r.depth.Add(-1) })
	}
}

// Depth returns how many scopes are currently entered.
func (r *Runtime) Depth() int {
	return int(r.depth.Load())
}

func (r *Runtime) Memory() cell.Memory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.mem
}

func (r *Runtime) SetMemory(mem cell.Memory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mem = mem
}

func (r *Runtime) Reporter() bridge.ErrorSink {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sink
}

func (r *Runtime) SetReporter(sink bridge.ErrorSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
}

// GetFunctionByID returns a fresh bridge for the callable with the given id.
func (r *Runtime) GetFunctionByID(id script.FuncID) (*bridge.Function, error) {
	if _, ok := r.registry.Lookup(id); !ok {
		return nil, fmt.Errorf("function %d not found", id)
	}
	return bridge.NewFunction(r, id), nil
}

// GetFunctionByName returns a fresh bridge for the named callable.
func (r *Runtime) GetFunctionByName(name string) (*bridge.Function, error) {
	c, ok := r.registry.LookupName(name)
	if !ok {
		return nil, fmt.Errorf("function %s not found", name)
	}
	return bridge.NewFunction(r, c.ID), nil
}

// FunctionName resolves id for diagnostics.
func (r *Runtime) FunctionName(id script.FuncID) string {
	if c, ok := r.registry.Lookup(id); ok {
		return c.Name
	}
	return fmt.Sprintf("#%d", id)
}

package script

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

// FuncID identifies a callable inside a Registry.
type FuncID uint32

// GoFunc is a callable implemented in Go. Arguments arrive in push order;
// by-reference parameters arrive as objects (see Value.AsRef).
type GoFunc func(ctx context.Context, args []Value) (Value, error)

// Callable is a registered scripting function.
type Callable struct {
	ID   FuncID
	Name string

	fn GoFunc
}

// Registry holds the callables of one scripting environment.
//
// THREAD-SAFETY: registration and lookup are safe for concurrent use; Call
// itself runs the callable on the caller's goroutine.
type Registry struct {
	mu     sync.RWMutex
	byID   []*Callable
	byName map[string]*Callable
}

func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*Callable),
	}
}

// Register adds fn under name and returns its id. Registering an existing name
// replaces the implementation but keeps the id.
func (r *Registry) Register(name string, fn GoFunc) FuncID {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, exists := r.byName[name]; exists {
		c.fn = fn
		return c.ID
	}

	c := &Callable{ID: FuncID(len(r.byID)), Name: name, fn: fn}
	r.byID = append(r.byID, c)
	r.byName[name] = c
	return c.ID
}

// RegisterExpr compiles source as an expression callable and registers it.
func (r *Registry) RegisterExpr(name, source string) (FuncID, error) {
	fn, err := CompileExpr(name, source)
	if err != nil {
		return 0, err
	}
	return r.Register(name, fn), nil
}

func (r *Registry) Lookup(id FuncID) (*Callable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if int(id) >= len(r.byID) {
		return nil, false
	}
	return r.byID[id], true
}

func (r *Registry) LookupName(name string) (*Callable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byName[name]
	return c, ok
}

// Names lists registered callables in id order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.byID))
	for i, c := range r.byID {
		names[i] = c.Name
	}
	return names
}

// Call invokes the callable with the given id. A failure is always returned as
// an *Exception; panics inside the callable are recovered and reported with the
// Go stack trace.
func (r *Registry) Call(ctx context.Context, id FuncID, args []Value) (result Value, err error) {
	c, ok := r.Lookup(id)
	if !ok {
		return NewNil(), &Exception{Message: fmt.Sprintf("function %d not found", id)}
	}

	defer func() {
		if rec := recover(); rec != nil {
			stack := string(debug.Stack())
			slog.Error("🔥 PANIC in script function",
				"function", c.Name,
				"panic", rec,
			)
			result = NewNil()
			err = &Exception{
				Function: c.Name,
				Message:  fmt.Sprintf("panic: %v", rec),
				Stack:    stack,
			}
		}
	}()

	result, err = c.fn(ctx, args)
	if err != nil {
		exc := AsException(err)
		if exc.Function == "" {
			exc.Function = c.Name
		}
		return NewNil(), exc
	}
	return result, nil
}

package host

import (
	"context"

	"spbridge/pkg/script"
)

// Context is the execution context of a Runtime. It is the invocation entry
// point used by bridges.
type Context struct {
	runtime *Runtime
	name    string
}

func (c *Context) Name() string {
	return c.name
}

func (c *Context) Runtime() *Runtime {
	return c.runtime
}

// Invoke calls the scripting function id with args.
func (c *Context) Invoke(ctx context.Context, id script.FuncID, args []script.Value) (script.Value, error) {
	return c.runtime.registry.Call(ctx, id, args)
}

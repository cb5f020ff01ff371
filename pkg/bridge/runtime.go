package bridge

import (
	"context"

	"spbridge/pkg/cell"
	"spbridge/pkg/script"
)

// Context is a scripting execution context: the place a call is invoked in.
// A failed invocation returns a non-nil error, normally a *script.Exception.
type Context interface {
	Invoke(ctx context.Context, id script.FuncID, args []script.Value) (script.Value, error)
}

// Runtime is the environment that owns a bridge. The bridge does not own the
// runtime, it only borrows it for scoping and default-context resolution.
type Runtime interface {
	DefaultContext() Context
	// Enter enters the scripting scope and returns the matching exit. Nested
	// entry is legal; concurrent entry must be serialized by the caller.
	Enter() (exit func())
	// Memory is the native memory addresses passed to the bridge refer to.
	Memory() cell.Memory
	// Reporter is where aborted calls are reported.
	Reporter() ErrorSink
}

// ErrorSink receives one report per aborted call.
type ErrorSink interface {
	ReportError(pc Context, id script.FuncID, code Code, message string)
}

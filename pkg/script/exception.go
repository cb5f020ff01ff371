package script

import (
	"errors"
	"fmt"
)

// Exception is an error raised by a scripting callable. It is the structured
// failure half of the invocation boundary: nothing raised inside a callable
// travels further up than this value.
type Exception struct {
	Function string
	Message  string
	Stack    string // optional
}

func (e *Exception) Error() string {
	if e.Function == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Function, e.Message)
}

// Report formats the message the way it is handed to an error sink: the
// message, followed by the stack trace on its own lines when one is known.
func (e *Exception) Report() string {
	if e.Stack == "" {
		return e.Message
	}
	return e.Message + "\n" + e.Stack
}

// Throw raises an exception from inside a GoFunc.
func Throw(format string, args ...interface{}) error {
	return &Exception{Message: fmt.Sprintf(format, args...)}
}

// AsException extracts the Exception carried by err, wrapping plain errors so
// callers always get a message to report.
func AsException(err error) *Exception {
	if err == nil {
		return nil
	}
	var exc *Exception
	if errors.As(err, &exc) {
		return exc
	}
	return &Exception{Message: err.Error()}
}

package bridge

import (
	"errors"
	"fmt"
)

// Code is a native error code. The numbering follows the SourcePawn VM so
// guests can compare against their own constants.
type Code int

const (
	ErrNone        Code = 0
	ErrMemAccess   Code = 11
	ErrParamsMax   Code = 22
	ErrNotRunnable Code = 24
	ErrAborted     Code = 25
)

var codeNames = map[Code]string{
	ErrNone:        "no error",
	ErrMemAccess:   "invalid memory access",
	ErrParamsMax:   "too many parameters",
	ErrNotRunnable: "function is not runnable",
	ErrAborted:     "call was aborted",
}

func (c Code) Error() string {
	if name, ok := codeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("error code %d", int(c))
}

// CodeOf maps err to the native code a guest should see.
func CodeOf(err error) Code {
	if err == nil {
		return ErrNone
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return ErrAborted
}

// Flags modify how a by-reference parameter is pushed.
type Flags int

const (
	// CopyBack requests that the scripting value be written back after a
	// successful call.
	CopyBack Flags = 1 << 0
)

// String size flags for PushStringEx.
const (
	StringUTF8   Flags = 1 << 0
	StringCopy   Flags = 1 << 1
	StringBinary Flags = 1 << 2
)

// Package bridge marshals natively triggered calls into scripting functions.
//
// A Function accumulates parameters pushed in native call order, converts each
// into a scripting value and remembers which by-reference parameters have to be
// copied back into native memory once the call completes. Execute runs the call
// and always leaves the Function idle and reusable, whatever the outcome.
package bridge

import (
	"fmt"
	"strconv"

	"spbridge/pkg/cell"
	"spbridge/pkg/metrics"
	"spbridge/pkg/script"
)

// MaxParams is the number of parameter slots of a Function.
const MaxParams = 32

// State is the lifecycle position of a Function's current call attempt.
type State int

const (
	Idle State = iota
	Accumulating
	Executing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Accumulating:
		return "accumulating"
	case Executing:
		return "executing"
	default:
		return "unknown"
	}
}

// Function is the call bridge of one scripting callable.
//
// OWNERSHIP: Owns its parameter slots and copy-back bindings; borrows the
// runtime.
// THREAD-SAFETY: None. At most one attempt may be in flight per Function; use
// one Function per goroutine for concurrent calls to the same callable.
type Function struct {
	runtime Runtime
	id      script.FuncID

	params [MaxParams]script.Value
	cur    int
	refs   tracker
	state  State
}

// NewFunction creates the bridge for callable id inside rt.
func NewFunction(rt Runtime, id script.FuncID) *Function {
	return &Function{runtime: rt, id: id}
}

func (f *Function) FunctionID() script.FuncID {
	return f.id
}

// IsRunnable always reports true: a scripting callable has no paused or
// errored state of its own.
func (f *Function) IsRunnable() bool {
	return true
}

func (f *Function) ParentRuntime() Runtime {
	return f.runtime
}

func (f *Function) ParentContext() Context {
	return f.runtime.DefaultContext()
}

func (f *Function) State() State {
	return f.state
}

// Pending returns the number of pushed parameters.
func (f *Function) Pending() int {
	return f.cur
}

// Tracked returns the number of copy-back bindings of the current attempt.
func (f *Function) Tracked() int {
	return f.refs.len()
}

// PushCell pushes a cell by value.
func (f *Function) PushCell(c cell.Cell) error {
	exit := f.runtime.Enter()
	defer exit()

	if err := f.reserve(); err != nil {
		return err
	}
	f.push(script.NewNumber(float64(c)))
	return nil
}

// PushCellByRef pushes the cell stored at addr as a size-1 record.
func (f *Function) PushCellByRef(addr uint32, flags Flags) error {
	exit := f.runtime.Enter()
	defer exit()

	if err := f.reserve(); err != nil {
		return err
	}
	c, err := cell.Load(f.runtime.Memory(), addr)
	if err != nil {
		return f.memError(err)
	}
	f.push(f.makeRef(script.NewNumber(float64(c)), addr, 1, flags))
	return nil
}

// PushFloat pushes a float by value.
func (f *Function) PushFloat(v float32) error {
	exit := f.runtime.Enter()
	defer exit()

	if err := f.reserve(); err != nil {
		return err
	}
	f.push(script.NewNumber(float64(v)))
	return nil
}

// PushFloatByRef pushes the float stored at addr as a size-1 record.
func (f *Function) PushFloatByRef(addr uint32, flags Flags) error {
	exit := f.runtime.Enter()
	defer exit()

	if err := f.reserve(); err != nil {
		return err
	}
	c, err := cell.Load(f.runtime.Memory(), addr)
	if err != nil {
		return f.memError(err)
	}
	f.push(f.makeRef(script.NewNumber(float64(cell.CellToFloat(c))), addr, 1, flags))
	return nil
}

// PushArray pushes count cells starting at addr as an array record. Elements
// are always decoded as integers; float arrays are not supported.
func (f *Function) PushArray(addr, count uint32, flags Flags) error {
	exit := f.runtime.Enter()
	defer exit()

	if err := f.reserve(); err != nil {
		return err
	}
	cells, err := cell.LoadArray(f.runtime.Memory(), addr, count)
	if err != nil {
		return f.memError(err)
	}
	items := make([]script.Value, len(cells))
	for i, c := range cells {
		items[i] = script.NewNumber(float64(c))
	}
	f.push(f.makeRef(script.NewArray(items), addr, count, flags))
	return nil
}

// PushString pushes a read-only string. The script still sees a record (with
// size len(s)+1) but nothing is ever copied back.
func (f *Function) PushString(s string) error {
	exit := f.runtime.Enter()
	defer exit()

	if err := f.reserve(); err != nil {
		return err
	}
	f.push(script.NewRef(script.NewString(s), len(s)+1))
	return nil
}

// PushStringEx pushes the string held in the length-byte buffer at addr. The
// buffer is read up to its first NUL unless szFlags has StringBinary; copy-back
// is controlled by cpFlags.
func (f *Function) PushStringEx(addr, length uint32, szFlags, cpFlags Flags) error {
	exit := f.runtime.Enter()
	defer exit()

	if err := f.reserve(); err != nil {
		return err
	}
	s, err := cell.LoadString(f.runtime.Memory(), addr, length, szFlags&StringBinary != 0)
	if err != nil {
		return f.memError(err)
	}
	f.push(f.makeRef(script.NewString(s), addr, length, cpFlags))
	return nil
}

// PushValue pushes an already built scripting value.
func (f *Function) PushValue(v script.Value) error {
	exit := f.runtime.Enter()
	defer exit()

	if err := f.reserve(); err != nil {
		return err
	}
	f.push(v)
	return nil
}

func (f *Function) reserve() error {
	if f.cur >= MaxParams {
		metrics.PushErrorsTotal.WithLabelValues(strconv.Itoa(int(ErrParamsMax))).Inc()
		return ErrParamsMax
	}
	return nil
}

func (f *Function) memError(err error) error {
	metrics.PushErrorsTotal.WithLabelValues(strconv.Itoa(int(ErrMemAccess))).Inc()
	return fmt.Errorf("%w: %w", ErrMemAccess, err)
}

func (f *Function) push(v script.Value) {
	f.params[f.cur] = v
	f.cur++
	f.state = Accumulating
}

// makeRef wraps inner in a {value, size} record and tracks it for copy-back
// when requested.
func (f *Function) makeRef(inner script.Value, addr, size uint32, flags Flags) script.Value {
	v := script.NewRef(inner, int(size))
	if flags&CopyBack != 0 {
		ref, _ := v.AsRef()
		f.refs.track(ref, addr, size)
	}
	return v
}

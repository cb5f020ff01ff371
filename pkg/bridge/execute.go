package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"spbridge/pkg/cell"
	"spbridge/pkg/metrics"
	"spbridge/pkg/script"
)

// Execute runs the accumulated call in the runtime's default context.
func (f *Function) Execute(ctx context.Context, result *cell.Cell) error {
	return f.Execute2(ctx, f.runtime.DefaultContext(), result)
}

// Execute2 runs the accumulated call in pc.
//
// On success a numeric return value is stored in *result (other return types
// leave it untouched), tracked references are copied back and nil is returned.
// If the callable raises, the failure is reported to the runtime's error sink
// once and an error matching ErrAborted is returned; *result is not written.
// Either way the Function is idle again when Execute2 returns.
func (f *Function) Execute2(ctx context.Context, pc Context, result *cell.Cell) error {
	return f.ExecuteWith(ctx, pc, func(c cell.Cell) error {
		if result != nil {
			*result = c
		}
		return nil
	})
}

// ExecuteAt runs the accumulated call in pc and stores a numeric return value
// at addr in native memory. The result is stored before references are copied
// back, so a reference bound to addr wins.
func (f *Function) ExecuteAt(ctx context.Context, pc Context, addr uint32) error {
	return f.ExecuteWith(ctx, pc, func(c cell.Cell) error {
		return cell.Store(f.runtime.Memory(), addr, c)
	})
}

// ExecuteWith is Execute2 with the result handed to store instead of a cell
// pointer. store is called only for numeric return values, after the call
// completed and before copy-back. A store error does not stop copy-back; it is
// returned wrapped in ErrMemAccess.
func (f *Function) ExecuteWith(ctx context.Context, pc Context, store func(cell.Cell) error) error {
	exit := f.runtime.Enter()
	defer exit()
	defer f.Cancel()

	start := time.Now()
	f.state = Executing

	args := make([]script.Value, f.cur)
	copy(args, f.params[:f.cur])

	res, err := f.invoke(ctx, pc, args)
	if err != nil {
		exc := script.AsException(err)
		f.report(pc, exc)
		observe(metrics.OutcomeAborted, start)
		return fmt.Errorf("%w: %w", ErrAborted, exc)
	}

	var storeErr error
	if n, ok := res.AsNumber(); ok && store != nil {
		if err := store(cell.EncodeNumber(n)); err != nil {
			storeErr = fmt.Errorf("%w: result: %w", ErrMemAccess, err)
		}
	}
	f.copyBack()

	observe(metrics.OutcomeCompleted, start)
	return storeErr
}

// CallFunction discards anything pending, pushes params as cells and executes
// in the default context.
func (f *Function) CallFunction(ctx context.Context, params []cell.Cell, result *cell.Cell) error {
	return f.CallFunction2(ctx, f.runtime.DefaultContext(), params, result)
}

func (f *Function) CallFunction2(ctx context.Context, pc Context, params []cell.Cell, result *cell.Cell) error {
	f.Cancel()
	for _, p := range params {
		if err := f.PushCell(p); err != nil {
			f.Cancel()
			return err
		}
	}
	return f.Execute2(ctx, pc, result)
}

// Cancel discards the pushed parameters and copy-back bindings. It is safe to
// call on an idle Function.
func (f *Function) Cancel() {
	f.refs.release()
	for i := 0; i < f.cur; i++ {
		f.params[i] = script.Value{}
	}
	f.cur = 0
	f.state = Idle
}

// Close tears the Function down. An attempt still in progress is dropped
// without being reported and nothing is copied back.
func (f *Function) Close() {
	f.Cancel()
}

// invoke is the single point where the call leaves the bridge. Panics from the
// context are turned into exceptions so they never cross Execute2.
func (f *Function) invoke(ctx context.Context, pc Context, args []script.Value) (res script.Value, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			res = script.NewNil()
			err = &script.Exception{
				Message: fmt.Sprintf("panic: %v", rec),
				Stack:   string(debug.Stack()),
			}
		}
	}()
	return pc.Invoke(ctx, f.id, args)
}

func (f *Function) report(pc Context, exc *script.Exception) {
	msg := exc.Report()
	if msg == "" {
		msg = "script function raised an error without a message"
	}
	sink := f.runtime.Reporter()
	if sink == nil {
		slog.Error("Script call aborted", "function", f.id, "message", msg)
		return
	}
	sink.ReportError(pc, f.id, ErrAborted, msg)
}

func observe(outcome string, start time.Time) {
	metrics.CallsTotal.WithLabelValues(outcome).Inc()
	metrics.CallDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
}

package host

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spbridge/pkg/bridge"
	"spbridge/pkg/cell"
	"spbridge/pkg/script"
)

func TestGetFunction(t *testing.T) {
	reg := script.NewRegistry()
	id, err := reg.RegisterExpr("answer", "42")
	require.NoError(t, err)
	rt := NewRuntime(reg, cell.NewBuffer(16))

	fn, err := rt.GetFunctionByName("answer")
	require.NoError(t, err)
	assert.Equal(t, id, fn.FunctionID())
	assert.Same(t, rt, fn.ParentRuntime())

	other, err := rt.GetFunctionByID(id)
	require.NoError(t, err)
	assert.NotSame(t, fn, other, "every lookup returns a fresh bridge")

	_, err = rt.GetFunctionByName("missing")
	assert.Error(t, err)
	_, err = rt.GetFunctionByID(9)
	assert.Error(t, err)

	assert.Equal(t, "answer", rt.FunctionName(id))
	assert.Equal(t, "#9", rt.FunctionName(9))
}

func TestEnterNests(t *testing.T) {
	rt := NewRuntime(script.NewRegistry(), nil)

	outer := rt.Enter()
	inner := rt.Enter()
	assert.Equal(t, 2, rt.Depth())

	inner()
	inner()
	assert.Equal(t, 1, rt.Depth(), "exit is idempotent")
	outer()
	assert.Equal(t, 0, rt.Depth())
}

func TestNestedCalls(t *testing.T) {
	reg := script.NewRegistry()
	mem := cell.NewBuffer(32)
	rt := NewRuntime(reg, mem)

	_, err := reg.RegisterExpr("inc", "setref(args[0], deref(args[0]) + 1)")
	require.NoError(t, err)

	var depthInside int
	reg.Register("twice", func(ctx context.Context, args []script.Value) (script.Value, error) {
		depthInside = rt.Depth()
		inc, err := rt.GetFunctionByName("inc")
		if err != nil {
			return script.NewNil(), err
		}
		for i := 0; i < 2; i++ {
			if err := inc.PushCellByRef(4, bridge.CopyBack); err != nil {
				return script.NewNil(), err
			}
			if err := inc.Execute(ctx, nil); err != nil {
				return script.NewNil(), err
			}
		}
		c, err := cell.Load(rt.Memory(), 4)
		return script.NewNumber(float64(c)), err
	})

	fn, err := rt.GetFunctionByName("twice")
	require.NoError(t, err)

	var result cell.Cell
	require.NoError(t, fn.Execute(context.Background(), &result))
	assert.Equal(t, cell.Cell(2), result)
	assert.Equal(t, 1, depthInside)
	assert.Equal(t, 0, rt.Depth())
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	reg := script.NewRegistry()
	id, err := reg.RegisterExpr("boom", `fail("bad input")`)
	require.NoError(t, err)
	rt := NewRuntime(reg, cell.NewBuffer(16))
	rt.SetReporter(NewLogSink(rt, logger))

	fn, err := rt.GetFunctionByID(id)
	require.NoError(t, err)
	require.Error(t, fn.Execute(context.Background(), nil))

	out := buf.String()
	assert.Contains(t, out, "Script call aborted")
	assert.Contains(t, out, "function=boom")
	assert.Contains(t, out, "context=default")
	assert.Contains(t, out, "code=25")
	assert.Contains(t, out, "bad input")
}

func TestMemorySwap(t *testing.T) {
	rt := NewRuntime(script.NewRegistry(), nil)
	assert.Nil(t, rt.Memory())

	mem := cell.NewBuffer(8)
	rt.SetMemory(mem)
	assert.Equal(t, cell.Memory(mem), rt.Memory())
	assert.NotNil(t, rt.Reporter())
}

package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/goccy/go-json"

	"spbridge/pkg/bridge"
	"spbridge/pkg/cell"
	"spbridge/pkg/wasm"
)

// argKind is how a command line argument is pushed.
type argKind int

const (
	argCell argKind = iota
	argFloat
	argCellRef
	argFloatRef
	argArray
	argString
	argBuffer
)

type callArg struct {
	kind  argKind
	cell  cell.Cell
	float float32
	cells []cell.Cell
	str   string
	size  uint32

	addr uint32 // native buffer, for by-reference kinds
}

// parseCallArg decodes one argument of `spbridge call`:
//
//	42          cell            &42     cell by reference
//	1.5 / 2f    float           &1.5    float by reference
//	[1,2,3]     cell array (by reference)
//	str:text    read-only string
//	buf:N:text  N-byte string buffer (by reference)
func parseCallArg(tok string) (callArg, error) {
	switch {
	case strings.HasPrefix(tok, "str:"):
		return callArg{kind: argString, str: strings.TrimPrefix(tok, "str:")}, nil

	case strings.HasPrefix(tok, "buf:"):
		parts := strings.SplitN(strings.TrimPrefix(tok, "buf:"), ":", 2)
		size, err := strconv.ParseUint(parts[0], 10, 32)
		if err != nil || size == 0 {
			return callArg{}, fmt.Errorf("invalid buffer size in %q", tok)
		}
		arg := callArg{kind: argBuffer, size: uint32(size)}
		if len(parts) == 2 {
			arg.str = parts[1]
		}
		return arg, nil

	case strings.HasPrefix(tok, "[") && strings.HasSuffix(tok, "]"):
		body := strings.TrimSpace(tok[1 : len(tok)-1])
		arg := callArg{kind: argArray}
		if body == "" {
			return arg, nil
		}
		for _, item := range strings.Split(body, ",") {
			n, err := strconv.ParseInt(strings.TrimSpace(item), 10, 32)
			if err != nil {
				return callArg{}, fmt.Errorf("invalid array element %q", item)
			}
			arg.cells = append(arg.cells, cell.Cell(n))
		}
		arg.size = uint32(len(arg.cells))
		return arg, nil

	case strings.HasPrefix(tok, "&"):
		arg, err := parseScalar(strings.TrimPrefix(tok, "&"))
		if err != nil {
			return callArg{}, err
		}
		if arg.kind == argFloat {
			arg.kind = argFloatRef
		} else {
			arg.kind = argCellRef
		}
		return arg, nil
	}
	return parseScalar(tok)
}

func parseScalar(tok string) (callArg, error) {
	if strings.HasSuffix(tok, "f") || strings.ContainsAny(tok, ".eE") {
		f, err := strconv.ParseFloat(strings.TrimSuffix(tok, "f"), 32)
		if err != nil {
			return callArg{}, fmt.Errorf("invalid float %q", tok)
		}
		return callArg{kind: argFloat, float: float32(f)}, nil
	}
	n, err := strconv.ParseInt(tok, 10, 32)
	if err != nil {
		return callArg{}, fmt.Errorf("invalid cell %q", tok)
	}
	return callArg{kind: argCell, cell: cell.Cell(n)}, nil
}

// push places arg in native memory if needed and pushes it on fn.
func (a *callArg) push(fn *bridge.Function, arena *cell.Arena) error {
	var err error
	switch a.kind {
	case argCell:
		return fn.PushCell(a.cell)
	case argFloat:
		return fn.PushFloat(a.float)
	case argString:
		return fn.PushString(a.str)
	case argCellRef:
		if a.addr, err = arena.AllocCells(a.cell); err != nil {
			return err
		}
		return fn.PushCellByRef(a.addr, bridge.CopyBack)
	case argFloatRef:
		if a.addr, err = arena.AllocCells(cell.FloatToCell(a.float)); err != nil {
			return err
		}
		return fn.PushFloatByRef(a.addr, bridge.CopyBack)
	case argArray:
		if a.addr, err = arena.AllocCells(a.cells...); err != nil {
			return err
		}
		return fn.PushArray(a.addr, a.size, bridge.CopyBack)
	case argBuffer:
		if a.addr, err = arena.AllocString(a.str, a.size); err != nil {
			return err
		}
		return fn.PushStringEx(a.addr, a.size, 0, bridge.CopyBack)
	}
	return fmt.Errorf("unknown argument kind %d", a.kind)
}

// readBack returns the native value of a by-reference argument after the call.
func (a *callArg) readBack(mem cell.Memory) (interface{}, bool) {
	switch a.kind {
	case argCellRef:
		c, err := cell.Load(mem, a.addr)
		return c, err == nil
	case argFloatRef:
		c, err := cell.Load(mem, a.addr)
		return cell.CellToFloat(c), err == nil
	case argArray:
		cells, err := cell.LoadArray(mem, a.addr, a.size)
		return cells, err == nil
	case argBuffer:
		s, err := cell.LoadString(mem, a.addr, a.size, false)
		return s, err == nil
	}
	return nil, false
}

type callRef struct {
	Arg   int         `json:"arg"`
	Value interface{} `json:"value"`
}

type callReport struct {
	Function string    `json:"function"`
	Code     int       `json:"code"`
	Error    string    `json:"error,omitempty"`
	Result   *int32    `json:"result,omitempty"`
	Refs     []callRef `json:"refs,omitempty"`
}

func HandleCall(args []string) {
	os.Exit(runCall(context.Background(), args, os.Stdout))
}

// runCall implements `spbridge call <plugin-dir> <function> [args...]`.
func runCall(ctx context.Context, args []string, out io.Writer) int {
	if len(args) < 2 {
		fmt.Fprintln(out, "Usage: spbridge call <plugin-dir> <function> [args...]")
		return 1
	}
	pluginPath, name := args[0], args[1]

	callArgs := make([]callArg, 0, len(args)-2)
	for _, tok := range args[2:] {
		arg, err := parseCallArg(tok)
		if err != nil {
			fmt.Fprintf(out, "❌ %v\n", err)
			return 1
		}
		callArgs = append(callArgs, arg)
	}

	pm, err := wasm.NewPluginManager(ctx, "")
	if err != nil {
		fmt.Fprintf(out, "❌ %v\n", err)
		return 1
	}
	defer pm.Close()

	plugin, err := pm.LoadPlugin(pluginPath)
	if err != nil {
		fmt.Fprintf(out, "❌ %v\n", err)
		return 1
	}
	if plugin.Manifest.Binary != "" {
		fmt.Fprintln(out, "❌ call only works with script-only plugins (the guest owns its memory)")
		return 1
	}

	fn, err := plugin.Host.GetFunctionByName(name)
	if err != nil {
		fmt.Fprintf(out, "❌ %v\n", err)
		return 1
	}
	defer fn.Close()

	mem := plugin.Host.Memory()
	arena := cell.NewArena(mem, 0)
	for i := range callArgs {
		if err := callArgs[i].push(fn, arena); err != nil {
			fmt.Fprintf(out, "❌ argument %d: %v\n", i, err)
			return 1
		}
	}

	report := callReport{Function: name}
	keep := func(c cell.Cell) error {
		report.Result = &c
		return nil
	}
	if err := fn.ExecuteWith(ctx, plugin.Host.DefaultContext(), keep); err != nil {
		report.Code = int(bridge.CodeOf(err))
		report.Error = err.Error()
	} else {
		for i := range callArgs {
			if v, ok := callArgs[i].readBack(mem); ok {
				report.Refs = append(report.Refs, callRef{Arg: i, Value: v})
			}
		}
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		fmt.Fprintf(out, "❌ %v\n", err)
		return 1
	}
	fmt.Fprintln(out, string(data))
	if report.Code != 0 {
		return 1
	}
	return 0
}

package script

import (
	"context"
	"errors"
	"fmt"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"spbridge/pkg/utils/coerce"
)

// Expression callables are written in expr-lang. The environment exposes:
//
//	args            the pushed arguments; by-reference ones are records
//	argc            number of arguments
//	deref(r)        the current value of a record
//	refsize(r)      the declared size of a record
//	setref(r, v)    replace the value of a record, returns v
//	fail(msg)       raise an exception
//
// Several effects can be sequenced with an array literal, e.g.
// [setref(args[0], 1), setref(args[1], "ok")][0].
var exprOptions = []expr.Option{
	expr.Function("deref", func(params ...any) (any, error) {
		ref, err := refParam("deref", params, 1)
		if err != nil {
			return nil, err
		}
		return ref.Value.ToNative(), nil
	}),
	expr.Function("refsize", func(params ...any) (any, error) {
		ref, err := refParam("refsize", params, 1)
		if err != nil {
			return nil, err
		}
		return ref.Size, nil
	}),
	expr.Function("setref", func(params ...any) (any, error) {
		ref, err := refParam("setref", params, 2)
		if err != nil {
			return nil, err
		}
		ref.Value = FromNative(params[1])
		return params[1], nil
	}),
	expr.Function("fail", func(params ...any) (any, error) {
		msg := "error"
		if len(params) > 0 {
			msg = coerce.ToString(params[0])
		}
		return nil, &Exception{Message: msg}
	}),
}

func refParam(name string, params []any, want int) (*Ref, error) {
	if len(params) != want {
		return nil, fmt.Errorf("%s: expected %d arguments, got %d", name, want, len(params))
	}
	ref, ok := params[0].(*Ref)
	if !ok || ref == nil {
		return nil, fmt.Errorf("%s: argument is not a reference (%T)", name, params[0])
	}
	return ref, nil
}

// CompileExpr compiles source into a GoFunc.
func CompileExpr(name, source string) (GoFunc, error) {
	program, err := expr.Compile(source, exprOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to compile function %s: %w", name, err)
	}
	return exprFunc(program), nil
}

func exprFunc(program *vm.Program) GoFunc {
	return func(ctx context.Context, args []Value) (Value, error) {
		natives := make([]interface{}, len(args))
		for i, arg := range args {
			natives[i] = arg.ToNative()
		}
		env := map[string]interface{}{
			"args": natives,
			"argc": len(natives),
		}

		out, err := expr.Run(program, env)
		if err != nil {
			var exc *Exception
			if errors.As(err, &exc) {
				return NewNil(), exc
			}
			return NewNil(), &Exception{Message: err.Error()}
		}
		return FromNative(out), nil
	}
}

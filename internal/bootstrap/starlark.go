package bootstrap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/itstheanurag/codemare/internal/harness"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

const starlarkSourceName = "solution.py"

// Python submissions run as Starlark: no imports, no I/O, no host access.
var starlarkOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

func runStarlark(ctx context.Context, env harness.Envelope, rec *recorder) error {
	thread := &starlark.Thread{
		Name:  "solution",
		Print: func(*starlark.Thread, string) {},
	}
	stop := context.AfterFunc(ctx, func() { thread.Cancel(errBudget.Error()) })
	defer stop()

	predeclared := starlark.StringDict{
		harness.TestsName: starlark.NewBuiltin(harness.TestsName, func(*starlark.Thread, *starlark.Builtin, starlark.Tuple, []starlark.Tuple) (starlark.Value, error) {
			inputs := rec.inputs()
			tests := make([]starlark.Value, len(inputs))
			for i, in := range inputs {
				args := make(starlark.Tuple, len(in))
				for j, v := range in {
					args[j] = toStarlark(v)
				}
				tests[i] = args
			}
			return starlark.NewList(tests), nil
		}),
		harness.CallName: starlark.NewBuiltin(harness.CallName, func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var fn starlark.Callable
			var callArgs starlark.Tuple
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 2, &fn, &callArgs); err != nil {
				return nil, err
			}
			result, err := starlark.Call(thread, fn, callArgs, nil)
			if err != nil {
				if ctx.Err() != nil {
					return nil, errBudget
				}
				return starlark.Tuple{starlark.False, starlark.String(starlarkMessage(err))}, nil
			}
			return starlark.Tuple{starlark.True, result}, nil
		}),
		harness.EmitName: starlark.NewBuiltin(harness.EmitName, func(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
			var index int
			var output, errValue starlark.Value
			if err := starlark.UnpackPositionalArgs(b.Name(), args, kwargs, 3, &index, &output, &errValue); err != nil {
				return nil, err
			}
			errMsg := ""
			if s, ok := errValue.(starlark.String); ok {
				errMsg = string(s)
			}
			if err := rec.emit(index, fromStarlark(output, 0), errMsg); err != nil {
				return nil, err
			}
			return starlark.None, nil
		}),
	}

	globals, err := starlark.ExecFileOptions(starlarkOptions, thread, starlarkSourceName, env.Code, predeclared)
	if err != nil {
		return starlarkLoadError(err)
	}

	target, ok := globals[env.FunctionName]
	if !ok {
		return &loadError{msg: fmt.Sprintf("Function '%s' is not defined", env.FunctionName)}
	}
	if _, ok := target.(starlark.Callable); !ok {
		return &loadError{msg: fmt.Sprintf("'%s' is not a function", env.FunctionName)}
	}
	entry, ok := globals[harness.EntryName]
	if !ok {
		return &loadError{msg: "harness entry is missing"}
	}

	rec.start()
	if _, err := starlark.Call(thread, entry, starlark.Tuple{target}, nil); err != nil {
		return starlarkLoadError(err)
	}
	return nil
}

func starlarkMessage(err error) string {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return "Error: " + evalErr.Msg
	}
	return "Error: " + err.Error()
}

func starlarkLoadError(err error) error {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return &loadError{msg: "Error: " + evalErr.Msg, traceback: evalErr.Backtrace()}
	}
	var syntaxErr syntax.Error
	var resolveErrs resolve.ErrorList
	if errors.As(err, &syntaxErr) || errors.As(err, &resolveErrs) {
		return &loadError{msg: "SyntaxError: " + err.Error() + starlarkHint}
	}
	return &loadError{msg: "Error: " + err.Error()}
}

// starlarkHint sits on its own line so diagnostic truncation keeps it.
const starlarkHint = "\nPython functions run in the Starlark dialect: class, import and try are not supported"

func toStarlark(v any) starlark.Value {
	switch x := v.(type) {
	case nil:
		return starlark.None
	case bool:
		return starlark.Bool(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return starlark.MakeInt64(i)
		}
		f, _ := x.Float64()
		return starlark.Float(f)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1<<53 {
			return starlark.MakeInt64(int64(x))
		}
		return starlark.Float(x)
	case string:
		return starlark.String(x)
	case []any:
		elems := make([]starlark.Value, len(x))
		for i, e := range x {
			elems[i] = toStarlark(e)
		}
		return starlark.NewList(elems)
	case map[string]any:
		d := starlark.NewDict(len(x))
		for k, e := range x {
			_ = d.SetKey(starlark.String(k), toStarlark(e))
		}
		return d
	default:
		return starlark.String(fmt.Sprint(x))
	}
}

func fromStarlark(v starlark.Value, depth int) any {
	if depth > maxValueDepth {
		return nil
	}
	switch x := v.(type) {
	case starlark.NoneType:
		return nil
	case starlark.Bool:
		return bool(x)
	case starlark.Int:
		if i, ok := x.Int64(); ok {
			return i
		}
		return float64(x.Float())
	case starlark.Float:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	case starlark.String:
		return string(x)
	case *starlark.Dict:
		obj := make(map[string]any, x.Len())
		for _, item := range x.Items() {
			key := item[0].String()
			if s, ok := item[0].(starlark.String); ok {
				key = string(s)
			}
			obj[key] = fromStarlark(item[1], depth+1)
		}
		return obj
	case starlark.Indexable:
		arr := make([]any, x.Len())
		for i := range arr {
			arr[i] = fromStarlark(x.Index(i), depth+1)
		}
		return arr
	default:
		return v.String()
	}
}

package bootstrap

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/dop251/goja"
	"github.com/itstheanurag/codemare/internal/harness"
)

const (
	jsSourceName = "solution.js"
	maxCallDepth = 10000
)

// newJSRuntime returns a bare ECMAScript runtime. goja ships no require,
// process, fs or timer globals; console and print are the only additions.
func newJSRuntime(ctx context.Context, out io.Writer) (*goja.Runtime, func() bool) {
	vm := goja.New()
	vm.SetMaxCallStackSize(maxCallDepth)
	bindConsole(vm, out)
	stop := context.AfterFunc(ctx, func() { vm.Interrupt(errBudget) })
	return vm, stop
}

func bindConsole(vm *goja.Runtime, out io.Writer) {
	write := func(w io.Writer) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			parts := make([]string, len(call.Arguments))
			for i, arg := range call.Arguments {
				parts[i] = jsString(arg)
			}
			fmt.Fprintln(w, strings.Join(parts, " "))
			return goja.Undefined()
		}
	}

	console := vm.NewObject()
	for _, name := range []string{"log", "info", "debug"} {
		_ = console.Set(name, write(out))
	}
	for _, name := range []string{"warn", "error"} {
		_ = console.Set(name, write(io.Discard))
	}
	_ = vm.Set("console", console)
	_ = vm.Set("print", write(out))
}

func jsString(v goja.Value) string {
	if obj, ok := v.(*goja.Object); ok {
		if _, isFn := goja.AssertFunction(v); !isFn {
			if b, err := json.Marshal(obj.Export()); err == nil {
				return string(b)
			}
		}
	}
	return v.String()
}

func runJavaScript(ctx context.Context, env harness.Envelope, rec *recorder) error {
	vm, stop := newJSRuntime(ctx, io.Discard)
	defer stop()

	tests := make([]map[string]any, len(rec.tests))
	for i, in := range rec.inputs() {
		tests[i] = map[string]any{"input": in}
	}
	encoded, err := json.Marshal(tests)
	if err != nil {
		return err
	}

	_ = vm.Set(harness.TestsName, func(goja.FunctionCall) goja.Value {
		return vm.ToValue(string(encoded))
	})
	_ = vm.Set(harness.EmitName, func(call goja.FunctionCall) goja.Value {
		var output any
		if v := call.Argument(1); !goja.IsUndefined(v) && !goja.IsNull(v) {
			dec := json.NewDecoder(strings.NewReader(v.String()))
			dec.UseNumber()
			if err := dec.Decode(&output); err != nil {
				panic(vm.NewGoError(err))
			}
		}
		errMsg := ""
		if v := call.Argument(2); !goja.IsUndefined(v) && !goja.IsNull(v) {
			errMsg = v.String()
		}
		if err := rec.emit(int(call.Argument(0).ToInteger()), output, errMsg); err != nil {
			panic(vm.NewGoError(err))
		}
		return goja.Undefined()
	})

	if _, err := vm.RunScript(jsSourceName, env.Code); err != nil {
		return jsError(err)
	}

	lookup, ok := goja.AssertFunction(vm.Get(harness.TargetName))
	if !ok {
		return &loadError{msg: "harness entry is missing"}
	}
	target, err := lookup(goja.Undefined())
	if err != nil {
		return jsError(err)
	}
	if target == nil || goja.IsUndefined(target) {
		return &loadError{msg: fmt.Sprintf("Function '%s' is not defined", env.FunctionName)}
	}
	if _, ok := goja.AssertFunction(target); !ok {
		return &loadError{msg: fmt.Sprintf("'%s' is not a function", env.FunctionName)}
	}

	entry, ok := goja.AssertFunction(vm.Get(harness.EntryName))
	if !ok {
		return &loadError{msg: "harness entry is missing"}
	}
	rec.start()
	if _, err := entry(goja.Undefined(), target); err != nil {
		return jsError(err)
	}
	return nil
}

func runJavaScriptRaw(ctx context.Context, source string, in *bufio.Reader, out io.Writer) error {
	vm, stop := newJSRuntime(ctx, out)
	defer stop()

	_ = vm.Set("readline", func(goja.FunctionCall) goja.Value {
		line, ok := readLine(in)
		if !ok {
			return goja.Null()
		}
		return vm.ToValue(line)
	})

	if _, err := vm.RunScript(jsSourceName, source); err != nil {
		return jsError(err)
	}
	return nil
}

func jsError(err error) error {
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		return errBudget
	}
	var exc *goja.Exception
	if errors.As(err, &exc) {
		msg := exc.Error()
		if v := exc.Value(); v != nil {
			msg = v.String()
		}
		return &loadError{msg: msg, traceback: exc.String()}
	}
	return &loadError{msg: err.Error()}
}

// readLine returns the next line without its terminator. ok is false at EOF.
func readLine(in *bufio.Reader) (string, bool) {
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return "", false
	}
	return strings.TrimRight(line, "\r\n"), true
}

package bootstrap

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/itstheanurag/codemare/internal/harness"
	lua "github.com/yuin/gopher-lua"
)

const (
	luaSourceName = "solution.lua"
	maxValueDepth = 64
	// stdin is capped well below this by request validation
	maxReadBytes = 1 << 20
)

// luaAllowed are the names copied from the opened libraries into the
// environment user code runs in. load, loadstring, dofile, loadfile,
// require, getfenv, setfenv, os and io never reach it.
var luaAllowed = []string{
	"assert", "error", "ipairs", "next", "pairs", "pcall", "rawequal", "rawget",
	"rawset", "select", "setmetatable", "getmetatable", "tonumber", "tostring",
	"type", "unpack", "xpcall", "_VERSION", "string", "table", "math",
}

func newLuaState(ctx context.Context) (*lua.LState, error) {
	L := lua.NewState(lua.Options{
		SkipOpenLibs:    true,
		CallStackSize:   4096,
		RegistrySize:    1024 * 20,
		RegistryMaxSize: 1024 * 1024,
	})
	libs := []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	}
	for _, lib := range libs {
		if err := L.CallByParam(lua.P{Fn: L.NewFunction(lib.open), NRet: 0, Protect: true}, lua.LString(lib.name)); err != nil {
			L.Close()
			return nil, fmt.Errorf("failed to open lua library %q: %w", lib.name, err)
		}
	}
	L.SetContext(ctx)
	return L, nil
}

// luaEnv builds the user environment with print and a minimal io table bound
// to out and in.
func luaEnv(L *lua.LState, out io.Writer, in *bufio.Reader) *lua.LTable {
	env := L.NewTable()
	for _, name := range luaAllowed {
		env.RawSetString(name, L.GetGlobal(name))
	}
	env.RawSetString("_G", env)

	env.RawSetString("print", L.NewFunction(func(L *lua.LState) int {
		n := L.GetTop()
		parts := make([]string, n)
		for i := 1; i <= n; i++ {
			parts[i-1] = L.ToStringMeta(L.Get(i)).String()
		}
		fmt.Fprintln(out, strings.Join(parts, "\t"))
		return 0
	}))

	ioTable := L.NewTable()
	ioTable.RawSetString("write", L.NewFunction(func(L *lua.LState) int {
		for i := 1; i <= L.GetTop(); i++ {
			fmt.Fprint(out, L.CheckString(i))
		}
		return 0
	}))
	ioTable.RawSetString("read", L.NewFunction(luaRead(in)))
	env.RawSetString("io", ioTable)

	return env
}

// luaRead implements io.read for the l, L, n and a formats and byte counts.
func luaRead(in *bufio.Reader) lua.LGFunction {
	return func(L *lua.LState) int {
		n := L.GetTop()
		if n == 0 {
			pushLine(L, in, false)
			return 1
		}
		for i := 1; i <= n; i++ {
			if count, ok := L.Get(i).(lua.LNumber); ok {
				if count < 0 {
					L.ArgError(i, "byte count must not be negative")
				}
				var buf strings.Builder
				k, _ := io.Copy(&buf, io.LimitReader(in, int64(min(float64(count), maxReadBytes))))
				if k == 0 && count > 0 {
					L.Push(lua.LNil)
				} else {
					L.Push(lua.LString(buf.String()))
				}
				continue
			}
			switch format := strings.TrimPrefix(L.CheckString(i), "*"); format {
			case "l", "line":
				pushLine(L, in, false)
			case "L":
				pushLine(L, in, true)
			case "n", "number":
				if f, ok := readNumber(in); ok {
					L.Push(lua.LNumber(f))
				} else {
					L.Push(lua.LNil)
				}
			case "a", "all":
				rest, _ := io.ReadAll(in)
				L.Push(lua.LString(rest))
			default:
				L.ArgError(i, "invalid format")
			}
		}
		return n
	}
}

func pushLine(L *lua.LState, in *bufio.Reader, keepNewline bool) {
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		L.Push(lua.LNil)
		return
	}
	if !keepNewline {
		line = strings.TrimRight(line, "\r\n")
	}
	L.Push(lua.LString(line))
}

func readNumber(in *bufio.Reader) (float64, bool) {
	var tok []byte
	for {
		b, err := in.ReadByte()
		if err != nil {
			break
		}
		if unicode.IsSpace(rune(b)) {
			if len(tok) == 0 {
				continue
			}
			_ = in.UnreadByte()
			break
		}
		tok = append(tok, b)
	}
	f, err := strconv.ParseFloat(string(tok), 64)
	return f, err == nil
}

func loadLua(L *lua.LState, env *lua.LTable, code string) error {
	fn, err := L.Load(strings.NewReader(code), luaSourceName)
	if err != nil {
		return luaError(err)
	}
	L.SetFEnv(fn, env)
	L.Push(fn)
	if err := L.PCall(0, 0, nil); err != nil {
		return luaError(err)
	}
	return nil
}

func runLua(ctx context.Context, env harness.Envelope, rec *recorder) error {
	L, err := newLuaState(ctx)
	if err != nil {
		return err
	}
	defer L.Close()

	table := luaEnv(L, io.Discard, bufio.NewReader(strings.NewReader("")))
	table.RawSetString(harness.TestsName, L.NewFunction(func(L *lua.LState) int {
		tests := L.NewTable()
		for _, in := range rec.inputs() {
			t := L.NewTable()
			t.RawSetString("input", toLua(L, in))
			t.RawSetString("n", lua.LNumber(len(in)))
			tests.Append(t)
		}
		L.Push(tests)
		return 1
	}))
	table.RawSetString(harness.EmitName, L.NewFunction(func(L *lua.LState) int {
		errMsg := ""
		if v := L.Get(3); v != lua.LNil {
			errMsg = "RuntimeError: " + v.String()
		}
		i := L.CheckInt(1)
		if err := rec.emit(i, fromLua(L.Get(2), rec.expected(i), 0), errMsg); err != nil {
			L.RaiseError("%s", err.Error())
		}
		return 0
	}))

	if err := loadLua(L, table, env.Code); err != nil {
		return err
	}

	lookup := table.RawGetString(harness.TargetName)
	if lookup.Type() != lua.LTFunction {
		return &loadError{msg: "harness entry is missing"}
	}
	if err := L.CallByParam(lua.P{Fn: lookup, NRet: 1, Protect: true}); err != nil {
		return luaError(err)
	}
	target := L.Get(-1)
	L.Pop(1)
	if target == lua.LNil {
		return &loadError{msg: fmt.Sprintf("Function '%s' is not defined", env.FunctionName)}
	}
	if target.Type() != lua.LTFunction {
		return &loadError{msg: fmt.Sprintf("'%s' is not a function", env.FunctionName)}
	}

	rec.start()
	if err := L.CallByParam(lua.P{Fn: table.RawGetString(harness.EntryName), NRet: 0, Protect: true}, target); err != nil {
		return luaError(err)
	}
	return nil
}

func runLuaRaw(ctx context.Context, source string, in *bufio.Reader, out io.Writer) error {
	L, err := newLuaState(ctx)
	if err != nil {
		return err
	}
	defer L.Close()
	return loadLua(L, luaEnv(L, out, in), source)
}

func luaError(err error) error {
	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) {
		return &loadError{msg: err.Error()}
	}
	kind := "RuntimeError"
	if apiErr.Type == lua.ApiErrorSyntax {
		kind = "SyntaxError"
	}
	msg := err.Error()
	if apiErr.Object != nil {
		msg = apiErr.Object.String()
	}
	return &loadError{msg: kind + ": " + msg, traceback: apiErr.StackTrace}
}

func toLua(L *lua.LState, v any) lua.LValue {
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case bool:
		return lua.LBool(x)
	case json.Number:
		f, _ := x.Float64()
		return lua.LNumber(f)
	case float64:
		return lua.LNumber(x)
	case string:
		return lua.LString(x)
	case []any:
		t := L.CreateTable(len(x), 0)
		for i, e := range x {
			t.RawSetInt(i+1, toLua(L, e))
		}
		return t
	case map[string]any:
		t := L.CreateTable(0, len(x))
		for k, e := range x {
			t.RawSetString(k, toLua(L, e))
		}
		return t
	default:
		return lua.LString(fmt.Sprint(x))
	}
}

// fromLua converts a Lua value to its JSON shape. A table whose keys are
// exactly 1..n becomes an array. Lua cannot tell {} from [], so an empty
// table takes the shape of the matching part of like, defaulting to an array.
func fromLua(v lua.LValue, like any, depth int) any {
	if depth > maxValueDepth {
		return nil
	}
	switch x := v.(type) {
	case lua.LBool:
		return bool(x)
	case lua.LNumber:
		f := float64(x)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil
		}
		return f
	case lua.LString:
		return string(x)
	case *lua.LTable:
		count := 0
		x.ForEach(func(lua.LValue, lua.LValue) { count++ })
		likeObj, isObj := like.(map[string]any)
		if count == 0 && isObj {
			return map[string]any{}
		}
		if n := x.Len(); n == count {
			likeArr, _ := like.([]any)
			arr := make([]any, n)
			for i := 1; i <= n; i++ {
				var elem any
				if i <= len(likeArr) {
					elem = likeArr[i-1]
				}
				arr[i-1] = fromLua(x.RawGetInt(i), elem, depth+1)
			}
			return arr
		}
		obj := make(map[string]any, count)
		x.ForEach(func(k, val lua.LValue) {
			obj[k.String()] = fromLua(val, likeObj[k.String()], depth+1)
		})
		return obj
	default:
		if v == lua.LNil {
			return nil
		}
		return v.String()
	}
}

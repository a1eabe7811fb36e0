package bootstrap_test

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/itstheanurag/codemare/internal/bootstrap"
	"github.com/itstheanurag/codemare/internal/harness"
	"github.com/itstheanurag/codemare/internal/languages"
	"github.com/itstheanurag/codemare/internal/models"
)

// run feeds the generated envelope through the executor and decodes its line.
func run(t *testing.T, lang languages.Language, source, function string, tests []models.TestCase, budget time.Duration) harness.Output {
	t.Helper()

	prog, err := harness.GenerateFunction(lang, source, function, tests)
	if err != nil {
		t.Fatalf("GenerateFunction: %v", err)
	}

	var out bytes.Buffer
	if err := bootstrap.RunFunction(context.Background(), lang, bytes.NewReader(prog.Stdin), &out, budget); err != nil {
		t.Fatalf("RunFunction: %v", err)
	}
	if strings.Count(out.String(), "\n") != 1 || !strings.HasSuffix(out.String(), "\n") {
		t.Fatalf("expected exactly one line, got %q", out.String())
	}

	var res harness.Output
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, out.String())
	}
	return res
}

var sources = map[languages.Language]struct {
	add, raises, loop, notFunction, printing string
}{
	languages.JavaScript: {
		add:         "function add(a, b) { return a + b; }",
		raises:      "function check(x) { if (x < 0) { throw new RangeError('negative'); } return x * 2; }",
		loop:        "function spin() { try { while (true) {} } catch (e) { return 1; } }",
		notFunction: "var add = 42;",
		printing:    "function add(a, b) { console.log('debug', a); print('noise'); return a + b; }",
	},
	languages.Lua: {
		add:         "function add(a, b) return a + b end",
		raises:      "function check(x) if x < 0 then error('negative') end return x * 2 end",
		loop:        "function spin() while true do pcall(function() end) end end",
		notFunction: "add = 42",
		printing:    "function add(a, b) print('debug', a) io.write('noise') return a + b end",
	},
	languages.Python: {
		add:         "def add(a, b):\n    return a + b\n",
		raises:      "def check(x):\n    if x < 0:\n        fail('negative')\n    return x * 2\n",
		loop:        "def spin():\n    while True:\n        pass\n",
		notFunction: "add = 42\n",
		printing:    "def add(a, b):\n    print('debug', a)\n    return a + b\n",
	},
}

func embedded() []languages.Language {
	return []languages.Language{languages.JavaScript, languages.Lua, languages.Python}
}

func TestRunFunctionPasses(t *testing.T) {
	t.Parallel()

	tests := []models.TestCase{
		{Input: []any{2.0, 3.0}, Expected: 5.0},
		{Input: []any{10.0, -4.0}, Expected: 6.0},
		{Input: []any{1.0, 1.0}, Expected: 3.0},
	}

	for _, lang := range embedded() {
		t.Run(string(lang), func(t *testing.T) {
			res := run(t, lang, sources[lang].add, "add", tests, time.Second)
			if res.Error != "" {
				t.Fatalf("unexpected top-level error %q", res.Error)
			}
			if len(res.Results) != 3 {
				t.Fatalf("expected 3 results, got %d", len(res.Results))
			}
			if !res.Results[0].Passed || !res.Results[1].Passed {
				t.Fatalf("expected first two to pass: %+v", res.Results)
			}
			if res.Results[2].Passed {
				t.Fatal("wrong answer must fail")
			}
			if n, ok := res.Results[0].Output.(float64); !ok || n != 5 {
				t.Fatalf("expected output 5, got %#v", res.Results[0].Output)
			}
		})
	}
}

func TestRunFunctionRaisedTestDoesNotAbortSiblings(t *testing.T) {
	t.Parallel()

	tests := []models.TestCase{
		{Input: []any{1.0}, Expected: 2.0},
		{Input: []any{-1.0}, Expected: nil},
		{Input: []any{3.0}, Expected: 6.0},
	}

	for _, lang := range embedded() {
		t.Run(string(lang), func(t *testing.T) {
			res := run(t, lang, sources[lang].raises, "check", tests, time.Second)
			if res.Error != "" {
				t.Fatalf("unexpected top-level error %q", res.Error)
			}
			if len(res.Results) != 3 {
				t.Fatalf("expected 3 results, got %d", len(res.Results))
			}
			raised := res.Results[1]
			if raised.Passed {
				t.Fatal("raised test must fail even though output equals expected")
			}
			if !strings.Contains(raised.Error, "negative") || !strings.Contains(raised.Error, ": ") {
				t.Fatalf("expected '<kind>: <message>' error, got %q", raised.Error)
			}
			if !res.Results[0].Passed || !res.Results[2].Passed {
				t.Fatalf("siblings must still run: %+v", res.Results)
			}
		})
	}
}

func TestRunFunctionMissingTarget(t *testing.T) {
	t.Parallel()

	tests := []models.TestCase{{Input: []any{1.0, 2.0}, Expected: 3.0}}

	for _, lang := range embedded() {
		t.Run(string(lang), func(t *testing.T) {
			res := run(t, lang, sources[lang].add, "subtract", tests, time.Second)
			if res.Error != "Function 'subtract' is not defined" {
				t.Fatalf("unexpected error %q", res.Error)
			}
			if len(res.Results) != 0 {
				t.Fatal("missing function must not produce per-test results")
			}

			res = run(t, lang, sources[lang].notFunction, "add", tests, time.Second)
			if res.Error != "'add' is not a function" {
				t.Fatalf("unexpected error %q", res.Error)
			}
		})
	}
}

func TestRunFunctionBudget(t *testing.T) {
	t.Parallel()

	tests := []models.TestCase{{Input: []any{}, Expected: 1.0}}

	for _, lang := range embedded() {
		t.Run(string(lang), func(t *testing.T) {
			start := time.Now()
			res := run(t, lang, sources[lang].loop, "spin", tests, 100*time.Millisecond)
			if res.Error != "Time Limit Exceeded" {
				t.Fatalf("expected budget error, got %+v", res)
			}
			if time.Since(start) > 5*time.Second {
				t.Fatal("budget did not interrupt the interpreter")
			}
		})
	}
}

func TestRunFunctionDiscardsUserOutput(t *testing.T) {
	t.Parallel()

	tests := []models.TestCase{{Input: []any{2.0, 3.0}, Expected: 5.0}}

	for _, lang := range embedded() {
		t.Run(string(lang), func(t *testing.T) {
			res := run(t, lang, sources[lang].printing, "add", tests, time.Second)
			if len(res.Results) != 1 || !res.Results[0].Passed {
				t.Fatalf("unexpected results %+v", res)
			}
		})
	}
}

func TestRunFunctionSyntaxError(t *testing.T) {
	t.Parallel()

	broken := map[languages.Language]string{
		languages.JavaScript: "function add(a, b) { return a + ; }",
		languages.Lua:        "function add(a, b) return a + end",
		languages.Python:     "def add(a, b)\n    return a + b\n",
	}
	tests := []models.TestCase{{Input: []any{1.0, 2.0}, Expected: 3.0}}

	for lang, src := range broken {
		res := run(t, lang, src, "add", tests, time.Second)
		if res.Error == "" || len(res.Results) != 0 {
			t.Fatalf("%s: expected a top-level error, got %+v", lang, res)
		}
	}
}

func TestPythonSyntaxErrorNamesDialect(t *testing.T) {
	t.Parallel()

	src := "class Solution:\n    def add(self, a, b):\n        return a + b\n"
	tests := []models.TestCase{{Input: []any{1.0, 2.0}, Expected: 3.0}}

	res := run(t, languages.Python, src, "add", tests, time.Second)
	if !strings.HasPrefix(res.Error, "SyntaxError: ") {
		t.Fatalf("expected a syntax error, got %+v", res)
	}
	if !strings.Contains(res.Error, "Starlark") || !strings.Contains(res.Error, "class") {
		t.Fatalf("syntax error must explain the dialect, got %q", res.Error)
	}
}

func TestRunFunctionStructuredValues(t *testing.T) {
	t.Parallel()

	programs := map[languages.Language]string{
		languages.JavaScript: "function pair(xs) { return {first: xs[0], rest: xs.slice(1)}; }",
		languages.Lua:        "function pair(xs) local rest = {} for i = 2, #xs do rest[#rest + 1] = xs[i] end return {first = xs[1], rest = rest} end",
		languages.Python:     "def pair(xs):\n    return {'first': xs[0], 'rest': xs[1:]}\n",
	}
	tests := []models.TestCase{{
		Input:    []any{[]any{1.0, 2.0, 3.0}},
		Expected: map[string]any{"rest": []any{2.0, 3.0}, "first": 1.0},
	}}

	for lang, src := range programs {
		res := run(t, lang, src, "pair", tests, time.Second)
		if len(res.Results) != 1 || !res.Results[0].Passed {
			t.Fatalf("%s: expected structural match, got %+v", lang, res)
		}
	}
}

func TestLuaEmptyTableTakesExpectedShape(t *testing.T) {
	t.Parallel()

	src := "function shape(k) if k == 'nested' then return {items = {}, meta = {}} end return {} end"
	tests := []models.TestCase{
		{Input: []any{"obj"}, Expected: map[string]any{}},
		{Input: []any{"arr"}, Expected: []any{}},
		{Input: []any{"nested"}, Expected: map[string]any{"items": []any{}, "meta": map[string]any{}}},
	}

	res := run(t, languages.Lua, src, "shape", tests, time.Second)
	if len(res.Results) != len(tests) {
		t.Fatalf("expected %d results, got %+v", len(tests), res)
	}
	for i, r := range res.Results {
		if !r.Passed {
			t.Fatalf("test %d: expected pass, got %+v", i, r)
		}
	}
	if _, ok := res.Results[0].Output.(map[string]any); !ok {
		t.Fatalf("expected an object for test 0, got %#v", res.Results[0].Output)
	}
}

func TestLuaEmptyTableDefaultsToArray(t *testing.T) {
	t.Parallel()

	tests := []models.TestCase{{Input: []any{}, Expected: 5.0}}
	res := run(t, languages.Lua, "function empty() return {} end", "empty", tests, time.Second)
	if len(res.Results) != 1 {
		t.Fatalf("expected one result, got %+v", res)
	}
	if out, ok := res.Results[0].Output.([]any); !ok || len(out) != 0 {
		t.Fatalf("expected an empty array, got %#v", res.Results[0].Output)
	}
}

func TestRunFunctionInvalidEnvelope(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	if err := bootstrap.RunFunction(context.Background(), languages.JavaScript, strings.NewReader("not json"), &out, time.Second); err != nil {
		t.Fatalf("RunFunction: %v", err)
	}
	var res harness.Output
	if err := json.Unmarshal(out.Bytes(), &res); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if !strings.HasPrefix(res.Error, "invalid envelope") {
		t.Fatalf("unexpected error %q", res.Error)
	}
}

func TestRunRawSumsTwoLines(t *testing.T) {
	t.Parallel()

	programs := map[languages.Language]string{
		languages.JavaScript: "var a = parseInt(readline()); var b = parseInt(readline()); console.log(a + b);",
		languages.Lua:        "local a = io.read('*n') local b = io.read('*n') print(a + b)",
	}

	for lang, src := range programs {
		var out bytes.Buffer
		if err := bootstrap.RunRaw(context.Background(), lang, src, strings.NewReader("2\n3"), &out, time.Second); err != nil {
			t.Fatalf("%s: RunRaw: %v", lang, err)
		}
		if out.String() != "5\n" {
			t.Fatalf("%s: expected %q, got %q", lang, "5\n", out.String())
		}
	}
}

func TestRunRawErrorKeepsBufferedOutput(t *testing.T) {
	t.Parallel()

	programs := map[languages.Language]string{
		languages.JavaScript: "console.log('before'); null.x;",
		languages.Lua:        "print('before') error('boom')",
	}

	for lang, src := range programs {
		var out bytes.Buffer
		err := bootstrap.RunRaw(context.Background(), lang, src, strings.NewReader(""), &out, time.Second)
		if err == nil {
			t.Fatalf("%s: expected an error", lang)
		}
		if out.String() != "before\n" {
			t.Fatalf("%s: buffered output must still be written, got %q", lang, out.String())
		}
	}
}

func TestRunRawReadlineAtEOF(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	src := "var lines = []; var l; while ((l = readline()) !== null) { lines.push(l); } console.log(lines.length);"
	if err := bootstrap.RunRaw(context.Background(), languages.JavaScript, src, strings.NewReader("a\nb\nc"), &out, time.Second); err != nil {
		t.Fatalf("RunRaw: %v", err)
	}
	if out.String() != "3\n" {
		t.Fatalf("expected 3 lines, got %q", out.String())
	}
}

func TestLuaReadByteCounts(t *testing.T) {
	t.Parallel()

	src := "local ok, err = pcall(io.read, -1) print(ok, err) print(io.read(3)) print(io.read(1e12)) print(io.read(1))"
	var out bytes.Buffer
	if err := bootstrap.RunRaw(context.Background(), languages.Lua, src, strings.NewReader("abcdef"), &out, time.Second); err != nil {
		t.Fatalf("RunRaw: %v", err)
	}

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %q", out.String())
	}
	if !strings.HasPrefix(lines[0], "false") || !strings.Contains(lines[0], "byte count must not be negative") {
		t.Fatalf("negative count must be an argument error, got %q", lines[0])
	}
	if strings.Contains(lines[0], "makeslice") {
		t.Fatalf("negative count leaked a Go panic: %q", lines[0])
	}
	want := []string{"abc", "def", "nil"}
	for i, w := range want {
		if lines[i+1] != w {
			t.Fatalf("line %d: expected %q, got %q", i+1, w, lines[i+1])
		}
	}
}

func TestRunRawRejectsNativeLanguages(t *testing.T) {
	t.Parallel()

	var out bytes.Buffer
	if err := bootstrap.RunRaw(context.Background(), languages.Python, "print(1)", strings.NewReader(""), &out, time.Second); err == nil {
		t.Fatal("python raw mode runs natively and must be rejected")
	}
}

func TestLuaEnvironmentHasNoHostAccess(t *testing.T) {
	t.Parallel()

	src := "function probe() return {type(os), type(require), type(dofile), type(loadstring), type(setfenv), type(io.open)} end"
	res := run(t, languages.Lua, src, "probe", []models.TestCase{{
		Input:    []any{},
		Expected: []any{"nil", "nil", "nil", "nil", "nil", "nil"},
	}}, time.Second)
	if len(res.Results) != 1 || !res.Results[0].Passed {
		t.Fatalf("sandbox leaked a capability: %+v", res)
	}
}

func TestJavaScriptEnvironmentHasNoHostAccess(t *testing.T) {
	t.Parallel()

	src := "function probe() { return [typeof require, typeof process, typeof setTimeout, typeof fetch]; }"
	res := run(t, languages.JavaScript, src, "probe", []models.TestCase{{
		Input:    []any{},
		Expected: []any{"undefined", "undefined", "undefined", "undefined"},
	}}, time.Second)
	if len(res.Results) != 1 || !res.Results[0].Passed {
		t.Fatalf("sandbox leaked a capability: %+v", res)
	}
}

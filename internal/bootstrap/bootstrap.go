// Package bootstrap is the trusted entry point baked into every language
// image. User code runs in an embedded interpreter that is built without
// filesystem, network, process or timer bindings; the only host functions it
// can reach are the ones installed here.
package bootstrap

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/itstheanurag/codemare/internal/apperr"
	"github.com/itstheanurag/codemare/internal/harness"
	"github.com/itstheanurag/codemare/internal/languages"
	"github.com/itstheanurag/codemare/internal/validator"
)

const DefaultBudget = 5 * time.Second

var errBudget = errors.New(apperr.TimeLimitExceeded.Message())

// loadError is a failure that aborts the whole run and is reported as the
// top-level error of the output line.
type loadError struct {
	msg       string
	traceback string
}

func (e *loadError) Error() string {
	return e.msg
}

// RunFunction reads one envelope from r, runs every test and writes exactly
// one JSON line to w. It only fails when w cannot be written.
func RunFunction(ctx context.Context, lang languages.Language, r io.Reader, w io.Writer, budget time.Duration) error {
	out := evaluate(ctx, lang, r, budget)

	line, err := json.Marshal(out)
	if err != nil {
		line, _ = json.Marshal(harness.Output{Error: fmt.Sprintf("failed to encode results: %v", err)})
	}
	line = append(line, '\n')
	_, err = w.Write(line)
	return err
}

func evaluate(ctx context.Context, lang languages.Language, r io.Reader, budget time.Duration) harness.Output {
	var env harness.Envelope
	dec := json.NewDecoder(r)
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return harness.Output{Error: fmt.Sprintf("invalid envelope: %v", err)}
	}
	if env.FunctionName == "" {
		return harness.Output{Error: "function name is required"}
	}

	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	rec := newRecorder(env.Tests)

	var err error
	switch lang {
	case languages.JavaScript:
		err = runJavaScript(ctx, env, rec)
	case languages.Lua:
		err = runLua(ctx, env, rec)
	case languages.Python:
		err = runStarlark(ctx, env, rec)
	case languages.Cpp, languages.Java:
		err = fmt.Errorf("function mode is not supported for %s", lang)
	default:
		err = fmt.Errorf("unsupported language: %s", lang)
	}

	if ctx.Err() != nil {
		return harness.Output{Error: errBudget.Error()}
	}
	if err != nil {
		var le *loadError
		if errors.As(err, &le) {
			return harness.Output{Error: le.msg, Traceback: le.traceback}
		}
		return harness.Output{Error: err.Error()}
	}
	return harness.Output{Results: rec.outputs()}
}

// RunRaw runs source with stdin bound to the interpreter's line reader. The
// program's output is buffered and written to stdout once, also when the
// program fails.
func RunRaw(ctx context.Context, lang languages.Language, source string, stdin io.Reader, stdout io.Writer, budget time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	var buf bytes.Buffer
	in := bufio.NewReader(stdin)

	var err error
	switch lang {
	case languages.JavaScript:
		err = runJavaScriptRaw(ctx, source, in, &buf)
	case languages.Lua:
		err = runLuaRaw(ctx, source, in, &buf)
	case languages.Python, languages.Cpp, languages.Java:
		err = apperr.Newf(apperr.UnsupportedLanguage, "%s runs natively in its image", lang)
	default:
		err = apperr.Newf(apperr.UnsupportedLanguage, "unsupported language: %s", lang)
	}
	if err != nil && ctx.Err() != nil {
		err = errBudget
	}

	if _, werr := stdout.Write(buf.Bytes()); werr != nil && err == nil {
		err = werr
	}
	return err
}

// recorder collects per-test outcomes reported by the epilogue. Expected
// values never enter the interpreter.
type recorder struct {
	tests   []harness.EnvelopeTest
	results []harness.TestOutput
	seen    []bool
	last    time.Time
}

func newRecorder(tests []harness.EnvelopeTest) *recorder {
	return &recorder{
		tests:   tests,
		results: make([]harness.TestOutput, len(tests)),
		seen:    make([]bool, len(tests)),
		last:    time.Now(),
	}
}

func (r *recorder) start() {
	r.last = time.Now()
}

func (r *recorder) inputs() [][]any {
	in := make([][]any, len(r.tests))
	for i, t := range r.tests {
		in[i] = t.Input
		if in[i] == nil {
			in[i] = []any{}
		}
	}
	return in
}

// expected returns the trusted expected value of test i, or nil. It only
// guides host-side conversion and never enters the interpreter.
func (r *recorder) expected(i int) any {
	if i < 0 || i >= len(r.tests) {
		return nil
	}
	return r.tests[i].Expected
}

func (r *recorder) emit(i int, output any, errMsg string) error {
	if i < 0 || i >= len(r.tests) {
		return fmt.Errorf("result index %d out of range", i)
	}
	now := time.Now()
	expected := r.tests[i].Expected
	r.results[i] = harness.TestOutput{
		Output:        output,
		Expected:      expected,
		Passed:        errMsg == "" && validator.DeepEqual(output, expected),
		Error:         errMsg,
		ExecutionTime: float64(now.Sub(r.last).Microseconds()) / 1000,
	}
	r.seen[i] = true
	r.last = now
	return nil
}

// outputs returns the contiguous prefix of reported results.
func (r *recorder) outputs() []harness.TestOutput {
	n := 0
	for n < len(r.seen) && r.seen[n] {
		n++
	}
	return r.results[:n]
}

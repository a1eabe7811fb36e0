package harness

// Envelope is the single JSON document the in-container executor reads on
// stdin in function mode.
type Envelope struct {
	Code         string         `json:"code"`
	Tests        []EnvelopeTest `json:"tests"`
	FunctionName string         `json:"functionName"`
}

type EnvelopeTest struct {
	Input    []any `json:"input"`
	Expected any   `json:"expected"`
}

// Output is the single JSON line the executor writes on stdout. Exactly one
// of Results or Error is set.
type Output struct {
	Results   []TestOutput `json:"results,omitempty"`
	Error     string       `json:"error,omitempty"`
	Traceback string       `json:"traceback,omitempty"`
}

type TestOutput struct {
	Output        any     `json:"output"`
	Expected      any     `json:"expected"`
	Passed        bool    `json:"passed"`
	Error         string  `json:"error,omitempty"`
	ExecutionTime float64 `json:"executionTime"` // ms
}

// Names bound by the executor into every interpreter. Epilogues call them.
const (
	EntryName  = "__harness_main"
	TargetName = "__harness_target"
	TestsName  = "__harness_tests"
	EmitName   = "__harness_emit"
	CallName   = "__harness_call"
)

// Package models holds the request, result and catalog shapes shared by the
// execution pipeline and the HTTP layer.
package models

// Mode selects how user code is driven.
type Mode string

const (
	// ModeFunction wraps the source with a harness that calls a named function per test.
	ModeFunction Mode = "function"
	// ModeRaw runs the source unmodified once per test, feeding stdin.
	ModeRaw Mode = "raw"
)

// OutputPolicy controls raw-mode stdout comparison.
type OutputPolicy string

const (
	// PolicyTrim ignores trailing whitespace on each line and trailing blank lines.
	PolicyTrim OutputPolicy = "trim"
	// PolicyExact requires byte-for-byte equality.
	PolicyExact OutputPolicy = "exact"
)

// TestCase is one fixture. Function mode uses Input and Expected, raw mode
// uses Stdin and ExpectedStdout.
type TestCase struct {
	Input          []any  `json:"input"`
	Expected       any    `json:"expectedOutput"`
	Stdin          string `json:"stdin,omitempty"`
	ExpectedStdout string `json:"expectedStdout,omitempty"`
	Hidden         bool   `json:"hidden"`
}

// ExecutionRequest is immutable once accepted by the orchestrator.
type ExecutionRequest struct {
	Language     string       `json:"language"`
	Mode         Mode         `json:"mode"`
	SourceCode   string       `json:"code"`
	FunctionName string       `json:"functionName,omitempty"`
	TestCases    []TestCase   `json:"testCases"`
	OutputPolicy OutputPolicy `json:"outputPolicy,omitempty"`
}

type TestCaseResult struct {
	Index          int    `json:"index"`
	Input          any    `json:"input"`
	ExpectedOutput any    `json:"expectedOutput"`
	ActualOutput   any    `json:"actualOutput"`
	Passed         bool   `json:"passed"`
	ExecutionTime  int64  `json:"executionTime"` // ms
	Error          string `json:"error,omitempty"`
	Hidden         bool   `json:"hidden"`
}

type ExecutionResponse struct {
	Success            bool             `json:"success"`
	Results            []TestCaseResult `json:"results"`
	TotalPassed        int              `json:"totalPassed"`
	TotalTests         int              `json:"totalTests"`
	TotalExecutionTime int64            `json:"totalExecutionTime"` // ms
	Error              string           `json:"error,omitempty"`
}

package validator

import (
	"math"
	"strings"

	"github.com/itstheanurag/codemare/internal/harness"
	"github.com/itstheanurag/codemare/internal/models"
)

// NoResultError is reported for test cases the executor produced no result for.
const NoResultError = "No result returned from executor"

// Validate aligns executor outputs with test cases by index. Equality is
// recomputed against the request's expected value; the echoed one is ignored.
func Validate(outputs []harness.TestOutput, tests []models.TestCase) []models.TestCaseResult {
	results := make([]models.TestCaseResult, len(tests))
	for i, tc := range tests {
		if i >= len(outputs) {
			results[i] = Failed(i, tc, NoResultError)
			continue
		}
		out := outputs[i]
		results[i] = models.TestCaseResult{
			Index:          i,
			Input:          tc.Input,
			ExpectedOutput: tc.Expected,
			ActualOutput:   out.Output,
			Passed:         out.Error == "" && DeepEqual(out.Output, tc.Expected),
			ExecutionTime:  int64(math.Round(out.ExecutionTime)),
			Error:          out.Error,
			Hidden:         tc.Hidden,
		}
	}
	return results
}

// Failed synthesizes a failing result for a test case that never ran.
func Failed(index int, tc models.TestCase, msg string) models.TestCaseResult {
	r := models.TestCaseResult{
		Index:  index,
		Passed: false,
		Error:  msg,
		Hidden: tc.Hidden,
	}
	if tc.Input != nil {
		r.Input = tc.Input
		r.ExpectedOutput = tc.Expected
	} else {
		r.Input = tc.Stdin
		r.ExpectedOutput = tc.ExpectedStdout
	}
	return r
}

// Raw builds the result of one raw-mode invocation. errMsg forces a failure.
func Raw(index int, tc models.TestCase, policy models.OutputPolicy, stdout string, elapsedMs int64, errMsg string) models.TestCaseResult {
	return models.TestCaseResult{
		Index:          index,
		Input:          tc.Stdin,
		ExpectedOutput: tc.ExpectedStdout,
		ActualOutput:   stdout,
		Passed:         errMsg == "" && CompareRaw(policy, stdout, tc.ExpectedStdout),
		ExecutionTime:  elapsedMs,
		Error:          errMsg,
		Hidden:         tc.Hidden,
	}
}

// CompareRaw compares program stdout with the expected text under policy.
// Unknown policies behave like PolicyTrim.
func CompareRaw(policy models.OutputPolicy, actual, expected string) bool {
	if policy == models.PolicyExact {
		return actual == expected
	}
	return normalize(actual) == normalize(expected)
}

func normalize(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return strings.Join(lines, "\n")
}

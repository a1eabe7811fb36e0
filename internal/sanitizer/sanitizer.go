// Package sanitizer strips hidden fixtures and oversized diagnostics from
// results before they leave the service.
package sanitizer

import (
	"strings"

	"github.com/itstheanurag/codemare/internal/models"
)

const (
	MaxDiagnosticLines   = 10
	MaxDiagnosticColumns = 100
)

// Sanitize returns a copy of results in which hidden test cases expose only
// index, passed, timing and the hidden flag. Visible errors are truncated.
func Sanitize(results []models.TestCaseResult) []models.TestCaseResult {
	out := make([]models.TestCaseResult, len(results))
	for i, r := range results {
		if !r.Hidden {
			r.Error = Diagnostic(r.Error)
			out[i] = r
			continue
		}
		out[i] = models.TestCaseResult{
			Index:         r.Index,
			Input:         emptyInput(r.Input),
			Passed:        r.Passed,
			ExecutionTime: r.ExecutionTime,
			Hidden:        true,
		}
	}
	return out
}

// Response applies Sanitize to resp.Results and truncates its error.
func Response(resp models.ExecutionResponse) models.ExecutionResponse {
	resp.Results = Sanitize(resp.Results)
	resp.Error = Diagnostic(resp.Error)
	return resp
}

func emptyInput(v any) any {
	if _, ok := v.(string); ok {
		return ""
	}
	return []any{}
}

// Diagnostic trims s to MaxDiagnosticLines lines of MaxDiagnosticColumns
// bytes. Applying it twice is the same as applying it once.
func Diagnostic(s string) string {
	if s == "" {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) > MaxDiagnosticLines {
		lines = append(lines[:MaxDiagnosticLines-1], "...")
	}
	var b strings.Builder
	for i, line := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		if len(line) > MaxDiagnosticColumns {
			b.WriteString(line[:MaxDiagnosticColumns])
			b.WriteString("...")
			continue
		}
		b.WriteString(line)
	}
	return b.String()
}

package executor

import (
	"encoding/json"
	"strings"

	"github.com/itstheanurag/codemare/internal/apperr"
	"github.com/itstheanurag/codemare/internal/languages"
	"github.com/itstheanurag/codemare/internal/models"
)

// Limits bound the size of an accepted request.
type Limits struct {
	MaxFunctionSource int
	MaxRawSource      int
	MinTests          int
	MaxTests          int
	MaxStdin          int
	MaxExpectedStdout int
}

func DefaultLimits() Limits {
	return Limits{
		MaxFunctionSource: 10 * 1024,
		MaxRawSource:      50 * 1024,
		MinTests:          1,
		MaxTests:          10,
		MaxStdin:          10 * 1024,
		MaxExpectedStdout: 100 * 1024,
	}
}

// Validate checks req against the limits and returns its language.
func (l Limits) Validate(req models.ExecutionRequest) (languages.Language, error) {
	if strings.TrimSpace(req.SourceCode) == "" {
		return "", apperr.InvalidRequestf("Code cannot be empty")
	}
	lang, err := languages.Parse(req.Language)
	if err != nil {
		return "", err
	}

	switch req.Mode {
	case models.ModeFunction:
		if len(req.SourceCode) > l.MaxFunctionSource {
			return "", apperr.InvalidRequestf("Code exceeds maximum size of %dKB", l.MaxFunctionSource/1024)
		}
		if !lang.Embedded() {
			return "", apperr.Newf(apperr.UnsupportedLanguage, "Function mode is not supported for %s", lang.DisplayName())
		}
		if req.FunctionName == "" {
			return "", apperr.InvalidRequestf("Function name is required")
		}
		if len(req.TestCases) < l.MinTests || len(req.TestCases) > l.MaxTests {
			return "", apperr.InvalidRequestf("Between %d and %d test cases are required", l.MinTests, l.MaxTests)
		}
		for i, tc := range req.TestCases {
			b, err := json.Marshal(tc.Expected)
			if err != nil {
				return "", apperr.InvalidRequestf("Test case %d has an unserializable expected output", i+1)
			}
			if len(b) > l.MaxExpectedStdout {
				return "", apperr.InvalidRequestf("Test case %d expected output exceeds %dKB", i+1, l.MaxExpectedStdout/1024)
			}
		}
	case models.ModeRaw:
		if len(req.SourceCode) > l.MaxRawSource {
			return "", apperr.InvalidRequestf("Code exceeds maximum size of %dKB", l.MaxRawSource/1024)
		}
		if len(req.TestCases) < l.MinTests || len(req.TestCases) > l.MaxTests {
			return "", apperr.InvalidRequestf("Between %d and %d test cases are required", l.MinTests, l.MaxTests)
		}
		for i, tc := range req.TestCases {
			if len(tc.Stdin) > l.MaxStdin {
				return "", apperr.InvalidRequestf("Test case %d input exceeds %dKB", i+1, l.MaxStdin/1024)
			}
			if len(tc.ExpectedStdout) > l.MaxExpectedStdout {
				return "", apperr.InvalidRequestf("Test case %d expected output exceeds %dKB", i+1, l.MaxExpectedStdout/1024)
			}
		}
		switch req.OutputPolicy {
		case "", models.PolicyTrim, models.PolicyExact:
		default:
			return "", apperr.InvalidRequestf("Unknown output policy: %s", req.OutputPolicy)
		}
	default:
		return "", apperr.InvalidRequestf("Unknown execution mode: %s", req.Mode)
	}
	return lang, nil
}

// Package harness turns a submission into the program text and stdin bytes
// that a sandbox invocation runs.
package harness

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/itstheanurag/codemare/internal/apperr"
	"github.com/itstheanurag/codemare/internal/languages"
	"github.com/itstheanurag/codemare/internal/models"
)

// Program is everything one sandbox invocation needs. It is derived per
// request and never persisted.
type Program struct {
	Language languages.Language
	Mode     models.Mode
	// SourceFile overrides the runtime's default file name in raw mode.
	SourceFile string
	Text       string
	Stdin      []byte
}

var identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// GenerateFunction wraps source with the language epilogue and encodes the
// envelope the executor reads on stdin. All tests run in one invocation.
func GenerateFunction(lang languages.Language, source, functionName string, tests []models.TestCase) (Program, error) {
	if functionName == "" {
		return Program{}, apperr.InvalidRequestf("Function name is required")
	}
	if !identifier.MatchString(functionName) {
		return Program{}, apperr.InvalidRequestf("Invalid function name: %s", functionName)
	}

	tail, err := epilogue(lang, functionName)
	if err != nil {
		return Program{}, err
	}

	env := Envelope{
		Code:         source + tail,
		Tests:        make([]EnvelopeTest, len(tests)),
		FunctionName: functionName,
	}
	for i, tc := range tests {
		input := tc.Input
		if input == nil {
			input = []any{}
		}
		env.Tests[i] = EnvelopeTest{Input: input, Expected: tc.Expected}
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return Program{}, apperr.Wrapf(err, apperr.InvalidRequest, "Test cases are not JSON encodable")
	}

	return Program{
		Language: lang,
		Mode:     models.ModeFunction,
		Text:     env.Code,
		Stdin:    payload,
	}, nil
}

// GenerateRaw returns one program per test case. The source is left untouched.
func GenerateRaw(lang languages.Language, source string, tests []models.TestCase) ([]Program, error) {
	switch lang {
	case languages.Python, languages.JavaScript, languages.Lua, languages.Cpp, languages.Java:
	default:
		return nil, apperr.Newf(apperr.UnsupportedLanguage, "Unsupported language: %s", lang)
	}

	file := ""
	if lang == languages.Java {
		file = fmt.Sprintf("%s.java", JavaMainClass(source))
	}

	programs := make([]Program, len(tests))
	for i, tc := range tests {
		programs[i] = Program{
			Language:   lang,
			Mode:       models.ModeRaw,
			SourceFile: file,
			Text:       source,
			Stdin:      []byte(tc.Stdin),
		}
	}
	return programs, nil
}

var publicClass = regexp.MustCompile(`(?m)^\s*public\s+(?:final\s+|abstract\s+)*class\s+([A-Za-z_][A-Za-z0-9_]*)`)

// JavaMainClass returns the name of the first public class, or Main.
func JavaMainClass(source string) string {
	if m := publicClass.FindStringSubmatch(source); m != nil {
		return m[1]
	}
	return "Main"
}

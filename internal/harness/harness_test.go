package harness_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/itstheanurag/codemare/internal/apperr"
	"github.com/itstheanurag/codemare/internal/harness"
	"github.com/itstheanurag/codemare/internal/languages"
	"github.com/itstheanurag/codemare/internal/models"
)

func addTests() []models.TestCase {
	return []models.TestCase{
		{Input: []any{2.0, 3.0}, Expected: 5.0},
		{Input: []any{-1.0, 1.0}, Expected: 0.0, Hidden: true},
	}
}

func TestGenerateFunctionEnvelope(t *testing.T) {
	t.Parallel()

	for _, lang := range []languages.Language{languages.Python, languages.JavaScript, languages.Lua} {
		prog, err := harness.GenerateFunction(lang, "user code", "add", addTests())
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", lang, err)
		}
		if prog.Mode != models.ModeFunction {
			t.Fatalf("%s: expected function mode, got %s", lang, prog.Mode)
		}

		var env harness.Envelope
		if err := json.Unmarshal(prog.Stdin, &env); err != nil {
			t.Fatalf("%s: stdin is not an envelope: %v", lang, err)
		}
		if env.FunctionName != "add" {
			t.Fatalf("%s: expected functionName add, got %q", lang, env.FunctionName)
		}
		if len(env.Tests) != 2 {
			t.Fatalf("%s: expected 2 tests, got %d", lang, len(env.Tests))
		}
		if !strings.HasPrefix(env.Code, "user code") {
			t.Fatalf("%s: user code must come first", lang)
		}
		if !strings.Contains(env.Code, harness.EntryName) {
			t.Fatalf("%s: epilogue does not define %s", lang, harness.EntryName)
		}
		if env.Code != prog.Text {
			t.Fatalf("%s: program text and envelope code differ", lang)
		}
	}
}

func TestGenerateFunctionNilInputBecomesEmptyArray(t *testing.T) {
	t.Parallel()

	prog, err := harness.GenerateFunction(languages.JavaScript, "", "f", []models.TestCase{{Expected: 1.0}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(prog.Stdin), `"input":[]`) {
		t.Fatalf("expected empty input array, got %s", prog.Stdin)
	}
}

func TestGenerateFunctionErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		lang     languages.Language
		function string
		code     apperr.ErrorCode
	}{
		{"empty function name", languages.Python, "", apperr.InvalidRequest},
		{"injection in function name", languages.JavaScript, "add; process.exit()", apperr.InvalidRequest},
		{"cpp has no harness", languages.Cpp, "add", apperr.UnsupportedLanguage},
		{"java has no harness", languages.Java, "add", apperr.UnsupportedLanguage},
		{"unknown language", languages.Language("ruby"), "add", apperr.UnsupportedLanguage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := harness.GenerateFunction(tt.lang, "", tt.function, addTests())
			if got := apperr.GetCode(err); got != tt.code {
				t.Fatalf("expected %d, got %d (%v)", tt.code, got, err)
			}
		})
	}
}

func TestGenerateRawOneProgramPerTest(t *testing.T) {
	t.Parallel()

	tests := []models.TestCase{{Stdin: "2\n3"}, {Stdin: "10\n20"}}
	progs, err := harness.GenerateRaw(languages.Python, "print(1)", tests)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(progs) != 2 {
		t.Fatalf("expected 2 programs, got %d", len(progs))
	}
	for i, p := range progs {
		if p.Text != "print(1)" {
			t.Fatalf("program %d: source must be verbatim, got %q", i, p.Text)
		}
		if string(p.Stdin) != tests[i].Stdin {
			t.Fatalf("program %d: expected stdin %q, got %q", i, tests[i].Stdin, p.Stdin)
		}
		if p.SourceFile != "" {
			t.Fatalf("program %d: python uses the default source file, got %q", i, p.SourceFile)
		}
	}

	if _, err := harness.GenerateRaw(languages.Language("ruby"), "", tests); !apperr.Is(err, apperr.UnsupportedLanguage) {
		t.Fatalf("expected UnsupportedLanguage, got %v", err)
	}
}

func TestJavaMainClass(t *testing.T) {
	t.Parallel()

	tests := []struct {
		src  string
		want string
	}{
		{"public class Solver {\n}", "Solver"},
		{"import java.util.*;\n\npublic final class Fast {}", "Fast"},
		{"class Hidden {}", "Main"},
		{"", "Main"},
	}
	for _, tt := range tests {
		if got := harness.JavaMainClass(tt.src); got != tt.want {
			t.Fatalf("JavaMainClass(%q): expected %q, got %q", tt.src, tt.want, got)
		}
	}

	progs, err := harness.GenerateRaw(languages.Java, "public class Solver {}", []models.TestCase{{}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if progs[0].SourceFile != "Solver.java" {
		t.Fatalf("expected Solver.java, got %q", progs[0].SourceFile)
	}
}

func TestStarterCode(t *testing.T) {
	t.Parallel()

	got := harness.StarterCode(languages.Python, "twoSum", []string{"nums", "target"})
	if !strings.HasPrefix(got, "def twoSum(nums, target):") {
		t.Fatalf("unexpected python starter: %q", got)
	}
	if !strings.Contains(got, "Starlark") {
		t.Fatalf("python starter must name the dialect it runs in: %q", got)
	}

	filled := harness.FillStarterCode(map[string]string{"javascript": "custom"}, "twoSum", nil)
	if filled["javascript"] != "custom" {
		t.Fatalf("existing starter code must be kept, got %q", filled["javascript"])
	}
	for _, lang := range languages.All {
		if filled[string(lang)] == "" {
			t.Fatalf("missing starter code for %s", lang)
		}
	}
}

package languages

import (
	"strings"

	"github.com/itstheanurag/codemare/internal/apperr"
)

// Language is the closed set of languages the service accepts.
type Language string

const (
	Python     Language = "python"
	JavaScript Language = "javascript"
	Lua        Language = "lua"
	Cpp        Language = "cpp"
	Java       Language = "java"
)

// All lists every supported language in display order.
var All = []Language{Python, JavaScript, Lua, Cpp, Java}

// Parse maps a user supplied identifier onto a Language.
func Parse(s string) (Language, error) {
	switch l := Language(strings.ToLower(strings.TrimSpace(s))); l {
	case Python, JavaScript, Lua, Cpp, Java:
		return l, nil
	default:
		return "", apperr.Newf(apperr.UnsupportedLanguage, "Unsupported language: %s", s)
	}
}

// Embedded reports whether the in-container executor hosts an interpreter
// for the language, which is required for function mode.
func (l Language) Embedded() bool {
	switch l {
	case Python, JavaScript, Lua:
		return true
	case Cpp, Java:
		return false
	default:
		return false
	}
}

func (l Language) DisplayName() string {
	switch l {
	case Python:
		return "Python"
	case JavaScript:
		return "JavaScript"
	case Lua:
		return "Lua"
	case Cpp:
		return "C++"
	case Java:
		return "Java"
	default:
		return string(l)
	}
}

// Command placeholders expanded by RuntimeConfig.Commands.
const (
	SourcePlaceholder = "{source}"
	MainPlaceholder   = "{main}"
)

// RuntimeConfig describes how a language runs inside its image. Commands may
// reference {source} (the file name) and {main} (file name without extension).
type RuntimeConfig struct {
	Image          string
	SourceFile     string
	CompileCommand []string
	RunCommand     []string
	// FunctionCommand runs the in-container executor in function mode. Empty
	// when the language has no embedded interpreter.
	FunctionCommand []string
}

type Runtime struct {
	Language Language
	Name     string
	Config   RuntimeConfig
}

// Commands returns the compile and run commands for a concrete source file.
func (c RuntimeConfig) Commands(sourceFile string) (compile, run []string) {
	return expand(c.CompileCommand, sourceFile), expand(c.RunCommand, sourceFile)
}

func expand(cmd []string, sourceFile string) []string {
	if len(cmd) == 0 {
		return nil
	}
	main := strings.TrimSuffix(sourceFile, extension(sourceFile))
	out := make([]string, len(cmd))
	for i, arg := range cmd {
		arg = strings.ReplaceAll(arg, SourcePlaceholder, sourceFile)
		out[i] = strings.ReplaceAll(arg, MainPlaceholder, main)
	}
	return out
}

func extension(name string) string {
	if i := strings.LastIndexByte(name, '.'); i > 0 {
		return name[i:]
	}
	return ""
}

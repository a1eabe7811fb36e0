package languages

import (
	"sort"
	"sync"

	"github.com/itstheanurag/codemare/internal/apperr"
)

// ExecutorBinary is the path of the in-container executor in every image.
const ExecutorBinary = "/usr/local/bin/codemare-executor"

type Registry struct {
	mu       sync.RWMutex
	runtimes map[Language]Runtime
}

// NewRegistry returns a registry with the default image per language.
// images overrides the default image for the languages it names.
func NewRegistry(images map[string]string) *Registry {
	r := &Registry{
		runtimes: make(map[Language]Runtime),
	}
	r.registerDefaults()
	for id, img := range images {
		lang, err := Parse(id)
		if err != nil || img == "" {
			continue
		}
		rt := r.runtimes[lang]
		rt.Config.Image = img
		r.runtimes[lang] = rt
	}
	return r
}

func (r *Registry) Register(rt Runtime) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runtimes[rt.Language] = rt
}

func (r *Registry) Get(lang Language) (Runtime, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.runtimes[lang]
	if !ok {
		return Runtime{}, apperr.Newf(apperr.UnsupportedLanguage, "Unsupported language: %s", lang)
	}
	return rt, nil
}

// List returns the registered runtimes ordered by language.
func (r *Registry) List() []Runtime {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Runtime, 0, len(r.runtimes))
	for _, rt := range r.runtimes {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Language < out[j].Language })
	return out
}

// Images returns the distinct images referenced by the registry.
func (r *Registry) Images() []string {
	seen := make(map[string]bool)
	var images []string
	for _, rt := range r.List() {
		if seen[rt.Config.Image] {
			continue
		}
		seen[rt.Config.Image] = true
		images = append(images, rt.Config.Image)
	}
	return images
}

func functionCommand(lang Language) []string {
	return []string{ExecutorBinary, "function", "--language", string(lang)}
}

func rawCommand(lang Language) []string {
	return []string{ExecutorBinary, "raw", "--language", string(lang), "--source", SourcePlaceholder}
}

func (r *Registry) registerDefaults() {
	r.Register(Runtime{
		Language: Python,
		Name:     Python.DisplayName(),
		Config: RuntimeConfig{
			Image:           "codemare-python-executor:latest",
			SourceFile:      "solution.py",
			RunCommand:      []string{"python3", SourcePlaceholder},
			FunctionCommand: functionCommand(Python),
		},
	})

	r.Register(Runtime{
		Language: JavaScript,
		Name:     JavaScript.DisplayName(),
		Config: RuntimeConfig{
			Image:           "codemare-js-executor:latest",
			SourceFile:      "solution.js",
			RunCommand:      rawCommand(JavaScript),
			FunctionCommand: functionCommand(JavaScript),
		},
	})

	r.Register(Runtime{
		Language: Lua,
		Name:     Lua.DisplayName(),
		Config: RuntimeConfig{
			Image:           "codemare-lua-executor:latest",
			SourceFile:      "solution.lua",
			RunCommand:      rawCommand(Lua),
			FunctionCommand: functionCommand(Lua),
		},
	})

	r.Register(Runtime{
		Language: Cpp,
		Name:     Cpp.DisplayName(),
		Config: RuntimeConfig{
			Image:          "codemare-cpp-executor:latest",
			SourceFile:     "solution.cpp",
			CompileCommand: []string{"g++", SourcePlaceholder, "-O2", "-std=c++17", "-o", "solution"},
			RunCommand:     []string{"./solution"},
		},
	})

	r.Register(Runtime{
		Language: Java,
		Name:     Java.DisplayName(),
		Config: RuntimeConfig{
			Image:          "codemare-java-executor:latest",
			SourceFile:     "Main.java",
			CompileCommand: []string{"javac", SourcePlaceholder},
			RunCommand:     []string{"java", "-Xss64m", "-cp", ".", MainPlaceholder},
		},
	})
}

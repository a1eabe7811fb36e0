package harness

import (
	"fmt"
	"strings"

	"github.com/itstheanurag/codemare/internal/languages"
)

// StarterCode renders the editor template for a problem's function.
func StarterCode(lang languages.Language, functionName string, params []string) string {
	args := strings.Join(params, ", ")

	switch lang {
	case languages.Python:
		return fmt.Sprintf("def %s(%s):\n    # Runs as Starlark, a Python dialect without class, import or try.\n    # Write your code here\n    pass\n", functionName, args)
	case languages.JavaScript:
		return fmt.Sprintf("function %s(%s) {\n    // Write your code here\n}\n", functionName, args)
	case languages.Lua:
		return fmt.Sprintf("function %s(%s)\n    -- Write your code here\nend\n", functionName, args)
	case languages.Cpp:
		return fmt.Sprintf("#include <vector>\n#include <string>\nusing namespace std;\n\n// Adjust return type as needed\nauto %s(%s) {\n    // Write your code here\n}\n", functionName, args)
	case languages.Java:
		return fmt.Sprintf("class Solution {\n    // Adjust return type and parameter types as needed\n    public Object %s(%s) {\n        // Write your code here\n    }\n}\n", functionName, args)
	default:
		return ""
	}
}

// FillStarterCode returns starter with a template for every language it lacks.
func FillStarterCode(starter map[string]string, functionName string, params []string) map[string]string {
	out := make(map[string]string, len(languages.All))
	for _, lang := range languages.All {
		if code, ok := starter[string(lang)]; ok && code != "" {
			out[string(lang)] = code
			continue
		}
		out[string(lang)] = StarterCode(lang, functionName, params)
	}
	return out
}

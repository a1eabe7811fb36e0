package harness

import (
	"fmt"

	"github.com/itstheanurag/codemare/internal/apperr"
	"github.com/itstheanurag/codemare/internal/languages"
)

// epilogue returns the code appended to the user source in function mode.
// Every variant defines EntryName, which walks the tests handed out by
// TestsName, invokes the target once per test inside the language's error
// trap and reports each outcome through EmitName(index, value, error).
func epilogue(lang languages.Language, functionName string) (string, error) {
	switch lang {
	case languages.JavaScript:
		return fmt.Sprintf(jsEpilogue, TargetName, functionName, functionName, EntryName, TestsName, EmitName, EmitName), nil
	case languages.Lua:
		return fmt.Sprintf(luaEpilogue, TargetName, functionName, EntryName, TestsName, EmitName, EmitName), nil
	case languages.Python:
		return fmt.Sprintf(starlarkEpilogue, EntryName, TestsName, CallName, EmitName, EmitName), nil
	case languages.Cpp, languages.Java:
		return "", apperr.Newf(apperr.UnsupportedLanguage, "Function mode is not supported for %s", lang)
	default:
		return "", apperr.Newf(apperr.UnsupportedLanguage, "Unsupported language: %s", lang)
	}
}

// JSON.stringify runs inside the trap so unserializable results count
// against the test that produced them.
const jsEpilogue = `

;function %s() {
  return typeof %s === "undefined" ? undefined : %s;
}

function %s(fn) {
  var tests = JSON.parse(%s());
  for (var i = 0; i < tests.length; i++) {
    try {
      var out = fn.apply(null, tests[i].input);
      var encoded = JSON.stringify(out === undefined ? null : out);
      %s(i, encoded === undefined ? "null" : encoded, null);
    } catch (e) {
      var kind = (e && e.name) ? e.name : "Error";
      var msg = (e && e.message !== undefined) ? e.message : String(e);
      %s(i, null, kind + ": " + msg);
    }
  }
}
`

const luaEpilogue = `

function %s()
  return %s
end

function %s(fn)
  local tests = %s()
  for i = 1, #tests do
    local t = tests[i]
    local ok, res = pcall(fn, unpack(t.input, 1, t.n))
    if ok then
      %s(i - 1, res, nil)
    else
      %s(i - 1, nil, tostring(res))
    end
  end
end
`

// Starlark has no exception handling; CallName is the host-side trap and
// returns (ok, value_or_error).
const starlarkEpilogue = `

def %s(fn):
    tests = %s()
    for i in range(len(tests)):
        ok, value = %s(fn, tests[i])
        if ok:
            %s(i, value, None)
        else:
            %s(i, None, value)
`

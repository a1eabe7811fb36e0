package models

type Difficulty string

const (
	Easy   Difficulty = "Easy"
	Medium Difficulty = "Medium"
	Hard   Difficulty = "Hard"
)

type Example struct {
	Input       string `json:"input"`
	Output      string `json:"output"`
	Explanation string `json:"explanation,omitempty"`
}

// Problem is a catalog entry. TestCases include hidden fixtures and must be
// passed through Public before leaving the service.
type Problem struct {
	ID           string            `json:"id"`
	Title        string            `json:"title"`
	Difficulty   Difficulty        `json:"difficulty"`
	Description  string            `json:"description"`
	Examples     []Example         `json:"examples"`
	Constraints  []string          `json:"constraints"`
	TestCases    []TestCase        `json:"testCases"`
	StarterCode  map[string]string `json:"starterCode"`
	FunctionName string            `json:"functionName"`
	Parameters   []string          `json:"parameters,omitempty"`
}

type ProblemSummary struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Difficulty Difficulty `json:"difficulty"`
}

// Public returns a copy of p with hidden test case fixtures blanked.
func (p Problem) Public() Problem {
	out := p
	out.TestCases = make([]TestCase, len(p.TestCases))
	for i, tc := range p.TestCases {
		if tc.Hidden {
			out.TestCases[i] = TestCase{Input: []any{}, Hidden: true}
			continue
		}
		out.TestCases[i] = tc
	}
	return out
}

package sandbox

import (
	"context"
	"time"

	"github.com/itstheanurag/codemare/internal/harness"
)

// Result is the outcome of one invocation. Stdout and Stderr are empty when
// the invocation was killed.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Killed   bool
	Duration time.Duration
}

// Sandbox runs harness programs in isolated containers. Run returns a typed
// apperr for every outcome other than a clean exit: TimeLimitExceeded,
// OutputTooLarge, CompilationError, RuntimeFailure or SandboxUnavailable.
type Sandbox interface {
	Run(ctx context.Context, prog harness.Program) (*Result, error)
	ImageStatus(ctx context.Context) (ImageReport, error)
	EnsureImage(ctx context.Context, image string) error
}

type ImageReport struct {
	Available []string `json:"available"`
	Missing   []string `json:"missing"`
}

// Limits is the resource envelope applied to every container.
type Limits struct {
	MemoryBytes      int64
	CPUFraction      float64
	MaxProcesses     int64
	Timeout          time.Duration
	CompileTimeout   time.Duration
	OutputLimitBytes int64
}

func DefaultLimits() Limits {
	return Limits{
		MemoryBytes:      256 << 20,
		CPUFraction:      0.5,
		MaxProcesses:     50,
		Timeout:          10 * time.Second,
		CompileTimeout:   15 * time.Second,
		OutputLimitBytes: 10 << 20,
	}
}

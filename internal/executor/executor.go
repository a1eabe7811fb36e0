// Package executor validates execution requests and drives them through
// harness generation, the sandbox, validation and sanitization.
package executor

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/itstheanurag/codemare/internal/apperr"
	"github.com/itstheanurag/codemare/internal/harness"
	"github.com/itstheanurag/codemare/internal/languages"
	"github.com/itstheanurag/codemare/internal/metrics"
	"github.com/itstheanurag/codemare/internal/models"
	"github.com/itstheanurag/codemare/internal/sandbox"
	"github.com/itstheanurag/codemare/internal/sanitizer"
	"github.com/itstheanurag/codemare/internal/validator"
	"github.com/rs/zerolog"
)

// Runner runs one harness program in isolation.
type Runner interface {
	Run(ctx context.Context, prog harness.Program) (*sandbox.Result, error)
}

// VerdictCache stores sanitized function-mode responses by submission key.
type VerdictCache interface {
	Get(ctx context.Context, key string) (*models.ExecutionResponse, bool, error)
	Set(ctx context.Context, key string, resp models.ExecutionResponse) error
}

type Executor struct {
	runner Runner
	cache  VerdictCache
	limits Limits
	logger *zerolog.Logger
}

// NewExecutor returns an orchestrator. cache may be nil.
func NewExecutor(runner Runner, cache VerdictCache, limits Limits, logger *zerolog.Logger) *Executor {
	return &Executor{
		runner: runner,
		cache:  cache,
		limits: limits,
		logger: logger,
	}
}

// Execute runs req and returns a sanitized response. Outcomes of running user
// code (timeouts, crashes, compile errors, malformed output) are reported in
// the response; only invalid requests and infrastructure failures are
// returned as errors.
func (e *Executor) Execute(ctx context.Context, req models.ExecutionRequest) (*models.ExecutionResponse, error) {
	lang, err := e.limits.Validate(req)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	var resp *models.ExecutionResponse
	switch req.Mode {
	case models.ModeFunction:
		resp, err = e.executeFunction(ctx, lang, req)
	default:
		resp, err = e.executeRaw(ctx, lang, req)
	}
	if err != nil {
		metrics.ExecutionsTotal.WithLabelValues(string(lang), string(req.Mode), "error").Inc()
		return nil, err
	}

	status := "failed"
	if resp.Success {
		status = "passed"
	}
	metrics.ExecutionsTotal.WithLabelValues(string(lang), string(req.Mode), status).Inc()
	metrics.ExecutionDuration.WithLabelValues(string(lang), "total").Observe(float64(time.Since(start).Milliseconds()))

	sanitized := sanitizer.Response(*resp)
	return &sanitized, nil
}

func (e *Executor) executeFunction(ctx context.Context, lang languages.Language, req models.ExecutionRequest) (*models.ExecutionResponse, error) {
	key := cacheKey(lang, req)
	if cached := e.lookup(ctx, key); cached != nil {
		return cached, nil
	}

	prog, err := harness.GenerateFunction(lang, req.SourceCode, req.FunctionName, req.TestCases)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	res, err := e.runner.Run(ctx, prog)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		code := apperr.GetCode(err)
		if !code.Sandbox() {
			return nil, err
		}
		metrics.InvocationsTotal.WithLabelValues(string(lang), outcome(code)).Inc()
		e.logger.Debug().Str("language", string(lang)).Err(err).Msg("function invocation failed")
		return failure(req.TestCases, err.Error(), elapsed), nil
	}

	out, err := parseOutput(res.Stdout)
	if err != nil {
		metrics.InvocationsTotal.WithLabelValues(string(lang), outcome(apperr.MalformedExecutorOutput)).Inc()
		e.logger.Warn().Str("language", string(lang)).Err(err).Msg("executor produced malformed output")
		return failure(req.TestCases, apperr.MalformedExecutorOutput.Message(), elapsed), nil
	}
	if out.Error != "" {
		code := apperr.RuntimeFailure
		if out.Error == apperr.TimeLimitExceeded.Message() {
			code = apperr.TimeLimitExceeded
		}
		metrics.InvocationsTotal.WithLabelValues(string(lang), outcome(code)).Inc()
		return failure(req.TestCases, out.Error, elapsed), nil
	}
	metrics.InvocationsTotal.WithLabelValues(string(lang), outcome(apperr.Success)).Inc()

	resp := summarize(validator.Validate(out.Results, req.TestCases), elapsed)
	e.store(ctx, key, resp)
	return resp, nil
}

// executeRaw runs one invocation per test case, in order. A compilation
// error fails every remaining test case without running them.
func (e *Executor) executeRaw(ctx context.Context, lang languages.Language, req models.ExecutionRequest) (*models.ExecutionResponse, error) {
	programs, err := harness.GenerateRaw(lang, req.SourceCode, req.TestCases)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	results := make([]models.TestCaseResult, 0, len(programs))
	for i, prog := range programs {
		tc := req.TestCases[i]
		runStart := time.Now()
		res, err := e.runner.Run(ctx, prog)
		elapsed := time.Since(runStart).Milliseconds()

		if err == nil {
			metrics.InvocationsTotal.WithLabelValues(string(lang), outcome(apperr.Success)).Inc()
			results = append(results, validator.Raw(i, tc, req.OutputPolicy, res.Stdout, elapsed, ""))
			continue
		}

		code := apperr.GetCode(err)
		if !code.Sandbox() {
			return nil, err
		}
		msg := err.Error()
		if code == apperr.RuntimeFailure && msg == apperr.TimeLimitExceeded.Message() {
			code = apperr.TimeLimitExceeded
		}
		metrics.InvocationsTotal.WithLabelValues(string(lang), outcome(code)).Inc()

		if code == apperr.CompilationError {
			for j := i; j < len(programs); j++ {
				results = append(results, validator.Raw(j, req.TestCases[j], req.OutputPolicy, "", 0, msg))
			}
			resp := summarize(results, time.Since(start).Milliseconds())
			resp.Error = msg
			return resp, nil
		}

		stdout := ""
		if res != nil && code == apperr.RuntimeFailure {
			stdout = res.Stdout
		}
		results = append(results, validator.Raw(i, tc, req.OutputPolicy, stdout, elapsed, msg))
	}

	return summarize(results, time.Since(start).Milliseconds()), nil
}

// parseOutput decodes the last non-empty line of stdout.
func parseOutput(stdout string) (*harness.Output, error) {
	lines := bytes.Split(bytes.TrimSpace([]byte(stdout)), []byte("\n"))
	last := bytes.TrimSpace(lines[len(lines)-1])
	if len(last) == 0 {
		return nil, apperr.Newf(apperr.MalformedExecutorOutput, "executor produced no output")
	}

	var out harness.Output
	dec := json.NewDecoder(bytes.NewReader(last))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, apperr.Wrapf(err, apperr.MalformedExecutorOutput, "failed to parse executor output: %v", err)
	}
	if out.Results == nil && out.Error == "" {
		return nil, apperr.Newf(apperr.MalformedExecutorOutput, "executor output has neither results nor error")
	}
	return &out, nil
}

// failure reports msg for every test case; nothing the invocation printed is
// trusted.
func failure(tests []models.TestCase, msg string, elapsed int64) *models.ExecutionResponse {
	results := make([]models.TestCaseResult, len(tests))
	for i, tc := range tests {
		results[i] = validator.Failed(i, tc, msg)
	}
	resp := summarize(results, elapsed)
	resp.Error = msg
	return resp
}

func summarize(results []models.TestCaseResult, elapsed int64) *models.ExecutionResponse {
	passed := 0
	for _, r := range results {
		if r.Passed {
			passed++
		}
	}
	return &models.ExecutionResponse{
		Success:            len(results) > 0 && passed == len(results),
		Results:            results,
		TotalPassed:        passed,
		TotalTests:         len(results),
		TotalExecutionTime: elapsed,
	}
}

func outcome(code apperr.ErrorCode) string {
	switch code {
	case apperr.Success:
		return "ok"
	case apperr.TimeLimitExceeded:
		return "time_limit"
	case apperr.OutputTooLarge:
		return "output_limit"
	case apperr.CompilationError:
		return "compile_error"
	case apperr.MalformedExecutorOutput:
		return "malformed"
	default:
		return "runtime_error"
	}
}

func (e *Executor) lookup(ctx context.Context, key string) *models.ExecutionResponse {
	if e.cache == nil {
		return nil
	}
	resp, ok, err := e.cache.Get(ctx, key)
	switch {
	case err != nil:
		metrics.CacheLookups.WithLabelValues("error").Inc()
		e.logger.Warn().Err(err).Msg("verdict cache lookup failed")
		return nil
	case !ok:
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		return nil
	default:
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return resp
	}
}

// store caches the sanitized response, so hidden fixtures never reach the cache.
func (e *Executor) store(ctx context.Context, key string, resp *models.ExecutionResponse) {
	if e.cache == nil {
		return
	}
	if err := e.cache.Set(ctx, key, sanitizer.Response(*resp)); err != nil {
		e.logger.Warn().Err(err).Msg("verdict cache store failed")
	}
}

// cacheKey identifies a function-mode submission by everything that can
// change its verdict.
func cacheKey(lang languages.Language, req models.ExecutionRequest) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	_ = enc.Encode([]any{string(lang), req.FunctionName, req.SourceCode, req.TestCases})
	return hex.EncodeToString(h.Sum(nil))
}

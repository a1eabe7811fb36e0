package api

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/itstheanurag/codemare/internal/apperr"
	"github.com/itstheanurag/codemare/internal/catalog"
	"github.com/itstheanurag/codemare/internal/executor"
	"github.com/itstheanurag/codemare/internal/harness"
	"github.com/itstheanurag/codemare/internal/languages"
	"github.com/itstheanurag/codemare/internal/models"
	"github.com/itstheanurag/codemare/internal/queue"
	"github.com/itstheanurag/codemare/internal/sandbox"
	"github.com/rs/zerolog"
)

// ExecuteRequest runs a submission against a catalog problem.
type ExecuteRequest struct {
	ProblemID string `json:"problemId"`
	Language  string `json:"language"`
	Code      string `json:"code"`
}

type IdeTestCase struct {
	Input          string `json:"input"`
	ExpectedOutput string `json:"expectedOutput"`
}

// IdeExecuteRequest runs a program once per test case with stdin and
// compares stdout.
type IdeExecuteRequest struct {
	Language     string              `json:"language"`
	Code         string              `json:"code"`
	TestCases    []IdeTestCase       `json:"testCases"`
	OutputPolicy models.OutputPolicy `json:"outputPolicy"`
}

// ImageChecker reports whether the container runtime answers and which
// language images are present.
type ImageChecker interface {
	Ping(ctx context.Context) error
	ImageStatus(ctx context.Context) (sandbox.ImageReport, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	queueManager *queue.Manager
	catalog      catalog.Catalog
	images       ImageChecker
	limits       executor.Limits
	jobTimeout   time.Duration
	cache        Pinger
	logger       *zerolog.Logger
}

func NewHandler(
	manager *queue.Manager,
	cat catalog.Catalog,
	images ImageChecker,
	limits executor.Limits,
	jobTimeout time.Duration,
	logger *zerolog.Logger,
) *Handler {
	return &Handler{
		queueManager: manager,
		catalog:      cat,
		images:       images,
		limits:       limits,
		jobTimeout:   jobTimeout,
		logger:       logger,
	}
}

// Routes mounts the API on r. executeLimit guards the two execution
// endpoints, apiLimit guards everything under /api.
func Routes(r *gin.Engine, h *Handler, executeLimit, apiLimit gin.HandlerFunc) {
	r.GET("/health", h.Health)

	g := r.Group("/api", apiLimit)
	g.GET("/problems", h.ListProblems)
	g.GET("/problems/:id", h.GetProblem)
	g.POST("/execute", executeLimit, h.Execute)
	g.POST("/ide/execute", executeLimit, h.ExecuteIde)
}

func (h *Handler) ListProblems(c *gin.Context) {
	problems, err := h.catalog.List(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"problems": problems})
}

func (h *Handler) GetProblem(c *gin.Context) {
	p, err := h.catalog.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.writeError(c, err)
		return
	}
	public := p.Public()
	public.StarterCode = harness.FillStarterCode(p.StarterCode, p.FunctionName, p.Parameters)
	c.JSON(http.StatusOK, gin.H{"problem": public})
}

func (h *Handler) Execute(c *gin.Context) {
	var body ExecuteRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.writeError(c, apperr.InvalidRequestf("Invalid request body"))
		return
	}
	if strings.TrimSpace(body.ProblemID) == "" {
		h.writeError(c, apperr.InvalidRequestf("Problem ID is required"))
		return
	}
	if strings.TrimSpace(body.Code) == "" {
		h.writeError(c, apperr.InvalidRequestf("Code cannot be empty"))
		return
	}
	if _, err := languages.Parse(body.Language); err != nil {
		h.writeError(c, err)
		return
	}

	p, err := h.catalog.Get(c.Request.Context(), body.ProblemID)
	if err != nil {
		h.writeError(c, err)
		return
	}

	h.run(c, models.ExecutionRequest{
		Language:     body.Language,
		Mode:         models.ModeFunction,
		SourceCode:   body.Code,
		FunctionName: p.FunctionName,
		TestCases:    p.TestCases,
	})
}

func (h *Handler) ExecuteIde(c *gin.Context) {
	var body IdeExecuteRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		h.writeError(c, apperr.InvalidRequestf("Invalid request body"))
		return
	}

	tests := make([]models.TestCase, len(body.TestCases))
	for i, tc := range body.TestCases {
		tests[i] = models.TestCase{Stdin: tc.Input, ExpectedStdout: tc.ExpectedOutput}
	}
	h.run(c, models.ExecutionRequest{
		Language:     body.Language,
		Mode:         models.ModeRaw,
		SourceCode:   body.Code,
		TestCases:    tests,
		OutputPolicy: body.OutputPolicy,
	})
}

// run validates req, queues it and waits for the worker's answer.
func (h *Handler) run(c *gin.Context, req models.ExecutionRequest) {
	if _, err := h.limits.Validate(req); err != nil {
		h.writeError(c, err)
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.jobTimeout)
	defer cancel()

	job := queue.NewJob(ctx, req)
	if err := h.queueManager.Submit(job); err != nil {
		h.writeError(c, err)
		return
	}

	select {
	case res := <-job.Result:
		c.JSON(http.StatusOK, res)
	case err := <-job.Err:
		h.writeError(c, err)
	case <-ctx.Done():
		h.logger.Warn().Str("job_id", job.ID).Msg("execution timed out waiting for a worker")
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Execution timed out", "code": apperr.TimeLimitExceeded})
	}
}

// SetCache makes /health report the verdict cache. A cache outage degrades
// the service without making it unavailable.
func (h *Handler) SetCache(p Pinger) {
	h.cache = p
}

func (h *Handler) Health(c *gin.Context) {
	ctx := c.Request.Context()
	unavailable := func(err error) {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "unavailable",
			"error":  err.Error(),
		})
	}

	if err := h.images.Ping(ctx); err != nil {
		unavailable(err)
		return
	}
	report, err := h.images.ImageStatus(ctx)
	if err != nil {
		unavailable(err)
		return
	}

	status := "ok"
	if len(report.Missing) > 0 {
		status = "degraded"
	}
	deps := gin.H{"docker": "ok"}
	if h.cache != nil {
		deps["cache"] = "ok"
		if err := h.cache.Ping(ctx); err != nil {
			h.logger.Warn().Err(err).Msg("verdict cache is unreachable")
			deps["cache"] = "unavailable"
			status = "degraded"
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":       status,
		"images":       report,
		"dependencies": deps,
		"queueDepth":   h.queueManager.Len(),
	})
}

func (h *Handler) writeError(c *gin.Context, err error) {
	code := apperr.GetCode(err)
	msg := err.Error()
	var typed *apperr.Error
	if code == apperr.Internal || !errors.As(err, &typed) {
		h.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		msg = "Failed to execute code"
		if strings.HasPrefix(c.FullPath(), "/api/problems") {
			msg = "Failed to fetch problems"
		}
	}
	c.JSON(code.HTTPStatus(), gin.H{"error": msg, "code": code})
}

package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/itstheanurag/codemare/internal/api"
	"github.com/itstheanurag/codemare/internal/cache"
	"github.com/itstheanurag/codemare/internal/catalog"
	"github.com/itstheanurag/codemare/internal/config"
	"github.com/itstheanurag/codemare/internal/database"
	"github.com/itstheanurag/codemare/internal/executor"
	"github.com/itstheanurag/codemare/internal/languages"
	"github.com/itstheanurag/codemare/internal/limiter"
	"github.com/itstheanurag/codemare/internal/queue"
	"github.com/itstheanurag/codemare/internal/sandbox"
	"github.com/itstheanurag/codemare/internal/worker"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type Server struct {
	conf         *config.Config
	logger       *zerolog.Logger
	httpServer   *http.Server
	db           *database.Database
	cache        *cache.VerdictCache
	registry     *languages.Registry
	sandbox      sandbox.Sandbox
	queue        *queue.Manager
	workers      []*worker.Worker
	executeLimit *limiter.RateLimiter
	apiLimit     *limiter.RateLimiter
	cancelFunc   context.CancelFunc
}

func New(
	conf *config.Config,
	logger *zerolog.Logger,
) (*Server, error) {
	s := &Server{conf: conf, logger: logger}

	s.registry = languages.NewRegistry(conf.Sandbox.Images)
	limits := sandboxLimits(conf)
	sb, err := sandbox.NewDockerSandbox(s.registry, limits, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create sandbox: %w", err)
	}
	s.sandbox = sb

	cat, err := s.openCatalog(conf)
	if err != nil {
		s.close()
		return nil, err
	}

	// The verdict cache is optional; a nil interface disables it.
	var verdicts executor.VerdictCache
	if conf.Redis.Addr != "" {
		cfg := cache.DefaultConfig()
		cfg.Addr = conf.Redis.Addr
		cfg.Password = conf.Redis.Password
		cfg.DB = conf.Redis.DB
		cfg.TTL = time.Duration(conf.Redis.TTL) * time.Second
		vc, err := cache.New(context.Background(), cfg)
		if err != nil {
			s.close()
			return nil, fmt.Errorf("failed to create verdict cache: %w", err)
		}
		s.cache = vc
		verdicts = vc
		logger.Info().Str("addr", conf.Redis.Addr).Msg("verdict cache enabled")
	}

	execLimits := executor.DefaultLimits()
	exec := executor.NewExecutor(sb, verdicts, execLimits, logger)
	s.queue = queue.NewManager(conf.Workers.QueueCapacity)

	s.workers = make([]*worker.Worker, conf.Workers.Count)
	for i := range s.workers {
		s.workers[i] = worker.NewWorker(i, exec, s.queue, logger)
	}

	// Per-IP limits from the config are per minute; the execute limiter also
	// carries the global rate and the in-flight cap.
	s.executeLimit = limiter.NewRateLimiter(
		conf.Limits.GlobalRPS,
		float64(conf.Limits.ExecutePerMinute)/60,
		conf.Limits.ExecutePerMinute,
		conf.Limits.MaxConcurrent,
	)
	s.apiLimit = limiter.PerMinute(conf.Limits.APIPerMinute)

	wait := jobTimeout(limits, execLimits)
	handler := api.NewHandler(s.queue, cat, sb, execLimits, wait, logger)
	if s.cache != nil {
		handler.SetCache(s.cache)
	}

	gin.SetMode(conf.Server.Mode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(logger))
	api.Routes(router, handler, s.executeLimit.Middleware(), s.apiLimit.Middleware())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.httpServer = &http.Server{
		Addr:         ":" + conf.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(conf.Server.ReadTimeout) * time.Second,
		WriteTimeout: writeTimeout(conf.Server.WriteTimeout, wait),
		IdleTimeout:  time.Duration(conf.Server.IdleTimeout) * time.Second,
	}

	return s, nil
}

func (s *Server) openCatalog(conf *config.Config) (catalog.Catalog, error) {
	switch conf.Catalog.Backend {
	case "postgres":
		db, err := database.New(conf, s.logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
		s.db = db

		pg := catalog.NewPostgresCatalog(db.Pool, s.logger)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := pg.EnsureSchema(ctx); err != nil {
			return nil, err
		}
		// A catalog directory seeds the table on startup.
		if conf.Catalog.Dir != "" && catalog.Dir(conf.Catalog.Dir) == nil {
			if _, err := pg.Import(ctx, catalog.NewFileCatalog(conf.Catalog.Dir)); err != nil {
				return nil, fmt.Errorf("failed to import catalog: %w", err)
			}
		}
		return pg, nil
	default:
		if err := catalog.Dir(conf.Catalog.Dir); err != nil {
			return nil, err
		}
		return catalog.NewFileCatalog(conf.Catalog.Dir), nil
	}
}

func sandboxLimits(conf *config.Config) sandbox.Limits {
	limits := sandbox.DefaultLimits()
	limits.MemoryBytes = conf.Sandbox.MemoryMB << 20
	limits.CPUFraction = conf.Sandbox.CPUFraction
	if conf.Sandbox.MaxProcesses > 0 {
		limits.MaxProcesses = conf.Sandbox.MaxProcesses
	}
	limits.Timeout = conf.SandboxTimeout()
	if conf.Sandbox.CompileTimeout > 0 {
		limits.CompileTimeout = time.Duration(conf.Sandbox.CompileTimeout) * time.Second
	}
	if conf.Sandbox.OutputLimitMB > 0 {
		limits.OutputLimitBytes = int64(conf.Sandbox.OutputLimitMB) << 20
	}
	return limits
}

// jobTimeout bounds how long a request waits for its job: the worst raw-mode
// run compiles and runs once per test case.
func jobTimeout(limits sandbox.Limits, execLimits executor.Limits) time.Duration {
	perTest := limits.Timeout + limits.CompileTimeout
	return time.Duration(execLimits.MaxTests)*perTest + 30*time.Second
}

// writeTimeout is the configured write timeout raised, when needed, so a
// handler waiting the full job bound can still write its response.
func writeTimeout(configuredSeconds int, wait time.Duration) time.Duration {
	return max(time.Duration(configuredSeconds)*time.Second, wait+writeMargin)
}

const writeMargin = 10 * time.Second

func requestLogger(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Str("client_ip", c.ClientIP()).
			Dur("latency", time.Since(start)).
			Msg("request")
	}
}

func (s *Server) Start() error {
	s.logger.Info().
		Str("port", s.conf.Server.Port).
		Int("workers", len(s.workers)).
		Msg("starting HTTP server")

	if s.conf.Sandbox.PullImages {
		if err := s.ensureImages(context.Background()); err != nil {
			return fmt.Errorf("failed to ensure docker images: %w", err)
		}
	} else {
		s.reportImages(context.Background())
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancelFunc = cancel

	for _, w := range s.workers {
		go w.Start(ctx)
	}
	s.executeLimit.StartCleanup(ctx, 5*time.Minute)
	s.apiLimit.StartCleanup(ctx, 5*time.Minute)

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server failed: %w", err)
	}

	return nil
}

func (s *Server) ensureImages(ctx context.Context) error {
	for _, img := range s.registry.Images() {
		if err := s.sandbox.EnsureImage(ctx, img); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) reportImages(ctx context.Context) {
	report, err := s.sandbox.ImageStatus(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("docker is not reachable, executions will fail until it is")
		return
	}
	if len(report.Missing) > 0 {
		s.logger.Warn().Strs("missing", report.Missing).Msg("language images are missing")
	}
}

func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("shutting down HTTP server")

	if s.cancelFunc != nil {
		s.cancelFunc()
	}

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	s.close()
	return nil
}

func (s *Server) close() {
	if s.cache != nil {
		_ = s.cache.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
}

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ifuryst/quill/internal/config"
	"github.com/ifuryst/quill/internal/service"
	"github.com/ifuryst/quill/internal/service/automation"
	"github.com/ifuryst/quill/internal/service/completion"
	"github.com/ifuryst/quill/internal/service/metrics"
	"github.com/ifuryst/quill/internal/service/provider"
	"github.com/ifuryst/quill/internal/service/queue"
	"github.com/ifuryst/quill/internal/service/template"
	"github.com/ifuryst/quill/internal/service/usage"
	"github.com/ifuryst/quill/internal/service/workflow"
)

type Server struct {
	Config   *config.Config
	DB       *gorm.DB
	Router   *gin.Engine
	Logger   *zap.Logger
	Server   *http.Server
	Redis    *redis.Client
	Registry *prometheus.Registry
	Metrics  *metrics.Metrics

	// Services
	Workflows    *workflow.Store
	Queue        *queue.Queue
	Templates    *template.Store
	Usage        *usage.Recorder
	Completions  *completion.Orchestrator
	Automation   *automation.Controller
	Monitoring   *service.MonitoringService
	Scheduler    *service.Scheduler
	StatsUpdater *service.StatsUpdater
}

type Option func(*options)

type options struct {
	provider  provider.Provider
	tokenizer provider.Tokenizer
	redis     *redis.Client
}

// WithProvider replaces the HTTP completion client.
func WithProvider(p provider.Provider) Option {
	return func(o *options) {
		o.provider = p
	}
}

func WithTokenizer(t provider.Tokenizer) Option {
	return func(o *options) {
		o.tokenizer = t
	}
}

// WithRedis uses an existing client instead of dialing cfg.Redis.
func WithRedis(client *redis.Client) Option {
	return func(o *options) {
		o.redis = client
	}
}

func NewServer(cfg *config.Config, logger *zap.Logger, opts ...Option) (*Server, error) {
	db, err := service.NewDatabase(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return New(cfg, db, logger, opts...)
}

// New wires every service on top of an open database.
func New(cfg *config.Config, db *gorm.DB, logger *zap.Logger, opts ...Option) (*Server, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	gin.SetMode(cfg.Server.Mode)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	if o.tokenizer == nil {
		o.tokenizer = provider.NewVocabulary(nil)
		if cfg.Provider.VocabFile != "" {
			vocab, err := provider.LoadVocabulary(cfg.Provider.VocabFile)
			if err != nil {
				return nil, err
			}
			o.tokenizer = vocab
		} else {
			logger.Warn("No vocabulary configured, keyword biasing is disabled")
		}
	}
	if o.provider == nil {
		o.provider = provider.NewHTTPClient(&cfg.Provider, logger.Named("provider"))
	}
	if o.redis == nil && cfg.Redis.Enabled {
		o.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	var (
		leaser   automation.Leaser         = automation.NewMemoryLeaser()
		starters completion.StarterTracker = completion.NewMemoryStarters()
	)
	if o.redis != nil {
		leaser = automation.NewRedisLeaser(o.redis, cfg.Redis.LeaseTTL)
		starters = completion.NewRedisStarters(o.redis, cfg.Redis.StarterTTL)
	}

	workflows := workflow.NewStore(db, logger.Named("workflow"))
	q := queue.New(db, workflows, logger.Named("queue"))
	templates := template.NewStore(db)
	recorder := usage.NewRecorder(db, logger.Named("usage"))
	monitoring := service.NewMonitoringService(db, logger.Named("monitoring"), m)

	completions := completion.NewOrchestrator(o.provider, o.tokenizer, recorder, logger.Named("completion"),
		completion.WithGeneration(cfg.Generation, cfg.Provider),
		completion.WithStarterTracker(starters),
		completion.WithMetrics(m),
	)

	leaseRefresh := cfg.Redis.LeaseTTL / 3
	if leaseRefresh <= 0 {
		leaseRefresh = 10 * time.Second
	}
	controller := automation.NewController(workflows, q, completions, templates, logger.Named("automation"),
		automation.WithConfig(cfg.Automation),
		automation.WithLeaser(leaser),
		automation.WithLeaseRefresh(leaseRefresh),
		automation.WithErrorReporter(monitoring),
		automation.WithMetrics(m),
	)

	srv := &Server{
		Config:       cfg,
		DB:           db,
		Router:       gin.New(),
		Logger:       logger,
		Redis:        o.redis,
		Registry:     registry,
		Metrics:      m,
		Workflows:    workflows,
		Queue:        q,
		Templates:    templates,
		Usage:        recorder,
		Completions:  completions,
		Automation:   controller,
		Monitoring:   monitoring,
		Scheduler:    service.NewScheduler(&cfg.Automation, logger.Named("scheduler"), controller),
		StatsUpdater: service.NewStatsUpdater(monitoring, workflows, q, m, logger.Named("stats"), cfg.Monitoring.ProgressInterval, cfg.Monitoring.ErrorRetentionDays),
	}

	srv.setupMiddleware()
	srv.setupRoutes()

	return srv, nil
}

func (s *Server) setupMiddleware() {
	s.Router.Use(gin.Recovery())

	s.Router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.Logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()))
	})

	// CORS middleware
	s.Router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Organization-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	})
}

func (s *Server) setupRoutes() {
	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().Unix(),
		})
	})

	if s.Config.Metrics.Enabled {
		s.Router.GET(s.Config.Metrics.Path, gin.WrapH(promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{})))
	}

	api := s.Router.Group("/api/v1")
	{
		workflows := api.Group("/workflows", s.requireOrganization)
		{
			workflows.POST("", s.handleCreateWorkflow)
			workflows.GET("/:id", s.handleGetWorkflow)
			workflows.DELETE("/:id", s.handleDeleteWorkflow)
			workflows.POST("/:id/automation/start", s.handleStartAutomation)
			workflows.POST("/:id/automation/stop", s.handleStopAutomation)
			workflows.GET("/:id/status", s.handleWorkflowStatus)
			workflows.GET("/:id/errors", s.handleWorkflowErrors)
			workflows.POST("/:id/items/:itemId/reset", s.handleResetItem)
		}

		api.POST("/completions", s.requireOrganization, s.handleCompletion)
	}
}

// Start runs the background loops and then serves HTTP until shutdown.
func (s *Server) Start(ctx context.Context) error {
	if err := s.Scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	s.StatsUpdater.Start(ctx)

	addr := fmt.Sprintf("%s:%d", s.Config.Server.Host, s.Config.Server.Port)

	s.Server = &http.Server{
		Addr:    addr,
		Handler: s.Router,
	}

	s.Logger.Info("Starting HTTP server", zap.String("addr", addr))

	var err error
	if s.Config.Server.CertFile != "" && s.Config.Server.KeyFile != "" {
		err = s.Server.ListenAndServeTLS(s.Config.Server.CertFile, s.Config.Server.KeyFile)
	} else {
		err = s.Server.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	// Stop background work first
	s.Scheduler.Stop()
	s.StatsUpdater.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.Automation.Shutdown(shutdownCtx); err != nil {
		s.Logger.Warn("Automation loops did not finish in time", zap.Error(err))
	}

	if s.Redis != nil {
		defer s.Redis.Close()
	}

	if s.Server == nil {
		return nil
	}
	return s.Server.Shutdown(shutdownCtx)
}

// Package server wires the rewrite engine, session store, pipeline, and
// HTTP surface into one runnable unit.
package server

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apihttp "github.com/webveil/webveil/internal/api/http"
	"github.com/webveil/webveil/internal/api/middleware"
	"github.com/webveil/webveil/internal/api/ws"
	"github.com/webveil/webveil/internal/content"
	"github.com/webveil/webveil/internal/infrastructure/config"
	"github.com/webveil/webveil/internal/infrastructure/logging"
	"github.com/webveil/webveil/internal/infrastructure/monitoring"
	"github.com/webveil/webveil/internal/pipeline"
	"github.com/webveil/webveil/internal/rewrite"
	"github.com/webveil/webveil/internal/session"
	"github.com/webveil/webveil/internal/transport"
)

// Server wraps the HTTP server and dependencies.
type Server struct {
	router  *gin.Engine
	store   session.Store
	logger  *logging.Logger
	config  *config.Config
	metrics *monitoring.Metrics
}

// NewServer creates a new server instance. engine may be nil, in which
// case the reference transport engine is used.
func NewServer(cfg *config.Config, engine transport.Engine) (*Server, error) {
	var logger *logging.Logger
	if cfg.Logging.Development {
		logger = logging.NewDevelopment()
	} else {
		logger = logging.NewDefault()
	}

	logger.Info("initializing webveil",
		zap.String("port", cfg.Server.Port),
		zap.String("proxy_base", cfg.Proxy.BaseURL),
	)

	metrics := monitoring.NewMetrics(prometheus.DefaultRegisterer)

	rules, err := config.LoadRules(cfg.Proxy.RulesFile)
	if err != nil {
		return nil, err
	}

	blocklist := rewrite.NewBlocklist(rules.BlockedDomains)
	urlEngine := rewrite.NewEngine(cfg.Proxy.BaseURL, blocklist, logger.Named("rewrite"))

	store := session.NewMemoryStore(session.Config{
		MaxSessions:     cfg.Session.MaxSessions,
		Timeout:         cfg.Session.Timeout,
		SweepInterval:   cfg.Session.SweepInterval,
		EvictionCounter: metrics.SessionsEvicted,
	}, logger.Named("session"))

	transformer := content.NewTransformer(urlEngine, store, content.Options{
		Rules:          declarativeRules(rules),
		InjectScripts:  rules.InjectScripts,
		Minify:         cfg.Proxy.Minify,
		FailureCounter: metrics.RewriteFailures,
	}, logger.Named("content"))

	if engine == nil {
		engine = transport.NewHTTPEngine(transport.HTTPEngineConfig{
			Timeout:    cfg.Proxy.FetchTimeout,
			RetryCount: 2,
			UserAgent:  "Mozilla/5.0 (compatible; webveil/1.0)",
		}, logger.Named("transport"))
	}

	pipe := pipeline.New(logger.Named("pipeline"))
	pipe.InstrumentErrors(metrics.PipelineErrors)
	registerStandardHandlers(pipe, cfg, store, urlEngine, logger)

	if !cfg.Logging.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(monitoring.Middleware(metrics))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	if cfg.RateLimit.Enabled {
		logger.Info("rate limiting enabled",
			zap.Int("rps", cfg.RateLimit.RequestsPerSecond),
			zap.Int("burst", cfg.RateLimit.Burst),
		)
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	codec := transport.IdentityCodec{}
	handlers := apihttp.NewHandlers(store, transformer, pipe, engine, codec, metrics, logger.Named("api"), cfg.Proxy.BaseURL)
	wsHandler := ws.NewHandler(engine, codec, store, logger.Named("ws"))

	router.GET("/", handlers.Root)
	router.GET("/health", handlers.Health)

	// Proxied exchanges
	router.Any("/gateway", handlers.Gateway)
	router.GET("/ws", wsHandler.HandleConnection)

	// Content rewriting for callers holding their own bytes
	router.POST("/rewrite", handlers.RewriteContent)

	// Session endpoints
	router.POST("/sessions", handlers.CreateSession)
	router.GET("/sessions/stats", handlers.SessionStats)
	router.POST("/sessions/import", handlers.ImportSession)
	router.GET("/sessions/:id", handlers.GetSession)
	router.PATCH("/sessions/:id", handlers.UpdateSession)
	router.DELETE("/sessions/:id", handlers.DeleteSession)
	router.GET("/sessions/:id/export", handlers.ExportSession)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	logger.Info("server initialized")

	return &Server{
		router:  router,
		store:   store,
		logger:  logger,
		config:  cfg,
		metrics: metrics,
	}, nil
}

// registerStandardHandlers installs the default pipeline. Registration
// is explicit so operators embedding the core can build their own.
func registerStandardHandlers(pipe *pipeline.Pipeline, cfg *config.Config, store session.Store, urlEngine *rewrite.Engine, logger *logging.Logger) {
	if cfg.RateLimit.Enabled {
		mustUse(pipe, pipeline.PhaseRequest, pipeline.RateLimiter(pipeline.RateLimitConfig{
			Window:      cfg.RateLimit.Window,
			MaxRequests: cfg.RateLimit.MaxPerWindow,
		}))
	}
	mustUse(pipe, pipeline.PhaseRequest, pipeline.HeaderCorrection())

	mustUse(pipe, pipeline.PhaseResponse, pipeline.GzipDecode())
	mustUse(pipe, pipeline.PhaseResponse, pipeline.ContentTypeDetection())
	mustUse(pipe, pipeline.PhaseResponse, pipeline.SecurityHeaders("webveil"))
	mustUse(pipe, pipeline.PhaseResponse, pipeline.CookieManager(store))

	mustUse(pipe, pipeline.PhaseError, pipeline.ErrorHandler(logger.Named("errors")))
}

func mustUse(pipe *pipeline.Pipeline, phase pipeline.Phase, h pipeline.Handler) {
	if err := pipe.Use(phase, h); err != nil {
		// Only reachable through a typo'd phase constant.
		panic(err)
	}
}

func declarativeRules(rules *config.Rules) []content.Rule {
	out := make([]content.Rule, 0, len(rules.Rewrite))
	for _, r := range rules.Rewrite {
		out = append(out, content.Rule{
			Selector:  r.Selector,
			XPath:     r.XPath,
			Attribute: r.Attribute,
		})
	}
	return out
}

// Run starts the HTTP server.
func (s *Server) Run() error {
	addr := s.config.Server.Host + ":" + s.config.Server.Port
	s.logger.Info("starting HTTP server", zap.String("addr", addr))
	return s.router.Run(addr)
}

// Close gracefully shuts down the server.
func (s *Server) Close() error {
	s.logger.Info("shutting down server")
	s.store.Close()
	s.logger.Sync()
	return nil
}

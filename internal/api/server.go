// Package api exposes the control surface: health queries, alerts,
// strategy stats, predictions and a live WebSocket feed.
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"datafeed-sentinel/internal/alerting"
	"datafeed-sentinel/internal/auth"
	"datafeed-sentinel/internal/classify"
	"datafeed-sentinel/internal/database"
	"datafeed-sentinel/internal/events"
	"datafeed-sentinel/internal/healing"
	"datafeed-sentinel/internal/health"
	"datafeed-sentinel/internal/learning"
	"datafeed-sentinel/internal/monitor"
)

// RateLimiter provides simple in-memory rate limiting per endpoint
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}

	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}

	r.requests[key] = append(recent, now)
	return true
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           int
	Host           string
	ProductionMode bool
	AllowOrigins   []string
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	config      ServerConfig
	log         zerolog.Logger
	rateLimiter *RateLimiter

	tracker    *health.Tracker
	registry   *healing.Registry
	learner    *learning.Learner
	alerts     *alerting.Manager
	monitor    *monitor.Monitor
	repo       *database.Repository // nil when persistence is disabled
	bus        *events.Bus
	jwtManager *auth.JWTManager // nil when auth is disabled
	promReg    *prometheus.Registry
	hub        *WSHub
}

// Deps bundles the server's collaborators
type Deps struct {
	Tracker    *health.Tracker
	Registry   *healing.Registry
	Learner    *learning.Learner
	Alerts     *alerting.Manager
	Monitor    *monitor.Monitor
	Repo       *database.Repository
	Bus        *events.Bus
	JWTManager *auth.JWTManager
	PromReg    *prometheus.Registry
	Logger     zerolog.Logger
}

// NewServer creates a new API server
func NewServer(config ServerConfig, deps Deps) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.DefaultConfig()
	if len(config.AllowOrigins) > 0 {
		corsConfig.AllowOrigins = config.AllowOrigins
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:5173", "http://localhost:8080"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	server := &Server{
		router:      router,
		config:      config,
		log:         deps.Logger.With().Str("component", "api").Logger(),
		rateLimiter: NewRateLimiter(120, time.Minute),
		tracker:     deps.Tracker,
		registry:    deps.Registry,
		learner:     deps.Learner,
		alerts:      deps.Alerts,
		monitor:     deps.Monitor,
		repo:        deps.Repo,
		bus:         deps.Bus,
		jwtManager:  deps.JWTManager,
		promReg:     deps.PromReg,
	}

	server.hub = NewWSHub(server.log)
	go server.hub.Run()
	if deps.Bus != nil {
		deps.Bus.SubscribeAll(server.hub.BroadcastEvent)
	}

	server.setupRoutes()
	return server
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		if !s.rateLimiter.Allow(path) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
				"path":  path,
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	if s.promReg != nil {
		s.router.GET("/metrics", gin.WrapH(
			promhttp.HandlerFor(s.promReg, promhttp.HandlerOpts{})))
	}

	api := s.router.Group("/api")
	api.Use(s.rateLimitMiddleware())
	if s.jwtManager != nil {
		api.Use(auth.Middleware(s.jwtManager))
	}
	{
		api.GET("/sources/health", s.handleGetAllHealth)
		api.GET("/sources/:source/health", s.handleGetSourceHealth)
		api.GET("/sources/:source/errors", s.handleGetSourceErrors)
		api.GET("/errors", s.handleGetErrors)

		api.GET("/alerts", s.handleGetAlerts)
		api.GET("/strategies", s.handleGetStrategies)
		api.GET("/predictions", s.handleGetPredictions)
		api.GET("/knowledge", s.handleGetKnowledge)

		targets := api.Group("/targets")
		if s.jwtManager != nil {
			targets.Use(auth.RequireOperator())
		}
		{
			targets.POST("/:source/:endpoint/pause", s.handlePauseTarget)
			targets.POST("/:source/:endpoint/resume", s.handleResumeTarget)
			targets.POST("/:source/:endpoint/check", s.handleCheckTarget)
		}
	}

	s.router.GET("/ws", s.handleWebSocket)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.log.Info().Str("addr", addr).Msg("starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// handleHealth reports the sentinel's own liveness, not the sources'
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	dbStatus := "disabled"
	if s.repo != nil {
		dbStatus = "healthy"
		if err := s.repo.HealthCheck(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":   "unhealthy",
				"database": "unhealthy",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": dbStatus,
	})
}

func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}

func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    data,
	})
}

// used by handlers that touch persisted data
func (s *Server) recentErrors(ctx context.Context, source string, limit int) ([]classify.ErrorEvent, error) {
	if s.repo == nil {
		return nil, nil
	}
	return s.repo.RecentErrorEvents(ctx, source, limit)
}

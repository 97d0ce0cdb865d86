package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/edge-scanner-api/internal/config"
	"github.com/edge-scanner-api/internal/metrics"
	"github.com/edge-scanner-api/internal/ranges"
	"github.com/edge-scanner-api/internal/results"
	"github.com/edge-scanner-api/internal/scanner"
	"github.com/edge-scanner-api/internal/snapshot"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

type Server struct {
	config      *config.Config
	scanner     *scanner.Scanner
	snapshot    *snapshot.Manager
	metrics     *metrics.Collector
	router      *gin.Engine
	httpServer  *http.Server
	rateLimiter *RateLimiter
}

type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
}

func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	rps := float64(requestsPerMinute) / 60.0
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(rps),
		burst:    requestsPerMinute / 10, // Allow bursts
	}
}

func (rl *RateLimiter) GetLimiter(key string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[key]
	rl.mu.RUnlock()

	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := rl.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rl.rate, rl.burst)
	rl.limiters[key] = limiter

	return limiter
}

func NewServer(cfg *config.Config, scn *scanner.Scanner, snap *snapshot.Manager, metricsCollector *metrics.Collector) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		config:      cfg,
		scanner:     scn,
		snapshot:    snap,
		metrics:     metricsCollector,
		router:      router,
		rateLimiter: NewRateLimiter(cfg.API.RateLimitPerMinute),
	}

	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(s.loggingMiddleware())
	s.router.Use(s.metricsMiddleware())

	// Public endpoints
	s.router.GET("/health", s.handleHealth)

	// Metrics endpoint (usually scraped by Prometheus)
	if s.config.Metrics.Enabled {
		s.router.GET(s.config.Metrics.Endpoint, gin.WrapH(promhttp.Handler()))
	}

	// Protected endpoints
	protected := s.router.Group("/")
	if s.config.API.EnableAPIKeyAuth {
		protected.Use(s.authMiddleware())
	}
	if s.config.API.EnableIPRateLimit {
		protected.Use(s.rateLimitMiddleware())
	}

	protected.POST("/scan/start", s.handleScanStart)
	protected.POST("/scan/stop", s.handleScanStop)
	protected.GET("/scan/status", s.handleScanStatus)
	protected.GET("/results", s.handleResults)
	protected.GET("/results/stream", s.handleResultsStream)
	protected.GET("/results/export.csv", s.handleExportCSV)
	protected.GET("/results/clean", s.handleCleanList)
	protected.GET("/thresholds", s.handleThresholds)
	protected.GET("/snapshot", s.handleSnapshot)
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.config.API.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // streaming endpoint manages its own lifetime
		IdleTimeout:  60 * time.Second,
	}

	log.Infof("Starting API server on %s", s.config.API.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}

// Middleware

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()

		log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     path,
			"status":   statusCode,
			"duration": duration.Milliseconds(),
			"ip":       c.ClientIP(),
		}).Info("API request")
	}
}

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		s.metrics.RecordAPIRequest(method, path, status)
		s.metrics.RecordAPIDuration(method, path, duration)
	}
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	expectedKey := os.Getenv(s.config.API.APIKeyEnv)
	if expectedKey == "" {
		log.Warn("API key not set in environment, authentication disabled")
	}

	return func(c *gin.Context) {
		if expectedKey == "" {
			c.Next()
			return
		}

		// Check header first
		apiKey := c.GetHeader("X-Api-Key")
		if apiKey == "" {
			// Check query parameter
			apiKey = c.Query("key")
		}

		if apiKey != expectedKey {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or missing API key",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		limiter := s.rateLimiter.GetLimiter(ip)

		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// Handlers

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

func (s *Server) handleScanStart(c *gin.Context) {
	var params scanner.ScanParams
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&params); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid scan parameters"})
			return
		}
	}

	session, err := s.scanner.StartScan(context.Background(), params)
	if err != nil {
		if errors.Is(err, ranges.ErrRangeListUnavailable) {
			// Fatal to this scan only; the system stays ready to retry.
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message":     "Scan started",
		"candidates":  len(session.Candidates),
		"count":       session.Params.Count,
		"concurrency": session.Params.Concurrency,
		"timeout_ms":  session.Params.TimeoutMs,
	})
}

func (s *Server) handleScanStop(c *gin.Context) {
	s.scanner.StopScan()
	c.JSON(http.StatusOK, gin.H{"message": "Stop requested"})
}

func (s *Server) handleScanStatus(c *gin.Context) {
	session := s.scanner.Session()
	if session == nil {
		c.JSON(http.StatusOK, gin.H{"state": "idle"})
		return
	}

	state := "running"
	if !session.Running() {
		state = "finished"
		if session.Stopped() {
			state = "stopped"
		}
	}

	summary := session.Aggregator.Summarize(s.threshold(c))
	c.JSON(http.StatusOK, gin.H{
		"state":      state,
		"candidates": len(session.Candidates),
		"elapsed_ms": session.Elapsed().Milliseconds(),
		"summary":    summary,
	})
}

func (s *Server) handleResults(c *gin.Context) {
	session := s.scanner.Session()
	if session == nil {
		c.JSON(http.StatusOK, gin.H{"results": []results.ClassifiedResult{}})
		return
	}

	threshold := s.threshold(c)
	mode := results.ParseSortMode(c.Query("sort"))
	view := session.Aggregator.Sorted(mode, threshold)

	c.JSON(http.StatusOK, gin.H{
		"sort":         mode,
		"threshold_ms": threshold,
		"summary":      session.Aggregator.Summarize(threshold),
		"results":      view,
	})
}

func (s *Server) handleResultsStream(c *gin.Context) {
	updates, cancel := s.scanner.Subscribe()
	defer cancel()

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")

	clientGone := c.Request.Context().Done()
	c.Stream(func(w io.Writer) bool {
		select {
		case <-clientGone:
			return false
		case u, ok := <-updates:
			if !ok {
				return false
			}
			c.SSEvent("result", u)
			return true
		}
	})
}

func (s *Server) handleExportCSV(c *gin.Context) {
	session := s.scanner.Session()
	if session == nil {
		c.String(http.StatusOK, "ip,ping_ms,clean")
		return
	}

	view := session.Aggregator.Sorted(results.ParseSortMode(c.Query("sort")), s.threshold(c))
	c.Header("Content-Disposition", `attachment; filename="scan.csv"`)
	c.Data(http.StatusOK, "text/csv", []byte(results.ExportCSV(view)))
}

func (s *Server) handleCleanList(c *gin.Context) {
	session := s.scanner.Session()
	if session == nil {
		c.String(http.StatusOK, "")
		return
	}

	view := session.Aggregator.Sorted(results.LatencyAscending, s.threshold(c))
	c.String(http.StatusOK, results.CleanList(view))
}

// handleThresholds serves the classification boundaries for the
// presentation layer. They are read per request, never cached by the
// engine.
func (s *Server) handleThresholds(c *gin.Context) {
	t := s.config.Thresholds
	c.JSON(http.StatusOK, gin.H{
		"default_ms": t.DefaultMs,
		"green_ms":   t.GreenMs,
		"yellow_ms":  t.YellowMs,
		"red_ms":     t.RedMs,
	})
}

func (s *Server) handleSnapshot(c *gin.Context) {
	snap := s.snapshot.Get()
	c.JSON(http.StatusOK, snap)
}

func (s *Server) threshold(c *gin.Context) int64 {
	if raw := c.Query("threshold"); raw != "" {
		if v, err := strconv.ParseInt(raw, 10, 64); err == nil && v > 0 {
			return v
		}
	}
	return int64(s.config.Thresholds.DefaultMs)
}

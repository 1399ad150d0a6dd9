package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rawblock/fundflow-engine/internal/alerts"
	"github.com/rawblock/fundflow-engine/internal/analysis"
	"github.com/rawblock/fundflow-engine/internal/db"
	"github.com/rawblock/fundflow-engine/pkg/models"
)

// ReportStore persists finished reports. Both db.PostgresStore and
// db.MemoryStore satisfy it.
type ReportStore interface {
	SaveReport(ctx context.Context, r *analysis.Report) error
	GetReport(ctx context.Context, id string) (*analysis.Report, error)
	ListReports(ctx context.Context, address string, limit int) ([]db.ReportSummary, error)
}

// HistoryProvider fetches an address's transactions from a chain source.
type HistoryProvider interface {
	AddressHistory(ctx context.Context, address string, limit int) ([]models.Transaction, error)
}

// Deps is everything the router serves from. Engine is required; the rest
// degrade when nil (in-memory store, no alerts, 503 on bitcoin routes).
type Deps struct {
	Engine         *analysis.Engine
	BitcoinEngine  *analysis.Engine // BTC-denominated engine for /bitcoin; falls back to Engine
	Store          ReportStore
	Persistent     bool // Store survives restarts
	Bitcoin        HistoryProvider
	BitcoinLimit   int
	Alerts         *alerts.Manager
	Hub            *Hub
	AuthToken      string
	AllowedOrigins []string
	RateLimiter    *RateLimiter
	Logger         *zap.Logger
}

type APIHandler struct {
	engine     *analysis.Engine
	btcEngine  *analysis.Engine
	store      ReportStore
	persistent bool
	btc        HistoryProvider
	btcLimit   int
	alerts     *alerts.Manager
	hub        *Hub
	logger     *zap.Logger
}

// SetupRouter builds the gin engine with CORS, auth and rate limiting.
func SetupRouter(d Deps) *gin.Engine {
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("api")

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger), corsMiddleware(d.AllowedOrigins))

	handler := &APIHandler{
		engine:     d.Engine,
		btcEngine:  d.BitcoinEngine,
		store:      d.Store,
		persistent: d.Persistent,
		btc:        d.Bitcoin,
		btcLimit:   d.BitcoinLimit,
		alerts:     d.Alerts,
		hub:        d.Hub,
		logger:     logger,
	}
	if handler.btcEngine == nil {
		handler.btcEngine = d.Engine
	}
	if handler.store == nil {
		handler.store = db.NewMemoryStore()
	}
	limiter := d.RateLimiter
	if limiter == nil {
		limiter = NewRateLimiter(0, 0)
	}

	api := r.Group("/api/v1")
	{
		api.GET("/health", handler.handleHealth)
		api.GET("/patterns", handler.handlePatterns)
		if d.Hub != nil {
			api.GET("/stream", d.Hub.Subscribe)
		}

		protected := api.Group("")
		protected.Use(AuthMiddleware(d.AuthToken, logger), limiter.Middleware())
		{
			protected.POST("/analyze", handler.handleAnalyze)
			protected.POST("/analyze/patterns", handler.handleAnalyzePatterns)
			protected.POST("/analyze/anomalies", handler.handleAnalyzeAnomalies)
			protected.POST("/analyze/risk", handler.handleAnalyzeRisk)
			protected.POST("/analyze/narrative", handler.handleAnalyzeNarrative)

			protected.GET("/reports", handler.handleListReports)
			protected.GET("/reports/:id", handler.handleGetReport)
			protected.GET("/alerts", handler.handleRecentAlerts)

			protected.GET("/bitcoin/:address", handler.handleBitcoinAddress)
		}
	}

	return r
}

// corsMiddleware allows every origin when the list is empty or "*".
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*") {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else if originAllowed(allowedOrigins, origin) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Vary", "Origin")
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func originAllowed(allowed []string, origin string) bool {
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		logger.Debug("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.String("ip", c.ClientIP()))
	}
}

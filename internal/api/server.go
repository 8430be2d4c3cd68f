// Package api exposes the decision pipeline over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	apperrors "ensemble-trader/internal/errors"
	"ensemble-trader/internal/logging"
	"ensemble-trader/internal/models"
	"ensemble-trader/internal/resilience"
	"ensemble-trader/internal/security"
	"ensemble-trader/internal/store"
	"ensemble-trader/internal/trading"
)

// Pipeline is the part of the decision pipeline the API drives.
type Pipeline interface {
	Snapshot(ctx context.Context, symbol string) (models.MarketSnapshot, error)
	Analyze(ctx context.Context, snap models.MarketSnapshot) (models.Decision, error)
	Trade(ctx context.Context, snap models.MarketSnapshot) (*trading.Result, error)
}

// ModeSettings reads and changes the execution mode.
type ModeSettings interface {
	ExecutionMode(ctx context.Context) (models.ExecutionMode, error)
	SetExecutionMode(ctx context.Context, raw string) (models.ExecutionMode, error)
}

// TradeHistory lists logged trades.
type TradeHistory interface {
	RecentTrades(ctx context.Context, filter store.TradeFilter) ([]models.TradeRecord, error)
}

// PositionLister lists virtual positions.
type PositionLister interface {
	Positions(ctx context.Context) ([]models.VirtualPosition, error)
}

// HealthChecker reports component health.
type HealthChecker interface {
	Check(ctx context.Context) resilience.SystemHealth
}

// Deps holds the server's collaborators. Health is optional.
type Deps struct {
	Pipeline  Pipeline
	Settings  ModeSettings
	Trades    TradeHistory
	Positions PositionLister
	Health    HealthChecker
}

// Server serves the HTTP API.
type Server struct {
	deps   Deps
	engine *gin.Engine
	server *http.Server
	logger zerolog.Logger
}

// NewServer builds the router.
func NewServer(deps Deps, addr string, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		deps:   deps,
		engine: gin.New(),
		logger: logging.WithComponent(logger, "api"),
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())
	s.routes()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP server starting")

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info().Msg("HTTP server stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) routes() {
	r := s.engine
	r.GET("/health", s.health)
	r.POST("/analyze", s.analyze)
	r.POST("/analyze/:symbol", s.analyzeSymbol)
	r.POST("/trade/:symbol", s.tradeSymbol)
	r.GET("/config/trading_mode", s.getTradingMode)
	r.POST("/config/trading_mode", s.setTradingMode)
	r.GET("/trades/recent", s.recentTrades)
	r.GET("/positions", s.positions)
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Str("ip", c.ClientIP()).
			Msg("HTTP request")
	}
}

func (s *Server) health(c *gin.Context) {
	if s.deps.Health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	h := s.deps.Health.Check(c.Request.Context())
	status, code := "ok", http.StatusOK
	switch h.Status {
	case resilience.HealthStatusDegraded:
		status = "degraded"
	case resilience.HealthStatusUnhealthy:
		status, code = "unhealthy", http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":         status,
		"uptime_seconds": int64(h.Uptime.Seconds()),
		"components":     h.Components,
	})
}

func (s *Server) analyze(c *gin.Context) {
	var snap models.MarketSnapshot
	if err := c.ShouldBindJSON(&snap); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	d, err := s.deps.Pipeline.Analyze(c.Request.Context(), snap)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

func (s *Server) analyzeSymbol(c *gin.Context) {
	snap, ok := s.snapshot(c)
	if !ok {
		return
	}
	d, err := s.deps.Pipeline.Analyze(c.Request.Context(), snap)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// TradeResponse is the body returned by POST /trade/{symbol}.
type TradeResponse struct {
	Symbol   string                   `json:"symbol"`
	Decision models.Decision          `json:"decision"`
	OrderID  *string                  `json:"order_id"`
	Receipt  *models.ExecutionReceipt `json:"receipt,omitempty"`
	Error    string                   `json:"error,omitempty"`
}

func (s *Server) tradeSymbol(c *gin.Context) {
	snap, ok := s.snapshot(c)
	if !ok {
		return
	}
	res, err := s.deps.Pipeline.Trade(c.Request.Context(), snap)
	if err != nil {
		s.fail(c, err)
		return
	}

	resp := TradeResponse{Symbol: snap.Symbol, Decision: res.Decision, Receipt: res.Receipt}
	if id := res.OrderID(); id != "" {
		resp.OrderID = &id
	}
	if res.ExecError != nil {
		resp.Error = res.ExecError.Error()
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) getTradingMode(c *gin.Context) {
	mode, err := s.deps.Settings.ExecutionMode(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"mode": mode})
}

type modeUpdate struct {
	Mode string `json:"mode" binding:"required"`
}

func (s *Server) setTradingMode(c *gin.Context) {
	var req modeUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}
	mode, err := s.deps.Settings.SetExecutionMode(c.Request.Context(), req.Mode)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrInputValidation) {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "invalid trading mode"})
			return
		}
		s.fail(c, err)
		return
	}
	s.logger.Info().Str("mode", string(mode)).Msg("Trading mode changed")
	c.JSON(http.StatusOK, gin.H{"mode": mode})
}

func (s *Server) recentTrades(c *gin.Context) {
	limit := store.DefaultTradeLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"detail": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	trades, err := s.deps.Trades.RecentTrades(c.Request.Context(), store.TradeFilter{Limit: limit})
	if err != nil {
		s.logger.Warn().Err(err).Msg("Listing trades failed")
		trades = []models.TradeRecord{}
	}
	c.JSON(http.StatusOK, trades)
}

func (s *Server) positions(c *gin.Context) {
	positions, err := s.deps.Positions.Positions(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, positions)
}

func (s *Server) snapshot(c *gin.Context) (models.MarketSnapshot, bool) {
	symbol, err := security.NormalizeSymbol(c.Param("symbol"))
	if err != nil {
		s.fail(c, err)
		return models.MarketSnapshot{}, false
	}
	snap, err := s.deps.Pipeline.Snapshot(c.Request.Context(), symbol)
	if err != nil {
		s.fail(c, err)
		return models.MarketSnapshot{}, false
	}
	return snap, true
}

// fail maps err to a status code and writes it.
func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	var cfgErr *apperrors.ConfigError
	var brokerErr *apperrors.BrokerError
	switch {
	case apperrors.Is(err, apperrors.ErrInputValidation):
		status = http.StatusBadRequest
	case apperrors.Is(err, apperrors.ErrSymbolNotFound):
		status = http.StatusNotFound
	case apperrors.As(err, &cfgErr):
		status = http.StatusServiceUnavailable
	case apperrors.As(err, &brokerErr):
		status = http.StatusBadGateway
	}
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
	}
	c.JSON(status, gin.H{"detail": err.Error()})
}

// Package server exposes the ops HTTP surface: liveness and readiness
// probes plus the manual backfill trigger.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/hazelchat/hazelsync/internal/chatsync"
	"github.com/hazelchat/hazelsync/internal/healthcheck"
	"github.com/hazelchat/hazelsync/internal/models"
)

// Sweeper runs a backfill pass on demand.
type Sweeper interface {
	SyncAllActiveConnections(ctx context.Context, provider models.Provider, maxPerChannel int) ([]chatsync.ConnectionSummary, error)
}

// Server wraps the echo instance bound to the ops routes.
type Server struct {
	echo    *echo.Echo
	addr    string
	logger  *slog.Logger
	health  *healthcheck.Registry
	sweeper Sweeper
}

// NewServer builds the ops server.
func NewServer(log *slog.Logger, addr string, health *healthcheck.Registry, sweeper Sweeper) *Server {
	if addr == "" {
		addr = ":8090"
	}
	logger := log.With(slog.String("component", "server"))

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("request",
				slog.String("method", v.Method),
				slog.String("uri", v.URI),
				slog.Int("status", v.Status),
				slog.Duration("latency", v.Latency),
				slog.String("remote_ip", c.RealIP()),
			)
			return nil
		},
	}))

	s := &Server{
		echo:    e,
		addr:    addr,
		logger:  logger,
		health:  health,
		sweeper: sweeper,
	}
	e.GET("/healthz", s.handleHealthz)
	e.GET("/readyz", s.handleReadyz)
	e.POST("/api/sync/backfill", s.handleBackfill)
	return s
}

func (s *Server) Start() error                   { return s.echo.Start(s.addr) }
func (s *Server) Stop(ctx context.Context) error { return s.echo.Shutdown(ctx) }

func (s *Server) handleHealthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": healthcheck.StatusOK})
}

// handleReadyz runs the registered checks. Warnings keep the service ready;
// only a failed check flips it to 503.
func (s *Server) handleReadyz(c echo.Context) error {
	report := s.health.RunChecks(c.Request().Context())
	code := http.StatusOK
	if report.Status == healthcheck.StatusError {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, report)
}

type backfillRequest struct {
	Provider      string `json:"provider"`
	MaxPerChannel int    `json:"max_per_channel"`
}

type backfillResponse struct {
	Provider    string                       `json:"provider"`
	Connections []chatsync.ConnectionSummary `json:"connections"`
}

// handleBackfill sweeps every active connection of one provider right now,
// with the same semantics as the scheduled sweep.
func (s *Server) handleBackfill(c echo.Context) error {
	var req backfillRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	provider := models.Provider(strings.TrimSpace(req.Provider))
	if !provider.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "unknown provider")
	}

	summaries, err := s.sweeper.SyncAllActiveConnections(c.Request().Context(), provider, req.MaxPerChannel)
	if err != nil {
		s.logger.Error("manual backfill failed",
			slog.String("provider", provider.String()),
			slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "backfill failed")
	}
	if summaries == nil {
		summaries = []chatsync.ConnectionSummary{}
	}
	return c.JSON(http.StatusOK, backfillResponse{
		Provider:    provider.String(),
		Connections: summaries,
	})
}

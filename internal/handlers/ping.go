package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/icf-orlp-cals-open/adapt-authoring/internal/records"
	"github.com/icf-orlp-cals-open/adapt-authoring/internal/version"
)

// PingHandler serves /ping and /health for liveness and readiness.
type PingHandler struct {
	databases records.Databases
	logger    *slog.Logger
}

// NewPingHandler creates a ping handler. Health reports the master database as unavailable when databases is nil.
func NewPingHandler(log *slog.Logger, databases records.Databases) *PingHandler {
	return &PingHandler{databases: databases, logger: log.With(slog.String("handler", "ping"))}
}

// Register mounts GET /ping and GET/HEAD /health on the Echo instance.
func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.GET("/health", h.Health)
	e.HEAD("/health", h.Health)
}

// Ping returns 200 JSON {"status":"ok","version":...}.
func (h *PingHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]any{
		"status":  "ok",
		"version": version.Get(),
	})
}

// Health returns 200 when the master record database resolves, 503 otherwise.
func (h *PingHandler) Health(c echo.Context) error {
	if h.databases == nil {
		return c.NoContent(http.StatusServiceUnavailable)
	}
	if _, err := h.databases.Master(c.Request().Context()); err != nil {
		h.logger.Warn("health check failed", slog.Any("error", err))
		return c.NoContent(http.StatusServiceUnavailable)
	}
	return c.NoContent(http.StatusOK)
}

package handlers

import (
	"log/slog"

	"github.com/labstack/echo/v4"

	"github.com/icf-orlp-cals-open/adapt-authoring/internal/metrics"
)

// MetricsHandler exposes prometheus metrics at GET /metrics.
type MetricsHandler struct {
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func NewMetricsHandler(log *slog.Logger, m *metrics.Metrics) *MetricsHandler {
	return &MetricsHandler{metrics: m, logger: log.With(slog.String("handler", "metrics"))}
}

func (h *MetricsHandler) Register(e *echo.Echo) {
	e.GET("/metrics", echo.WrapHandler(h.metrics.Handler()))
}

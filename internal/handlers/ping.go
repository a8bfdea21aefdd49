package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/safesend/safesend/internal/version"
)

// ProbeFunc checks an optional dependency, such as the video encoder.
type ProbeFunc func(ctx context.Context) error

// PingHandler serves liveness and readiness checks.
type PingHandler struct {
	videoProbe ProbeFunc
	timeout    time.Duration
	logger     *slog.Logger
}

// HealthResponse is the GET /health body.
type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Video   string `json:"video"`
}

// NewPingHandler creates a ping handler. videoProbe may be nil.
func NewPingHandler(log *slog.Logger, videoProbe ProbeFunc) *PingHandler {
	return &PingHandler{
		videoProbe: videoProbe,
		timeout:    5 * time.Second,
		logger:     log.With(slog.String("handler", "ping")),
	}
}

// Register mounts GET /ping, GET /health and HEAD /health.
func (h *PingHandler) Register(e *echo.Echo) {
	e.GET("/ping", h.Ping)
	e.GET("/health", h.Health)
	e.HEAD("/health", h.PingHead)
}

// Ping returns 200 JSON {"status":"ok"}.
func (h *PingHandler) Ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Health reports whether videos can currently be processed. Images need no
// external tool, so the service stays "ok" either way.
func (h *PingHandler) Health(c echo.Context) error {
	resp := HealthResponse{Status: "ok", Version: version.GetInfo(), Video: "available"}
	if h.videoProbe == nil {
		resp.Video = "unavailable"
		return c.JSON(http.StatusOK, resp)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.timeout)
	defer cancel()
	if err := h.videoProbe(ctx); err != nil {
		h.logger.Warn("video probe failed", slog.Any("error", err))
		resp.Video = "unavailable"
	}
	return c.JSON(http.StatusOK, resp)
}

// PingHead returns 200 No Content for health checks.
func (h *PingHandler) PingHead(c echo.Context) error {
	return c.NoContent(http.StatusOK)
}

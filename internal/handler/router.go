package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zhouzirui/chzzk-tts/internal/handler/status"
	"github.com/zhouzirui/chzzk-tts/internal/handler/stream"
)

// NewRouter wires the status surface: health, session snapshot, metrics and
// the live event feed.
func NewRouter(provider status.Provider, hub *stream.Hub, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	status.New(provider).RegisterRoutes(r)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	if hub != nil {
		stream.New(hub, nil, logger).RegisterRoutes(r)
	}

	return r
}

package stream

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"

	"github.com/zhouzirui/chzzk-tts/pkg/utils"
)

const heartbeatInterval = 15 * time.Second

// Handler 通过 Server-Sent Events 向 HTTP 客户端推送聊天事件
type Handler struct {
	hub    *Hub
	clock  clockwork.Clock
	logger *slog.Logger
}

// New 创建推送处理器，clock 为 nil 时使用真实时钟
func New(hub *Hub, clock clockwork.Clock, logger *slog.Logger) *Handler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{hub: hub, clock: clock, logger: logger.With("component", "sse")}
}

// RegisterRoutes 注册事件推送路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/events", h.handleEvents)
}

func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events, cancel := h.hub.Subscribe()
	defer cancel()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	if err := utils.SendSSEComment(w, flusher, "connected"); err != nil {
		return
	}

	ctx := r.Context()
	h.logger.Debug("sse client connected", slog.String("remote", r.RemoteAddr))
	defer h.logger.Debug("sse client disconnected", slog.String("remote", r.RemoteAddr))

	ticker := h.clock.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		case e := <-events:
			if err := utils.SendSSEEvent(w, flusher, string(e.Kind), e); err != nil {
				return
			}
		}
	}
}

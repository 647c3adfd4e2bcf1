package status

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	chatmodel "github.com/zhouzirui/chzzk-tts/internal/model/chat"
	"github.com/zhouzirui/chzzk-tts/pkg/utils"
)

// Provider 提供当前连接状态快照
type Provider interface {
	Status() chatmodel.Status
}

// Handler 健康检查与状态查询
type Handler struct {
	provider Provider
}

// New 创建状态处理器
func New(provider Provider) *Handler {
	return &Handler{provider: provider}
}

// RegisterRoutes 注册状态相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Get("/status", h.handleStatus)
}

func (h *Handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus 连接终止后返回 503，便于外部探活
func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	if h.provider == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "chat client unavailable")
		return
	}
	st := h.provider.Status()
	code := http.StatusOK
	if st.Terminated {
		code = http.StatusServiceUnavailable
	}
	utils.RespondJSON(w, code, st)
}

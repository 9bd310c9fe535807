package settings

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/manomitra-client/internal/config"
	"github.com/zhouzirui/manomitra-client/internal/model/protocol"
	sessionsvc "github.com/zhouzirui/manomitra-client/internal/service/session"
	"github.com/zhouzirui/manomitra-client/pkg/utils"
)

// Handler 用户设置的HTTP处理器
type Handler struct {
	engine *sessionsvc.Engine
}

// New 创建设置处理器
func New(engine *sessionsvc.Engine) *Handler {
	return &Handler{engine: engine}
}

// RegisterRoutes 注册设置相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/settings", h.handleGet)
	r.Put("/settings", h.handleUpdate)
}

// update 字段为空表示保持不变
type update struct {
	Language           *string  `json:"language"`
	AudioOutputEnabled *bool    `json:"audioOutputEnabled"`
	VoiceSpeed         *float64 `json:"voiceSpeed"`
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.engine.Settings())
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var payload update
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var language protocol.Language
	if payload.Language != nil {
		lang, ok := protocol.ParseLanguage(*payload.Language)
		if !ok {
			utils.RespondError(w, http.StatusBadRequest, fmt.Sprintf("unsupported language %q", *payload.Language))
			return
		}
		language = lang
	}
	if payload.VoiceSpeed != nil && (*payload.VoiceSpeed < config.MinVoiceSpeed || *payload.VoiceSpeed > config.MaxVoiceSpeed) {
		utils.RespondError(w, http.StatusBadRequest, fmt.Sprintf("voiceSpeed must be within [%.1f, %.1f]", config.MinVoiceSpeed, config.MaxVoiceSpeed))
		return
	}

	settings, err := h.engine.UpdateSettings(func(s *config.Settings) {
		if language != "" {
			s.Language = language
		}
		if payload.AudioOutputEnabled != nil {
			s.AudioOutputEnabled = *payload.AudioOutputEnabled
		}
		if payload.VoiceSpeed != nil {
			s.VoiceSpeed = *payload.VoiceSpeed
		}
	})
	if err != nil {
		// applied in memory, only persisting failed
		utils.RespondJSON(w, http.StatusOK, map[string]any{"settings": settings, "warning": err.Error()})
		return
	}
	utils.RespondJSON(w, http.StatusOK, settings)
}

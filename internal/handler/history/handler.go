package history

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/manomitra-client/internal/logging"
	"github.com/zhouzirui/manomitra-client/internal/model/conversation"
	"github.com/zhouzirui/manomitra-client/internal/service/export"
	sessionsvc "github.com/zhouzirui/manomitra-client/internal/service/session"
	"github.com/zhouzirui/manomitra-client/pkg/utils"
)

// maxImportBytes bounds uploaded snapshots.
const maxImportBytes = 8 << 20

// Handler 对话历史的HTTP处理器
type Handler struct {
	engine *sessionsvc.Engine
	logger zerolog.Logger
}

// New 创建历史处理器
func New(engine *sessionsvc.Engine, logger zerolog.Logger) *Handler {
	return &Handler{
		engine: engine,
		logger: logging.Component(logger, "history-api"),
	}
}

// RegisterRoutes 注册历史相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/history", func(r chi.Router) {
		r.Get("/", h.handleList)
		r.Delete("/", h.handleClear)
		r.Get("/stats", h.handleStats)
		r.Get("/export", h.handleExport)
		r.Post("/import", h.handleImport)
	})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	criteria, err := parseCriteria(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	turns := h.engine.History(criteria)
	if turns == nil {
		turns = []conversation.Turn{}
	}
	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"turns": turns,
		"count": len(turns),
	})
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.engine.Statistics())
}

// handleExport downloads the log, filtered by the same query as the list.
func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	criteria, err := parseCriteria(r)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	var filter *conversation.Criteria
	if !criteria.IsZero() {
		filter = &criteria
	}
	doc := h.engine.Export(filter)

	name := fmt.Sprintf("conversation-%s.json", doc.ExportedAt.Format("20060102-150405"))
	contentType := "application/json"
	if r.URL.Query().Get("compress") == "gzip" {
		name += ".gz"
		contentType = "application/gzip"
	}

	body, err := export.Encode(name, doc)
	if err != nil {
		h.logger.Error().Err(err).Msg("encode export")
		utils.RespondError(w, http.StatusInternalServerError, "export failed")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(body); err != nil {
		h.logger.Warn().Err(err).Msg("write export")
	}
}

// handleImport validates an uploaded snapshot and returns its turns without touching the log.
func (h *Handler) handleImport(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxImportBytes))
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	doc, err := export.Unmarshal(data)
	if err != nil {
		utils.RespondError(w, http.StatusBadRequest, err.Error())
		return
	}

	turns, err := export.ImportSnapshot(doc)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, export.ErrUnsupportedFormat) {
			status = http.StatusUnprocessableEntity
		}
		utils.RespondError(w, status, err.Error())
		return
	}

	utils.RespondJSON(w, http.StatusOK, map[string]any{
		"sessionId": doc.SessionID,
		"turns":     turns,
		"count":     len(turns),
	})
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	h.engine.Clear()
	w.WriteHeader(http.StatusNoContent)
}

// parseCriteria reads q, emotion, modality and sender; "any" or absent matches everything.
func parseCriteria(r *http.Request) (conversation.Criteria, error) {
	query := r.URL.Query()
	criteria := conversation.Criteria{Text: strings.TrimSpace(query.Get("q"))}

	if raw := strings.TrimSpace(query.Get("emotion")); raw != "" && !strings.EqualFold(raw, conversation.Any) {
		emotion, ok := conversation.ParseEmotion(raw)
		if !ok {
			return conversation.Criteria{}, fmt.Errorf("unknown emotion %q", raw)
		}
		criteria.Emotion = emotion
	}

	if raw := strings.ToLower(strings.TrimSpace(query.Get("modality"))); raw != "" && raw != conversation.Any {
		switch modality := conversation.Modality(raw); modality {
		case conversation.ModalityText, conversation.ModalitySpeech:
			criteria.Modality = modality
		default:
			return conversation.Criteria{}, fmt.Errorf("unknown modality %q", raw)
		}
	}

	if raw := strings.ToLower(strings.TrimSpace(query.Get("sender"))); raw != "" && raw != conversation.Any {
		switch sender := conversation.Sender(raw); sender {
		case conversation.SenderUser, conversation.SenderAgent:
			criteria.Sender = sender
		default:
			return conversation.Criteria{}, fmt.Errorf("unknown sender %q", raw)
		}
	}

	return criteria, nil
}

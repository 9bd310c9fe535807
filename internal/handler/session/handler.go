package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/manomitra-client/internal/logging"
	sessionmodel "github.com/zhouzirui/manomitra-client/internal/model/session"
	"github.com/zhouzirui/manomitra-client/internal/service/capture"
	sessionsvc "github.com/zhouzirui/manomitra-client/internal/service/session"
	"github.com/zhouzirui/manomitra-client/pkg/utils"
)

const (
	eventBuffer       = 64
	heartbeatInterval = 15 * time.Second
)

// Handler exposes the live session over HTTP.
type Handler struct {
	engine *sessionsvc.Engine
	logger zerolog.Logger
}

// New 创建会话处理器
func New(engine *sessionsvc.Engine, logger zerolog.Logger) *Handler {
	return &Handler{
		engine: engine,
		logger: logging.Component(logger, "session-api"),
	}
}

// RegisterRoutes 注册会话相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/session", func(r chi.Router) {
		r.Get("/", h.handleState)
		r.Post("/connect", h.handleConnect)
		r.Post("/disconnect", h.handleDisconnect)
		r.Post("/text", h.handleText)
		r.Post("/capture/start", h.handleCaptureStart)
		r.Post("/capture/stop", h.handleCaptureStop)
		r.Post("/playback/stop", h.handlePlaybackStop)
		r.Get("/events", h.handleEvents)
	})
}

func (h *Handler) handleState(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, h.engine.State())
}

func (h *Handler) handleConnect(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ConnectWithRetry(r.Context()); err != nil {
		respondSessionError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.engine.State())
}

func (h *Handler) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	h.engine.Disconnect()
	utils.RespondJSON(w, http.StatusOK, h.engine.State())
}

func (h *Handler) handleText(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Text string `json:"text"`
	}
	if err := utils.DecodeJSON(r, &payload); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.engine.SendText(r.Context(), payload.Text); err != nil {
		respondSessionError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

func (h *Handler) handleCaptureStart(w http.ResponseWriter, r *http.Request) {
	// the recording outlives this request
	if err := h.engine.StartCapture(context.WithoutCancel(r.Context())); err != nil {
		respondSessionError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, h.engine.State())
}

func (h *Handler) handleCaptureStop(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.StopCapture(r.Context()); err != nil {
		respondSessionError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusAccepted, h.engine.State())
}

func (h *Handler) handlePlaybackStop(w http.ResponseWriter, r *http.Request) {
	h.engine.StopPlayback()
	w.WriteHeader(http.StatusNoContent)
}

// handleEvents streams engine events as Server-Sent Events until the client leaves.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	events := make(chan sessionsvc.Event, eventBuffer)
	unsubscribe := h.engine.Subscribe(func(event sessionsvc.Event) {
		select {
		case events <- event:
		default:
			h.logger.Warn().Str("type", string(event.Type)).Msg("event stream lagging, dropping event")
		}
	})
	defer unsubscribe()

	utils.SetupSSEHeaders(w)
	w.WriteHeader(http.StatusOK)

	var id int64
	state := h.engine.State()
	if err := utils.SendSSEEvent(w, flusher, id, "state", state); err != nil {
		return
	}

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case event := <-events:
			id++
			if err := utils.SendSSEEvent(w, flusher, id, string(event.Type), event); err != nil {
				h.logger.Debug().Err(err).Msg("event stream closed")
				return
			}
		case <-ticker.C:
			if err := utils.SendSSEComment(w, flusher, "heartbeat"); err != nil {
				return
			}
		}
	}
}

// respondSessionError maps engine errors to HTTP statuses.
func respondSessionError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, sessionsvc.ErrEmptyText):
		status = http.StatusBadRequest
	case errors.Is(err, capture.ErrBusy), errors.Is(err, capture.ErrNotRecording):
		status = http.StatusConflict
	case errors.Is(err, sessionmodel.ErrPermission):
		status = http.StatusForbidden
	case errors.Is(err, sessionmodel.ErrConnection):
		status = http.StatusServiceUnavailable
	}
	utils.RespondError(w, status, err.Error())
}

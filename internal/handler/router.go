package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/manomitra-client/internal/handler/history"
	sessionapi "github.com/zhouzirui/manomitra-client/internal/handler/session"
	"github.com/zhouzirui/manomitra-client/internal/handler/settings"
	middlewarePkg "github.com/zhouzirui/manomitra-client/internal/middleware"
	"github.com/zhouzirui/manomitra-client/internal/peer"
	sessionsvc "github.com/zhouzirui/manomitra-client/internal/service/session"
	"github.com/zhouzirui/manomitra-client/pkg/utils"
)

// NewRouter wires the local presentation API to the session engine.
// peerHandler, when non-nil, also serves the conversation protocol in-process.
func NewRouter(engine *sessionsvc.Engine, peerHandler *peer.Handler, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		utils.RespondJSON(w, http.StatusOK, map[string]string{
			"status":    "ok",
			"sessionId": engine.ID(),
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(api chi.Router) {
		sessionapi.New(engine, logger).RegisterRoutes(api)
		history.New(engine, logger).RegisterRoutes(api)
		settings.New(engine).RegisterRoutes(api)
	})

	if peerHandler != nil {
		peerHandler.RegisterRoutes(r)
	}

	return r
}

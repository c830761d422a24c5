package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/silkworks/keygate/internal/application"
)

// Handler is the HTTP adapter entrypoint for the licensing use-cases.
// Keeping only the application dependency here preserves adapter boundaries.
type Handler struct {
	service *application.Service
}

func NewHandler(service *application.Service) *Handler {
	return &Handler{service: service}
}

// NewRouter registers the engine's HTTP routes and middleware stack.
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(recoverMiddleware)
	r.Use(loggingMiddleware)

	r.Get("/healthz", handler.healthz)
	r.Get("/readyz", handler.readyz)

	r.Route("/v1", func(r chi.Router) {
		r.Post("/init", handler.initSession)
		r.Post("/login", handler.login)
		r.Post("/license", handler.redeemLicense)
		r.Post("/hwid", handler.updateHWID)
		r.Post("/components", handler.recordComponents)
		r.Post("/log", handler.logLogin)

		r.Post("/keys/generate", handler.generateKeys)
		r.Post("/apps", handler.createApplication)
		r.Post("/apps/status", handler.setApplicationStatus)
	})

	return r
}

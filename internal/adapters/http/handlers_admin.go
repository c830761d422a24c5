package http

import (
	"net/http"
	"strings"

	"github.com/silkworks/keygate/internal/application"
)

func (h *Handler) generateKeys(w http.ResponseWriter, r *http.Request) {
	token, err := bearerTokenFromHeader(r.Header.Get("Authorization"))
	if err != nil {
		writeMissingBearerError(r.Context(), w, "generate_keys")
		return
	}

	var req application.GenerateKeysRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "generate_keys", err)
		return
	}

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	res, err := h.service.GenerateAndStoreKeys(r.Context(), token, idempotencyKey, req)
	if err != nil {
		writeMappedError(r.Context(), w, "generate_keys", err)
		return
	}

	writeSuccess(w, http.StatusCreated, map[string]any{
		"keys": res.Keys,
	})
}

func (h *Handler) createApplication(w http.ResponseWriter, r *http.Request) {
	token, err := bearerTokenFromHeader(r.Header.Get("Authorization"))
	if err != nil {
		writeMissingBearerError(r.Context(), w, "create_application")
		return
	}

	var req application.CreateApplicationRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "create_application", err)
		return
	}

	res, err := h.service.CreateApplication(r.Context(), token, req)
	if err != nil {
		writeMappedError(r.Context(), w, "create_application", err)
		return
	}

	app := res.Application
	writeSuccess(w, http.StatusCreated, map[string]any{
		"app": map[string]any{
			"appId":     app.ID,
			"name":      app.Name,
			"secret":    app.Secret,
			"version":   app.Version,
			"status":    string(app.Status),
			"hwid_lock": app.HWIDLock,
			"download":  app.DownloadURL,
		},
	})
}

func (h *Handler) setApplicationStatus(w http.ResponseWriter, r *http.Request) {
	token, err := bearerTokenFromHeader(r.Header.Get("Authorization"))
	if err != nil {
		writeMissingBearerError(r.Context(), w, "set_application_status")
		return
	}

	var req application.SetApplicationStatusRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "set_application_status", err)
		return
	}

	if err := h.service.SetApplicationStatus(r.Context(), token, req); err != nil {
		writeMappedError(r.Context(), w, "set_application_status", err)
		return
	}
	writeOK(w)
}

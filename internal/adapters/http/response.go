package http

import (
	"encoding/json"
	"net/http"
)

// Every response carries the legacy-compatible success flag; clients branch
// on it before reading anything else.
func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeSuccess(w http.ResponseWriter, statusCode int, fields map[string]any) {
	payload := map[string]any{"success": true}
	for k, v := range fields {
		payload[k] = v
	}
	writeJSON(w, statusCode, payload)
}

func writeOK(w http.ResponseWriter) {
	writeSuccess(w, http.StatusOK, nil)
}

func writeError(w http.ResponseWriter, statusCode int, code, message string) {
	writeJSON(w, statusCode, map[string]any{
		"success": false,
		"code":    code,
		"message": message,
	})
}

// writeUpdateRequired is the one failure shape with an extra field: the
// download link the stale client should fetch.
func writeUpdateRequired(w http.ResponseWriter, version, downloadURL string) {
	payload := map[string]any{
		"success": false,
		"code":    "UPDATE_REQUIRED",
		"message": "client update required",
		"version": version,
	}
	if downloadURL != "" {
		payload["download"] = downloadURL
	}
	writeJSON(w, http.StatusUpgradeRequired, payload)
}

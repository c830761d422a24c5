package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/silkworks/keygate/internal/application"
	"github.com/silkworks/keygate/internal/domain"
)

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]any{"message": "ok"})
}

func (h *Handler) readyz(w http.ResponseWriter, _ *http.Request) {
	writeSuccess(w, http.StatusOK, map[string]any{"message": "ready"})
}

func (h *Handler) initSession(w http.ResponseWriter, r *http.Request) {
	var req application.InitRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "init", err)
		return
	}

	res, err := h.service.InitSession(r.Context(), req)
	if err != nil {
		writeMappedError(r.Context(), w, "init", err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{
		"session_id": res.SessionID,
		"appId":      res.ApplicationID,
		"app_info": map[string]any{
			"numUsers": res.NumUsers,
			"version":  res.Version,
		},
	})
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req application.LoginRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "login", err)
		return
	}
	req.IPAddress = readIP(r)

	res, err := h.service.LoginWithCredentials(r.Context(), req)
	if err != nil {
		writeMappedError(r.Context(), w, "login", err)
		return
	}

	info := res.Account
	writeSuccess(w, http.StatusOK, map[string]any{
		"token": res.Token,
		"info": map[string]any{
			"username":      info.Username,
			"subscriptions": subscriptionEntries(info.Level, info.ExpiresAt, info.TimeLeft),
			"hwid":          info.HWID,
			"createdate":    formatTime(&info.CreatedAt),
			"lastlogin":     formatTime(info.LastLoginAt),
		},
	})
}

func (h *Handler) redeemLicense(w http.ResponseWriter, r *http.Request) {
	var req application.RedeemRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "license", err)
		return
	}
	req.IPAddress = readIP(r)

	res, err := h.service.LoginWithKey(r.Context(), req)
	if err != nil {
		writeMappedError(r.Context(), w, "license", err)
		return
	}

	writeSuccess(w, http.StatusOK, map[string]any{
		"info": map[string]any{
			"username":      res.Username,
			"subscriptions": subscriptionEntries(res.Level, res.ExpiresAt, res.TimeLeft),
			"timeleft":      res.TimeLeft,
		},
	})
}

func (h *Handler) updateHWID(w http.ResponseWriter, r *http.Request) {
	var req application.UpdateHWIDRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "hwid", err)
		return
	}

	if err := h.service.UpdateHWID(r.Context(), req); err != nil {
		writeMappedError(r.Context(), w, "hwid", err)
		return
	}
	writeOK(w)
}

func (h *Handler) recordComponents(w http.ResponseWriter, r *http.Request) {
	var req application.ComponentsRequest
	if err := decodeBody(r, &req); err != nil {
		writeValidationError(r.Context(), w, "components", err)
		return
	}

	res, err := h.service.RecordComponents(r.Context(), req)
	if err != nil {
		writeMappedError(r.Context(), w, "components", err)
		return
	}

	payload := map[string]any{
		"current_components": fingerprintPayload(&res.Current),
	}
	if res.Previous != nil {
		payload["previous_components"] = fingerprintPayload(res.Previous)
	}
	writeSuccess(w, http.StatusOK, payload)
}

func (h *Handler) logLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ApplicationID string `json:"appId"`
		Identifier    string `json:"username_or_key"`
		HWID          string `json:"hwid"`
		GPU           string `json:"gpu"`
		Motherboard   string `json:"motherboard"`
		CPU           string `json:"cpu"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeValidationError(r.Context(), w, "log", err)
		return
	}

	req := application.LogLoginRequest{
		ApplicationID: body.ApplicationID,
		Identifier:    body.Identifier,
		HWID:          body.HWID,
		IPAddress:     readIP(r),
	}
	if body.GPU != "" || body.Motherboard != "" || body.CPU != "" {
		req.Components = &domain.ComponentFingerprint{
			GPU:         body.GPU,
			Motherboard: body.Motherboard,
			CPU:         body.CPU,
		}
	}

	if err := h.service.LogLogin(r.Context(), req); err != nil {
		writeMappedError(r.Context(), w, "log", err)
		return
	}
	writeOK(w)
}

// subscriptionEntries renders the entitlement as the single-element
// subscription list legacy clients expect. Lifetime entitlements omit the
// expiry field and carry timeleft -1.
func subscriptionEntries(level int, expiresAt *time.Time, timeLeft int64) []map[string]any {
	entry := map[string]any{
		"subscription": strconv.Itoa(level),
		"timeleft":     timeLeft,
	}
	if expiresAt != nil {
		entry["expiry"] = formatTime(expiresAt)
	}
	return []map[string]any{entry}
}

func fingerprintPayload(fp *domain.ComponentFingerprint) map[string]any {
	return map[string]any{
		"gpu":         fp.GPU,
		"motherboard": fp.Motherboard,
		"cpu":         fp.CPU,
		"recorded_at": formatTime(&fp.RecordedAt),
	}
}

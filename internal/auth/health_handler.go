// health_handler.go -- Health check handler for GET /health.
package auth

import (
	"errors"
	"net/http"

	"github.com/MGallo-Code/authcode-pkce/internal/store"
)

// CheckHealth handles GET /health, pings the session backend and returns its status.
// Returns 200 when healthy or file backed, 503 when Redis is down.
func (h *Handler) CheckHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if err := h.Sessions.CheckHealth(r.Context()); err != nil {
		if errors.Is(err, store.ErrStoreDisabled) {
			status = "filesystem"
		} else {
			logError(r, "session store health check failed", "error", err)
			status = "error"
		}
	}

	code := http.StatusOK
	if status == "error" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, struct {
		SessionStore string `json:"session_store"`
	}{status})
}

// responses.go -- Package-wide HTTP response helpers.
//
// Shared by the flow and health handlers. Bodies are JSON encoded so
// provider-supplied error text is always escaped.
package auth

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/MGallo-Code/authcode-pkce/internal/oauth"
)

// InternalServerError logs the error and returns a generic 500 JSON response.
// Never exposes internal error details to prevent information leakage.
func InternalServerError(w http.ResponseWriter, r *http.Request, err error) {
	logError(r, "internal server error", "error", err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	w.Write([]byte(`{"message":"internal server error"}`))
}

// AuthFailure writes a 500 with {"name","errorCode","errorMessage"} for flow errors.
// Errors that are not *oauth.AuthError fall back to InternalServerError.
func AuthFailure(w http.ResponseWriter, r *http.Request, err error) {
	var ae *oauth.AuthError
	if !errors.As(err, &ae) {
		InternalServerError(w, r, err)
		return
	}
	logWarn(r, "authorization flow failed", "kind", ae.Kind, "code", ae.Code, "error", err)
	writeJSON(w, http.StatusInternalServerError, ae)
}

// Accepted returns a 202 JSON response with the given message.
func Accepted(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusAccepted, map[string]string{"message": message})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// models.go -- Shared types and errors for the session store package.
// Used by both the Redis and filesystem backends.
package store

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
)

// ErrStoreDisabled is returned by CheckHealth on backends that have no remote dependency.
// Callers use errors.Is to distinguish "nothing to ping" from a real infrastructure failure.
var ErrStoreDisabled = errors.New("store has no remote backend")

// ErrUnsupportedValue is returned by RedisStore.Save when a session value is not a string.
// Session values hold PKCE codes and state only; everything is a string.
var ErrUnsupportedValue = errors.New("session values must be string keyed strings")

// DefaultSessionTTL is applied to Redis keys for browser-session cookies (MaxAge 0).
const DefaultSessionTTL = 24 * time.Hour

// SessionOptions returns cookie options for the session cookie.
// SameSite=Lax so the cookie rides along on the top-level redirect back from the IdP.
func SessionOptions(maxAge time.Duration, secure bool) *sessions.Options {
	return &sessions.Options{
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

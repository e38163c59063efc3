// session.go

// PKCE codes and state kept in the server-side session between the two flow legs.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/MGallo-Code/authcode-pkce/internal/oauth"
	"github.com/MGallo-Code/authcode-pkce/internal/store"
	"github.com/gorilla/sessions"
)

// SessionName is the gorilla session (and cookie) name holding the flow state.
const SessionName = "pkce-session"

const (
	keyVerifier  = "pkce.verifier"
	keyChallenge = "pkce.challenge"
	keyMethod    = "pkce.method"
	keyState     = "pkce.state"
)

// ErrNoPKCE is returned by TakePKCE when the session holds no verifier.
var ErrNoPKCE = errors.New("no pkce verifier in session")

// healthChecker is satisfied by *store.RedisStore and *store.FilesystemStore.
type healthChecker interface {
	CheckHealth(ctx context.Context) error
}

// StoredPKCE is what the start leg persisted for the redirect leg.
type StoredPKCE struct {
	Codes oauth.PKCECodes
	State string
}

// Sessions reads and writes flow state through any gorilla sessions.Store.
type Sessions struct {
	Store sessions.Store
}

// SavePKCE stores codes and state in the session and writes the cookie.
func (s *Sessions) SavePKCE(w http.ResponseWriter, r *http.Request, codes oauth.PKCECodes, state string) error {
	sess, err := s.Store.Get(r, SessionName)
	if err != nil {
		// Bad or expired cookie: Get still returns a usable fresh session.
		logWarn(r, "discarding unreadable session", "error", err)
	}
	sess.Values[keyVerifier] = codes.Verifier
	sess.Values[keyChallenge] = codes.Challenge
	sess.Values[keyMethod] = codes.Method
	sess.Values[keyState] = state
	if err := sess.Save(r, w); err != nil {
		return fmt.Errorf("saving pkce session: %w", err)
	}
	return nil
}

// TakePKCE returns the stored codes and removes them from the session so a
// verifier can only be presented once. Returns ErrNoPKCE if nothing was stored.
func (s *Sessions) TakePKCE(w http.ResponseWriter, r *http.Request) (*StoredPKCE, error) {
	sess, err := s.Store.Get(r, SessionName)
	if err != nil {
		logWarn(r, "unreadable session on redirect", "error", err)
		return nil, ErrNoPKCE
	}

	stored := &StoredPKCE{
		Codes: oauth.PKCECodes{
			Verifier:  stringValue(sess, keyVerifier),
			Challenge: stringValue(sess, keyChallenge),
			Method:    stringValue(sess, keyMethod),
		},
		State: stringValue(sess, keyState),
	}
	if !sess.IsNew {
		for _, k := range []string{keyVerifier, keyChallenge, keyMethod, keyState} {
			delete(sess.Values, k)
		}
		if err := sess.Save(r, w); err != nil {
			return nil, fmt.Errorf("clearing pkce session: %w", err)
		}
	}
	if stored.Codes.Verifier == "" {
		return nil, ErrNoPKCE
	}
	return stored, nil
}

// CheckHealth reports the session backend status.
// Returns store.ErrStoreDisabled for backends with nothing to ping.
func (s *Sessions) CheckHealth(ctx context.Context) error {
	hc, ok := s.Store.(healthChecker)
	if !ok {
		return store.ErrStoreDisabled
	}
	return hc.CheckHealth(ctx)
}

func stringValue(sess *sessions.Session, key string) string {
	v, _ := sess.Values[key].(string)
	return v
}

// handler.go -- HTTP handlers for the two legs of the authorization code flow.
package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"sync"

	"github.com/MGallo-Code/authcode-pkce/internal/oauth"
)

// TokenClient defines the OAuth client operations needed by the flow handlers.
// Satisfied by *oauth.Client, defined here (at consumer) per Go convention.
type TokenClient interface {
	// AuthCodeURL builds the authorization endpoint URL for req.
	AuthCodeURL(req oauth.AuthorizationURLRequest) (string, error)

	// AcquireTokenByCode redeems an authorization code with its PKCE verifier.
	AcquireTokenByCode(ctx context.Context, req oauth.AuthorizationCodeRequest) (*oauth.TokenResponse, error)

	// AcquireTokenInteractive runs a full loopback flow, driving nav.
	AcquireTokenInteractive(ctx context.Context, req oauth.AuthorizationURLRequest, nav oauth.Navigator) (*oauth.TokenResponse, error)
}

// FlowMode selects what GET / does.
type FlowMode string

const (
	// ModeRedirect sends the browser to the authorization endpoint; GET /redirect completes the flow.
	ModeRedirect FlowMode = "redirect"
	// ModeInteractive runs the loopback flow from the server process and answers 202.
	ModeInteractive FlowMode = "interactive"
)

// Handler holds dependencies for the flow and health handlers.
type Handler struct {
	Client   TokenClient
	Sessions *Sessions

	Scopes      []string
	RedirectURI string
	Mode        FlowMode

	// Interactive mode only.
	InteractiveRedirectURI string
	Navigator              oauth.Navigator
	// BaseContext outlives the request; background flows are cancelled with it.
	BaseContext context.Context

	inflight sync.WaitGroup
}

// Start handles GET /, the first leg of the flow.
// Redirect mode: stores PKCE codes + state in the session and answers 302 to the IdP.
// Interactive mode: starts AcquireTokenInteractive in the background and answers 202.
func (h *Handler) Start(w http.ResponseWriter, r *http.Request) {
	if h.Mode == ModeInteractive {
		h.startInteractive(w, r)
		return
	}

	codes := oauth.GeneratePKCECodes()
	state, err := oauth.GenerateState()
	if err != nil {
		InternalServerError(w, r, err)
		return
	}

	req := oauth.AuthorizationURLRequest{
		Scopes:              h.Scopes,
		RedirectURI:         h.RedirectURI,
		State:               state,
		CodeChallenge:       codes.Challenge,
		CodeChallengeMethod: codes.Method,
	}
	if err := req.Validate(); err != nil {
		AuthFailure(w, r, err)
		return
	}

	authURL, err := h.Client.AuthCodeURL(req)
	if err != nil {
		AuthFailure(w, r, err)
		return
	}

	if err := h.Sessions.SavePKCE(w, r, codes, state); err != nil {
		logError(r, "failed to persist pkce codes", "error", err)
		InternalServerError(w, r, err)
		return
	}

	logInfo(r, "redirecting to authorization endpoint")
	http.Redirect(w, r, authURL, http.StatusFound)
}

func (h *Handler) startInteractive(w http.ResponseWriter, r *http.Request) {
	req := oauth.AuthorizationURLRequest{
		Scopes:      h.Scopes,
		RedirectURI: h.InteractiveRedirectURI,
	}
	ctx := h.BaseContext
	if ctx == nil {
		ctx = context.Background()
	}

	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		resp, err := h.Client.AcquireTokenInteractive(ctx, req, h.Navigator)
		if err != nil {
			slog.Warn("interactive flow failed", "error", err)
			return
		}
		slog.Info("interactive flow completed", "correlation_id", resp.CorrelationID, "scopes", resp.Scopes, "expires_on", resp.ExpiresOn)
	}()

	logInfo(r, "interactive flow started")
	Accepted(w, "interactive login started")
}

// Wait blocks until background interactive flows have returned.
func (h *Handler) Wait() {
	h.inflight.Wait()
}

// Redirect handles GET /redirect, the second leg of the flow.
// The stored codes are taken (cleared) first so a verifier is never presented twice.
// Returns 200 with an empty body on success, 500 with the error JSON otherwise.
func (h *Handler) Redirect(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	stored, err := h.Sessions.TakePKCE(w, r)
	if err != nil && !errors.Is(err, ErrNoPKCE) {
		InternalServerError(w, r, err)
		return
	}

	if idpErr := q.Get("error"); idpErr != "" {
		kind := oauth.KindProvider
		if idpErr == "access_denied" {
			kind = oauth.KindUserCancelled
		}
		AuthFailure(w, r, oauth.NewAuthError(kind, idpErr, q.Get("error_description")))
		return
	}

	code := q.Get("code")
	if code == "" {
		AuthFailure(w, r, oauth.NewAuthError(oauth.KindInvalidRequest, "missing_code", "authorization code missing from redirect"))
		return
	}
	if stored == nil {
		AuthFailure(w, r, oauth.NewAuthError(oauth.KindSessionState, "missing_code_verifier", "no PKCE code verifier in session"))
		return
	}
	if stored.Codes.Method != oauth.ChallengeMethodS256 || !stored.Codes.Matches(stored.Codes.Verifier) {
		AuthFailure(w, r, oauth.NewAuthError(oauth.KindSessionState, "pkce_mismatch", "stored PKCE codes are inconsistent"))
		return
	}

	// An absent state is tolerated; a present one must match.
	if state := q.Get("state"); state != "" && subtle.ConstantTimeCompare([]byte(state), []byte(stored.State)) != 1 {
		AuthFailure(w, r, oauth.NewAuthError(oauth.KindSessionState, "state_mismatch", "state does not match this session"))
		return
	}

	resp, err := h.Client.AcquireTokenByCode(r.Context(), oauth.AuthorizationCodeRequest{
		Code:         code,
		Scopes:       h.Scopes,
		RedirectURI:  h.RedirectURI,
		CodeVerifier: stored.Codes.Verifier,
		ClientInfo:   q.Get("client_info"),
	})
	if err != nil {
		AuthFailure(w, r, err)
		return
	}

	logInfo(r, "authorization code redeemed", "correlation_id", resp.CorrelationID, "scopes", resp.Scopes, "expires_on", resp.ExpiresOn)
	w.WriteHeader(http.StatusOK)
}

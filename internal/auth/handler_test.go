// handler_test.go

// unit tests for Start, Redirect and the PKCE session helpers.

package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MGallo-Code/authcode-pkce/internal/oauth"
	"github.com/MGallo-Code/authcode-pkce/internal/store"
	"golang.org/x/oauth2"
)

// --- Mock token client ---

// mockTokenClient implements TokenClient. Exchanges succeed only when the
// presented verifier hashes to the challenge seen by AuthCodeURL.
type mockTokenClient struct {
	mu            sync.Mutex
	lastChallenge string
	exchanges     []oauth.AuthorizationCodeRequest
	exchangeErr   error
	interactive   chan oauth.AuthorizationURLRequest
}

func (m *mockTokenClient) AuthCodeURL(req oauth.AuthorizationURLRequest) (string, error) {
	m.mu.Lock()
	m.lastChallenge = req.CodeChallenge
	m.mu.Unlock()
	q := url.Values{
		"code_challenge":        {req.CodeChallenge},
		"code_challenge_method": {req.CodeChallengeMethod},
		"state":                 {req.State},
		"redirect_uri":          {req.RedirectURI},
	}
	return "https://idp.example.com/authorize?" + q.Encode(), nil
}

func (m *mockTokenClient) AcquireTokenByCode(_ context.Context, req oauth.AuthorizationCodeRequest) (*oauth.TokenResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exchanges = append(m.exchanges, req)
	if m.exchangeErr != nil {
		return nil, m.exchangeErr
	}
	if oauth2.S256ChallengeFromVerifier(req.CodeVerifier) != m.lastChallenge {
		return nil, oauth.NewAuthError(oauth.KindProvider, "invalid_grant", "PKCE verification failed")
	}
	return &oauth.TokenResponse{AccessToken: "at", CorrelationID: "cid"}, nil
}

func (m *mockTokenClient) AcquireTokenInteractive(_ context.Context, req oauth.AuthorizationURLRequest, _ oauth.Navigator) (*oauth.TokenResponse, error) {
	m.interactive <- req
	return &oauth.TokenResponse{AccessToken: "at"}, nil
}

func (m *mockTokenClient) exchangeCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.exchanges)
}

// --- Helper Functions ---

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newTestHandler(t *testing.T) (*Handler, *mockTokenClient) {
	t.Helper()
	fs, err := store.NewFilesystemStore(t.TempDir(), store.SessionOptions(time.Hour, false), testKey)
	if err != nil {
		t.Fatalf("NewFilesystemStore failed: %v", err)
	}
	mc := &mockTokenClient{interactive: make(chan oauth.AuthorizationURLRequest, 1)}
	return &Handler{
		Client:      mc,
		Sessions:    &Sessions{Store: fs},
		Scopes:      []string{"user.read"},
		RedirectURI: "http://localhost:3000",
		Mode:        ModeRedirect,
	}, mc
}

// doStart calls Start and returns the recorder plus the session cookie it set.
func doStart(t *testing.T, h *Handler) (*httptest.ResponseRecorder, *http.Cookie) {
	t.Helper()
	w := httptest.NewRecorder()
	h.Start(w, httptest.NewRequest(http.MethodGet, "/", nil))
	for _, c := range w.Result().Cookies() {
		if c.Name == SessionName {
			return w, c
		}
	}
	return w, nil
}

// doRedirect calls Redirect with the given query and optional cookie.
func doRedirect(t *testing.T, h *Handler, query string, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, "/redirect?"+query, nil)
	if cookie != nil {
		r.AddCookie(cookie)
	}
	w := httptest.NewRecorder()
	h.Redirect(w, r)
	return w
}

// assertAuthFailure checks response is 500 JSON with the expected error name and code.
func assertAuthFailure(t *testing.T, w *httptest.ResponseRecorder, name, code string) {
	t.Helper()
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status: expected 500, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type: expected application/json, got %q", ct)
	}
	var body struct {
		Name         string `json:"name"`
		ErrorCode    string `json:"errorCode"`
		ErrorMessage string `json:"errorMessage"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decoding error body: %v", err)
	}
	if body.Name != name || body.ErrorCode != code {
		t.Errorf("body: expected %s/%s, got %+v", name, code, body)
	}
}

// --- Start ---

func TestStart(t *testing.T) {
	t.Run("redirects with code_challenge and stores verifier", func(t *testing.T) {
		h, _ := newTestHandler(t)
		w, cookie := doStart(t, h)

		if w.Code != http.StatusFound {
			t.Fatalf("status: expected 302, got %d", w.Code)
		}
		loc, err := url.Parse(w.Header().Get("Location"))
		if err != nil {
			t.Fatalf("bad Location: %v", err)
		}
		if loc.Query().Get("code_challenge") == "" {
			t.Error("expected code_challenge in redirect target")
		}
		if loc.Query().Get("code_challenge_method") != "S256" {
			t.Errorf("code_challenge_method: expected S256, got %q", loc.Query().Get("code_challenge_method"))
		}
		if cookie == nil {
			t.Fatal("expected session cookie")
		}

		r := httptest.NewRequest(http.MethodGet, "/redirect", nil)
		r.AddCookie(cookie)
		stored, err := h.Sessions.TakePKCE(httptest.NewRecorder(), r)
		if err != nil {
			t.Fatalf("TakePKCE failed: %v", err)
		}
		if stored.Codes.Verifier == "" {
			t.Error("expected non-empty verifier in session")
		}
		if stored.Codes.Challenge != loc.Query().Get("code_challenge") {
			t.Error("stored challenge does not match redirect target")
		}
		if stored.State != loc.Query().Get("state") {
			t.Error("stored state does not match redirect target")
		}
	})

	t.Run("empty scopes is configuration error", func(t *testing.T) {
		h, _ := newTestHandler(t)
		h.Scopes = nil
		w, _ := doStart(t, h)
		assertAuthFailure(t, w, "configuration_error", "empty_scopes")
	})

	t.Run("malformed redirect uri is configuration error", func(t *testing.T) {
		h, _ := newTestHandler(t)
		h.RedirectURI = "not a url"
		w, _ := doStart(t, h)
		assertAuthFailure(t, w, "configuration_error", "invalid_redirect_uri")
	})

	t.Run("interactive mode answers 202 and runs the flow", func(t *testing.T) {
		h, mc := newTestHandler(t)
		h.Mode = ModeInteractive
		h.InteractiveRedirectURI = "http://localhost"
		w, _ := doStart(t, h)

		if w.Code != http.StatusAccepted {
			t.Errorf("status: expected 202, got %d", w.Code)
		}
		select {
		case req := <-mc.interactive:
			if req.RedirectURI != "http://localhost" {
				t.Errorf("RedirectURI: expected http://localhost, got %q", req.RedirectURI)
			}
		case <-time.After(2 * time.Second):
			t.Fatal("interactive flow never ran")
		}
		h.Wait()
	})
}

// --- Redirect ---

func TestRedirect(t *testing.T) {
	t.Run("matching verifier returns 200 with empty body", func(t *testing.T) {
		h, mc := newTestHandler(t)
		_, cookie := doStart(t, h)

		w := doRedirect(t, h, "code=abc&client_info=ci", cookie)
		if w.Code != http.StatusOK {
			t.Fatalf("status: expected 200, got %d: %s", w.Code, w.Body.String())
		}
		if w.Body.Len() != 0 {
			t.Errorf("expected empty body, got %q", w.Body.String())
		}
		if mc.exchanges[0].Code != "abc" || mc.exchanges[0].ClientInfo != "ci" {
			t.Errorf("unexpected exchange %+v", mc.exchanges[0])
		}
	})

	t.Run("missing code returns 500 without exchange", func(t *testing.T) {
		h, mc := newTestHandler(t)
		_, cookie := doStart(t, h)

		w := doRedirect(t, h, "", cookie)
		assertAuthFailure(t, w, "invalid_request", "missing_code")
		if mc.exchangeCount() != 0 {
			t.Error("expected no exchange")
		}
	})

	t.Run("absent verifier returns 500 without exchange", func(t *testing.T) {
		h, mc := newTestHandler(t)

		w := doRedirect(t, h, "code=abc", nil)
		assertAuthFailure(t, w, "session_state_error", "missing_code_verifier")
		if mc.exchangeCount() != 0 {
			t.Error("expected no exchange")
		}
	})

	t.Run("mismatched verifier returns 500", func(t *testing.T) {
		h, _ := newTestHandler(t)
		_, cookie := doStart(t, h)
		// Second start replaces the challenge the client will check against.
		doStart(t, h)

		w := doRedirect(t, h, "code=abc", cookie)
		assertAuthFailure(t, w, "provider_error", "invalid_grant")
	})

	t.Run("verifier is taken once", func(t *testing.T) {
		h, mc := newTestHandler(t)
		_, cookie := doStart(t, h)

		if w := doRedirect(t, h, "code=abc", cookie); w.Code != http.StatusOK {
			t.Fatalf("first redirect: expected 200, got %d", w.Code)
		}
		w := doRedirect(t, h, "code=abc", cookie)
		assertAuthFailure(t, w, "session_state_error", "missing_code_verifier")
		if mc.exchangeCount() != 1 {
			t.Errorf("expected 1 exchange, got %d", mc.exchangeCount())
		}
	})

	t.Run("inconsistent stored codes return 500 without exchange", func(t *testing.T) {
		h, mc := newTestHandler(t)
		w := httptest.NewRecorder()
		bogus := oauth.PKCECodes{Verifier: "verifier", Challenge: "not-its-challenge", Method: oauth.ChallengeMethodS256}
		if err := h.Sessions.SavePKCE(w, httptest.NewRequest(http.MethodGet, "/", nil), bogus, "st"); err != nil {
			t.Fatalf("SavePKCE failed: %v", err)
		}
		var cookie *http.Cookie
		for _, c := range w.Result().Cookies() {
			if c.Name == SessionName {
				cookie = c
			}
		}
		if cookie == nil {
			t.Fatal("expected session cookie")
		}

		rw := doRedirect(t, h, "code=abc&state=st", cookie)
		assertAuthFailure(t, rw, "session_state_error", "pkce_mismatch")
		if mc.exchangeCount() != 0 {
			t.Error("expected no exchange")
		}
	})

	t.Run("state mismatch returns 500 without exchange", func(t *testing.T) {
		h, mc := newTestHandler(t)
		_, cookie := doStart(t, h)

		w := doRedirect(t, h, "code=abc&state=forged", cookie)
		assertAuthFailure(t, w, "session_state_error", "state_mismatch")
		if mc.exchangeCount() != 0 {
			t.Error("expected no exchange")
		}
	})

	t.Run("idp access_denied is user cancelled", func(t *testing.T) {
		h, mc := newTestHandler(t)
		_, cookie := doStart(t, h)

		w := doRedirect(t, h, "error=access_denied&error_description=nope", cookie)
		assertAuthFailure(t, w, "user_cancelled", "access_denied")
		if mc.exchangeCount() != 0 {
			t.Error("expected no exchange")
		}
	})

	t.Run("exchange failure body carries the error", func(t *testing.T) {
		h, mc := newTestHandler(t)
		mc.exchangeErr = oauth.NewAuthError(oauth.KindNetwork, "endpoint_unreachable", "identity provider could not be reached")
		_, cookie := doStart(t, h)

		w := doRedirect(t, h, "code=abc", cookie)
		assertAuthFailure(t, w, "network_error", "endpoint_unreachable")
	})

	t.Run("untyped errors stay generic", func(t *testing.T) {
		h, mc := newTestHandler(t)
		mc.exchangeErr = errors.New("internal detail")
		_, cookie := doStart(t, h)

		w := doRedirect(t, h, "code=abc", cookie)
		if w.Code != http.StatusInternalServerError {
			t.Errorf("status: expected 500, got %d", w.Code)
		}
		if strings.Contains(w.Body.String(), "internal detail") {
			t.Error("internal error leaked into body")
		}
	})
}

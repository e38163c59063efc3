// interactive_test.go -- AcquireTokenInteractive with a navigator that plays the browser.
package oauth

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"testing"
)

// recordingNavigator follows the authorization URL over HTTP (redirects included),
// the way a browser would, and records the hook calls in order.
type recordingNavigator struct {
	mu      sync.Mutex
	calls   []string
	openURL string
	openErr error
	// visit overrides the default "GET authURL and follow redirects".
	visit func(authURL string)
}

func (n *recordingNavigator) OpenURL(_ context.Context, authURL string) error {
	n.mu.Lock()
	n.calls = append(n.calls, "open")
	n.openURL = authURL
	n.mu.Unlock()
	if n.openErr != nil {
		return n.openErr
	}
	if n.visit != nil {
		n.visit(authURL)
		return nil
	}
	resp, err := http.Get(authURL)
	if err == nil {
		resp.Body.Close()
	}
	return nil
}

func (n *recordingNavigator) NavigationDone(context.Context) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, "done")
	return nil
}

func (n *recordingNavigator) Calls() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.calls...)
}

var interactiveReq = AuthorizationURLRequest{Scopes: []string{"user.read"}, RedirectURI: "http://127.0.0.1"}

func TestAcquireTokenInteractive(t *testing.T) {
	ctx := context.Background()

	t.Run("opens browser, receives code and exchanges it", func(t *testing.T) {
		c, idp := newTestClient(t)
		nav := &recordingNavigator{}

		resp, err := c.AcquireTokenInteractive(ctx, interactiveReq, nav)
		if err != nil {
			t.Fatalf("AcquireTokenInteractive failed: %v", err)
		}
		if !strings.HasPrefix(resp.AccessToken, "access-code-") {
			t.Errorf("AccessToken: unexpected %q", resp.AccessToken)
		}
		if got := nav.Calls(); strings.Join(got, ",") != "open,done" {
			t.Errorf("hook order: expected open,done, got %v", got)
		}

		q := idp.LastAuthorize()
		if q.Get("code_challenge") == "" || q.Get("code_challenge_method") != "S256" {
			t.Errorf("expected PKCE params in authorization request, got %v", q)
		}
		if !strings.HasPrefix(q.Get("redirect_uri"), "http://127.0.0.1:") {
			t.Errorf("redirect_uri: expected bound loopback port, got %q", q.Get("redirect_uri"))
		}
	})

	t.Run("access_denied is user cancellation", func(t *testing.T) {
		c, idp := newTestClient(t)
		idp.FailAuthorize("access_denied")
		nav := &recordingNavigator{}

		_, err := c.AcquireTokenInteractive(ctx, interactiveReq, nav)
		if !IsKind(err, KindUserCancelled) {
			t.Errorf("expected user_cancelled, got %v", err)
		}
		if idp.TokenRequests() != 0 {
			t.Error("expected no token request")
		}
		if got := nav.Calls(); len(got) != 2 {
			t.Errorf("expected both hooks to run, got %v", got)
		}
	})

	t.Run("other authorize errors are provider errors", func(t *testing.T) {
		c, idp := newTestClient(t)
		idp.FailAuthorize("server_error")

		_, err := c.AcquireTokenInteractive(ctx, interactiveReq, &recordingNavigator{})
		if !IsKind(err, KindProvider) {
			t.Errorf("expected provider_error, got %v", err)
		}
	})

	t.Run("state mismatch is rejected before exchange", func(t *testing.T) {
		c, idp := newTestClient(t)
		nav := &recordingNavigator{visit: func(authURL string) {
			u, _ := url.Parse(authURL)
			redirect := u.Query().Get("redirect_uri")
			resp, err := http.Get(redirect + "?code=forged&state=wrong")
			if err == nil {
				resp.Body.Close()
			}
		}}

		_, err := c.AcquireTokenInteractive(ctx, interactiveReq, nav)
		if !IsKind(err, KindSessionState) {
			t.Errorf("expected session_state_error, got %v", err)
		}
		if idp.TokenRequests() != 0 {
			t.Error("expected no token request")
		}
	})

	t.Run("cancelled context ends the wait", func(t *testing.T) {
		c, _ := newTestClient(t)
		cctx, cancel := context.WithCancel(ctx)
		nav := &recordingNavigator{visit: func(string) { cancel() }}

		_, err := c.AcquireTokenInteractive(cctx, interactiveReq, nav)
		if !IsKind(err, KindUserCancelled) {
			t.Errorf("expected user_cancelled, got %v", err)
		}
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected wrapped context.Canceled, got %v", err)
		}
	})

	t.Run("open failure is surfaced", func(t *testing.T) {
		c, _ := newTestClient(t)
		nav := &recordingNavigator{openErr: errors.New("no display")}

		_, err := c.AcquireTokenInteractive(ctx, interactiveReq, nav)
		ae, ok := err.(*AuthError)
		if !ok || ae.Code != "navigation_failed" {
			t.Errorf("expected navigation_failed, got %v", err)
		}
		if got := nav.Calls(); strings.Join(got, ",") != "open,done" {
			t.Errorf("hooks: expected open,done, got %v", got)
		}
	})

	t.Run("nil navigator is a configuration error", func(t *testing.T) {
		c, _ := newTestClient(t)
		_, err := c.AcquireTokenInteractive(ctx, interactiveReq, nil)
		if !IsKind(err, KindConfiguration) || !errors.Is(err, ErrNilNavigator) {
			t.Errorf("expected configuration error wrapping ErrNilNavigator, got %v", err)
		}
	})

	t.Run("non-loopback redirect URI is rejected", func(t *testing.T) {
		c, _ := newTestClient(t)
		req := interactiveReq
		req.RedirectURI = "https://app.example.com/redirect"

		_, err := c.AcquireTokenInteractive(ctx, req, &recordingNavigator{})
		ae, ok := err.(*AuthError)
		if !ok || ae.Code != "invalid_loopback_redirect_uri" {
			t.Errorf("expected invalid_loopback_redirect_uri, got %v", err)
		}
	})
}

func TestNavigatorFuncs(t *testing.T) {
	var opened string
	done := false
	n := NavigatorFuncs{
		Open: func(_ context.Context, u string) error { opened = u; return nil },
		Done: func(context.Context) error { done = true; return nil },
	}
	n.OpenURL(context.Background(), "https://idp.example.com/authorize")
	n.NavigationDone(context.Background())
	if opened != "https://idp.example.com/authorize" || !done {
		t.Errorf("expected both funcs to run, opened=%q done=%v", opened, done)
	}

	var empty NavigatorFuncs
	if err := empty.OpenURL(context.Background(), "x"); err != nil {
		t.Errorf("nil Open: expected nil, got %v", err)
	}
	if err := empty.NavigationDone(context.Background()); err != nil {
		t.Errorf("nil Done: expected nil, got %v", err)
	}
}

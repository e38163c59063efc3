// loopback.go -- Single-shot local HTTP listener receiving the interactive flow's redirect.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

var (
	loopbackSuccessPage = template.Must(template.New("success").Parse(
		`<!doctype html><html><body><p>Authentication complete. You can close this window.</p></body></html>`))
	loopbackErrorPage = template.Must(template.New("error").Parse(
		`<!doctype html><html><body><p>Authentication failed: {{.Error}}</p><p>{{.Description}}</p></body></html>`))
)

// callbackResult holds the query params of the redirect back from the authorization endpoint.
type callbackResult struct {
	Code             string
	State            string
	ClientInfo       string
	Error            string
	ErrorDescription string
}

// loopbackServer listens on the redirect URI's host and port and accepts exactly one callback.
type loopbackServer struct {
	ln          net.Listener
	srv         *http.Server
	path        string
	redirectURI string
	resultCh    chan callbackResult
	errCh       chan error
	once        sync.Once
	log         *clientLogger
}

// listenLoopback binds a listener for an http://localhost redirect URI.
// An empty or zero port picks a free one; RedirectURI reports the bound address.
func listenLoopback(redirectURI string, log *clientLogger) (*loopbackServer, error) {
	u, err := url.Parse(redirectURI)
	if err != nil || u.Scheme != "http" || !isLoopbackHost(u.Hostname()) {
		return nil, NewAuthError(KindConfiguration, "invalid_loopback_redirect_uri", "interactive redirect URI must be http://localhost[:port][/path]")
	}
	port := u.Port()
	if port == "" {
		port = "0"
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(u.Hostname(), port))
	if err != nil {
		return nil, &AuthError{Kind: KindConfiguration, Code: "loopback_listen_failed", Message: "could not listen on redirect URI", Err: err}
	}

	path := u.Path
	if path == "" {
		path = "/"
	}
	bound := *u
	bound.Host = net.JoinHostPort(u.Hostname(), fmt.Sprint(ln.Addr().(*net.TCPAddr).Port))
	bound.Path = path

	s := &loopbackServer{
		ln:          ln,
		path:        path,
		redirectURI: bound.String(),
		resultCh:    make(chan callbackResult, 1),
		errCh:       make(chan error, 1),
		log:         log,
	}
	s.srv = &http.Server{
		Handler:           http.HandlerFunc(s.handle),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.errCh <- err
		}
	}()
	return s, nil
}

// RedirectURI is the redirect URI with the bound port filled in.
func (s *loopbackServer) RedirectURI() string { return s.redirectURI }

// Wait blocks until the callback arrives or ctx is done.
func (s *loopbackServer) Wait(ctx context.Context) (callbackResult, error) {
	select {
	case res := <-s.resultCh:
		return res, nil
	case err := <-s.errCh:
		return callbackResult{}, fmt.Errorf("loopback listener stopped: %w", err)
	case <-ctx.Done():
		return callbackResult{}, ctx.Err()
	}
}

// Close stops the listener, waiting up to 5s for the response page to flush.
func (s *loopbackServer) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}

func (s *loopbackServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet || r.URL.Path != s.path {
		http.NotFound(w, r)
		return
	}

	handled := false
	s.once.Do(func() {
		handled = true
		q := r.URL.Query()
		res := callbackResult{
			Code:             q.Get("code"),
			State:            q.Get("state"),
			ClientInfo:       q.Get("client_info"),
			Error:            q.Get("error"),
			ErrorDescription: q.Get("error_description"),
		}

		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Header().Set("Cache-Control", "no-store")
		w.Header().Set("Referrer-Policy", "no-referrer")
		var err error
		if res.Error != "" {
			err = loopbackErrorPage.Execute(w, map[string]string{"Error": res.Error, "Description": res.ErrorDescription})
		} else {
			err = loopbackSuccessPage.Execute(w, nil)
		}
		if err != nil {
			s.log.warn("failed to write loopback response page", "error", err)
		}

		s.resultCh <- res
	})
	if !handled {
		http.Error(w, "redirect already processed", http.StatusBadRequest)
	}
}

func isLoopbackHost(host string) bool {
	switch strings.ToLower(host) {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

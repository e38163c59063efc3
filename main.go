package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MGallo-Code/authcode-pkce/internal/auth"
	"github.com/MGallo-Code/authcode-pkce/internal/config"
	"github.com/MGallo-Code/authcode-pkce/internal/oauth"
	"github.com/MGallo-Code/authcode-pkce/internal/store"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/sessions"
	"github.com/spf13/cobra"
)

func main() {
	// Cancel ctx on SIGINT/SIGTERM; commands shut down when ctx is done.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		slog.Error("fatal", "err", err)
		stop()
		os.Exit(1)
	}
}

// newRootCmd builds the CLI. The root command runs serve so a bare invocation starts the server.
func newRootCmd() *cobra.Command {
	var cfg *config.Config

	root := &cobra.Command{
		Use:           "authcode-pkce",
		Short:         "Authorization code + PKCE sample",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Load config first so we can set log level
			c, err := config.LoadConfig()
			if err != nil {
				return err
			}
			cfg = c
			setupLogging(cfg)
			return nil
		},
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Serve GET / and GET /redirect",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.ValidateServe(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, nil)
		},
	}

	login := &cobra.Command{
		Use:   "login",
		Short: "Sign in through the system browser and a loopback redirect",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd.Context(), cfg, oauth.BrowserNavigator{}, cmd.OutOrStdout())
		},
	}

	root.RunE = serve.RunE
	root.AddCommand(serve, login)
	return root
}

// setupLogging installs the default slog JSON logger.
func setupLogging(cfg *config.Config) {
	// Include source location in log entries at debug level only.
	addSrc := cfg.LogLevel == slog.LevelDebug

	// Set up slog to output as json with configured level
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level:     cfg.LogLevel,
		AddSource: addSrc,
	})))
}

// newClient builds the one long-lived OAuth client for the process.
func newClient(ctx context.Context, cfg *config.Config) (*oauth.Client, error) {
	return oauth.NewClient(ctx, oauth.Config{
		ClientID:  cfg.ClientID,
		Authority: cfg.Authority,
		LoggerOptions: oauth.LoggerOptions{
			Logger:     slog.Default(),
			Level:      cfg.LogLevel,
			PIIEnabled: cfg.PIILoggingEnabled,
		},
	})
}

// newSessionStore picks Redis when REDIS_URL is set, server-side files otherwise.
// The returned close func releases the Redis pool and is never nil.
func newSessionStore(ctx context.Context, cfg *config.Config) (sessions.Store, func(), error) {
	opts := store.SessionOptions(cfg.SessionMaxAge, cfg.IsProduction())
	key := []byte(cfg.SessionSecret)

	if cfg.RedisURL == "" {
		fs, err := store.NewFilesystemStore(cfg.SessionDir, opts, key)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to set up filesystem session store: %w", err)
		}
		slog.Info("using filesystem session store")
		return fs, func() {}, nil
	}

	rdb, err := store.NewRedisClient(ctx, cfg.RedisURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up redis client: %w", err)
	}
	slog.Info("using redis session store")
	return store.NewRedisStore(rdb, opts, key), func() { rdb.Close() }, nil
}

// run holds all server logic and returns error instead of calling os.Exit,
// so deferred resource cleanup (rdb.Close) always runs.
// Shuts down when ctx is cancelled (signal handling is the caller's concern).
// If ready is non-nil, the server's base URL is sent on it once the listener is bound.
func run(ctx context.Context, cfg *config.Config, ready chan<- string) error {
	client, err := newClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to set up oauth client: %w", err)
	}

	ss, closeStore, err := newSessionStore(ctx, cfg)
	if err != nil {
		return err
	}
	// Close at end of run func
	defer closeStore()

	h := &auth.Handler{
		Client:                 client,
		Sessions:               &auth.Sessions{Store: ss},
		Scopes:                 cfg.Scopes,
		RedirectURI:            cfg.RedirectURI,
		Mode:                   auth.FlowMode(cfg.FlowMode),
		InteractiveRedirectURI: cfg.InteractiveRedirectURI,
		Navigator:              oauth.BrowserNavigator{},
		BaseContext:            ctx,
	}
	// Background interactive flows observe ctx; wait for them after shutdown.
	defer h.Wait()

	// Bind listener; ":0" picks a free port (useful in tests).
	ln, err := net.Listen("tcp", ":"+cfg.Port)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	server := &http.Server{
		Handler:           buildRouter(h, cfg.IsProduction()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in a goroutine; run() continues past this.
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", ln.Addr().String(), "flow_mode", cfg.FlowMode)
		// Send error only if server stops for a reason other than explicit shutdown.
		if err := server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Signal readiness to caller (used by tests; nil in production).
	if ready != nil {
		ready <- "http://" + ln.Addr().String()
	}

	// Wait for server error or shutdown signal from ctx.
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	// Graceful shutdown
	slog.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	// Stops accepting new conns, then waits for in-flight requests or the 30s timeout.
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	slog.Info("server stopped")
	return nil
}

// runLogin drives one interactive flow and writes a summary of the result to out.
// Tokens themselves are never printed.
func runLogin(ctx context.Context, cfg *config.Config, nav oauth.Navigator, out io.Writer) error {
	client, err := newClient(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to set up oauth client: %w", err)
	}

	resp, err := client.AcquireTokenInteractive(ctx, oauth.AuthorizationURLRequest{
		Scopes:      cfg.Scopes,
		RedirectURI: cfg.InteractiveRedirectURI,
	}, nav)
	if err != nil {
		return err
	}

	summary := struct {
		CorrelationID string         `json:"correlation_id"`
		TokenType     string         `json:"token_type"`
		Scopes        []string       `json:"scopes"`
		ExpiresOn     time.Time      `json:"expires_on"`
		HasIDToken    bool           `json:"has_id_token"`
		Account       *oauth.Account `json:"account,omitempty"`
	}{resp.CorrelationID, resp.TokenType, resp.Scopes, resp.ExpiresOn, resp.IDToken != "", nil}
	if cfg.PIILoggingEnabled {
		summary.Account = resp.Account
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}

// buildRouter wires all routes and middleware.
// Called from run() and from smoke tests.
func buildRouter(h *auth.Handler, trustProxy bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	// X-Forwarded-For is only trusted behind the production proxy
	if trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/", h.Start)
	r.Get("/redirect", h.Redirect)
	r.Get("/health", h.CheckHealth)

	return r
}

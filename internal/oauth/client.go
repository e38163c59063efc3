// client.go -- Public client for the authorization code flow.
//
// Thin layer over x/oauth2 (URL building, code exchange) and go-oidc
// (authority discovery, ID token verification). Adding PKCE, client_info
// and the OIDC default scopes is the only protocol behaviour added here.
package oauth

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gofrs/uuid/v5"
	"golang.org/x/oauth2"
)

// DefaultHTTPTimeout bounds discovery and token endpoint calls when no HTTPClient is given.
const DefaultHTTPTimeout = 30 * time.Second

// multiTenantAliases are Microsoft tenant segments whose ID tokens carry the real tenant
// as issuer, so issuer equality cannot hold.
var multiTenantAliases = map[string]bool{"common": true, "organizations": true, "consumers": true}

// Config is the long-lived client configuration, built once at startup.
type Config struct {
	ClientID      string
	Authority     string
	HTTPClient    *http.Client
	LoggerOptions LoggerOptions
}

// Client is a configured public client application.
// Safe for concurrent use; holds no per-flow state.
type Client struct {
	clientID    string
	environment string
	endpoint    oauth2.Endpoint
	verifier    *oidc.IDTokenVerifier
	httpClient  *http.Client
	log         *clientLogger
}

// NewClient validates cfg and resolves the authority's endpoints through OIDC discovery.
// Makes an outbound request to the authority; returns a configuration or network AuthError on failure.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, NewAuthError(KindConfiguration, "invalid_client_id", "client ID is required")
	}
	issuer, multiTenant, err := discoveryIssuer(cfg.Authority)
	if err != nil {
		return nil, err
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}

	dctx := oidc.ClientContext(ctx, httpClient)
	if multiTenant {
		dctx = oidc.InsecureIssuerURLContext(dctx, issuer)
	}
	p, err := oidc.NewProvider(dctx, issuer)
	if err != nil {
		ae := classify(err, "authority_discovery_failed")
		if ae.Kind == KindProvider {
			ae.Kind = KindConfiguration
		}
		if ae.Message == "" {
			ae.Message = "authority metadata could not be resolved"
		}
		return nil, ae
	}

	endpoint := p.Endpoint()
	// Public client: client_id travels in the form body, there is no secret.
	endpoint.AuthStyle = oauth2.AuthStyleInParams

	u, _ := url.Parse(issuer)
	log := newClientLogger(cfg.LoggerOptions)
	log.debug("authority resolved", "issuer", issuer, "authorization_endpoint", endpoint.AuthURL, "token_endpoint", endpoint.TokenURL)

	return &Client{
		clientID:    cfg.ClientID,
		environment: u.Host,
		endpoint:    endpoint,
		verifier:    p.Verifier(&oidc.Config{ClientID: cfg.ClientID, SkipIssuerCheck: multiTenant}),
		httpClient:  httpClient,
		log:         log,
	}, nil
}

// AuthCodeURL builds the authorization endpoint URL for req.
// PKCE params are added when req.CodeChallenge is set; the method defaults to S256.
func (c *Client) AuthCodeURL(req AuthorizationURLRequest) (string, error) {
	if err := req.Validate(); err != nil {
		return "", err
	}
	opts := []oauth2.AuthCodeOption{oauth2.SetAuthURLParam("client_info", "1")}
	if req.CodeChallenge != "" {
		method := req.CodeChallengeMethod
		if method == "" {
			method = ChallengeMethodS256
		}
		opts = append(opts,
			oauth2.SetAuthURLParam("code_challenge", req.CodeChallenge),
			oauth2.SetAuthURLParam("code_challenge_method", method),
		)
	}
	if req.Prompt != "" {
		opts = append(opts, oauth2.SetAuthURLParam("prompt", req.Prompt))
	}
	if req.LoginHint != "" {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", req.LoginHint))
	}

	authURL := c.oauthConfig(req.RedirectURI, req.Scopes).AuthCodeURL(req.State, opts...)
	c.log.debug("authorization url built", "redirect_uri", req.RedirectURI, "pkce", req.CodeChallenge != "")
	return authURL, nil
}

// AcquireTokenByCode exchanges an authorization code (plus its PKCE verifier) for tokens.
// A returned ID token is verified against the authority's keys before the account is built.
func (c *Client) AcquireTokenByCode(ctx context.Context, req AuthorizationCodeRequest) (*TokenResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	correlationID := newCorrelationID()
	scopes := withOIDCScopes(req.Scopes)

	c.log.debug("exchanging authorization code", "correlation_id", correlationID, c.log.piiAttr("code", req.Code))

	ctx = context.WithValue(ctx, oauth2.HTTPClient, c.httpClient)
	tok, err := c.oauthConfig(req.RedirectURI, req.Scopes).Exchange(ctx, req.Code,
		oauth2.VerifierOption(req.CodeVerifier),
		oauth2.SetAuthURLParam("scope", strings.Join(scopes, " ")),
		oauth2.SetAuthURLParam("client_info", "1"),
	)
	if err != nil {
		ae := classify(err, "token_exchange_failed")
		c.log.warn("code exchange failed", "correlation_id", correlationID, "kind", ae.Kind, "error_code", ae.Code)
		return nil, ae
	}

	resp := newTokenResponse(tok, scopes, correlationID)

	var claims map[string]any
	if resp.IDToken != "" {
		idt, err := c.verifier.Verify(ctx, resp.IDToken)
		if err != nil {
			c.log.warn("id token rejected", "correlation_id", correlationID, "error", err)
			return nil, &AuthError{Kind: KindProvider, Code: "invalid_id_token", Message: "id token failed verification", Err: err}
		}
		if err := idt.Claims(&claims); err != nil {
			return nil, &AuthError{Kind: KindProvider, Code: "invalid_id_token", Message: "id token claims unreadable", Err: err}
		}
	}

	rawInfo := req.ClientInfo
	if rawInfo == "" {
		rawInfo, _ = tok.Extra("client_info").(string)
	}
	var ci *clientInfo
	if rawInfo != "" {
		if ci, err = parseClientInfo(rawInfo); err != nil {
			c.log.warn("ignoring malformed client_info", "correlation_id", correlationID, "error", err)
		}
	}

	resp.IDTokenClaims = claims
	resp.Account = buildAccount(c.environment, ci, claims)

	username := ""
	if resp.Account != nil {
		username = resp.Account.Username
	}
	c.log.info("token acquired",
		"correlation_id", correlationID,
		"scopes", resp.Scopes,
		"expires_on", resp.ExpiresOn,
		c.log.piiAttr("username", username),
	)
	return resp, nil
}

func (c *Client) oauthConfig(redirectURI string, scopes []string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:    c.clientID,
		Endpoint:    c.endpoint,
		RedirectURL: redirectURI,
		Scopes:      withOIDCScopes(scopes),
	}
}

// discoveryIssuer maps an authority URL onto the issuer used for OIDC discovery.
// Microsoft identity platform authorities get "/v2.0" appended; others are used as-is.
func discoveryIssuer(authority string) (issuer string, multiTenant bool, err error) {
	u, perr := url.Parse(strings.TrimRight(strings.TrimSpace(authority), "/"))
	if perr != nil || u.Host == "" || (u.Scheme != "https" && u.Scheme != "http") {
		return "", false, NewAuthError(KindConfiguration, "invalid_authority", "authority must be an absolute http(s) URL")
	}
	if u.RawQuery != "" || u.Fragment != "" {
		return "", false, NewAuthError(KindConfiguration, "invalid_authority", "authority must not carry a query or fragment")
	}

	if !isMicrosoftHost(u.Hostname()) {
		return u.String(), false, nil
	}
	tenant, _, _ := strings.Cut(strings.TrimPrefix(u.Path, "/"), "/")
	if tenant == "" {
		return "", false, NewAuthError(KindConfiguration, "invalid_authority", "authority is missing a tenant")
	}
	if !strings.HasSuffix(u.Path, "/v2.0") {
		u.Path += "/v2.0"
	}
	return u.String(), multiTenantAliases[strings.ToLower(tenant)], nil
}

func isMicrosoftHost(host string) bool {
	host = strings.ToLower(host)
	return host == "login.microsoftonline.com" ||
		strings.HasSuffix(host, ".b2clogin.com") ||
		strings.HasSuffix(host, ".ciamlogin.com")
}

// newCorrelationID returns a UUIDv7 string tying together the log lines of one exchange.
func newCorrelationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return ""
	}
	return id.String()
}

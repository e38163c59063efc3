// request.go -- Authorization URL and code exchange request types.
package oauth

import (
	"net/url"
	"slices"
	"strings"
)

// oidcScopes are always requested alongside the caller's scopes so the
// token response carries an ID token, client info and a refresh token.
var oidcScopes = []string{"openid", "profile", "offline_access"}

// AuthorizationURLRequest describes the first leg of the code flow.
// CodeChallenge and CodeChallengeMethod are optional; an empty challenge sends no PKCE params.
type AuthorizationURLRequest struct {
	Scopes              []string
	RedirectURI         string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Prompt              string // e.g. "select_account", "consent"
	LoginHint           string
}

// Validate checks scopes are non-empty and RedirectURI is an absolute http(s) URL.
func (r AuthorizationURLRequest) Validate() error {
	if err := validateScopes(r.Scopes); err != nil {
		return err
	}
	if err := validateRedirectURI(r.RedirectURI); err != nil {
		return err
	}
	if r.CodeChallenge != "" && r.CodeChallengeMethod != "" && r.CodeChallengeMethod != ChallengeMethodS256 {
		return NewAuthError(KindConfiguration, "invalid_code_challenge_method", "only S256 is supported")
	}
	return nil
}

// AuthorizationCodeRequest describes the second leg: the code exchange.
// ClientInfo is the raw client_info query param returned by the authorization endpoint.
type AuthorizationCodeRequest struct {
	Code         string
	Scopes       []string
	RedirectURI  string
	CodeVerifier string
	ClientInfo   string
}

// Validate checks the request carries a code, a verifier, scopes and a redirect URI.
func (r AuthorizationCodeRequest) Validate() error {
	if strings.TrimSpace(r.Code) == "" {
		return NewAuthError(KindInvalidRequest, "missing_code", "authorization code is required")
	}
	if r.CodeVerifier == "" {
		return NewAuthError(KindSessionState, "missing_code_verifier", "no PKCE code verifier for this flow")
	}
	if err := validateScopes(r.Scopes); err != nil {
		return err
	}
	return validateRedirectURI(r.RedirectURI)
}

func validateScopes(scopes []string) error {
	for _, s := range scopes {
		if strings.TrimSpace(s) != "" {
			return nil
		}
	}
	return NewAuthError(KindConfiguration, "empty_scopes", "at least one scope is required")
}

func validateRedirectURI(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || !u.IsAbs() || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return NewAuthError(KindConfiguration, "invalid_redirect_uri", "redirect URI must be an absolute http(s) URL")
	}
	if u.Fragment != "" {
		return NewAuthError(KindConfiguration, "invalid_redirect_uri", "redirect URI must not contain a fragment")
	}
	return nil
}

// withOIDCScopes returns scopes plus the OIDC defaults, trimmed and de-duplicated, order kept.
func withOIDCScopes(scopes []string) []string {
	out := make([]string, 0, len(scopes)+len(oidcScopes))
	for _, s := range append(slices.Clone(scopes), oidcScopes...) {
		s = strings.TrimSpace(s)
		if s == "" || slices.Contains(out, s) {
			continue
		}
		out = append(out, s)
	}
	return out
}

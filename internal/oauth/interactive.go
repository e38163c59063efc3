// interactive.go -- Interactive authorization: loopback redirect plus navigator hooks.
package oauth

import (
	"context"
	"crypto/subtle"
	"errors"
)

// ErrNilNavigator is returned by AcquireTokenInteractive when no navigator is supplied.
var ErrNilNavigator = errors.New("navigator is required")

// AcquireTokenInteractive runs the whole code flow for a local user.
// PKCE codes and state are generated here; req.RedirectURI must be an http loopback URI.
// nav.OpenURL gets the authorization URL, nav.NavigationDone runs after the redirect
// arrives or the wait ends. There is no timeout beyond ctx; a single attempt is made.
func (c *Client) AcquireTokenInteractive(ctx context.Context, req AuthorizationURLRequest, nav Navigator) (*TokenResponse, error) {
	if nav == nil {
		return nil, &AuthError{Kind: KindConfiguration, Code: "missing_navigator", Message: ErrNilNavigator.Error(), Err: ErrNilNavigator}
	}
	if err := validateScopes(req.Scopes); err != nil {
		return nil, err
	}

	lb, err := listenLoopback(req.RedirectURI, c.log)
	if err != nil {
		return nil, err
	}
	defer lb.Close()

	codes := GeneratePKCECodes()
	state, err := GenerateState()
	if err != nil {
		return nil, &AuthError{Kind: KindConfiguration, Code: "state_generation_failed", Err: err}
	}

	req.RedirectURI = lb.RedirectURI()
	req.State = state
	req.CodeChallenge = codes.Challenge
	req.CodeChallengeMethod = codes.Method

	authURL, err := c.AuthCodeURL(req)
	if err != nil {
		return nil, err
	}

	c.log.info("interactive flow started", "redirect_uri", req.RedirectURI)
	if err := nav.OpenURL(ctx, authURL); err != nil {
		c.navigationDone(ctx, nav)
		return nil, &AuthError{Kind: KindConfiguration, Code: "navigation_failed", Message: "authorization URL could not be opened", Err: err}
	}

	res, waitErr := lb.Wait(ctx)
	c.navigationDone(ctx, nav)
	if waitErr != nil {
		return nil, &AuthError{Kind: KindUserCancelled, Code: "interaction_incomplete", Message: "no redirect received from the authorization endpoint", Err: waitErr}
	}

	if res.Error != "" {
		kind := KindProvider
		if res.Error == "access_denied" {
			kind = KindUserCancelled
		}
		return nil, NewAuthError(kind, res.Error, res.ErrorDescription)
	}
	if subtle.ConstantTimeCompare([]byte(res.State), []byte(state)) != 1 {
		c.log.warn("interactive flow state mismatch")
		return nil, NewAuthError(KindSessionState, "state_mismatch", "state returned by the authorization endpoint does not match")
	}

	return c.AcquireTokenByCode(ctx, AuthorizationCodeRequest{
		Code:         res.Code,
		Scopes:       req.Scopes,
		RedirectURI:  req.RedirectURI,
		CodeVerifier: codes.Verifier,
		ClientInfo:   res.ClientInfo,
	})
}

// navigationDone runs the second navigator hook; its error is only logged.
func (c *Client) navigationDone(ctx context.Context, nav Navigator) {
	if err := nav.NavigationDone(ctx); err != nil {
		c.log.warn("navigation done hook failed", "error", err)
	}
}

// token.go -- Token response and account info derived from client_info and ID token claims.
package oauth

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"golang.org/x/oauth2"
)

// Account identifies the signed-in user.
// HomeAccountID is "<uid>.<utid>" when the provider returned client_info.
type Account struct {
	HomeAccountID  string `json:"homeAccountId"`
	Environment    string `json:"environment"`
	TenantID       string `json:"tenantId"`
	Username       string `json:"username"`
	LocalAccountID string `json:"localAccountId"`
	Name           string `json:"name,omitempty"`
}

// TokenResponse is the result of a successful code exchange.
// It is handed to the caller and never persisted here.
type TokenResponse struct {
	AccessToken   string         `json:"accessToken"`
	IDToken       string         `json:"idToken,omitempty"`
	TokenType     string         `json:"tokenType"`
	Scopes        []string       `json:"scopes"`
	ExpiresOn     time.Time      `json:"expiresOn"`
	CorrelationID string         `json:"correlationId"`
	Account       *Account       `json:"account,omitempty"`
	IDTokenClaims map[string]any `json:"idTokenClaims,omitempty"`
}

// clientInfo is the decoded client_info param: base64url JSON with uid and utid.
type clientInfo struct {
	UID  string `json:"uid"`
	UTID string `json:"utid"`
}

// parseClientInfo decodes a raw client_info value. Padding is optional.
func parseClientInfo(raw string) (*clientInfo, error) {
	raw = strings.TrimRight(raw, "=")
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decoding client_info: %w", err)
	}
	var ci clientInfo
	if err := json.Unmarshal(b, &ci); err != nil {
		return nil, fmt.Errorf("parsing client_info: %w", err)
	}
	if ci.UID == "" {
		return nil, fmt.Errorf("client_info has no uid")
	}
	return &ci, nil
}

// newTokenResponse builds the response from the x/oauth2 token.
// requested is used when the token endpoint does not echo the granted scope.
func newTokenResponse(tok *oauth2.Token, requested []string, correlationID string) *TokenResponse {
	resp := &TokenResponse{
		AccessToken:   tok.AccessToken,
		TokenType:     tok.Type(),
		ExpiresOn:     tok.Expiry,
		Scopes:        requested,
		CorrelationID: correlationID,
	}
	if idt, ok := tok.Extra("id_token").(string); ok {
		resp.IDToken = idt
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		resp.Scopes = strings.Fields(scope)
	}
	return resp
}

// buildAccount fills Account from client_info (query param first, then token response)
// and the verified ID token claims. Returns nil when neither source is available.
func buildAccount(environment string, ci *clientInfo, claims map[string]any) *Account {
	if ci == nil && claims == nil {
		return nil
	}
	acct := &Account{Environment: environment}
	if ci != nil {
		acct.HomeAccountID = ci.UID + "." + ci.UTID
		acct.LocalAccountID = ci.UID
		acct.TenantID = ci.UTID
	}
	if claims != nil {
		if v, ok := claims["oid"].(string); ok && v != "" {
			acct.LocalAccountID = v
		} else if v, ok := claims["sub"].(string); ok && acct.LocalAccountID == "" {
			acct.LocalAccountID = v
		}
		if v, ok := claims["tid"].(string); ok && v != "" {
			acct.TenantID = v
		}
		if v, ok := claims["preferred_username"].(string); ok && v != "" {
			acct.Username = v
		} else if v, ok := claims["email"].(string); ok {
			acct.Username = v
		}
		if v, ok := claims["name"].(string); ok {
			acct.Name = v
		}
		if acct.HomeAccountID == "" {
			acct.HomeAccountID = acct.LocalAccountID
		}
	}
	return acct
}

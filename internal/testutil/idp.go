// idp.go
//
// In-memory identity provider for tests: OIDC discovery, an authorization
// endpoint that immediately redirects back with a code, a token endpoint
// that enforces the PKCE verifier/challenge binding, and an RS256 signing key
// published as a JWKS for ID tokens.
package testutil

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"maps"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/go-jose/go-jose/v4"
)

// FakeKeyID is the kid of the fake IdP's signing key.
const FakeKeyID = "fake-idp-key"

// FakeClientInfo is the client_info value the fake IdP returns: {"uid":"user-1","utid":"tenant-1"}.
var FakeClientInfo = base64.RawURLEncoding.EncodeToString([]byte(`{"uid":"user-1","utid":"tenant-1"}`))

type pendingCode struct {
	challenge   string
	redirectURI string
	clientID    string
}

// FakeIdP is a stateful identity provider backed by httptest.Server.
// Use the Fail* setters to make an endpoint return an error.
type FakeIdP struct {
	Server *httptest.Server

	key    *rsa.PrivateKey
	signer jose.Signer

	mu             sync.Mutex
	authorizeError string
	tokenError     string
	idTokenClaims  map[string]any

	codes         map[string]pendingCode
	seq           int
	tokenRequests int
	lastAuthorize url.Values
}

// NewFakeIdP starts a fake IdP; it is closed via t.Cleanup.
func NewFakeIdP(t *testing.T) *FakeIdP {
	t.Helper()
	f := &FakeIdP{codes: make(map[string]pendingCode)}

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating fake idp key: %v", err)
	}
	signer, err := jose.NewSigner(
		jose.SigningKey{Algorithm: jose.RS256, Key: &jose.JSONWebKey{Key: key, KeyID: FakeKeyID, Algorithm: string(jose.RS256)}},
		(&jose.SignerOptions{}).WithType("JWT"),
	)
	if err != nil {
		t.Fatalf("creating fake idp signer: %v", err)
	}
	f.key, f.signer = key, signer

	mux := http.NewServeMux()
	mux.HandleFunc("GET /.well-known/openid-configuration", f.discovery)
	mux.HandleFunc("GET /authorize", f.authorize)
	mux.HandleFunc("POST /token", f.token)
	mux.HandleFunc("GET /keys", f.keys)

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// URL is the issuer / authority URL.
func (f *FakeIdP) URL() string { return f.Server.URL }

// IssueCode registers a code bound to challenge and redirectURI, as if the user had consented.
func (f *FakeIdP) IssueCode(challenge, redirectURI string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	code := fmt.Sprintf("code-%d", f.seq)
	f.codes[code] = pendingCode{challenge: challenge, redirectURI: redirectURI}
	return code
}

// FailAuthorize makes the authorization endpoint redirect back with ?error=code.
func (f *FakeIdP) FailAuthorize(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authorizeError = code
}

// FailToken makes the token endpoint answer 400 with the given error code.
func (f *FakeIdP) FailToken(code string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenError = code
}

// IssueIDTokens makes the token endpoint return a signed id_token carrying claims.
// iss, aud (the requesting client_id), iat and exp are filled in unless claims set them.
// nil turns ID tokens off again.
func (f *FakeIdP) IssueIDTokens(claims map[string]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.idTokenClaims = maps.Clone(claims)
}

// TokenRequests returns how many requests reached the token endpoint.
func (f *FakeIdP) TokenRequests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenRequests
}

// LastAuthorize returns the query of the most recent authorization request.
func (f *FakeIdP) LastAuthorize() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastAuthorize
}

func (f *FakeIdP) discovery(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"issuer":                                f.Server.URL,
		"authorization_endpoint":                f.Server.URL + "/authorize",
		"token_endpoint":                        f.Server.URL + "/token",
		"jwks_uri":                              f.Server.URL + "/keys",
		"response_types_supported":              []string{"code"},
		"subject_types_supported":               []string{"public"},
		"id_token_signing_alg_values_supported": []string{"RS256"},
		"code_challenge_methods_supported":      []string{"S256"},
	})
}

func (f *FakeIdP) authorize(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f.mu.Lock()
	f.lastAuthorize = q
	authorizeError := f.authorizeError
	f.mu.Unlock()

	redirectURI := q.Get("redirect_uri")
	target, err := url.Parse(redirectURI)
	if err != nil || redirectURI == "" {
		http.Error(w, "bad redirect_uri", http.StatusBadRequest)
		return
	}

	params := url.Values{}
	if s := q.Get("state"); s != "" {
		params.Set("state", s)
	}
	if authorizeError != "" {
		params.Set("error", authorizeError)
		params.Set("error_description", "the user did not consent")
	} else {
		code := f.IssueCode(q.Get("code_challenge"), redirectURI)
		f.mu.Lock()
		pc := f.codes[code]
		pc.clientID = q.Get("client_id")
		f.codes[code] = pc
		f.mu.Unlock()
		params.Set("code", code)
		params.Set("client_info", FakeClientInfo)
	}
	target.RawQuery = params.Encode()
	http.Redirect(w, r, target.String(), http.StatusFound)
}

func (f *FakeIdP) keys(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(jose.JSONWebKeySet{Keys: []jose.JSONWebKey{{
		Key:       &f.key.PublicKey,
		KeyID:     FakeKeyID,
		Algorithm: string(jose.RS256),
		Use:       "sig",
	}}})
}

// signIDToken fills the registered claims and returns a compact RS256 JWT.
func (f *FakeIdP) signIDToken(claims map[string]any, clientID string) (string, error) {
	c := maps.Clone(claims)
	now := time.Now()
	defaults := map[string]any{
		"iss": f.Server.URL,
		"aud": clientID,
		"iat": now.Unix(),
		"exp": now.Add(time.Hour).Unix(),
	}
	for k, v := range defaults {
		if _, ok := c[k]; !ok {
			c[k] = v
		}
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	jws, err := f.signer.Sign(payload)
	if err != nil {
		return "", err
	}
	return jws.CompactSerialize()
}

func (f *FakeIdP) token(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.tokenRequests++
	tokenErr := f.tokenError
	idClaims := f.idTokenClaims
	f.mu.Unlock()

	if err := r.ParseForm(); err != nil {
		tokenError(w, "invalid_request", "unparseable form")
		return
	}
	if tokenErr != "" {
		tokenError(w, tokenErr, "token endpoint configured to fail")
		return
	}
	if r.PostForm.Get("grant_type") != "authorization_code" {
		tokenError(w, "unsupported_grant_type", "only authorization_code is supported")
		return
	}

	code := r.PostForm.Get("code")
	f.mu.Lock()
	pc, ok := f.codes[code]
	delete(f.codes, code)
	f.mu.Unlock()
	if !ok {
		tokenError(w, "invalid_grant", "unknown or used authorization code")
		return
	}
	if pc.clientID != "" && pc.clientID != r.PostForm.Get("client_id") {
		tokenError(w, "invalid_client", "client_id mismatch")
		return
	}
	if pc.redirectURI != r.PostForm.Get("redirect_uri") {
		tokenError(w, "invalid_grant", "redirect_uri mismatch")
		return
	}
	sum := sha256.Sum256([]byte(r.PostForm.Get("code_verifier")))
	if base64.RawURLEncoding.EncodeToString(sum[:]) != pc.challenge {
		tokenError(w, "invalid_grant", "PKCE verification failed")
		return
	}

	body := map[string]any{
		"access_token": "access-" + code,
		"token_type":   "Bearer",
		"expires_in":   3600,
		"scope":        r.PostForm.Get("scope"),
		"client_info":  FakeClientInfo,
	}
	if idClaims != nil {
		idToken, err := f.signIDToken(idClaims, r.PostForm.Get("client_id"))
		if err != nil {
			http.Error(w, "signing id token: "+err.Error(), http.StatusInternalServerError)
			return
		}
		body["id_token"] = idToken
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func tokenError(w http.ResponseWriter, code, desc string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]string{"error": code, "error_description": desc})
}

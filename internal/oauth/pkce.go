// pkce.go -- PKCE (RFC 7636) code and state generation.
//
// Verifier and challenge come from x/oauth2; nothing here hashes or encodes by hand.
package oauth

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/oauth2"
)

// ChallengeMethodS256 is the only challenge method this client sends.
const ChallengeMethodS256 = "S256"

// PKCECodes is a verifier/challenge pair for one authorization flow.
// Verifier stays server-side; Challenge goes out in the authorization URL.
type PKCECodes struct {
	Verifier  string
	Challenge string
	Method    string
}

// GeneratePKCECodes returns a fresh 32-byte verifier and its S256 challenge.
func GeneratePKCECodes() PKCECodes {
	verifier := oauth2.GenerateVerifier()
	return PKCECodes{
		Verifier:  verifier,
		Challenge: oauth2.S256ChallengeFromVerifier(verifier),
		Method:    ChallengeMethodS256,
	}
}

// Matches reports whether verifier hashes to this pair's challenge.
func (p PKCECodes) Matches(verifier string) bool {
	return verifier != "" && oauth2.S256ChallengeFromVerifier(verifier) == p.Challenge
}

// GenerateState returns a 256-bit random state parameter, base64url-encoded.
func GenerateState() (string, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("generating state with rand: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b[:]), nil
}

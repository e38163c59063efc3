// errors.go -- Typed authentication errors surfaced by every flow.
package oauth

import (
	"encoding/json"
	"errors"
	"net"
	"net/url"

	"golang.org/x/oauth2"
)

// ErrorKind classifies why a flow failed.
type ErrorKind string

const (
	KindConfiguration  ErrorKind = "configuration_error"
	KindNetwork        ErrorKind = "network_error"
	KindProvider       ErrorKind = "provider_error"
	KindSessionState   ErrorKind = "session_state_error"
	KindUserCancelled  ErrorKind = "user_cancelled"
	KindInvalidRequest ErrorKind = "invalid_request"
)

// AuthError is returned by the client and the HTTP handlers for any flow failure.
// Code carries the identity provider's error code when one was returned.
type AuthError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Err     error
}

// NewAuthError builds an AuthError without an underlying cause.
func NewAuthError(kind ErrorKind, code, message string) *AuthError {
	return &AuthError{Kind: kind, Code: code, Message: message}
}

func (e *AuthError) Error() string {
	msg := string(e.Kind) + ": " + e.Code
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *AuthError) Unwrap() error { return e.Err }

// MarshalJSON renders the error the way it is sent back to the user agent.
// The wrapped cause is left out; it can contain endpoint URLs and raw bodies.
func (e *AuthError) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name         ErrorKind `json:"name"`
		ErrorCode    string    `json:"errorCode"`
		ErrorMessage string    `json:"errorMessage"`
	}{e.Kind, e.Code, e.Message})
}

// IsKind reports whether err is an AuthError of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var ae *AuthError
	return errors.As(err, &ae) && ae.Kind == kind
}

// classify turns an error from x/oauth2 or go-oidc into an AuthError.
// Token endpoint rejections become provider errors; transport failures become network errors.
func classify(err error, fallbackCode string) *AuthError {
	var ae *AuthError
	if errors.As(err, &ae) {
		return ae
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		code := re.ErrorCode
		if code == "" {
			code = fallbackCode
		}
		return &AuthError{Kind: KindProvider, Code: code, Message: re.ErrorDescription, Err: err}
	}

	var ue *url.Error
	var ne net.Error
	if errors.As(err, &ue) || errors.As(err, &ne) {
		return &AuthError{Kind: KindNetwork, Code: "endpoint_unreachable", Message: "identity provider could not be reached", Err: err}
	}

	return &AuthError{Kind: KindProvider, Code: fallbackCode, Err: err}
}

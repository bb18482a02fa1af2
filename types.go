package oauth

import (
	"errors"
	"time"

	"golang.org/x/oauth2"

	"github.com/verdantlabs/oauth2core/server"
)

// Grant types accepted at the token endpoint.
const (
	GrantTypeAuthorizationCode = server.GrantTypeAuthorizationCode
	GrantTypeClientCredentials = server.GrantTypeClientCredentials
	GrantTypeRefreshToken      = server.GrantTypeRefreshToken
	GrantTypePassword          = server.GrantTypePassword
)

// ResponseTypeCode is the sole supported authorization response type.
const ResponseTypeCode = server.ResponseTypeCode

// TokenResponse is the token endpoint success body (RFC 6749 section 5.1).
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}

// ErrorResponse is the token endpoint error body (RFC 6749 section 5.2).
type ErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// NewTokenResponse converts an issued token into the wire form. A zero
// expiry omits expires_in.
func NewTokenResponse(tok *oauth2.Token, scope string) *TokenResponse {
	resp := &TokenResponse{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		Scope:        scope,
	}
	if !tok.Expiry.IsZero() {
		resp.ExpiresIn = int64(time.Until(tok.Expiry).Seconds())
	}
	return resp
}

// NewErrorResponse converts an engine error into the wire form. Errors that
// are not a *Error map to server_error without leaking internals.
func NewErrorResponse(err error) *ErrorResponse {
	var oauthErr *Error
	if errors.As(err, &oauthErr) {
		return &ErrorResponse{
			Error:            oauthErr.Code,
			ErrorDescription: oauthErr.Description,
		}
	}
	return &ErrorResponse{
		Error:            ErrorServerError,
		ErrorDescription: "internal error",
	}
}

package server

import (
	"fmt"
	"net/url"
)

// OAuth error codes returned by the engine.
const (
	// ErrorInvalidRequest indicates a malformed request, such as a missing
	// required parameter.
	ErrorInvalidRequest = "invalid_request"

	// ErrorInvalidClient indicates failed client authentication or an
	// unknown client. The two cases are deliberately indistinguishable.
	ErrorInvalidClient = "invalid_client"

	// ErrorInvalidGrant indicates an invalid, expired, consumed, or
	// mismatched authorization code, refresh token, or resource-owner
	// credential.
	ErrorInvalidGrant = "invalid_grant"

	// ErrorUnauthorizedClient indicates the authenticated client is not
	// allowed to use the requested grant type.
	ErrorUnauthorizedClient = "unauthorized_client"

	// ErrorRedirectURIMismatch indicates the redirect URI does not exactly
	// match a registered one. Never redirected: the URI is not trusted.
	ErrorRedirectURIMismatch = "redirect_uri_mismatch"

	// ErrorUnsupportedResponseType indicates a response type other than
	// "code" on the authorization endpoint.
	ErrorUnsupportedResponseType = "unsupported_response_type"

	// ErrorUnsupportedGrantType indicates an unrecognized grant type on the
	// token endpoint.
	ErrorUnsupportedGrantType = "unsupported_grant_type"

	// ErrorInvalidScope indicates a requested scope outside what the server
	// or the client's registration allows.
	ErrorInvalidScope = "invalid_scope"

	// ErrorAccessDenied indicates the resource owner declined the
	// authorization request.
	ErrorAccessDenied = "access_denied"

	// ErrorServerError indicates an internal failure, including storage
	// errors. Internal detail never leaks into the description.
	ErrorServerError = "server_error"
)

// Error is the structured OAuth error the engine returns. It carries the
// wire error code, a human-readable description, the client's opaque state,
// and, when the failure occurred after the redirect URI was verified, that
// URI so the caller can redirect the error back to the client.
type Error struct {
	Code        string
	Description string
	State       string

	// redirectURI is set only after the URI passed validation. Unexported:
	// callers obtain the rendered URL via RedirectURL, never the raw URI of
	// a failed request.
	redirectURI string
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// RedirectURL renders the error as a redirect back to the client, or ""
// when redirecting is not safe because the redirect URI was never verified.
func (e *Error) RedirectURL() string {
	if e.redirectURI == "" {
		return ""
	}

	u, err := url.Parse(e.redirectURI)
	if err != nil {
		return ""
	}

	q := u.Query()
	q.Set("error", e.Code)
	if e.Description != "" {
		q.Set("error_description", e.Description)
	}
	if e.State != "" {
		q.Set("state", e.State)
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// newError creates a displayable error with no redirect target.
func newError(code, description string) *Error {
	return &Error{Code: code, Description: description}
}

// newRedirectError creates an error bound to a verified redirect URI.
func newRedirectError(code, description, redirectURI, state string) *Error {
	return &Error{
		Code:        code,
		Description: description,
		State:       state,
		redirectURI: redirectURI,
	}
}

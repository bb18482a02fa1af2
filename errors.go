package oauth

import "github.com/verdantlabs/oauth2core/server"

// Error is the structured OAuth error returned by every engine operation.
type Error = server.Error

// OAuth error codes.
const (
	ErrorInvalidRequest          = server.ErrorInvalidRequest
	ErrorInvalidClient           = server.ErrorInvalidClient
	ErrorInvalidGrant            = server.ErrorInvalidGrant
	ErrorUnauthorizedClient      = server.ErrorUnauthorizedClient
	ErrorRedirectURIMismatch     = server.ErrorRedirectURIMismatch
	ErrorUnsupportedResponseType = server.ErrorUnsupportedResponseType
	ErrorUnsupportedGrantType    = server.ErrorUnsupportedGrantType
	ErrorInvalidScope            = server.ErrorInvalidScope
	ErrorAccessDenied            = server.ErrorAccessDenied
	ErrorServerError             = server.ErrorServerError
)

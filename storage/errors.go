package storage

import "errors"

// Sentinel errors returned by storage implementations. The engine matches on
// these with errors.Is and translates them into OAuth error responses; raw
// storage errors never reach callers.
var (
	// ErrClientNotFound indicates the client ID is not registered.
	ErrClientNotFound = errors.New("client not found")

	// ErrCodeNotFound indicates the authorization code does not exist.
	ErrCodeNotFound = errors.New("authorization code not found")

	// ErrCodeUsed indicates the authorization code was already consumed.
	// A second consumption attempt is a replay and must never succeed.
	ErrCodeUsed = errors.New("authorization code already used")

	// ErrTokenNotFound indicates the access or refresh token does not exist.
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenExpired indicates the code or token exists but has expired.
	// Expiry is checked on every read; expired records may linger in storage
	// until garbage-collected.
	ErrTokenExpired = errors.New("token expired")

	// ErrDuplicateToken indicates a create operation collided on an existing
	// token string. Creates are atomic with respect to uniqueness; the engine
	// regenerates and retries, bounded to a small count.
	ErrDuplicateToken = errors.New("token already exists")

	// ErrInvalidCredentials indicates client or resource-owner credentials
	// failed verification. Deliberately generic to prevent enumeration.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrAmbiguousRedirectURI indicates a redirect URI was omitted from an
	// authorization request but the client has zero or several registered,
	// so none can be chosen implicitly.
	ErrAmbiguousRedirectURI = errors.New("no single registered redirect URI")
)

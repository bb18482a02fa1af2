package storage

import "context"

// ClientStore manages registered OAuth clients.
// All methods accept context.Context for tracing and cancellation.
type ClientStore interface {
	// SaveClient persists a registered client.
	SaveClient(ctx context.Context, client *Client) error

	// GetClient retrieves a client by ID, or ErrClientNotFound.
	GetClient(ctx context.Context, clientID string) (*Client, error)

	// UpdateClientSecret replaces the stored secret hash for a client.
	// This is the only mutation permitted after registration.
	UpdateClientSecret(ctx context.Context, clientID, secretHash string) error

	// CheckClientCredentials verifies a client's secret. The comparison must
	// take constant time regardless of whether the client exists, and the
	// returned error must not distinguish unknown client from wrong secret
	// (ErrInvalidCredentials for both).
	CheckClientCredentials(ctx context.Context, clientID, clientSecret string) error

	// CheckRestrictedGrantType reports whether the client may use the given
	// grant type. Clients registered without grant restrictions may use any.
	CheckRestrictedGrantType(ctx context.Context, clientID, grantType string) (bool, error)

	// GetRedirectURI returns the client's sole registered redirect URI.
	// Returns ErrAmbiguousRedirectURI when the client has zero or more than
	// one URI registered, since none can be chosen implicitly.
	GetRedirectURI(ctx context.Context, clientID string) (string, error)
}

// CodeStore manages authorization codes.
// All methods accept context.Context for tracing and cancellation.
type CodeStore interface {
	// CreateAuthorizationCode persists a new code. Returns ErrDuplicateToken
	// if the code string already exists; creation is atomic with respect to
	// uniqueness so two concurrent creates never both succeed on one string.
	CreateAuthorizationCode(ctx context.Context, code *AuthorizationCode) error

	// GetAuthorizationCode retrieves a code without consuming it, or
	// ErrCodeNotFound / ErrTokenExpired.
	GetAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// ConsumeAuthorizationCode atomically checks that a code is unused and
	// marks it used. Exactly one of any set of concurrent calls succeeds;
	// the rest receive ErrCodeUsed. Expired codes return ErrTokenExpired.
	// This atomicity is the engine's replay-prevention backbone.
	ConsumeAuthorizationCode(ctx context.Context, code string) (*AuthorizationCode, error)

	// DeleteAuthorizationCode removes a code.
	DeleteAuthorizationCode(ctx context.Context, code string) error
}

// TokenStore manages access and refresh tokens.
// All methods accept context.Context for tracing and cancellation.
type TokenStore interface {
	// CreateAccessToken persists a new access token, ErrDuplicateToken on
	// collision.
	CreateAccessToken(ctx context.Context, token *AccessToken) error

	// GetAccessToken retrieves an access token. Expiry is checked on read:
	// an expired token returns ErrTokenExpired even if still present.
	GetAccessToken(ctx context.Context, token string) (*AccessToken, error)

	// DeleteAccessToken removes an access token (explicit revocation).
	DeleteAccessToken(ctx context.Context, token string) error

	// CreateRefreshToken persists a new refresh token, ErrDuplicateToken on
	// collision.
	CreateRefreshToken(ctx context.Context, token *RefreshToken) error

	// GetRefreshToken retrieves a refresh token without consuming it.
	GetRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// ConsumeRefreshToken atomically retrieves and deletes a refresh token.
	// Used for rotation: exactly one of any set of concurrent redemption
	// attempts succeeds, the rest receive ErrTokenNotFound.
	ConsumeRefreshToken(ctx context.Context, token string) (*RefreshToken, error)

	// RevokeRefreshToken removes a refresh token.
	RevokeRefreshToken(ctx context.Context, token string) error
}

// UserStore verifies resource-owner credentials for the password grant.
type UserStore interface {
	// CheckUserCredentials verifies a username/password pair and returns the
	// user's identifier, or ErrInvalidCredentials. The comparison must take
	// constant time regardless of whether the user exists.
	CheckUserCredentials(ctx context.Context, username, password string) (string, error)
}

// Storage is the full capability set a backend must implement to drive the
// engine.
type Storage interface {
	ClientStore
	CodeStore
	TokenStore
	UserStore
}

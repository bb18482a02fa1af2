package storage

import "time"

// Client is a registered OAuth client. Clients are created by an
// administrative registration action and are immutable afterwards except for
// secret rotation; they are never deleted automatically.
type Client struct {
	ID           string
	SecretHash   string   // bcrypt hash; empty for public clients
	RedirectURIs []string // pre-registered exact-match redirect targets
	GrantTypes   []string // allowed grant types; empty means unrestricted
	Scopes       []string // allowed scopes; empty means any
	CreatedAt    time.Time
}

// AuthorizationCode is a short-lived, single-use credential minted at consent
// time and exchanged exactly once for tokens.
type AuthorizationCode struct {
	Code        string
	ClientID    string
	UserID      string
	RedirectURI string // the exact URI the code was issued for
	Scope       string
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Used        bool
}

// AccessToken is an opaque bearer credential. UserID is empty for tokens
// issued through the client-credentials grant. RefreshToken is the paired
// refresh token issued alongside, empty when the grant carried none;
// revoking the access token revokes the pair.
type AccessToken struct {
	Token        string
	ClientID     string
	UserID       string
	Scope        string
	RefreshToken string
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// RefreshToken is the long-lived credential paired with an access token.
// A zero ExpiresAt means the token never expires.
type RefreshToken struct {
	Token     string
	ClientID  string
	UserID    string
	Scope     string
	CreatedAt time.Time
	ExpiresAt time.Time
}

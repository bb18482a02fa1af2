package valkey

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/verdantlabs/oauth2core/security"
	"github.com/verdantlabs/oauth2core/storage"
)

const (
	// DefaultKeyPrefix is the default prefix for all Valkey keys.
	DefaultKeyPrefix = "oauth2:"

	// tokenIDLogLength is the number of token characters included in logs.
	tokenIDLogLength = 8

	// connectionVerifyTimeout bounds the initial PING.
	connectionVerifyTimeout = 5 * time.Second
)

// Config holds configuration for the Valkey storage backend.
type Config struct {
	// Address is the Valkey server address (required), e.g. "localhost:6379".
	Address string

	// Password is the optional password for authentication.
	Password string

	// DB is the optional database number.
	DB int

	// KeyPrefix is the prefix for all keys (default "oauth2:").
	KeyPrefix string

	// TLS is the optional TLS configuration for encrypted connections.
	TLS *tls.Config

	// Logger is the optional structured logger (default slog.Default()).
	Logger *slog.Logger
}

// Store is a Valkey-backed implementation of the full storage contract.
type Store struct {
	client valkeygo.Client
	prefix string
	logger *slog.Logger
}

// Compile-time interface checks.
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.CodeStore   = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
	_ storage.UserStore   = (*Store)(nil)
	_ storage.Storage     = (*Store)(nil)
)

// New creates a Valkey-backed store and verifies the connection.
func New(cfg Config) (*Store, error) {
	if cfg.Address == "" {
		return nil, fmt.Errorf("valkey address is required")
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	opts := valkeygo.ClientOption{
		InitAddress: []string{cfg.Address},
		SelectDB:    cfg.DB,
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.TLS != nil {
		opts.TLSConfig = cfg.TLS
	}

	client, err := valkeygo.NewClient(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create valkey client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), connectionVerifyTimeout)
	defer cancel()

	if err := client.Do(ctx, client.B().Ping().Build()).Error(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}

	logger.Info("connected to valkey storage",
		"address", cfg.Address,
		"db", cfg.DB,
		"prefix", prefix)

	return &Store{
		client: client,
		prefix: prefix,
		logger: logger,
	}, nil
}

// Close closes the Valkey client connection.
func (s *Store) Close() {
	s.client.Close()
	s.logger.Info("valkey storage connection closed")
}

// ============================================================
// Key helpers
// ============================================================

func (s *Store) clientKey(clientID string) string {
	return fmt.Sprintf("%sclient:%s", s.prefix, clientID)
}

func (s *Store) codeKey(code string) string {
	return fmt.Sprintf("%scode:%s", s.prefix, code)
}

func (s *Store) accessTokenKey(token string) string {
	return fmt.Sprintf("%saccess:%s", s.prefix, token)
}

func (s *Store) refreshTokenKey(token string) string {
	return fmt.Sprintf("%srefresh:%s", s.prefix, token)
}

func (s *Store) userKey(username string) string {
	return fmt.Sprintf("%suser:%s", s.prefix, username)
}

// ============================================================
// Lua scripts for atomic operations
// ============================================================

// luaConsumeAuthorizationCode atomically checks that an authorization code
// is unused and marks it used, keeping its TTL. Only one concurrent caller
// can succeed; the rest observe the used flag.
//
// KEYS[1] = code key
// ARGV[1] = expiry cutoff as a Unix timestamp (now minus the clock-skew
// grace period, so boundary behavior matches the engine's expiry checks)
//
// Returns the original JSON on success, or "NOT_FOUND", "EXPIRED",
// "ALREADY_USED".
const luaConsumeAuthorizationCode = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local code = cjson.decode(data)

local cutoff = tonumber(ARGV[1])
local expiresAt = tonumber(code.expires_at)
if expiresAt and expiresAt > 0 and cutoff > expiresAt then
    return 'EXPIRED'
end

if code.used then
    return 'ALREADY_USED'
end

code.used = true
redis.call('SET', KEYS[1], cjson.encode(code), 'KEEPTTL')

return data
`

// luaConsumeRefreshToken atomically retrieves and deletes a refresh token.
// Once consumed, any concurrent or later attempt observes "NOT_FOUND", which
// is what makes rotation reuse detection reliable across instances.
//
// KEYS[1] = refresh token key
// ARGV[1] = expiry cutoff as a Unix timestamp (now minus the clock-skew
// grace period)
//
// Returns the token JSON on success, or "NOT_FOUND", "EXPIRED".
const luaConsumeRefreshToken = `
local data = redis.call('GET', KEYS[1])
if not data then
    return 'NOT_FOUND'
end

local token = cjson.decode(data)

redis.call('DEL', KEYS[1])

local cutoff = tonumber(ARGV[1])
local expiresAt = tonumber(token.expires_at)
if expiresAt and expiresAt > 0 and cutoff > expiresAt then
    return 'EXPIRED'
end

return data
`

// ============================================================
// JSON records
// ============================================================

type clientJSON struct {
	ID           string   `json:"id"`
	SecretHash   string   `json:"secret_hash,omitempty"`
	RedirectURIs []string `json:"redirect_uris,omitempty"`
	GrantTypes   []string `json:"grant_types,omitempty"`
	Scopes       []string `json:"scopes,omitempty"`
	CreatedAt    int64    `json:"created_at"`
}

func toClientJSON(client *storage.Client) *clientJSON {
	return &clientJSON{
		ID:           client.ID,
		SecretHash:   client.SecretHash,
		RedirectURIs: client.RedirectURIs,
		GrantTypes:   client.GrantTypes,
		Scopes:       client.Scopes,
		CreatedAt:    client.CreatedAt.Unix(),
	}
}

func fromClientJSON(j *clientJSON) *storage.Client {
	if j == nil {
		return nil
	}
	return &storage.Client{
		ID:           j.ID,
		SecretHash:   j.SecretHash,
		RedirectURIs: j.RedirectURIs,
		GrantTypes:   j.GrantTypes,
		Scopes:       j.Scopes,
		CreatedAt:    time.Unix(j.CreatedAt, 0),
	}
}

type authorizationCodeJSON struct {
	Code        string `json:"code"`
	ClientID    string `json:"client_id"`
	UserID      string `json:"user_id"`
	RedirectURI string `json:"redirect_uri"`
	Scope       string `json:"scope,omitempty"`
	CreatedAt   int64  `json:"created_at"`
	ExpiresAt   int64  `json:"expires_at"`
	Used        bool   `json:"used"`
}

func toAuthorizationCodeJSON(code *storage.AuthorizationCode) *authorizationCodeJSON {
	return &authorizationCodeJSON{
		Code:        code.Code,
		ClientID:    code.ClientID,
		UserID:      code.UserID,
		RedirectURI: code.RedirectURI,
		Scope:       code.Scope,
		CreatedAt:   code.CreatedAt.Unix(),
		ExpiresAt:   unixOrZero(code.ExpiresAt),
		Used:        code.Used,
	}
}

func fromAuthorizationCodeJSON(j *authorizationCodeJSON) *storage.AuthorizationCode {
	if j == nil {
		return nil
	}
	return &storage.AuthorizationCode{
		Code:        j.Code,
		ClientID:    j.ClientID,
		UserID:      j.UserID,
		RedirectURI: j.RedirectURI,
		Scope:       j.Scope,
		CreatedAt:   time.Unix(j.CreatedAt, 0),
		ExpiresAt:   timeOrZero(j.ExpiresAt),
		Used:        j.Used,
	}
}

type accessTokenJSON struct {
	Token        string `json:"token"`
	ClientID     string `json:"client_id"`
	UserID       string `json:"user_id,omitempty"`
	Scope        string `json:"scope,omitempty"`
	RefreshToken string `json:"refresh_token,omitempty"`
	CreatedAt    int64  `json:"created_at"`
	ExpiresAt    int64  `json:"expires_at"`
}

func toAccessTokenJSON(token *storage.AccessToken) *accessTokenJSON {
	return &accessTokenJSON{
		Token:        token.Token,
		ClientID:     token.ClientID,
		UserID:       token.UserID,
		Scope:        token.Scope,
		RefreshToken: token.RefreshToken,
		CreatedAt:    token.CreatedAt.Unix(),
		ExpiresAt:    unixOrZero(token.ExpiresAt),
	}
}

func fromAccessTokenJSON(j *accessTokenJSON) *storage.AccessToken {
	if j == nil {
		return nil
	}
	return &storage.AccessToken{
		Token:        j.Token,
		ClientID:     j.ClientID,
		UserID:       j.UserID,
		Scope:        j.Scope,
		RefreshToken: j.RefreshToken,
		CreatedAt:    time.Unix(j.CreatedAt, 0),
		ExpiresAt:    timeOrZero(j.ExpiresAt),
	}
}

type refreshTokenJSON struct {
	Token     string `json:"token"`
	ClientID  string `json:"client_id"`
	UserID    string `json:"user_id,omitempty"`
	Scope     string `json:"scope,omitempty"`
	CreatedAt int64  `json:"created_at"`
	ExpiresAt int64  `json:"expires_at"`
}

func toRefreshTokenJSON(token *storage.RefreshToken) *refreshTokenJSON {
	return &refreshTokenJSON{
		Token:     token.Token,
		ClientID:  token.ClientID,
		UserID:    token.UserID,
		Scope:     token.Scope,
		CreatedAt: token.CreatedAt.Unix(),
		ExpiresAt: unixOrZero(token.ExpiresAt),
	}
}

func fromRefreshTokenJSON(j *refreshTokenJSON) *storage.RefreshToken {
	if j == nil {
		return nil
	}
	return &storage.RefreshToken{
		Token:     j.Token,
		ClientID:  j.ClientID,
		UserID:    j.UserID,
		Scope:     j.Scope,
		CreatedAt: time.Unix(j.CreatedAt, 0),
		ExpiresAt: timeOrZero(j.ExpiresAt),
	}
}

type userJSON struct {
	ID           string `json:"id"`
	PasswordHash string `json:"password_hash"`
}

// ============================================================
// Helpers
// ============================================================

// unixOrZero maps the zero time to 0, the on-wire marker for "never expires".
func unixOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func timeOrZero(unix int64) time.Time {
	if unix == 0 {
		return time.Time{}
	}
	return time.Unix(unix, 0)
}

// getAndUnmarshal fetches a key and converts the JSON record to its storage
// type. Shared by the read paths of all record kinds.
func getAndUnmarshal[J any, T any](
	ctx context.Context,
	s *Store,
	key string,
	notFoundErr error,
	fromJSON func(*J) *T,
) (*T, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(key).Build()).ToString()
	if err != nil {
		if isNilError(err) {
			return nil, notFoundErr
		}
		return nil, fmt.Errorf("failed to get data: %w", err)
	}

	var j J
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		return nil, fmt.Errorf("failed to unmarshal data: %w", err)
	}

	return fromJSON(&j), nil
}

// createUnique stores a JSON record with SET NX so two concurrent creates on
// the same key never both succeed. A non-positive ttl stores without expiry.
func (s *Store) createUnique(ctx context.Context, key string, record any, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	var cmd valkeygo.Completed
	if ttl > 0 {
		cmd = s.client.B().Set().Key(key).Value(string(data)).Nx().Ex(ttl).Build()
	} else {
		cmd = s.client.B().Set().Key(key).Value(string(data)).Nx().Build()
	}

	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		if isNilError(err) {
			return storage.ErrDuplicateToken
		}
		return fmt.Errorf("failed to store record: %w", err)
	}
	return nil
}

// safeTruncate truncates a string to at most n characters.
func safeTruncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// expiryCutoff is the Unix timestamp the Lua scripts compare expiry against:
// now minus the clock-skew grace, matching security.IsExpired.
func expiryCutoff() int64 {
	return time.Now().Add(-security.DefaultClockSkewGracePeriod).Unix()
}

// calculateTTL returns the remaining lifetime for a record, or 0 when it has
// no expiry.
func calculateTTL(expiresAt time.Time) time.Duration {
	if expiresAt.IsZero() {
		return 0
	}
	return time.Until(expiresAt)
}

// isNilError reports whether the error is the Valkey nil reply.
func isNilError(err error) bool {
	return valkeygo.IsValkeyNil(err)
}

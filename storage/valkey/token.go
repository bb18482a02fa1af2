package valkey

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/verdantlabs/oauth2core/security"
	"github.com/verdantlabs/oauth2core/storage"
)

// CreateAccessToken stores a new access token with a TTL matching its expiry.
func (s *Store) CreateAccessToken(ctx context.Context, token *storage.AccessToken) error {
	if token == nil || token.Token == "" {
		return fmt.Errorf("invalid access token")
	}

	ttl := calculateTTL(token.ExpiresAt)
	if !token.ExpiresAt.IsZero() && ttl <= 0 {
		return fmt.Errorf("access token already expired")
	}

	if err := s.createUnique(ctx, s.accessTokenKey(token.Token), toAccessTokenJSON(token), ttl); err != nil {
		return err
	}

	s.logger.Debug("saved access token",
		"client_id", token.ClientID,
		"token_prefix", safeTruncate(token.Token, tokenIDLogLength))
	return nil
}

// GetAccessToken retrieves an access token, re-checking expiry on read.
func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	rec, err := getAndUnmarshal(ctx, s, s.accessTokenKey(token), storage.ErrTokenNotFound, fromAccessTokenJSON)
	if err != nil {
		return nil, err
	}
	if security.IsExpired(rec.ExpiresAt, security.DefaultClockSkewGracePeriod) {
		return nil, storage.ErrTokenExpired
	}
	return rec, nil
}

// DeleteAccessToken removes an access token.
func (s *Store) DeleteAccessToken(ctx context.Context, token string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.accessTokenKey(token)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete access token: %w", err)
	}
	s.logger.Debug("deleted access token")
	return nil
}

// CreateRefreshToken stores a new refresh token. A zero expiry stores the
// record without a TTL.
func (s *Store) CreateRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	if token == nil || token.Token == "" {
		return fmt.Errorf("invalid refresh token")
	}

	ttl := calculateTTL(token.ExpiresAt)
	if !token.ExpiresAt.IsZero() && ttl <= 0 {
		return fmt.Errorf("refresh token already expired")
	}

	if err := s.createUnique(ctx, s.refreshTokenKey(token.Token), toRefreshTokenJSON(token), ttl); err != nil {
		return err
	}

	s.logger.Debug("saved refresh token",
		"client_id", token.ClientID,
		"token_prefix", safeTruncate(token.Token, tokenIDLogLength))
	return nil
}

// GetRefreshToken retrieves a refresh token without consuming it.
func (s *Store) GetRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	rec, err := getAndUnmarshal(ctx, s, s.refreshTokenKey(token), storage.ErrTokenNotFound, fromRefreshTokenJSON)
	if err != nil {
		return nil, err
	}
	if security.IsExpired(rec.ExpiresAt, security.DefaultClockSkewGracePeriod) {
		return nil, storage.ErrTokenExpired
	}
	return rec, nil
}

// ConsumeRefreshToken atomically retrieves and deletes a refresh token via a
// Lua script. After one caller consumes it, every other caller observes
// ErrTokenNotFound, which the engine treats as possible token theft.
func (s *Store) ConsumeRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaConsumeRefreshToken).
			Numkeys(1).
			Key(s.refreshTokenKey(token)).
			Arg(fmt.Sprintf("%d", expiryCutoff())).
			Build(),
	).ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to execute atomic refresh consume: %w", err)
	}

	switch result {
	case "NOT_FOUND":
		return nil, storage.ErrTokenNotFound
	case "EXPIRED":
		return nil, storage.ErrTokenExpired
	}

	var j refreshTokenJSON
	if err := json.Unmarshal([]byte(result), &j); err != nil {
		return nil, fmt.Errorf("failed to parse refresh token: %w", err)
	}

	s.logger.Debug("consumed refresh token",
		"token_prefix", safeTruncate(token, tokenIDLogLength))
	return fromRefreshTokenJSON(&j), nil
}

// RevokeRefreshToken removes a refresh token.
func (s *Store) RevokeRefreshToken(ctx context.Context, token string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.refreshTokenKey(token)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	s.logger.Debug("revoked refresh token")
	return nil
}

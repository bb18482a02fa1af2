package valkey

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/verdantlabs/oauth2core/security"
	"github.com/verdantlabs/oauth2core/storage"
)

// CreateAuthorizationCode stores a new code with a TTL matching its expiry.
// SET NX makes the create fail on collision.
func (s *Store) CreateAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	if code == nil || code.Code == "" {
		return fmt.Errorf("invalid authorization code")
	}

	ttl := calculateTTL(code.ExpiresAt)
	if !code.ExpiresAt.IsZero() && ttl <= 0 {
		return fmt.Errorf("authorization code already expired")
	}

	if err := s.createUnique(ctx, s.codeKey(code.Code), toAuthorizationCodeJSON(code), ttl); err != nil {
		return err
	}

	s.logger.Debug("saved authorization code",
		"client_id", code.ClientID,
		"code_prefix", safeTruncate(code.Code, tokenIDLogLength))
	return nil
}

// GetAuthorizationCode retrieves a code without consuming it. The TTL usually
// removes expired codes, but expiry is re-checked on read.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	rec, err := getAndUnmarshal(ctx, s, s.codeKey(code), storage.ErrCodeNotFound, fromAuthorizationCodeJSON)
	if err != nil {
		return nil, err
	}
	if security.IsExpired(rec.ExpiresAt, security.DefaultClockSkewGracePeriod) {
		return nil, storage.ErrTokenExpired
	}
	return rec, nil
}

// ConsumeAuthorizationCode atomically checks that a code is unused and marks
// it used via a Lua script, so exactly one concurrent redemption succeeds
// even with multiple server instances sharing the backend.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	result, err := s.client.Do(ctx,
		s.client.B().Eval().Script(luaConsumeAuthorizationCode).
			Numkeys(1).
			Key(s.codeKey(code)).
			Arg(fmt.Sprintf("%d", expiryCutoff())).
			Build(),
	).ToString()
	if err != nil {
		return nil, fmt.Errorf("failed to execute atomic code consume: %w", err)
	}

	switch result {
	case "NOT_FOUND":
		return nil, storage.ErrCodeNotFound
	case "EXPIRED":
		return nil, storage.ErrTokenExpired
	case "ALREADY_USED":
		s.logger.Warn("authorization code replay attempt",
			"code_prefix", safeTruncate(code, tokenIDLogLength))
		return nil, storage.ErrCodeUsed
	}

	var j authorizationCodeJSON
	if err := json.Unmarshal([]byte(result), &j); err != nil {
		return nil, fmt.Errorf("failed to parse authorization code: %w", err)
	}

	s.logger.Debug("consumed authorization code",
		"code_prefix", safeTruncate(code, tokenIDLogLength))
	return fromAuthorizationCodeJSON(&j), nil
}

// DeleteAuthorizationCode removes a code.
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	if err := s.client.Do(ctx, s.client.B().Del().Key(s.codeKey(code)).Build()).Error(); err != nil {
		return fmt.Errorf("failed to delete authorization code: %w", err)
	}
	s.logger.Debug("deleted authorization code")
	return nil
}

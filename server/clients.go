package server

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/verdantlabs/oauth2core/security"
	"github.com/verdantlabs/oauth2core/storage"
	"github.com/verdantlabs/oauth2core/tokens"
)

// RegisteredClient is the result of a client registration. Secret is the
// plaintext client secret; it is returned exactly once and only its bcrypt
// hash is stored.
type RegisteredClient struct {
	ID     string
	Secret string
}

// RegisterClient registers a confidential client. An empty grantTypes slice
// leaves the client unrestricted; an empty scopes slice allows any scope.
func (s *Server) RegisterClient(ctx context.Context, redirectURIs, grantTypes, scopes []string) (*RegisteredClient, error) {
	if len(redirectURIs) == 0 {
		return nil, newError(ErrorInvalidRequest, "at least one redirect URI is required")
	}

	secret, err := tokens.Generate()
	if err != nil {
		s.Logger.Error("failed to generate client secret", "error", err)
		return nil, newError(ErrorServerError, "failed to register client")
	}
	hash, err := security.HashSecret(secret)
	if err != nil {
		s.Logger.Error("failed to hash client secret", "error", err)
		return nil, newError(ErrorServerError, "failed to register client")
	}

	client := &storage.Client{
		ID:           uuid.NewString(),
		SecretHash:   hash,
		RedirectURIs: redirectURIs,
		GrantTypes:   grantTypes,
		Scopes:       scopes,
		CreatedAt:    time.Now(),
	}

	if err := s.store.SaveClient(ctx, client); err != nil {
		s.Logger.Error("failed to save client", "error", err)
		return nil, newError(ErrorServerError, "failed to register client")
	}

	if m := s.metrics(); m != nil {
		m.RecordClientRegistration(ctx)
	}
	s.Auditor.LogClientRegistered(client.ID, grantTypes)
	s.Logger.Info("client registered", "client_id", client.ID)

	return &RegisteredClient{ID: client.ID, Secret: secret}, nil
}

// RotateClientSecret replaces a client's secret and returns the new
// plaintext secret once. The old secret stops working immediately;
// registration data is otherwise immutable.
func (s *Server) RotateClientSecret(ctx context.Context, clientID string) (string, error) {
	secret, err := tokens.Generate()
	if err != nil {
		s.Logger.Error("failed to generate client secret", "error", err)
		return "", newError(ErrorServerError, "failed to rotate client secret")
	}
	hash, err := security.HashSecret(secret)
	if err != nil {
		s.Logger.Error("failed to hash client secret", "error", err)
		return "", newError(ErrorServerError, "failed to rotate client secret")
	}

	if err := s.store.UpdateClientSecret(ctx, clientID, hash); err != nil {
		if errors.Is(err, storage.ErrClientNotFound) {
			return "", newError(ErrorInvalidClient, "unknown client")
		}
		s.Logger.Error("failed to update client secret", "error", err)
		return "", newError(ErrorServerError, "failed to rotate client secret")
	}

	s.Auditor.LogClientSecretRotated(clientID)
	s.Logger.Info("client secret rotated", "client_id", clientID)

	return secret, nil
}

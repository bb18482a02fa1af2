package valkey

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/verdantlabs/oauth2core/security"
	"github.com/verdantlabs/oauth2core/storage"
)

// SaveClient persists a client record. Saving an existing client overwrites
// it; registration-level duplicate checks belong to the caller.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	if client == nil || client.ID == "" {
		return fmt.Errorf("invalid client")
	}

	data, err := json.Marshal(toClientJSON(client))
	if err != nil {
		return fmt.Errorf("failed to marshal client: %w", err)
	}

	key := s.clientKey(client.ID)
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(data)).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}

	s.logger.Debug("saved client", "client_id", client.ID)
	return nil
}

// GetClient retrieves a client by ID.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	return getAndUnmarshal(ctx, s, s.clientKey(clientID), storage.ErrClientNotFound, fromClientJSON)
}

// UpdateClientSecret replaces the stored secret hash for a client.
func (s *Store) UpdateClientSecret(ctx context.Context, clientID, secretHash string) error {
	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		return err
	}

	client.SecretHash = secretHash
	if err := s.SaveClient(ctx, client); err != nil {
		return err
	}

	s.logger.Debug("updated client secret", "client_id", clientID)
	return nil
}

// CheckClientCredentials verifies the client secret, burning a dummy bcrypt
// comparison when the client is unknown so timing stays uniform. A client
// stored without a secret hash is a public client and authenticates with an
// empty secret.
func (s *Store) CheckClientCredentials(ctx context.Context, clientID, clientSecret string) error {
	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		security.VerifyDummy(clientSecret)
		return storage.ErrInvalidCredentials
	}

	if client.SecretHash == "" {
		if clientSecret == "" {
			return nil
		}
		security.VerifyDummy(clientSecret)
		return storage.ErrInvalidCredentials
	}

	if !security.VerifySecret(client.SecretHash, clientSecret) {
		return storage.ErrInvalidCredentials
	}
	return nil
}

// CheckRestrictedGrantType reports whether the client may use the grant type.
func (s *Store) CheckRestrictedGrantType(ctx context.Context, clientID, grantType string) (bool, error) {
	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		return false, err
	}

	if len(client.GrantTypes) == 0 {
		return true, nil
	}
	for _, gt := range client.GrantTypes {
		if gt == grantType {
			return true, nil
		}
	}
	return false, nil
}

// GetRedirectURI returns the client's sole registered redirect URI.
func (s *Store) GetRedirectURI(ctx context.Context, clientID string) (string, error) {
	client, err := s.GetClient(ctx, clientID)
	if err != nil {
		return "", err
	}
	if len(client.RedirectURIs) != 1 {
		return "", storage.ErrAmbiguousRedirectURI
	}
	return client.RedirectURIs[0], nil
}

// AddUser registers a resource owner for the password grant. The password is
// stored bcrypt-hashed.
func (s *Store) AddUser(ctx context.Context, username, password, userID string) error {
	hash, err := security.HashSecret(password)
	if err != nil {
		return err
	}

	data, err := json.Marshal(&userJSON{ID: userID, PasswordHash: hash})
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	key := s.userKey(username)
	if err := s.client.Do(ctx,
		s.client.B().Set().Key(key).Value(string(data)).Build(),
	).Error(); err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}

	s.logger.Debug("user added", "user_id_hash", security.HashForLogging(userID))
	return nil
}

// CheckUserCredentials verifies a username/password pair in constant time.
func (s *Store) CheckUserCredentials(ctx context.Context, username, password string) (string, error) {
	data, err := s.client.Do(ctx, s.client.B().Get().Key(s.userKey(username)).Build()).ToString()
	if err != nil {
		security.VerifyDummy(password)
		if isNilError(err) {
			return "", storage.ErrInvalidCredentials
		}
		return "", fmt.Errorf("failed to get user: %w", err)
	}

	var j userJSON
	if err := json.Unmarshal([]byte(data), &j); err != nil {
		security.VerifyDummy(password)
		return "", fmt.Errorf("failed to unmarshal user: %w", err)
	}

	if !security.VerifySecret(j.PasswordHash, password) {
		return "", storage.ErrInvalidCredentials
	}
	return j.ID, nil
}

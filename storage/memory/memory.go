package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/verdantlabs/oauth2core/instrumentation"
	"github.com/verdantlabs/oauth2core/security"
	"github.com/verdantlabs/oauth2core/storage"
)

// Compile-time interface checks.
var (
	_ storage.ClientStore = (*Store)(nil)
	_ storage.CodeStore   = (*Store)(nil)
	_ storage.TokenStore  = (*Store)(nil)
	_ storage.UserStore   = (*Store)(nil)
	_ storage.Storage     = (*Store)(nil)
)

type userRecord struct {
	id           string
	passwordHash string
}

// Store is an in-memory storage backend. All operations are safe for
// concurrent use; the consume operations hold the write lock for the whole
// check-and-mutate step, which is what makes them atomic.
type Store struct {
	mu            sync.RWMutex
	clients       map[string]*storage.Client
	codes         map[string]*storage.AuthorizationCode
	accessTokens  map[string]*storage.AccessToken
	refreshTokens map[string]*storage.RefreshToken
	users         map[string]*userRecord // keyed by username

	logger          *slog.Logger
	instrumentation *instrumentation.Instrumentation

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

// NewStore creates an in-memory store and starts its background cleanup
// goroutine. Call Close when done to stop it.
func NewStore(logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Store{
		clients:         make(map[string]*storage.Client),
		codes:           make(map[string]*storage.AuthorizationCode),
		accessTokens:    make(map[string]*storage.AccessToken),
		refreshTokens:   make(map[string]*storage.RefreshToken),
		users:           make(map[string]*userRecord),
		logger:          logger,
		cleanupInterval: 5 * time.Minute,
		stopCleanup:     make(chan struct{}),
	}

	go s.cleanupLoop()

	return s
}

// SetInstrumentation attaches metrics to the store and registers size gauges.
func (s *Store) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
	if inst == nil {
		return
	}
	if err := inst.RegisterStorageSizeCallbacks(
		func() int64 { s.mu.RLock(); defer s.mu.RUnlock(); return int64(len(s.clients)) },
		func() int64 { s.mu.RLock(); defer s.mu.RUnlock(); return int64(len(s.codes)) },
		func() int64 { s.mu.RLock(); defer s.mu.RUnlock(); return int64(len(s.accessTokens)) },
		func() int64 { s.mu.RLock(); defer s.mu.RUnlock(); return int64(len(s.refreshTokens)) },
	); err != nil {
		s.logger.Warn("failed to register storage size gauges", "error", err)
	}
}

// Close stops the background cleanup goroutine. Safe to call more than once.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stopCleanup) })
}

func (s *Store) record(ctx context.Context, op string, start time.Time, err error) {
	if s.instrumentation == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	s.instrumentation.Metrics().RecordStorageOperation(
		ctx, op, result, float64(time.Since(start).Microseconds())/1000.0)
}

// --- ClientStore ---

// SaveClient stores a copy of the client record.
func (s *Store) SaveClient(ctx context.Context, client *storage.Client) error {
	start := time.Now()
	s.mu.Lock()
	c := *client
	s.clients[client.ID] = &c
	s.mu.Unlock()

	s.record(ctx, "save_client", start, nil)
	s.logger.Debug("client saved", "client_id", client.ID)
	return nil
}

// GetClient returns a copy of the client record.
func (s *Store) GetClient(ctx context.Context, clientID string) (*storage.Client, error) {
	start := time.Now()
	s.mu.RLock()
	client, ok := s.clients[clientID]
	var out storage.Client
	if ok {
		out = *client
	}
	s.mu.RUnlock()

	if !ok {
		s.record(ctx, "get_client", start, storage.ErrClientNotFound)
		return nil, storage.ErrClientNotFound
	}
	s.record(ctx, "get_client", start, nil)
	return &out, nil
}

// UpdateClientSecret replaces the stored secret hash.
func (s *Store) UpdateClientSecret(ctx context.Context, clientID, secretHash string) error {
	start := time.Now()
	s.mu.Lock()
	client, ok := s.clients[clientID]
	if ok {
		client.SecretHash = secretHash
	}
	s.mu.Unlock()

	if !ok {
		s.record(ctx, "update_client_secret", start, storage.ErrClientNotFound)
		return storage.ErrClientNotFound
	}
	s.record(ctx, "update_client_secret", start, nil)
	s.logger.Debug("client secret updated", "client_id", clientID)
	return nil
}

// CheckClientCredentials verifies the client secret in constant time. The
// bcrypt comparison runs even when the client is unknown so timing does not
// reveal which identifiers exist. A client stored without a secret hash is a
// public client and authenticates with an empty secret.
func (s *Store) CheckClientCredentials(ctx context.Context, clientID, clientSecret string) error {
	start := time.Now()
	s.mu.RLock()
	client, ok := s.clients[clientID]
	var hash string
	if ok {
		hash = client.SecretHash
	}
	s.mu.RUnlock()

	if !ok {
		security.VerifyDummy(clientSecret)
		s.record(ctx, "check_client_credentials", start, storage.ErrInvalidCredentials)
		return storage.ErrInvalidCredentials
	}
	if hash == "" {
		if clientSecret == "" {
			s.record(ctx, "check_client_credentials", start, nil)
			return nil
		}
		security.VerifyDummy(clientSecret)
		s.record(ctx, "check_client_credentials", start, storage.ErrInvalidCredentials)
		return storage.ErrInvalidCredentials
	}
	if !security.VerifySecret(hash, clientSecret) {
		s.record(ctx, "check_client_credentials", start, storage.ErrInvalidCredentials)
		return storage.ErrInvalidCredentials
	}
	s.record(ctx, "check_client_credentials", start, nil)
	return nil
}

// CheckRestrictedGrantType reports whether the client may use the grant type.
func (s *Store) CheckRestrictedGrantType(ctx context.Context, clientID, grantType string) (bool, error) {
	start := time.Now()
	s.mu.RLock()
	client, ok := s.clients[clientID]
	var grantTypes []string
	if ok {
		grantTypes = client.GrantTypes
	}
	s.mu.RUnlock()

	if !ok {
		s.record(ctx, "check_restricted_grant_type", start, storage.ErrClientNotFound)
		return false, storage.ErrClientNotFound
	}
	s.record(ctx, "check_restricted_grant_type", start, nil)

	if len(grantTypes) == 0 {
		return true, nil
	}
	for _, gt := range grantTypes {
		if gt == grantType {
			return true, nil
		}
	}
	return false, nil
}

// GetRedirectURI returns the client's sole registered redirect URI.
func (s *Store) GetRedirectURI(ctx context.Context, clientID string) (string, error) {
	start := time.Now()
	s.mu.RLock()
	client, ok := s.clients[clientID]
	var uris []string
	if ok {
		uris = client.RedirectURIs
	}
	s.mu.RUnlock()

	if !ok {
		s.record(ctx, "get_redirect_uri", start, storage.ErrClientNotFound)
		return "", storage.ErrClientNotFound
	}
	if len(uris) != 1 {
		s.record(ctx, "get_redirect_uri", start, storage.ErrAmbiguousRedirectURI)
		return "", storage.ErrAmbiguousRedirectURI
	}
	s.record(ctx, "get_redirect_uri", start, nil)
	return uris[0], nil
}

// --- CodeStore ---

// CreateAuthorizationCode stores a new code, failing on collision.
func (s *Store) CreateAuthorizationCode(ctx context.Context, code *storage.AuthorizationCode) error {
	start := time.Now()
	s.mu.Lock()
	_, exists := s.codes[code.Code]
	if !exists {
		c := *code
		s.codes[code.Code] = &c
	}
	s.mu.Unlock()

	if exists {
		s.record(ctx, "create_authorization_code", start, storage.ErrDuplicateToken)
		return storage.ErrDuplicateToken
	}
	s.record(ctx, "create_authorization_code", start, nil)
	s.logger.Debug("authorization code created", "client_id", code.ClientID)
	return nil
}

// GetAuthorizationCode retrieves a code without consuming it.
func (s *Store) GetAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	start := time.Now()
	s.mu.RLock()
	rec, ok := s.codes[code]
	var out storage.AuthorizationCode
	if ok {
		out = *rec
	}
	s.mu.RUnlock()

	if !ok {
		s.record(ctx, "get_authorization_code", start, storage.ErrCodeNotFound)
		return nil, storage.ErrCodeNotFound
	}
	if security.IsExpired(out.ExpiresAt, security.DefaultClockSkewGracePeriod) {
		s.record(ctx, "get_authorization_code", start, storage.ErrTokenExpired)
		return nil, storage.ErrTokenExpired
	}
	s.record(ctx, "get_authorization_code", start, nil)
	return &out, nil
}

// ConsumeAuthorizationCode atomically marks a code used. The write lock
// spans the check and the mutation, so concurrent redemptions serialize and
// only the first sees Used false.
func (s *Store) ConsumeAuthorizationCode(ctx context.Context, code string) (*storage.AuthorizationCode, error) {
	start := time.Now()
	s.mu.Lock()
	rec, ok := s.codes[code]
	var (
		out      storage.AuthorizationCode
		clientID string
		expired  bool
		used     bool
	)
	if ok {
		clientID = rec.ClientID
		switch {
		case security.IsExpired(rec.ExpiresAt, security.DefaultClockSkewGracePeriod):
			expired = true
		case rec.Used:
			used = true
		default:
			rec.Used = true
			out = *rec
		}
	}
	s.mu.Unlock()

	switch {
	case !ok:
		s.record(ctx, "consume_authorization_code", start, storage.ErrCodeNotFound)
		return nil, storage.ErrCodeNotFound
	case expired:
		s.record(ctx, "consume_authorization_code", start, storage.ErrTokenExpired)
		return nil, storage.ErrTokenExpired
	case used:
		s.record(ctx, "consume_authorization_code", start, storage.ErrCodeUsed)
		s.logger.Warn("authorization code replay attempt", "client_id", clientID)
		return nil, storage.ErrCodeUsed
	}
	s.record(ctx, "consume_authorization_code", start, nil)
	return &out, nil
}

// DeleteAuthorizationCode removes a code. Deleting a missing code is not an
// error.
func (s *Store) DeleteAuthorizationCode(ctx context.Context, code string) error {
	start := time.Now()
	s.mu.Lock()
	delete(s.codes, code)
	s.mu.Unlock()
	s.record(ctx, "delete_authorization_code", start, nil)
	return nil
}

// --- TokenStore ---

// CreateAccessToken stores a new access token, failing on collision.
func (s *Store) CreateAccessToken(ctx context.Context, token *storage.AccessToken) error {
	start := time.Now()
	s.mu.Lock()
	_, exists := s.accessTokens[token.Token]
	if !exists {
		t := *token
		s.accessTokens[token.Token] = &t
	}
	s.mu.Unlock()

	if exists {
		s.record(ctx, "create_access_token", start, storage.ErrDuplicateToken)
		return storage.ErrDuplicateToken
	}
	s.record(ctx, "create_access_token", start, nil)
	return nil
}

// GetAccessToken retrieves an access token, rejecting expired ones even when
// still present.
func (s *Store) GetAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	start := time.Now()
	s.mu.RLock()
	rec, ok := s.accessTokens[token]
	var out storage.AccessToken
	if ok {
		out = *rec
	}
	s.mu.RUnlock()

	if !ok {
		s.record(ctx, "get_access_token", start, storage.ErrTokenNotFound)
		return nil, storage.ErrTokenNotFound
	}
	if security.IsExpired(out.ExpiresAt, security.DefaultClockSkewGracePeriod) {
		s.record(ctx, "get_access_token", start, storage.ErrTokenExpired)
		return nil, storage.ErrTokenExpired
	}
	s.record(ctx, "get_access_token", start, nil)
	return &out, nil
}

// DeleteAccessToken removes an access token.
func (s *Store) DeleteAccessToken(ctx context.Context, token string) error {
	start := time.Now()
	s.mu.Lock()
	delete(s.accessTokens, token)
	s.mu.Unlock()
	s.record(ctx, "delete_access_token", start, nil)
	return nil
}

// CreateRefreshToken stores a new refresh token, failing on collision.
func (s *Store) CreateRefreshToken(ctx context.Context, token *storage.RefreshToken) error {
	start := time.Now()
	s.mu.Lock()
	_, exists := s.refreshTokens[token.Token]
	if !exists {
		t := *token
		s.refreshTokens[token.Token] = &t
	}
	s.mu.Unlock()

	if exists {
		s.record(ctx, "create_refresh_token", start, storage.ErrDuplicateToken)
		return storage.ErrDuplicateToken
	}
	s.record(ctx, "create_refresh_token", start, nil)
	return nil
}

// GetRefreshToken retrieves a refresh token without consuming it.
func (s *Store) GetRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	start := time.Now()
	s.mu.RLock()
	rec, ok := s.refreshTokens[token]
	var out storage.RefreshToken
	if ok {
		out = *rec
	}
	s.mu.RUnlock()

	if !ok {
		s.record(ctx, "get_refresh_token", start, storage.ErrTokenNotFound)
		return nil, storage.ErrTokenNotFound
	}
	if security.IsExpired(out.ExpiresAt, security.DefaultClockSkewGracePeriod) {
		s.record(ctx, "get_refresh_token", start, storage.ErrTokenExpired)
		return nil, storage.ErrTokenExpired
	}
	s.record(ctx, "get_refresh_token", start, nil)
	return &out, nil
}

// ConsumeRefreshToken atomically retrieves and deletes a refresh token. Only
// one of any set of concurrent calls gets the record.
func (s *Store) ConsumeRefreshToken(ctx context.Context, token string) (*storage.RefreshToken, error) {
	start := time.Now()
	s.mu.Lock()
	rec, ok := s.refreshTokens[token]
	var (
		out     storage.RefreshToken
		expired bool
	)
	if ok {
		delete(s.refreshTokens, token)
		if security.IsExpired(rec.ExpiresAt, security.DefaultClockSkewGracePeriod) {
			expired = true
		} else {
			out = *rec
		}
	}
	s.mu.Unlock()

	switch {
	case !ok:
		s.record(ctx, "consume_refresh_token", start, storage.ErrTokenNotFound)
		return nil, storage.ErrTokenNotFound
	case expired:
		s.record(ctx, "consume_refresh_token", start, storage.ErrTokenExpired)
		return nil, storage.ErrTokenExpired
	}
	s.record(ctx, "consume_refresh_token", start, nil)
	return &out, nil
}

// RevokeRefreshToken removes a refresh token.
func (s *Store) RevokeRefreshToken(ctx context.Context, token string) error {
	start := time.Now()
	s.mu.Lock()
	delete(s.refreshTokens, token)
	s.mu.Unlock()
	s.record(ctx, "revoke_refresh_token", start, nil)
	return nil
}

// --- UserStore ---

// AddUser registers a resource owner for the password grant. The password is
// stored bcrypt-hashed.
func (s *Store) AddUser(ctx context.Context, username, password, userID string) error {
	hash, err := security.HashSecret(password)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.users[username] = &userRecord{id: userID, passwordHash: hash}
	s.mu.Unlock()

	s.logger.Debug("user added", "user_id_hash", security.HashForLogging(userID))
	return nil
}

// CheckUserCredentials verifies a username/password pair in constant time.
func (s *Store) CheckUserCredentials(ctx context.Context, username, password string) (string, error) {
	start := time.Now()
	s.mu.RLock()
	user, ok := s.users[username]
	var id, hash string
	if ok {
		id = user.id
		hash = user.passwordHash
	}
	s.mu.RUnlock()

	if !ok {
		security.VerifyDummy(password)
		s.record(ctx, "check_user_credentials", start, storage.ErrInvalidCredentials)
		return "", storage.ErrInvalidCredentials
	}
	if !security.VerifySecret(hash, password) {
		s.record(ctx, "check_user_credentials", start, storage.ErrInvalidCredentials)
		return "", storage.ErrInvalidCredentials
	}
	s.record(ctx, "check_user_credentials", start, nil)
	return id, nil
}

// --- cleanup ---

func (s *Store) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.cleanupExpired()
		case <-s.stopCleanup:
			return
		}
	}
}

// cleanupExpired garbage-collects expired records. Reads already reject
// expired records, so this only bounds memory growth.
func (s *Store) cleanupExpired() {
	s.mu.Lock()

	removed := 0
	for code, rec := range s.codes {
		if rec.Used || security.IsExpired(rec.ExpiresAt, 0) {
			delete(s.codes, code)
			removed++
		}
	}
	for token, rec := range s.accessTokens {
		if security.IsExpired(rec.ExpiresAt, 0) {
			delete(s.accessTokens, token)
			removed++
		}
	}
	for token, rec := range s.refreshTokens {
		if security.IsExpired(rec.ExpiresAt, 0) {
			delete(s.refreshTokens, token)
			removed++
		}
	}

	s.mu.Unlock()

	if removed > 0 {
		s.logger.Debug("expired records removed", "count", removed)
	}
}

package server

import (
	"context"
	"net/url"
	"sync"
	"testing"

	"github.com/verdantlabs/oauth2core/storage"
	"github.com/verdantlabs/oauth2core/storage/memory"
)

// issueCode runs the full consent flow and returns the minted code.
func issueCode(t *testing.T, srv *Server, clientID, userID, scope string) string {
	t.Helper()

	params, err := srv.AuthorizeParams(context.Background(), &AuthorizeRequest{
		ResponseType: "code",
		ClientID:     clientID,
		Scope:        scope,
	})
	if err != nil {
		t.Fatalf("AuthorizeParams() error = %v", err)
	}

	redirect, err := srv.FinishAuthorization(context.Background(), true, userID, params)
	if err != nil {
		t.Fatalf("FinishAuthorization() error = %v", err)
	}
	u, err := url.Parse(redirect)
	if err != nil {
		t.Fatalf("redirect URL invalid: %v", err)
	}
	return u.Query().Get("code")
}

func TestToken_AuthorizationCode(t *testing.T) {
	srv, store := newTestServer(t, nil)
	reg := registerTestClient(t, srv, nil, nil)
	ctx := context.Background()

	code := issueCode(t, srv, reg.ID, "user-1", "read")

	tok, scope, err := srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		ClientID:     reg.ID,
		ClientSecret: reg.Secret,
		Code:         code,
		RedirectURI:  "https://app.example.com/callback",
	})
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if tok.AccessToken == "" || tok.TokenType != "Bearer" {
		t.Errorf("token = %+v", tok)
	}
	if tok.RefreshToken == "" {
		t.Error("authorization_code grant issued no refresh token")
	}
	if scope != "read" {
		t.Errorf("scope = %q, want the code's scope", scope)
	}

	// Issued tokens are bound to the code's user.
	access, err := store.GetAccessToken(ctx, tok.AccessToken)
	if err != nil {
		t.Fatalf("GetAccessToken() error = %v", err)
	}
	if access.UserID != "user-1" || access.ClientID != reg.ID {
		t.Errorf("access token = %+v", access)
	}
	if access.RefreshToken != tok.RefreshToken {
		t.Errorf("access token pairing = %q, want %q", access.RefreshToken, tok.RefreshToken)
	}
}

func TestToken_AuthorizationCodeReplay(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	reg := registerTestClient(t, srv, nil, nil)
	ctx := context.Background()

	code := issueCode(t, srv, reg.ID, "user-1", "")

	req := &TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		ClientID:     reg.ID,
		ClientSecret: reg.Secret,
		Code:         code,
		RedirectURI:  "https://app.example.com/callback",
	}
	if _, _, err := srv.Token(ctx, req); err != nil {
		t.Fatalf("first exchange error = %v", err)
	}

	_, _, err := srv.Token(ctx, req)
	wantOAuthError(t, err, ErrorInvalidGrant)
}

func TestToken_AuthorizationCodeConcurrent(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	reg := registerTestClient(t, srv, nil, nil)
	ctx := context.Background()

	code := issueCode(t, srv, reg.ID, "user-1", "")

	const attempts = 20
	var wg sync.WaitGroup
	var mu sync.Mutex
	winners := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := srv.Token(ctx, &TokenRequest{
				GrantType:    GrantTypeAuthorizationCode,
				ClientID:     reg.ID,
				ClientSecret: reg.Secret,
				Code:         code,
				RedirectURI:  "https://app.example.com/callback",
			})
			if err == nil {
				mu.Lock()
				winners++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if winners != 1 {
		t.Errorf("concurrent redemption winners = %d, want exactly 1", winners)
	}
}

func TestToken_AuthorizationCodeBindings(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	reg := registerTestClient(t, srv, nil, nil)
	other := registerTestClient(t, srv, nil, nil)
	ctx := context.Background()

	t.Run("wrong client", func(t *testing.T) {
		code := issueCode(t, srv, reg.ID, "user-1", "")
		_, _, err := srv.Token(ctx, &TokenRequest{
			GrantType:    GrantTypeAuthorizationCode,
			ClientID:     other.ID,
			ClientSecret: other.Secret,
			Code:         code,
			RedirectURI:  "https://app.example.com/callback",
		})
		wantOAuthError(t, err, ErrorInvalidGrant)
	})

	t.Run("wrong redirect uri", func(t *testing.T) {
		code := issueCode(t, srv, reg.ID, "user-1", "")
		_, _, err := srv.Token(ctx, &TokenRequest{
			GrantType:    GrantTypeAuthorizationCode,
			ClientID:     reg.ID,
			ClientSecret: reg.Secret,
			Code:         code,
			RedirectURI:  "https://elsewhere.example.com/cb",
		})
		wantOAuthError(t, err, ErrorInvalidGrant)
	})

	t.Run("missing code", func(t *testing.T) {
		_, _, err := srv.Token(ctx, &TokenRequest{
			GrantType:    GrantTypeAuthorizationCode,
			ClientID:     reg.ID,
			ClientSecret: reg.Secret,
		})
		wantOAuthError(t, err, ErrorInvalidRequest)
	})

	t.Run("unknown code", func(t *testing.T) {
		_, _, err := srv.Token(ctx, &TokenRequest{
			GrantType:    GrantTypeAuthorizationCode,
			ClientID:     reg.ID,
			ClientSecret: reg.Secret,
			Code:         "nonexistent",
			RedirectURI:  "https://app.example.com/callback",
		})
		wantOAuthError(t, err, ErrorInvalidGrant)
	})
}

func TestToken_PublicClient(t *testing.T) {
	srv, store := newTestServer(t, nil)
	ctx := context.Background()

	// A public client has no secret hash and authenticates with an empty
	// secret through the whole flow.
	public := &storage.Client{
		ID:           "public-1",
		RedirectURIs: []string{"https://app.example.com/callback"},
	}
	if err := store.SaveClient(ctx, public); err != nil {
		t.Fatalf("SaveClient() error = %v", err)
	}

	code := issueCode(t, srv, "public-1", "user-1", "read")

	tok, _, err := srv.Token(ctx, &TokenRequest{
		GrantType:   GrantTypeAuthorizationCode,
		ClientID:    "public-1",
		Code:        code,
		RedirectURI: "https://app.example.com/callback",
	})
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if tok.AccessToken == "" {
		t.Error("no access token issued to public client")
	}

	// Presenting a secret a public client does not have fails.
	_, _, err = srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypeAuthorizationCode,
		ClientID:     "public-1",
		ClientSecret: "made-up",
		Code:         code,
		RedirectURI:  "https://app.example.com/callback",
	})
	wantOAuthError(t, err, ErrorInvalidClient)
}

func TestToken_ClientAuthentication(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	reg := registerTestClient(t, srv, nil, nil)
	ctx := context.Background()

	tests := []struct {
		name   string
		id     string
		secret string
	}{
		{name: "wrong secret", id: reg.ID, secret: "wrong"},
		{name: "unknown client", id: "ghost", secret: reg.Secret},
		{name: "empty client id", id: "", secret: reg.Secret},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := srv.Token(ctx, &TokenRequest{
				GrantType:    GrantTypeClientCredentials,
				ClientID:     tt.id,
				ClientSecret: tt.secret,
			})
			wantOAuthError(t, err, ErrorInvalidClient)
		})
	}
}

func TestToken_UnsupportedGrantType(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	reg := registerTestClient(t, srv, nil, nil)

	_, _, err := srv.Token(context.Background(), &TokenRequest{
		GrantType:    "implicit",
		ClientID:     reg.ID,
		ClientSecret: reg.Secret,
	})
	wantOAuthError(t, err, ErrorUnsupportedGrantType)
}

func TestToken_RestrictedGrantType(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	reg := registerTestClient(t, srv, []string{GrantTypeAuthorizationCode}, nil)

	_, _, err := srv.Token(context.Background(), &TokenRequest{
		GrantType:    GrantTypeClientCredentials,
		ClientID:     reg.ID,
		ClientSecret: reg.Secret,
	})
	wantOAuthError(t, err, ErrorUnauthorizedClient)
}

func TestToken_ClientCredentials(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	reg := registerTestClient(t, srv, nil, []string{"read", "write"})
	ctx := context.Background()

	tok, scope, err := srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypeClientCredentials,
		ClientID:     reg.ID,
		ClientSecret: reg.Secret,
		Scope:        "read",
	})
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if scope != "read" {
		t.Errorf("scope = %q, want %q", scope, "read")
	}
	if tok.RefreshToken != "" {
		t.Error("client_credentials grant issued a refresh token")
	}

	// No user is associated with the token.
	access, err := srv.ValidateAccessToken(ctx, tok.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccessToken() error = %v", err)
	}
	if access.UserID != "" {
		t.Errorf("UserID = %q, want empty for client_credentials", access.UserID)
	}
}

func TestToken_ClientCredentialsScope(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	reg := registerTestClient(t, srv, nil, []string{"read", "write"})
	ctx := context.Background()

	t.Run("scope outside registration", func(t *testing.T) {
		_, _, err := srv.Token(ctx, &TokenRequest{
			GrantType:    GrantTypeClientCredentials,
			ClientID:     reg.ID,
			ClientSecret: reg.Secret,
			Scope:        "admin",
		})
		wantOAuthError(t, err, ErrorInvalidScope)
	})

	t.Run("no scope grants full registered set", func(t *testing.T) {
		_, scope, err := srv.Token(ctx, &TokenRequest{
			GrantType:    GrantTypeClientCredentials,
			ClientID:     reg.ID,
			ClientSecret: reg.Secret,
		})
		if err != nil {
			t.Fatalf("Token() error = %v", err)
		}
		if scope != "read write" {
			t.Errorf("scope = %q, want %q", scope, "read write")
		}
	})
}

func TestToken_Password(t *testing.T) {
	srv, store := newTestServer(t, nil)
	reg := registerTestClient(t, srv, nil, nil)
	ctx := context.Background()

	if err := store.AddUser(ctx, "alice", "hunter2", "user-1"); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}

	tok, _, err := srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypePassword,
		ClientID:     reg.ID,
		ClientSecret: reg.Secret,
		Username:     "alice",
		Password:     "hunter2",
	})
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if tok.RefreshToken == "" {
		t.Error("password grant issued no refresh token")
	}

	access, err := srv.ValidateAccessToken(ctx, tok.AccessToken)
	if err != nil {
		t.Fatalf("ValidateAccessToken() error = %v", err)
	}
	if access.UserID != "user-1" {
		t.Errorf("UserID = %q, want %q", access.UserID, "user-1")
	}

	t.Run("wrong password", func(t *testing.T) {
		_, _, err := srv.Token(ctx, &TokenRequest{
			GrantType:    GrantTypePassword,
			ClientID:     reg.ID,
			ClientSecret: reg.Secret,
			Username:     "alice",
			Password:     "wrong",
		})
		wantOAuthError(t, err, ErrorInvalidGrant)
	})

	t.Run("missing credentials", func(t *testing.T) {
		_, _, err := srv.Token(ctx, &TokenRequest{
			GrantType:    GrantTypePassword,
			ClientID:     reg.ID,
			ClientSecret: reg.Secret,
		})
		wantOAuthError(t, err, ErrorInvalidRequest)
	})
}

func TestToken_RefreshRotation(t *testing.T) {
	srv, store := newTestServer(t, nil)
	reg := registerTestClient(t, srv, nil, nil)
	ctx := context.Background()

	if err := store.AddUser(ctx, "alice", "hunter2", "user-1"); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}
	first, _, err := srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypePassword,
		ClientID:     reg.ID,
		ClientSecret: reg.Secret,
		Username:     "alice",
		Password:     "hunter2",
		Scope:        "read write",
	})
	if err != nil {
		t.Fatalf("password grant error = %v", err)
	}

	second, scope, err := srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		ClientID:     reg.ID,
		ClientSecret: reg.Secret,
		RefreshToken: first.RefreshToken,
	})
	if err != nil {
		t.Fatalf("refresh grant error = %v", err)
	}
	if scope != "read write" {
		t.Errorf("scope = %q, want the original grant scope", scope)
	}
	if second.RefreshToken == "" || second.RefreshToken == first.RefreshToken {
		t.Errorf("rotation returned refresh token %q, want a fresh one", second.RefreshToken)
	}

	// The consumed token is gone; presenting it again is reuse.
	_, _, err = srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		ClientID:     reg.ID,
		ClientSecret: reg.Secret,
		RefreshToken: first.RefreshToken,
	})
	wantOAuthError(t, err, ErrorInvalidGrant)

	// The replacement keeps working.
	_, _, err = srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		ClientID:     reg.ID,
		ClientSecret: reg.Secret,
		RefreshToken: second.RefreshToken,
	})
	if err != nil {
		t.Fatalf("replacement refresh error = %v", err)
	}
}

func TestToken_RefreshRotationDisabled(t *testing.T) {
	srv, store := newTestServer(t, &Config{DisableRefreshTokenRotation: true})
	reg := registerTestClient(t, srv, nil, nil)
	ctx := context.Background()

	if err := store.AddUser(ctx, "alice", "hunter2", "user-1"); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}
	first, _, err := srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypePassword,
		ClientID:     reg.ID,
		ClientSecret: reg.Secret,
		Username:     "alice",
		Password:     "hunter2",
	})
	if err != nil {
		t.Fatalf("password grant error = %v", err)
	}

	second, _, err := srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		ClientID:     reg.ID,
		ClientSecret: reg.Secret,
		RefreshToken: first.RefreshToken,
	})
	if err != nil {
		t.Fatalf("refresh grant error = %v", err)
	}
	if second.RefreshToken != "" {
		t.Errorf("reuse policy issued replacement token %q, want none", second.RefreshToken)
	}

	// The original token stays valid under the reuse policy.
	_, _, err = srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		ClientID:     reg.ID,
		ClientSecret: reg.Secret,
		RefreshToken: first.RefreshToken,
	})
	if err != nil {
		t.Fatalf("second use under reuse policy error = %v", err)
	}
}

func TestToken_RefreshScopeNarrowing(t *testing.T) {
	srv, store := newTestServer(t, nil)
	reg := registerTestClient(t, srv, nil, nil)
	ctx := context.Background()

	if err := store.AddUser(ctx, "alice", "hunter2", "user-1"); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}
	first, _, err := srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypePassword,
		ClientID:     reg.ID,
		ClientSecret: reg.Secret,
		Username:     "alice",
		Password:     "hunter2",
		Scope:        "read write",
	})
	if err != nil {
		t.Fatalf("password grant error = %v", err)
	}

	// Narrowing is allowed; the replacement refresh token keeps the
	// original grant scope.
	second, scope, err := srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		ClientID:     reg.ID,
		ClientSecret: reg.Secret,
		RefreshToken: first.RefreshToken,
		Scope:        "read",
	})
	if err != nil {
		t.Fatalf("narrowed refresh error = %v", err)
	}
	if scope != "read" {
		t.Errorf("scope = %q, want narrowed %q", scope, "read")
	}

	stored, err := store.GetRefreshToken(ctx, second.RefreshToken)
	if err != nil {
		t.Fatalf("GetRefreshToken() error = %v", err)
	}
	if stored.Scope != "read write" {
		t.Errorf("replacement refresh scope = %q, want original %q", stored.Scope, "read write")
	}

	// Widening beyond the original grant is rejected.
	_, _, err = srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		ClientID:     reg.ID,
		ClientSecret: reg.Secret,
		RefreshToken: second.RefreshToken,
		Scope:        "read write admin",
	})
	wantOAuthError(t, err, ErrorInvalidScope)
}

func TestToken_RefreshWrongClient(t *testing.T) {
	srv, store := newTestServer(t, nil)
	reg := registerTestClient(t, srv, nil, nil)
	other := registerTestClient(t, srv, nil, nil)
	ctx := context.Background()

	if err := store.AddUser(ctx, "alice", "hunter2", "user-1"); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}
	first, _, err := srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypePassword,
		ClientID:     reg.ID,
		ClientSecret: reg.Secret,
		Username:     "alice",
		Password:     "hunter2",
	})
	if err != nil {
		t.Fatalf("password grant error = %v", err)
	}

	_, _, err = srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		ClientID:     other.ID,
		ClientSecret: other.Secret,
		RefreshToken: first.RefreshToken,
	})
	wantOAuthError(t, err, ErrorInvalidGrant)
}

// collidingStore wraps the memory store and forces one duplicate-token
// failure on the first access token create.
type collidingStore struct {
	*memory.Store
	mu       sync.Mutex
	failures int
}

func (c *collidingStore) CreateAccessToken(ctx context.Context, token *storage.AccessToken) error {
	c.mu.Lock()
	fail := c.failures > 0
	if fail {
		c.failures--
	}
	c.mu.Unlock()
	if fail {
		return storage.ErrDuplicateToken
	}
	return c.Store.CreateAccessToken(ctx, token)
}

func TestToken_CollisionRetry(t *testing.T) {
	mem := memory.NewStore(testLogger())
	t.Cleanup(mem.Close)
	store := &collidingStore{Store: mem, failures: 1}

	srv, err := New(store, nil, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	reg := registerTestClient(t, srv, nil, nil)

	tok, _, err := srv.Token(context.Background(), &TokenRequest{
		GrantType:    GrantTypeClientCredentials,
		ClientID:     reg.ID,
		ClientSecret: reg.Secret,
	})
	if err != nil {
		t.Fatalf("Token() after forced collision error = %v", err)
	}
	if tok.AccessToken == "" {
		t.Error("no access token issued after collision retry")
	}
}

func TestToken_CollisionRetriesExhausted(t *testing.T) {
	mem := memory.NewStore(testLogger())
	t.Cleanup(mem.Close)
	store := &collidingStore{Store: mem, failures: 100}

	srv, err := New(store, nil, testLogger())
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	reg := registerTestClient(t, srv, nil, nil)

	_, _, err = srv.Token(context.Background(), &TokenRequest{
		GrantType:    GrantTypeClientCredentials,
		ClientID:     reg.ID,
		ClientSecret: reg.Secret,
	})
	wantOAuthError(t, err, ErrorServerError)
}

func TestValidateAccessToken(t *testing.T) {
	srv, store := newTestServer(t, nil)
	reg := registerTestClient(t, srv, nil, nil)
	ctx := context.Background()

	tok, _, err := srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypeClientCredentials,
		ClientID:     reg.ID,
		ClientSecret: reg.Secret,
	})
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}

	if _, err := srv.ValidateAccessToken(ctx, tok.AccessToken); err != nil {
		t.Errorf("ValidateAccessToken(valid) error = %v", err)
	}

	_, err = srv.ValidateAccessToken(ctx, "unknown-token")
	wantOAuthError(t, err, ErrorInvalidGrant)

	// Revoked tokens fail validation.
	if err := store.DeleteAccessToken(ctx, tok.AccessToken); err != nil {
		t.Fatalf("DeleteAccessToken() error = %v", err)
	}
	_, err = srv.ValidateAccessToken(ctx, tok.AccessToken)
	wantOAuthError(t, err, ErrorInvalidGrant)
}

func TestRevokeToken(t *testing.T) {
	srv, store := newTestServer(t, nil)
	reg := registerTestClient(t, srv, nil, nil)
	ctx := context.Background()

	if err := store.AddUser(ctx, "alice", "hunter2", "user-1"); err != nil {
		t.Fatalf("AddUser() error = %v", err)
	}
	tok, _, err := srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypePassword,
		ClientID:     reg.ID,
		ClientSecret: reg.Secret,
		Username:     "alice",
		Password:     "hunter2",
	})
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}

	if err := srv.RevokeToken(ctx, reg.ID, reg.Secret, tok.AccessToken); err != nil {
		t.Fatalf("RevokeToken(access) error = %v", err)
	}
	if _, err := srv.ValidateAccessToken(ctx, tok.AccessToken); err == nil {
		t.Error("revoked access token still validates")
	}

	// Revoking the access token revokes its paired refresh token too.
	_, _, err = srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		ClientID:     reg.ID,
		ClientSecret: reg.Secret,
		RefreshToken: tok.RefreshToken,
	})
	wantOAuthError(t, err, ErrorInvalidGrant)

	// A refresh token can also be revoked directly.
	tok2, _, err := srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypePassword,
		ClientID:     reg.ID,
		ClientSecret: reg.Secret,
		Username:     "alice",
		Password:     "hunter2",
	})
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if err := srv.RevokeToken(ctx, reg.ID, reg.Secret, tok2.RefreshToken); err != nil {
		t.Fatalf("RevokeToken(refresh) error = %v", err)
	}
	_, _, err = srv.Token(ctx, &TokenRequest{
		GrantType:    GrantTypeRefreshToken,
		ClientID:     reg.ID,
		ClientSecret: reg.Secret,
		RefreshToken: tok2.RefreshToken,
	})
	wantOAuthError(t, err, ErrorInvalidGrant)

	// Revoking an unknown token succeeds silently.
	if err := srv.RevokeToken(ctx, reg.ID, reg.Secret, "unknown"); err != nil {
		t.Errorf("RevokeToken(unknown) error = %v", err)
	}

	// Client authentication is still required.
	err = srv.RevokeToken(ctx, reg.ID, "wrong-secret", "anything")
	wantOAuthError(t, err, ErrorInvalidClient)
}

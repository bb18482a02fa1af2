package server

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/verdantlabs/oauth2core/security"
)

func TestRegisterClient(t *testing.T) {
	srv, store := newTestServer(t, nil)
	ctx := context.Background()

	reg, err := srv.RegisterClient(ctx,
		[]string{"https://app.example.com/callback"},
		[]string{GrantTypeAuthorizationCode},
		[]string{"read"})
	if err != nil {
		t.Fatalf("RegisterClient() error = %v", err)
	}

	if _, err := uuid.Parse(reg.ID); err != nil {
		t.Errorf("client ID %q is not a UUID: %v", reg.ID, err)
	}
	if reg.Secret == "" {
		t.Fatal("registration returned no secret")
	}

	// Only the hash is stored, and the plaintext verifies against it.
	client, err := store.GetClient(ctx, reg.ID)
	if err != nil {
		t.Fatalf("GetClient() error = %v", err)
	}
	if client.SecretHash == reg.Secret {
		t.Error("client secret stored in plaintext")
	}
	if !security.VerifySecret(client.SecretHash, reg.Secret) {
		t.Error("returned secret does not verify against the stored hash")
	}
	if len(client.RedirectURIs) != 1 || client.RedirectURIs[0] != "https://app.example.com/callback" {
		t.Errorf("RedirectURIs = %v", client.RedirectURIs)
	}
}

func TestRegisterClient_RequiresRedirectURI(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	_, err := srv.RegisterClient(context.Background(), nil, nil, nil)
	wantOAuthError(t, err, ErrorInvalidRequest)
}

func TestRotateClientSecret(t *testing.T) {
	srv, store := newTestServer(t, nil)
	reg := registerTestClient(t, srv, nil, nil)
	ctx := context.Background()

	newSecret, err := srv.RotateClientSecret(ctx, reg.ID)
	if err != nil {
		t.Fatalf("RotateClientSecret() error = %v", err)
	}
	if newSecret == "" || newSecret == reg.Secret {
		t.Fatalf("rotated secret = %q, want a fresh one", newSecret)
	}

	// The old secret stops working immediately.
	if err := store.CheckClientCredentials(ctx, reg.ID, reg.Secret); err == nil {
		t.Error("old secret still accepted after rotation")
	}
	if err := store.CheckClientCredentials(ctx, reg.ID, newSecret); err != nil {
		t.Errorf("new secret rejected: %v", err)
	}
}

func TestRotateClientSecret_UnknownClient(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	_, err := srv.RotateClientSecret(context.Background(), "ghost")
	wantOAuthError(t, err, ErrorInvalidClient)
}

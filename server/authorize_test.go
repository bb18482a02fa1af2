package server

import (
	"context"
	"net/url"
	"strings"
	"testing"
)

func TestAuthorizeParams(t *testing.T) {
	srv, _ := newTestServer(t, &Config{SupportedScopes: []string{"read", "write"}})
	reg := registerTestClient(t, srv, nil, []string{"read", "write"})
	ctx := context.Background()

	params, err := srv.AuthorizeParams(ctx, &AuthorizeRequest{
		ResponseType: "code",
		ClientID:     reg.ID,
		RedirectURI:  "https://app.example.com/callback",
		Scope:        "read",
		State:        "xyz",
	})
	if err != nil {
		t.Fatalf("AuthorizeParams() error = %v", err)
	}

	if params.ClientID != reg.ID || params.Scope != "read" || params.State != "xyz" {
		t.Errorf("params = %+v", params)
	}
	if params.RedirectURI != "https://app.example.com/callback" {
		t.Errorf("RedirectURI = %q", params.RedirectURI)
	}

	v := params.Values()
	if v.Get("client_id") != reg.ID || v.Get("response_type") != "code" || v.Get("state") != "xyz" {
		t.Errorf("Values() = %v", v)
	}
}

func TestAuthorizeParams_OmittedRedirectURI(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	reg := registerTestClient(t, srv, nil, nil)

	params, err := srv.AuthorizeParams(context.Background(), &AuthorizeRequest{
		ResponseType: "code",
		ClientID:     reg.ID,
	})
	if err != nil {
		t.Fatalf("AuthorizeParams() error = %v", err)
	}
	if params.RedirectURI != "https://app.example.com/callback" {
		t.Errorf("RedirectURI = %q, want the sole registered URI", params.RedirectURI)
	}
}

func TestAuthorizeParams_Errors(t *testing.T) {
	srv, _ := newTestServer(t, &Config{SupportedScopes: []string{"read", "write"}})
	reg := registerTestClient(t, srv, nil, nil)
	ctx := context.Background()

	tests := []struct {
		name         string
		req          *AuthorizeRequest
		wantCode     string
		wantRedirect bool
	}{
		{
			name:     "missing client id",
			req:      &AuthorizeRequest{ResponseType: "code"},
			wantCode: ErrorInvalidClient,
		},
		{
			name:     "unknown client",
			req:      &AuthorizeRequest{ResponseType: "code", ClientID: "ghost"},
			wantCode: ErrorInvalidClient,
		},
		{
			name: "unregistered redirect uri",
			req: &AuthorizeRequest{
				ResponseType: "code",
				ClientID:     reg.ID,
				RedirectURI:  "https://evil.example.com/cb",
			},
			wantCode: ErrorRedirectURIMismatch,
		},
		{
			name: "wrong response type redirects",
			req: &AuthorizeRequest{
				ResponseType: "token",
				ClientID:     reg.ID,
				RedirectURI:  "https://app.example.com/callback",
				State:        "s",
			},
			wantCode:     ErrorUnsupportedResponseType,
			wantRedirect: true,
		},
		{
			name: "unsupported scope redirects",
			req: &AuthorizeRequest{
				ResponseType: "code",
				ClientID:     reg.ID,
				RedirectURI:  "https://app.example.com/callback",
				Scope:        "admin",
				State:        "s",
			},
			wantCode:     ErrorInvalidScope,
			wantRedirect: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := srv.AuthorizeParams(ctx, tt.req)
			oauthErr := wantOAuthError(t, err, tt.wantCode)

			redirect := oauthErr.RedirectURL()
			if tt.wantRedirect && redirect == "" {
				t.Error("RedirectURL() = \"\", want a redirect for a verified URI")
			}
			if !tt.wantRedirect && redirect != "" {
				t.Errorf("RedirectURL() = %q, want \"\" for an unverified URI", redirect)
			}
			if tt.wantRedirect && tt.req.State != "" && !strings.Contains(redirect, "state="+tt.req.State) {
				t.Errorf("RedirectURL() = %q, missing state echo", redirect)
			}
		})
	}
}

func TestFinishAuthorization_Accepted(t *testing.T) {
	srv, store := newTestServer(t, nil)
	reg := registerTestClient(t, srv, nil, nil)
	ctx := context.Background()

	params, err := srv.AuthorizeParams(ctx, &AuthorizeRequest{
		ResponseType: "code",
		ClientID:     reg.ID,
		RedirectURI:  "https://app.example.com/callback",
		Scope:        "read",
		State:        "opaque-state",
	})
	if err != nil {
		t.Fatalf("AuthorizeParams() error = %v", err)
	}

	redirect, err := srv.FinishAuthorization(ctx, true, "user-1", params)
	if err != nil {
		t.Fatalf("FinishAuthorization() error = %v", err)
	}

	u, err := url.Parse(redirect)
	if err != nil {
		t.Fatalf("redirect URL invalid: %v", err)
	}
	code := u.Query().Get("code")
	if code == "" {
		t.Fatal("redirect missing code parameter")
	}
	if got := u.Query().Get("state"); got != "opaque-state" {
		t.Errorf("state = %q, want unmodified echo", got)
	}

	// The persisted code is bound to the user, client, scope, and URI.
	rec, err := store.GetAuthorizationCode(ctx, code)
	if err != nil {
		t.Fatalf("GetAuthorizationCode() error = %v", err)
	}
	if rec.UserID != "user-1" || rec.ClientID != reg.ID || rec.Scope != "read" {
		t.Errorf("persisted code = %+v", rec)
	}
	if rec.RedirectURI != "https://app.example.com/callback" {
		t.Errorf("code redirect URI = %q", rec.RedirectURI)
	}
}

func TestFinishAuthorization_Denied(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	reg := registerTestClient(t, srv, nil, nil)
	ctx := context.Background()

	params, err := srv.AuthorizeParams(ctx, &AuthorizeRequest{
		ResponseType: "code",
		ClientID:     reg.ID,
		State:        "s1",
	})
	if err != nil {
		t.Fatalf("AuthorizeParams() error = %v", err)
	}

	redirect, err := srv.FinishAuthorization(ctx, false, "user-1", params)
	if redirect != "" {
		t.Errorf("redirect = %q, want empty on denial", redirect)
	}
	oauthErr := wantOAuthError(t, err, ErrorAccessDenied)

	errRedirect := oauthErr.RedirectURL()
	if !strings.Contains(errRedirect, "error=access_denied") || !strings.Contains(errRedirect, "state=s1") {
		t.Errorf("RedirectURL() = %q", errRedirect)
	}

	// No redirect URL carries a code parameter on denial.
	if strings.Contains(errRedirect, "code=") {
		t.Errorf("denial redirect carries a code: %q", errRedirect)
	}
}

func TestFinishAuthorization_TamperedEcho(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	reg := registerTestClient(t, srv, nil, nil)
	ctx := context.Background()

	params, err := srv.AuthorizeParams(ctx, &AuthorizeRequest{
		ResponseType: "code",
		ClientID:     reg.ID,
	})
	if err != nil {
		t.Fatalf("AuthorizeParams() error = %v", err)
	}

	// A tampered redirect URI in the echoed params must fail re-validation.
	params.RedirectURI = "https://evil.example.com/steal"
	_, err = srv.FinishAuthorization(ctx, true, "user-1", params)
	oauthErr := wantOAuthError(t, err, ErrorRedirectURIMismatch)
	if oauthErr.RedirectURL() != "" {
		t.Error("tampered URI produced a redirectable error")
	}

	// A tampered client ID must fail too.
	params2, _ := srv.AuthorizeParams(ctx, &AuthorizeRequest{
		ResponseType: "code",
		ClientID:     reg.ID,
	})
	params2.ClientID = "ghost"
	_, err = srv.FinishAuthorization(ctx, true, "user-1", params2)
	wantOAuthError(t, err, ErrorInvalidClient)
}

func TestFinishAuthorization_RequiresUser(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	reg := registerTestClient(t, srv, nil, nil)
	ctx := context.Background()

	params, err := srv.AuthorizeParams(ctx, &AuthorizeRequest{
		ResponseType: "code",
		ClientID:     reg.ID,
	})
	if err != nil {
		t.Fatalf("AuthorizeParams() error = %v", err)
	}

	if _, err := srv.FinishAuthorization(ctx, true, "", params); err == nil {
		t.Fatal("FinishAuthorization() with empty user = nil error, want error")
	}
}

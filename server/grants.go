package server

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/oauth2"

	"github.com/verdantlabs/oauth2core/instrumentation"
	"github.com/verdantlabs/oauth2core/security"
	"github.com/verdantlabs/oauth2core/storage"
)

// TokenRequest carries the parsed parameters of a token endpoint request.
// Which fields are required depends on GrantType.
type TokenRequest struct {
	GrantType    string
	ClientID     string
	ClientSecret string

	// authorization_code grant
	Code        string
	RedirectURI string

	// refresh_token grant
	RefreshToken string

	// password grant
	Username string
	Password string

	// Scope is the requested scope (client_credentials, password, and
	// optionally refresh_token narrowing).
	Scope string
}

// grantResult is what a grant handler resolves before tokens are minted.
type grantResult struct {
	userID       string
	scope        string
	refreshScope string // scope recorded on the new refresh token
	withRefresh  bool
}

// Token runs the token endpoint pipeline: authenticate the client, check
// grant-type restrictions, dispatch to the grant handler, and mint tokens.
// Errors are always *Error values carrying an OAuth error code; storage
// detail never leaks to the caller.
func (s *Server) Token(ctx context.Context, req *TokenRequest) (*oauth2.Token, string, error) {
	if req == nil || req.GrantType == "" {
		return nil, "", newError(ErrorInvalidRequest, "grant_type is required")
	}

	tracer := s.tracer()
	ctx, span := tracer.Start(ctx, "server.Token")
	defer span.End()
	instrumentation.AddGrantAttributes(span, req.GrantType, req.ClientID, req.Scope)

	tok, scope, err := s.token(ctx, req)
	if err != nil {
		instrumentation.RecordError(span, err)
		var oauthErr *Error
		if errors.As(err, &oauthErr) {
			if m := s.metrics(); m != nil {
				m.RecordGrantFailed(ctx, req.GrantType, oauthErr.Code)
			}
			s.logSecurityEvent(req.ClientID, "token grant failed",
				"grant_type", req.GrantType,
				"error", oauthErr.Code)
			s.Auditor.LogGrantFailure(req.ClientID, req.GrantType, oauthErr.Code)
		}
		return nil, "", err
	}

	instrumentation.SetSpanSuccess(span)
	if m := s.metrics(); m != nil {
		m.RecordGrantIssued(ctx, req.GrantType)
	}
	return tok, scope, nil
}

func (s *Server) token(ctx context.Context, req *TokenRequest) (*oauth2.Token, string, error) {
	if req.ClientID == "" {
		return nil, "", newError(ErrorInvalidClient, "client authentication failed")
	}

	// Authenticate the client first. Unknown client and wrong secret are the
	// same error, and the storage layer keeps the comparison constant-time.
	if err := s.store.CheckClientCredentials(ctx, req.ClientID, req.ClientSecret); err != nil {
		if errors.Is(err, storage.ErrInvalidCredentials) || errors.Is(err, storage.ErrClientNotFound) {
			return nil, "", newError(ErrorInvalidClient, "client authentication failed")
		}
		s.Logger.Error("client credential check failed", "error", err)
		return nil, "", newError(ErrorServerError, "temporary failure")
	}

	switch req.GrantType {
	case GrantTypeAuthorizationCode, GrantTypeClientCredentials, GrantTypeRefreshToken, GrantTypePassword:
	default:
		return nil, "", newError(ErrorUnsupportedGrantType, "unsupported grant type")
	}

	allowed, err := s.store.CheckRestrictedGrantType(ctx, req.ClientID, req.GrantType)
	if err != nil {
		s.Logger.Error("grant type restriction check failed", "error", err)
		return nil, "", newError(ErrorServerError, "temporary failure")
	}
	if !allowed {
		return nil, "", newError(ErrorUnauthorizedClient, "client may not use this grant type")
	}

	var result *grantResult
	switch req.GrantType {
	case GrantTypeAuthorizationCode:
		result, err = s.handleAuthorizationCode(ctx, req)
	case GrantTypeClientCredentials:
		result, err = s.handleClientCredentials(ctx, req)
	case GrantTypeRefreshToken:
		result, err = s.handleRefreshToken(ctx, req)
	case GrantTypePassword:
		result, err = s.handlePassword(ctx, req)
	}
	if err != nil {
		return nil, "", err
	}

	return s.issueTokens(ctx, req, result)
}

// issueTokens mints the refresh token where the grant carries one, then the
// access token recording the pairing, and assembles the response. The
// refresh token goes first so the access record can reference it; revoking
// the access token later revokes the pair.
func (s *Server) issueTokens(ctx context.Context, req *TokenRequest, result *grantResult) (*oauth2.Token, string, error) {
	var refreshValue string
	if result.withRefresh {
		refreshScope := result.refreshScope
		if refreshScope == "" {
			refreshScope = result.scope
		}
		refresh, err := s.mintRefreshToken(ctx, req.ClientID, result.userID, refreshScope)
		if err != nil {
			s.Logger.Error("failed to mint refresh token", "error", err)
			return nil, "", newError(ErrorServerError, "failed to issue token")
		}
		refreshValue = refresh.Token
	}

	access, err := s.mintAccessToken(ctx, req.ClientID, result.userID, result.scope, refreshValue)
	if err != nil {
		// Roll back the orphaned refresh token so a half-issued grant leaves
		// nothing usable behind.
		if refreshValue != "" {
			if delErr := s.store.RevokeRefreshToken(ctx, refreshValue); delErr != nil {
				s.Logger.Error("failed to roll back refresh token", "error", delErr)
			}
		}
		s.Logger.Error("failed to mint access token", "error", err)
		return nil, "", newError(ErrorServerError, "failed to issue token")
	}

	tok := &oauth2.Token{
		AccessToken:  access.Token,
		TokenType:    "Bearer",
		Expiry:       access.ExpiresAt,
		RefreshToken: refreshValue,
	}

	s.Auditor.LogTokenIssued(result.userID, req.ClientID, req.GrantType, result.scope)
	s.Logger.Info("token issued",
		"client_id", req.ClientID,
		"grant_type", req.GrantType,
		"scope", result.scope,
		"token_prefix", safeTruncate(access.Token, tokenIDLogLength))

	return tok, result.scope, nil
}

// handleAuthorizationCode redeems a single-use authorization code. The
// storage consume is atomic, so a replayed or raced code loses here no
// matter how many server instances share the backend.
func (s *Server) handleAuthorizationCode(ctx context.Context, req *TokenRequest) (*grantResult, error) {
	if req.Code == "" {
		return nil, newError(ErrorInvalidRequest, "code is required")
	}

	code, err := s.store.ConsumeAuthorizationCode(ctx, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrCodeUsed):
			if m := s.metrics(); m != nil {
				m.RecordCodeReplayDetected(ctx)
			}
			s.logSecurityEvent(req.ClientID, "authorization code replay detected",
				"code_prefix", safeTruncate(req.Code, tokenIDLogLength))
			return nil, newError(ErrorInvalidGrant, "authorization code is invalid")
		case errors.Is(err, storage.ErrCodeNotFound), errors.Is(err, storage.ErrTokenExpired):
			return nil, newError(ErrorInvalidGrant, "authorization code is invalid")
		default:
			s.Logger.Error("authorization code consume failed", "error", err)
			return nil, newError(ErrorServerError, "temporary failure")
		}
	}

	// The code is bound to the client it was issued to and to the redirect
	// URI used at authorization time.
	if code.ClientID != req.ClientID {
		s.logSecurityEvent(req.ClientID, "authorization code client mismatch",
			"issued_to", code.ClientID)
		return nil, newError(ErrorInvalidGrant, "authorization code is invalid")
	}
	if code.RedirectURI != "" && code.RedirectURI != req.RedirectURI {
		return nil, newError(ErrorInvalidGrant, "redirect_uri does not match authorization request")
	}

	return &grantResult{
		userID:      code.UserID,
		scope:       code.Scope,
		withRefresh: true,
	}, nil
}

// handleClientCredentials issues an access token for the client itself. No
// user is involved and no refresh token is issued: the client can always
// authenticate again.
func (s *Server) handleClientCredentials(ctx context.Context, req *TokenRequest) (*grantResult, error) {
	client, err := s.store.GetClient(ctx, req.ClientID)
	if err != nil {
		s.Logger.Error("client lookup failed", "error", err)
		return nil, newError(ErrorServerError, "temporary failure")
	}

	scope, ok := s.validateRequestedScope(req.Scope, client)
	if !ok {
		return nil, newError(ErrorInvalidScope, "requested scope is not allowed")
	}
	if scope == "" {
		// No scope requested: grant the client's full registered scope set.
		scope = joinScope(client.Scopes)
	}

	return &grantResult{
		userID:      "",
		scope:       scope,
		withRefresh: false,
	}, nil
}

// handleRefreshToken exchanges a refresh token for a fresh access token.
// With rotation (the default) the presented token is atomically consumed and
// a replacement is issued; a second presentation of a consumed token is
// treated as possible theft. The reuse policy reads without consuming.
func (s *Server) handleRefreshToken(ctx context.Context, req *TokenRequest) (*grantResult, error) {
	if req.RefreshToken == "" {
		return nil, newError(ErrorInvalidRequest, "refresh_token is required")
	}

	rotate := !s.Config.DisableRefreshTokenRotation

	var (
		token *storage.RefreshToken
		err   error
	)
	if rotate {
		token, err = s.store.ConsumeRefreshToken(ctx, req.RefreshToken)
	} else {
		token, err = s.store.GetRefreshToken(ctx, req.RefreshToken)
	}
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrTokenNotFound):
			if rotate {
				if m := s.metrics(); m != nil {
					m.RecordRefreshReuseDetected(ctx)
				}
				s.logSecurityEvent(req.ClientID, "refresh token reuse or unknown token",
					"token_prefix", safeTruncate(req.RefreshToken, tokenIDLogLength))
			}
			return nil, newError(ErrorInvalidGrant, "refresh token is invalid")
		case errors.Is(err, storage.ErrTokenExpired):
			return nil, newError(ErrorInvalidGrant, "refresh token is invalid")
		default:
			s.Logger.Error("refresh token lookup failed", "error", err)
			return nil, newError(ErrorServerError, "temporary failure")
		}
	}

	if token.ClientID != req.ClientID {
		s.logSecurityEvent(req.ClientID, "refresh token client mismatch",
			"issued_to", token.ClientID)
		return nil, newError(ErrorInvalidGrant, "refresh token is invalid")
	}

	// The requested scope may narrow the original grant but never widen it.
	scope := token.Scope
	if req.Scope != "" {
		requested := parseScope(req.Scope)
		if !scopeAllowed(requested, parseScope(token.Scope)) {
			// A consumed token stays consumed: failing after the consume is
			// safer than letting a bad request keep the old token alive.
			return nil, newError(ErrorInvalidScope, "requested scope exceeds original grant")
		}
		scope = joinScope(requested)
	}

	s.Auditor.LogTokenRefreshed(token.UserID, req.ClientID, rotate)

	return &grantResult{
		userID: token.UserID,
		scope:  scope,
		// The replacement refresh token keeps the original grant scope so
		// later refreshes can still request any subset of it.
		refreshScope: token.Scope,
		withRefresh:  rotate,
	}, nil
}

// handlePassword validates resource-owner credentials and issues tokens for
// that user.
func (s *Server) handlePassword(ctx context.Context, req *TokenRequest) (*grantResult, error) {
	if req.Username == "" || req.Password == "" {
		return nil, newError(ErrorInvalidRequest, "username and password are required")
	}

	userID, err := s.store.CheckUserCredentials(ctx, req.Username, req.Password)
	if err != nil {
		if errors.Is(err, storage.ErrInvalidCredentials) {
			s.logSecurityEvent(req.ClientID, "resource owner authentication failed")
			return nil, newError(ErrorInvalidGrant, "invalid resource owner credentials")
		}
		s.Logger.Error("user credential check failed", "error", err)
		return nil, newError(ErrorServerError, "temporary failure")
	}

	client, err := s.store.GetClient(ctx, req.ClientID)
	if err != nil {
		s.Logger.Error("client lookup failed", "error", err)
		return nil, newError(ErrorServerError, "temporary failure")
	}

	scope, ok := s.validateRequestedScope(req.Scope, client)
	if !ok {
		return nil, newError(ErrorInvalidScope, "requested scope is not allowed")
	}

	return &grantResult{
		userID:      userID,
		scope:       scope,
		withRefresh: true,
	}, nil
}

// ValidateAccessToken looks up and validates a bearer token for resource
// servers. Expired tokens are rejected even when still present in storage.
func (s *Server) ValidateAccessToken(ctx context.Context, token string) (*storage.AccessToken, error) {
	if token == "" {
		return nil, newError(ErrorInvalidGrant, "access token is invalid")
	}

	rec, err := s.store.GetAccessToken(ctx, token)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrTokenNotFound), errors.Is(err, storage.ErrTokenExpired):
			return nil, newError(ErrorInvalidGrant, "access token is invalid")
		default:
			s.Logger.Error("access token lookup failed", "error", err)
			return nil, newError(ErrorServerError, "temporary failure")
		}
	}
	if security.IsExpired(rec.ExpiresAt, s.Config.ClockSkewGracePeriod) {
		return nil, newError(ErrorInvalidGrant, "access token is invalid")
	}
	return rec, nil
}

// RevokeToken revokes an access or refresh token presented by the client
// that owns it. Unknown tokens revoke successfully: revocation is
// idempotent and reveals nothing.
func (s *Server) RevokeToken(ctx context.Context, clientID, clientSecret, token string) error {
	if err := s.store.CheckClientCredentials(ctx, clientID, clientSecret); err != nil {
		return newError(ErrorInvalidClient, "client authentication failed")
	}

	if access, err := s.store.GetAccessToken(ctx, token); err == nil {
		if access.ClientID != clientID {
			return nil
		}
		if err := s.store.DeleteAccessToken(ctx, token); err != nil {
			s.Logger.Error("access token revocation failed", "error", err)
			return newError(ErrorServerError, "temporary failure")
		}
		// The paired refresh token dies with its access token.
		if access.RefreshToken != "" {
			if err := s.store.RevokeRefreshToken(ctx, access.RefreshToken); err != nil {
				s.Logger.Error("paired refresh token revocation failed", "error", err)
				return newError(ErrorServerError, "temporary failure")
			}
		}
		s.Auditor.LogTokenRevoked(access.UserID, clientID, "access")
		return nil
	}

	if refresh, err := s.store.GetRefreshToken(ctx, token); err == nil {
		if refresh.ClientID != clientID {
			return nil
		}
		if err := s.store.RevokeRefreshToken(ctx, token); err != nil {
			s.Logger.Error("refresh token revocation failed", "error", err)
			return newError(ErrorServerError, "temporary failure")
		}
		s.Auditor.LogTokenRevoked(refresh.UserID, clientID, "refresh")
		return nil
	}

	return nil
}

// tracer returns the engine tracer, or a no-op when uninstrumented.
func (s *Server) tracer() trace.Tracer {
	if s.instrumentation == nil {
		return tracenoop.NewTracerProvider().Tracer("server")
	}
	return s.instrumentation.Tracer("server")
}

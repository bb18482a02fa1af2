package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/verdantlabs/oauth2core/instrumentation"
	"github.com/verdantlabs/oauth2core/security"
	"github.com/verdantlabs/oauth2core/storage"
	"github.com/verdantlabs/oauth2core/tokens"
)

// Grant types supported by the token endpoint.
const (
	GrantTypeAuthorizationCode = "authorization_code"
	GrantTypeClientCredentials = "client_credentials"
	GrantTypeRefreshToken      = "refresh_token"
	GrantTypePassword          = "password"
)

// ResponseTypeCode is the only response type the authorization endpoint
// supports.
const ResponseTypeCode = "code"

// tokenIDLogLength is the number of token characters included in logs.
const tokenIDLogLength = 8

// Server is the authorization server engine. It coordinates grant handling
// and the consent flow on top of a storage backend.
type Server struct {
	store storage.Storage

	Logger                   *slog.Logger
	Auditor                  *security.Auditor
	SecurityEventRateLimiter *security.RateLimiter
	Config                   *Config

	instrumentation *instrumentation.Instrumentation
}

// New creates an authorization server engine.
func New(store storage.Storage, config *Config, logger *slog.Logger) (*Server, error) {
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if config == nil {
		config = &Config{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	config = applySecureDefaults(config, logger)

	return &Server{
		store:  store,
		Config: config,
		Logger: logger,
	}, nil
}

// SetAuditor sets the security auditor.
func (s *Server) SetAuditor(aud *security.Auditor) {
	s.Auditor = aud
}

// SetSecurityEventRateLimiter sets the rate limiter that throttles security
// event logging per client, preventing log flooding.
func (s *Server) SetSecurityEventRateLimiter(rl *security.RateLimiter) {
	s.SecurityEventRateLimiter = rl
}

// SetInstrumentation attaches metrics and tracing.
func (s *Server) SetInstrumentation(inst *instrumentation.Instrumentation) {
	s.instrumentation = inst
}

// metrics returns the metric instruments, or nil when uninstrumented.
func (s *Server) metrics() *instrumentation.Metrics {
	if s.instrumentation == nil {
		return nil
	}
	return s.instrumentation.Metrics()
}

// logSecurityEvent logs a security-relevant failure, throttled per client so
// repeated failures cannot flood the log.
func (s *Server) logSecurityEvent(clientID, event string, attrs ...any) {
	if s.SecurityEventRateLimiter != nil && !s.SecurityEventRateLimiter.Allow(clientID) {
		return
	}
	s.Logger.Warn(event, append([]any{"client_id", clientID}, attrs...)...)
}

// safeTruncate truncates a string to at most maxLen characters.
func safeTruncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// ============================================================
// Token minting
//
// Every mint regenerates on a storage collision, bounded by
// Config.TokenGenerationRetries. Collisions are practically impossible at
// 256 bits of entropy, so exhausting the retries indicates a broken
// generator or backend and fails the whole grant.
// ============================================================

func (s *Server) mintAccessToken(ctx context.Context, clientID, userID, scope, refreshToken string) (*storage.AccessToken, error) {
	for attempt := 0; ; attempt++ {
		value, err := tokens.Generate()
		if err != nil {
			return nil, fmt.Errorf("failed to generate access token: %w", err)
		}

		now := time.Now()
		token := &storage.AccessToken{
			Token:        value,
			ClientID:     clientID,
			UserID:       userID,
			Scope:        scope,
			RefreshToken: refreshToken,
			CreatedAt:    now,
			ExpiresAt:    tokens.Expiry(now, s.Config.AccessTokenTTL),
		}

		err = s.store.CreateAccessToken(ctx, token)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, storage.ErrDuplicateToken) || attempt >= s.Config.TokenGenerationRetries {
			return nil, fmt.Errorf("failed to store access token: %w", err)
		}
		if m := s.metrics(); m != nil {
			m.RecordTokenGenerationRetry(ctx, "access")
		}
		s.Logger.Warn("access token collision, regenerating", "attempt", attempt+1)
	}
}

func (s *Server) mintRefreshToken(ctx context.Context, clientID, userID, scope string) (*storage.RefreshToken, error) {
	for attempt := 0; ; attempt++ {
		value, err := tokens.Generate()
		if err != nil {
			return nil, fmt.Errorf("failed to generate refresh token: %w", err)
		}

		now := time.Now()
		token := &storage.RefreshToken{
			Token:     value,
			ClientID:  clientID,
			UserID:    userID,
			Scope:     scope,
			CreatedAt: now,
		}
		if !s.Config.RefreshTokenNeverExpires {
			token.ExpiresAt = tokens.Expiry(now, s.Config.RefreshTokenTTL)
		}

		err = s.store.CreateRefreshToken(ctx, token)
		if err == nil {
			return token, nil
		}
		if !errors.Is(err, storage.ErrDuplicateToken) || attempt >= s.Config.TokenGenerationRetries {
			return nil, fmt.Errorf("failed to store refresh token: %w", err)
		}
		if m := s.metrics(); m != nil {
			m.RecordTokenGenerationRetry(ctx, "refresh")
		}
		s.Logger.Warn("refresh token collision, regenerating", "attempt", attempt+1)
	}
}

func (s *Server) mintAuthorizationCode(ctx context.Context, clientID, userID, redirectURI, scope string) (*storage.AuthorizationCode, error) {
	for attempt := 0; ; attempt++ {
		value, err := tokens.Generate()
		if err != nil {
			return nil, fmt.Errorf("failed to generate authorization code: %w", err)
		}

		now := time.Now()
		code := &storage.AuthorizationCode{
			Code:        value,
			ClientID:    clientID,
			UserID:      userID,
			RedirectURI: redirectURI,
			Scope:       scope,
			CreatedAt:   now,
			ExpiresAt:   tokens.Expiry(now, s.Config.AuthorizationCodeTTL),
		}

		err = s.store.CreateAuthorizationCode(ctx, code)
		if err == nil {
			return code, nil
		}
		if !errors.Is(err, storage.ErrDuplicateToken) || attempt >= s.Config.TokenGenerationRetries {
			return nil, fmt.Errorf("failed to store authorization code: %w", err)
		}
		if m := s.metrics(); m != nil {
			m.RecordTokenGenerationRetry(ctx, "code")
		}
		s.Logger.Warn("authorization code collision, regenerating", "attempt", attempt+1)
	}
}

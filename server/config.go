package server

import (
	"log/slog"
	"time"
)

// Default lifetimes and limits.
const (
	DefaultAuthorizationCodeTTL   = 5 * time.Minute
	DefaultAccessTokenTTL         = time.Hour
	DefaultRefreshTokenTTL        = 90 * 24 * time.Hour
	DefaultClockSkewGracePeriod   = 5 * time.Second
	DefaultTokenGenerationRetries = 3
)

// Config holds authorization server configuration. The zero value is the
// secure choice everywhere: rotation stays enabled and TTL defaults apply.
type Config struct {
	// Issuer is the server's issuer identifier (base URL).
	Issuer string

	// AuthorizationCodeTTL is how long authorization codes are valid.
	// Default: 5 minutes.
	AuthorizationCodeTTL time.Duration

	// AccessTokenTTL is how long access tokens are valid. Default: 1 hour.
	AccessTokenTTL time.Duration

	// RefreshTokenTTL is how long refresh tokens are valid. Default: 90
	// days. Ignored when RefreshTokenNeverExpires is set.
	RefreshTokenTTL time.Duration

	// RefreshTokenNeverExpires issues refresh tokens without an expiry.
	RefreshTokenNeverExpires bool

	// DisableRefreshTokenRotation keeps a refresh token valid after use
	// instead of replacing it. Rotation is the default; disabling it logs a
	// warning.
	DisableRefreshTokenRotation bool

	// SupportedScopes lists the scopes the server allows. Empty means all
	// scopes are allowed.
	SupportedScopes []string

	// TokenGenerationRetries is how many times token minting regenerates
	// after a storage collision before failing. Default: 3.
	TokenGenerationRetries int

	// ClockSkewGracePeriod tolerates clock differences in expiry checks.
	// Default: 5 seconds.
	ClockSkewGracePeriod time.Duration
}

// applySecureDefaults fills zero values with defaults and warns about
// explicitly weakened settings.
func applySecureDefaults(config *Config, logger *slog.Logger) *Config {
	if config.AuthorizationCodeTTL == 0 {
		config.AuthorizationCodeTTL = DefaultAuthorizationCodeTTL
	}
	if config.AccessTokenTTL == 0 {
		config.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if config.RefreshTokenTTL == 0 {
		config.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if config.TokenGenerationRetries == 0 {
		config.TokenGenerationRetries = DefaultTokenGenerationRetries
	}
	if config.ClockSkewGracePeriod == 0 {
		config.ClockSkewGracePeriod = DefaultClockSkewGracePeriod
	}

	if config.DisableRefreshTokenRotation {
		logger.Warn("refresh token rotation is DISABLED",
			"risk", "stolen refresh tokens stay valid until they expire",
			"recommendation", "leave DisableRefreshTokenRotation unset")
	}

	return config
}

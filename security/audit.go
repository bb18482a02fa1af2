package security

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"time"
)

// Auditor logs security-relevant events. Resource-owner identifiers are
// hashed before logging so audit output never carries raw PII; client IDs
// are not personal data and are logged as-is.
type Auditor struct {
	logger  *slog.Logger
	enabled bool
}

// NewAuditor creates an auditor. A nil logger falls back to slog.Default().
func NewAuditor(logger *slog.Logger, enabled bool) *Auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		logger:  logger,
		enabled: enabled,
	}
}

// Event is a single audit record.
type Event struct {
	Type      string
	UserID    string
	ClientID  string
	Details   map[string]any
	Timestamp time.Time
}

// LogEvent emits an audit event with the user identifier hashed.
func (a *Auditor) LogEvent(event Event) {
	if a == nil || !a.enabled {
		return
	}

	event.Timestamp = time.Now()

	a.logger.Info("security_audit",
		"event_type", event.Type,
		"user_id_hash", HashForLogging(event.UserID),
		"client_id", event.ClientID,
		"details", event.Details,
		"timestamp", event.Timestamp,
	)
}

// LogClientRegistered records a new client registration.
func (a *Auditor) LogClientRegistered(clientID string, grantTypes []string) {
	a.LogEvent(Event{
		Type:     "client_registered",
		ClientID: clientID,
		Details: map[string]any{
			"grant_types": grantTypes,
		},
	})
}

// LogClientSecretRotated records a client secret rotation.
func (a *Auditor) LogClientSecretRotated(clientID string) {
	a.LogEvent(Event{
		Type:     "client_secret_rotated",
		ClientID: clientID,
	})
}

// LogAuthorizationDecision records the resource owner's consent decision.
func (a *Auditor) LogAuthorizationDecision(userID, clientID, scope string, accepted bool) {
	a.LogEvent(Event{
		Type:     "authorization_decision",
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"scope":    scope,
			"accepted": accepted,
		},
	})
}

// LogCodeIssued records the minting of an authorization code.
func (a *Auditor) LogCodeIssued(userID, clientID, scope string) {
	a.LogEvent(Event{
		Type:     "code_issued",
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"scope": scope,
		},
	})
}

// LogTokenIssued records a successful token grant.
func (a *Auditor) LogTokenIssued(userID, clientID, grantType, scope string) {
	a.LogEvent(Event{
		Type:     "token_issued",
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"grant_type": grantType,
			"scope":      scope,
		},
	})
}

// LogTokenRefreshed records a refresh-token exchange.
func (a *Auditor) LogTokenRefreshed(userID, clientID string, rotated bool) {
	a.LogEvent(Event{
		Type:     "token_refreshed",
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"rotated": rotated,
		},
	})
}

// LogTokenRevoked records an explicit token revocation.
func (a *Auditor) LogTokenRevoked(userID, clientID, tokenType string) {
	a.LogEvent(Event{
		Type:     "token_revoked",
		UserID:   userID,
		ClientID: clientID,
		Details: map[string]any{
			"token_type": tokenType,
		},
	})
}

// LogGrantFailure records a failed token grant attempt.
func (a *Auditor) LogGrantFailure(clientID, grantType, reason string) {
	a.LogEvent(Event{
		Type:     "grant_failure",
		ClientID: clientID,
		Details: map[string]any{
			"grant_type": grantType,
			"reason":     reason,
		},
	})
}

// HashForLogging returns a truncated SHA256 hash of a sensitive value, stable
// enough to correlate events without exposing the value itself.
func HashForLogging(sensitive string) string {
	if sensitive == "" {
		return "<empty>"
	}
	hash := sha256.Sum256([]byte(sensitive))
	return hex.EncodeToString(hash[:])[:16]
}

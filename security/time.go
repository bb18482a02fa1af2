package security

import "time"

// DefaultClockSkewGracePeriod tolerates small clock differences between the
// engine and its storage backend when checking expiry.
const DefaultClockSkewGracePeriod = 5 * time.Second

// IsExpired reports whether a credential with the given expiry is expired,
// allowing for clock skew. A zero expiresAt means the credential never
// expires.
func IsExpired(expiresAt time.Time, gracePeriod time.Duration) bool {
	if expiresAt.IsZero() {
		return false
	}
	if gracePeriod < 0 {
		gracePeriod = 0
	}
	return time.Now().After(expiresAt.Add(gracePeriod))
}

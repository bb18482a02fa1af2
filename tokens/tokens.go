// Package tokens generates the opaque token and code strings issued by the
// authorization server. Tokens are bare lookup keys: all state associated
// with a token lives in storage, never in the token itself.
package tokens

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// tokenBytes is the number of random bytes per token. 32 bytes (256 bits)
// comfortably exceeds the 160-bit minimum for unguessable credentials and
// encodes to 43 URL-safe characters.
const tokenBytes = 32

// ErrEntropyUnavailable indicates the secure random source failed. This is
// fatal and non-retriable at this layer: callers must not fall back to a
// weaker source.
var ErrEntropyUnavailable = errors.New("secure random source unavailable")

// Generate returns a cryptographically random, URL-safe opaque token string.
func Generate() (string, error) {
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%w: %v", ErrEntropyUnavailable, err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// Expiry returns the expiry timestamp for a token minted at now with the
// given lifetime. A non-positive ttl yields the zero time, meaning the token
// never expires.
func Expiry(now time.Time, ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return now.Add(ttl)
}

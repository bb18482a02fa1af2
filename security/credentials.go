package security

import (
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// dummyHash is a valid bcrypt hash of an unrelated string. When a client or
// user lookup misses, verification still runs against this hash so the
// response time does not reveal whether the identifier exists.
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// HashSecret returns a bcrypt hash of the given secret.
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash secret: %w", err)
	}
	return string(hash), nil
}

// VerifySecret reports whether secret matches the bcrypt hash.
func VerifySecret(hash, secret string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// VerifyDummy burns the same bcrypt work as a real verification and always
// reports false. Call it on the lookup-miss path so unknown identifiers cost
// the same as wrong secrets.
func VerifyDummy(secret string) bool {
	bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(secret))
	return false
}

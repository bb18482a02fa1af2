// Package security provides the cross-cutting security primitives used by the
// authorization server engine: constant-time credential hashing and
// verification, clock-skew-tolerant expiry checks, structured audit logging
// with hashed identifiers, and rate limiting of security event logging.
package security

// Package storage defines the persistence contract for the authorization
// server engine: clients, authorization codes, access tokens, refresh tokens,
// and resource-owner credential checks.
//
// The engine only ever talks to these interfaces, so any backend with atomic
// create/consume semantics can sit behind it. Implementations are provided in
// subpackages:
//   - storage/memory: in-memory storage for development, testing, and
//     single-instance deployments
//   - storage/valkey: Valkey/Redis-compatible distributed storage for
//     production
package storage

// Package valkey provides a Valkey-backed implementation of the storage
// contract for distributed deployments. Records are stored as JSON with TTLs
// matching their expiry; create-uniqueness is enforced with SET NX and the
// consume operations run as Lua scripts so they stay atomic across
// concurrent server instances.
//
// Compatible with Valkey and Redis servers.
package valkey

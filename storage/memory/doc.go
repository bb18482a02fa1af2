// Package memory provides an in-memory implementation of the storage
// contract. It is suitable for development, testing, and single-instance
// deployments; data does not survive a restart and is not shared between
// processes.
package memory

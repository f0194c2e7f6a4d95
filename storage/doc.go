// Package storage defines the records crashlink persists and the store
// interfaces used by the handshake and escalation controllers.
//
// The storage package defines three store interfaces:
//   - CredentialStore: OAuth credentials keyed by GitHub identity
//   - ReportStore: crash reports and their escalation references
//   - AccountLinkStore: chat user to GitHub login mappings
//
// Implementations are provided in subpackages:
//   - storage/memory: in-memory storage for development and testing
//   - storage/sqlite: embedded SQLite storage for single-instance deployments
//   - storage/valkey: Valkey/Redis-compatible distributed storage for production
package storage

// Package security provides the protective layers around crashlink's HTTP
// surface: sealed OAuth state cookies, per-client rate limiting, client IP
// resolution, request IDs, response security headers and audit logging.
//
// Audit events identify users by a truncated SHA-256 hash, never by raw
// identity, and access tokens are never passed to the auditor.
package security

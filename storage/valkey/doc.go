// Package valkey provides a Valkey storage backend for crashlink.
//
// Valkey is wire-compatible with Redis. Use this backend when several
// crashlink replicas must share credentials and crash reports.
//
// # Key Schema
//
// All keys use a configurable prefix (default "crashlink:"):
//
//	{prefix}credential:{identityID}  -> JSON(Credential)
//	{prefix}credentials:issued       -> ZSET identityID scored by issued_at (ms)
//	{prefix}report:{id}              -> JSON(CrashReport)
//	{prefix}report:{id}:issue        -> issue URL, written once
//	{prefix}reports:count            -> number of stored reports
//	{prefix}link:{chatUser}          -> JSON(AccountLink)
//
// # Atomic Operations
//
// AttachReference runs as a Lua script so that a report's reference is
// written at most once even when several replicas escalate concurrently.
//
// # Configuration
//
//	store, err := valkey.New(valkey.Config{
//	    Address:   "localhost:6379",
//	    KeyPrefix: "crashlink:",
//	})
//
// With TLS:
//
//	store, err := valkey.New(valkey.Config{
//	    Address:  "valkey.example.com:6379",
//	    Password: os.Getenv("VALKEY_PASSWORD"),
//	    TLS:      &tls.Config{MinVersion: tls.VersionTLS12},
//	})
//
// Access tokens are stored as-is; protect the Valkey instance accordingly.
package valkey

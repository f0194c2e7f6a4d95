// Package memory provides an in-memory implementation of the crashlink
// storage interfaces.
//
// It implements CredentialStore, ReportStore, and AccountLinkStore using
// maps guarded by a sync.RWMutex. It is suitable for development, testing,
// and single-instance deployments where losing data on restart is acceptable.
//
// For persistence use storage/sqlite (single instance) or storage/valkey
// (multi-instance).
//
// Example usage:
//
//	store := memory.New()
//	defer store.Close()
//
//	server, _ := crashlink.NewServer(provider, tracker, store, store, config)
package memory

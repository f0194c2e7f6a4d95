// Package sqlite provides a SQLite storage backend for crashlink.
//
// The store implements [storage.CredentialStore], [storage.ReportStore] and
// [storage.AccountLinkStore] on top of modernc.org/sqlite, a pure Go driver,
// so the binary stays CGO-free.
//
// # Schema
//
// Migrations are embedded from the migrations package and applied on Open:
//
//	credentials(identity_id PK, login, access_token, scope, issued_at)
//	crash_reports(id PK, payload_json, received_at, issue_url)
//	account_links(chat_user PK, github_login, updated_at)
//
// Timestamps are stored as Unix milliseconds in UTC.
//
// # Usage
//
//	store, err := sqlite.Open("/var/lib/crashlink/crashlink.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
// Writing a reference to a crash report is a single conditional UPDATE, so
// concurrent escalations of the same report cannot both attach a URL.
package sqlite

// Package store provides persistent storage for the gateway using SQLite.
//
// # Data Models
//
//   - Identity: a registered user and its identity-provider organization
//   - Wallet: addresses provisioned for an identity, plus the Wren token
//     account once it exists
//   - Job: an airdrop workflow instance (drop_tokens or fund_native)
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Job timestamps are stored as unix milliseconds so lease comparisons stay
// in SQL.
//
// # Write-once token accounts
//
// SetTokenAccount only updates a wallet whose token account is unset. Racing
// writers all get back the single stored value.
//
// # Job leasing
//
// LeaseJobs claims due, non-terminal jobs for a worker until the lease
// expires. Only the lease holder may UpdateJob; a worker whose lease lapsed
// gets ErrLeaseLost.
//
// # Testing
//
// Use NewMockStore() for unit tests:
//
//	s := store.NewMockStore()
//
// Use NewSQLiteStore(filepath.Join(t.TempDir(), "test.db")) for integration
// tests with real SQLite.
package store

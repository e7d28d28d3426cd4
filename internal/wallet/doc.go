// Package wallet composes sessions, the identity provider, the transaction
// builder, the submission pipeline and the airdrop orchestrator into the
// operations the HTTP layer exposes.
//
// Every wallet-scoped operation authenticates its session before doing
// anything else, so an absent or expired session never reaches the ledger.
// Errors leave this package classified by Kind.
package wallet

// Package ledger talks to the Solana JSON-RPC network.
package ledger

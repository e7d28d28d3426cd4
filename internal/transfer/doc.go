// Package transfer builds Wren token transfers against the shared durable nonce.
//
// Amounts cross the API in whole tokens and are converted to minor units
// (two decimals). Recipient token accounts are created on demand, paid for
// by the chest. The sender signs the resulting transaction outside the
// gateway.
package transfer

// Package identity is the client for the passkey identity provider.
//
// Registration creates a provider sub-organization whose root user is the
// browser passkey and whose wallet holds the user's Ethereum and Solana
// accounts. Login never sees a credential: the browser stamps a whoami
// request with the passkey and the gateway forwards it verbatim, trusting the
// organization id the provider answers with.
package identity

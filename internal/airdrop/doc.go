// Package airdrop delivers the welcome token drop and devnet SOL funding.
//
// A drop is a persisted job moving through
//
//	requested -> waiting_for_token_account -> dropping -> done | failed
//
// Requests return as soon as the job is stored. A Worker leases due jobs and
// steps them; a lease that lapses (crashed worker) lets another worker pick
// the job up where the last saved transition left it.
package airdrop

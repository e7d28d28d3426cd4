// Package submit broadcasts signed transactions to the ledger.
//
// Each send is wrapped in the retry envelope: at most two attempts, each
// raced against a five second timer. A send that exhausts its attempts
// reports ErrExhausted. Once the ledger has accepted a transaction, a single
// status poll is made; if the status cannot be learned in time the
// transaction is still reported as accepted for broadcast. Only a definite
// on-chain failure is surfaced, as ErrRejected.
package submit

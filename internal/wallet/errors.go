// ABOUTME: Error taxonomy surfaced at the request boundary
// ABOUTME: Every failure collapses to one of a few kinds; internal detail stays in the logs

package wallet

import (
	"errors"

	"github.com/2389/wren-gateway/internal/airdrop"
	"github.com/2389/wren-gateway/internal/identity"
	"github.com/2389/wren-gateway/internal/ledger"
	"github.com/2389/wren-gateway/internal/store"
	"github.com/2389/wren-gateway/internal/submit"
	"github.com/2389/wren-gateway/internal/transfer"
)

var (
	// ErrUnauthenticated covers both missing and expired sessions.
	ErrUnauthenticated = errors.New("not authenticated")

	ErrInvalidInput      = errors.New("invalid input")
	ErrAlreadyRegistered = errors.New("email already registered")
	ErrDropNotFound      = errors.New("drop not found")

	// ErrWalletMissing means the session's identity has no wallet on record.
	ErrWalletMissing = errors.New("wallet missing")
)

// ErrorKind is the boundary classification of an error.
type ErrorKind string

const (
	KindInput       ErrorKind = "input"
	KindAuth        ErrorKind = "auth"
	KindUnavailable ErrorKind = "unavailable"
	KindTransient   ErrorKind = "transient"
	KindInternal    ErrorKind = "internal"
)

// Kind classifies err. Unrecognized errors are internal.
func Kind(err error) ErrorKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthenticated):
		return KindAuth
	case errors.Is(err, ErrInvalidInput),
		errors.Is(err, ErrAlreadyRegistered),
		errors.Is(err, ErrDropNotFound),
		errors.Is(err, transfer.ErrInvalidAddress),
		errors.Is(err, transfer.ErrInvalidAmount),
		errors.Is(err, submit.ErrMalformed),
		errors.Is(err, identity.ErrInvalidRequest),
		errors.Is(err, identity.ErrRejected),
		errors.Is(err, airdrop.ErrInvalidOwner):
		return KindInput
	case errors.Is(err, ErrWalletMissing),
		errors.Is(err, transfer.ErrNonceUnavailable),
		errors.Is(err, transfer.ErrTokenAccount),
		errors.Is(err, ledger.ErrAccountNotFound),
		errors.Is(err, identity.ErrUnavailable):
		return KindUnavailable
	case errors.Is(err, submit.ErrExhausted),
		errors.Is(err, submit.ErrRejected):
		return KindTransient
	case errors.Is(err, store.ErrNotFound):
		return KindUnavailable
	default:
		return KindInternal
	}
}

// Message is the fixed client-facing text for err. It never includes the
// wrapped detail, which may carry decoder or RPC output.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnauthenticated):
		return "not authenticated"
	case errors.Is(err, ErrAlreadyRegistered):
		return "email already registered"
	case errors.Is(err, ErrDropNotFound):
		return "drop not found"
	case errors.Is(err, transfer.ErrInvalidAddress),
		errors.Is(err, airdrop.ErrInvalidOwner):
		return "invalid address"
	case errors.Is(err, transfer.ErrInvalidAmount):
		return "invalid amount"
	case errors.Is(err, submit.ErrMalformed):
		return "malformed transaction"
	case errors.Is(err, identity.ErrInvalidRequest),
		errors.Is(err, identity.ErrRejected):
		return "registration rejected"
	case errors.Is(err, ErrInvalidInput):
		return "invalid input"
	}
	switch Kind(err) {
	case KindUnavailable:
		return "resource unavailable"
	case KindTransient:
		return "ledger did not accept the transaction"
	default:
		return "internal error"
	}
}

// ABOUTME: Store interface and data types for wren-gateway persistence
// ABOUTME: Defines Identity, Wallet and airdrop Job records and the Store interface

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when an identity or wallet already exists
var ErrDuplicate = errors.New("already exists")

// ErrLeaseLost is returned when a job update comes from a worker that no longer holds the lease
var ErrLeaseLost = errors.New("job lease lost")

// Identity is a registered user, created once and never modified
type Identity struct {
	ID             string
	OrganizationID string // identity-provider sub-organization
	Email          string
	CreatedAt      time.Time
}

// Wallet is the custodial wallet of an identity.
// TokenAccount is empty until first set and never changes afterwards.
type Wallet struct {
	ID              string
	IdentityID      string
	EthereumAddress string
	SolanaAddress   string
	TokenAccount    string
	CreatedAt       time.Time
}

// JobKind identifies what an airdrop job delivers
type JobKind string

const (
	JobDropTokens JobKind = "drop_tokens" // 1 Wren from the chest
	JobFundNative JobKind = "fund_native" // devnet SOL for fees
)

// JobState is a node in the airdrop state machine
type JobState string

const (
	JobRequested              JobState = "requested"
	JobWaitingForTokenAccount JobState = "waiting_for_token_account"
	JobDropping               JobState = "dropping"
	JobDone                   JobState = "done"
	JobFailed                 JobState = "failed"
)

// Terminal reports whether no further transitions happen from s
func (s JobState) Terminal() bool {
	return s == JobDone || s == JobFailed
}

// Job is a persisted airdrop workflow instance
type Job struct {
	ID            string
	Kind          JobKind
	WalletID      string
	Owner         string // recipient wallet address
	State         JobState
	TokenAccount  string
	Signature     string // set before the drop is broadcast
	LastError     string
	Attempts      int // number of times the job has been leased
	NextAttemptAt time.Time
	WaitingSince  time.Time // zero unless waiting for a token account
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Store defines the persistence operations of the gateway
type Store interface {
	// Identities
	CreateIdentity(ctx context.Context, identity *Identity) error
	GetIdentity(ctx context.Context, id string) (*Identity, error)
	GetIdentityByOrganization(ctx context.Context, organizationID string) (*Identity, error)
	GetIdentityByEmail(ctx context.Context, email string) (*Identity, error)

	// CreateIdentityWithWallet inserts both records or neither.
	CreateIdentityWithWallet(ctx context.Context, identity *Identity, wallet *Wallet) error

	// Wallets
	CreateWallet(ctx context.Context, wallet *Wallet) error
	GetWallet(ctx context.Context, id string) (*Wallet, error)
	FindWalletByIdentity(ctx context.Context, identityID string) (*Wallet, error)
	// SetTokenAccount records the wallet's token account if none is set yet and
	// returns the stored value, which is the earlier one if already set.
	SetTokenAccount(ctx context.Context, walletID, tokenAccount string) (string, error)

	// Airdrop jobs
	CreateJob(ctx context.Context, job *Job) error
	GetJob(ctx context.Context, id string) (*Job, error)
	LeaseJobs(ctx context.Context, owner string, limit int, now time.Time, leaseTTL time.Duration) ([]*Job, error)
	UpdateJob(ctx context.Context, owner string, job *Job) error
	ReleaseJob(ctx context.Context, owner, id string) error

	// Close releases any resources held by the store
	Close() error
}

// ABOUTME: Airdrop orchestrator: a persisted state machine delivering welcome tokens and devnet SOL
// ABOUTME: Each Step performs one transition and saves it before the next one runs

package airdrop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/2389/wren-gateway/internal/ledger"
	"github.com/2389/wren-gateway/internal/metrics"
	"github.com/2389/wren-gateway/internal/store"
	"github.com/2389/wren-gateway/internal/submit"
)

// ErrInvalidOwner is returned when a job is requested for a malformed address.
var ErrInvalidOwner = errors.New("invalid recipient address")

// TokenAccounts is the slice of the transfer builder the orchestrator needs.
type TokenAccounts interface {
	EnsureTokenAccount(ctx context.Context, owner solana.PublicKey) (solana.PublicKey, bool, error)
	TokenAccountExists(ctx context.Context, ata solana.PublicKey) (bool, error)
	BuildChestTransfer(ctx context.Context, destination solana.PublicKey, minor uint64) (*solana.Transaction, error)
}

// Submitter broadcasts server-signed transactions.
type Submitter interface {
	SubmitTransaction(ctx context.Context, tx *solana.Transaction) (submit.Result, error)
}

// Config tunes the orchestrator. Zero values take the defaults below.
type Config struct {
	// DropAmount is the token amount delivered, in minor units.
	DropAmount uint64
	// NativeThreshold is the lamport balance under which SOL is requested.
	NativeThreshold uint64
	// NativeAmount is the lamports requested from the faucet.
	NativeAmount uint64
	// TokenAccountWait bounds how long a job waits for a new token account.
	TokenAccountWait time.Duration
	// PollInterval separates checks while waiting or after a transient error.
	PollInterval time.Duration
	// MaxAttempts caps transient failures before a job fails.
	MaxAttempts int
}

func (c Config) withDefaults() Config {
	if c.DropAmount == 0 {
		c.DropAmount = 100
	}
	if c.NativeThreshold == 0 {
		c.NativeThreshold = ledger.LamportsPerSOL / 2
	}
	if c.NativeAmount == 0 {
		c.NativeAmount = ledger.LamportsPerSOL
	}
	if c.TokenAccountWait == 0 {
		c.TokenAccountWait = time.Minute
	}
	if c.PollInterval == 0 {
		c.PollInterval = 5 * time.Second
	}
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 5
	}
	return c
}

// Orchestrator drives airdrop jobs through their states.
type Orchestrator struct {
	store   store.Store
	ledger  ledger.Client
	tokens  TokenAccounts
	submit  Submitter
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithMetrics records terminal job states.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithLogger sets the base logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// New creates an orchestrator.
func New(st store.Store, client ledger.Client, tokens TokenAccounts, submitter Submitter, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:  st,
		ledger: client,
		tokens: tokens,
		submit: submitter,
		cfg:    cfg.withDefaults(),
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With("component", "airdrop")
	return o
}

// Request persists a token drop for a wallet and returns without waiting.
func (o *Orchestrator) Request(ctx context.Context, walletID, owner string) (*store.Job, error) {
	return o.enqueue(ctx, store.JobDropTokens, walletID, owner)
}

// RequestNative persists a devnet SOL top-up for a wallet.
func (o *Orchestrator) RequestNative(ctx context.Context, walletID, owner string) (*store.Job, error) {
	return o.enqueue(ctx, store.JobFundNative, walletID, owner)
}

// Status returns the current state of a job.
func (o *Orchestrator) Status(ctx context.Context, id string) (*store.Job, error) {
	return o.store.GetJob(ctx, id)
}

func (o *Orchestrator) enqueue(ctx context.Context, kind store.JobKind, walletID, owner string) (*store.Job, error) {
	if _, err := solana.PublicKeyFromBase58(owner); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidOwner, err)
	}

	now := o.now().UTC()
	job := &store.Job{
		ID:            uuid.New().String(),
		Kind:          kind,
		WalletID:      walletID,
		Owner:         owner,
		State:         store.JobRequested,
		NextAttemptAt: now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := o.store.CreateJob(ctx, job); err != nil {
		return nil, fmt.Errorf("creating %s job: %w", kind, err)
	}

	o.logger.Info("airdrop requested", "job", job.ID, "kind", kind, "wallet", walletID)
	return job, nil
}

// Step performs one transition of job and persists it under lease. An error
// means the transition could not be saved; ledger failures are recorded on
// the job instead.
func (o *Orchestrator) Step(ctx context.Context, lease string, job *store.Job) error {
	if job.State.Terminal() {
		return nil
	}

	switch job.Kind {
	case store.JobDropTokens:
		if err := o.stepDrop(ctx, lease, job); err != nil {
			return err
		}
	case store.JobFundNative:
		o.stepNative(ctx, job)
	default:
		o.fail(job, fmt.Errorf("unknown job kind %q", job.Kind))
	}

	job.UpdatedAt = o.now().UTC()
	if err := o.store.UpdateJob(ctx, lease, job); err != nil {
		return fmt.Errorf("saving job %s: %w", job.ID, err)
	}
	if job.State.Terminal() {
		o.metrics.AirdropJob(string(job.Kind), string(job.State))
		o.logger.Info("airdrop finished",
			"job", job.ID,
			"kind", job.Kind,
			"state", job.State,
			"signature", job.Signature,
			"error", job.LastError,
		)
	}
	return nil
}

func (o *Orchestrator) stepDrop(ctx context.Context, lease string, job *store.Job) error {
	switch job.State {
	case store.JobRequested:
		o.resolveTokenAccount(ctx, job)
	case store.JobWaitingForTokenAccount:
		o.awaitTokenAccount(ctx, job)
	case store.JobDropping:
		return o.drop(ctx, lease, job)
	default:
		o.fail(job, fmt.Errorf("unexpected state %q", job.State))
	}
	return nil
}

// resolveTokenAccount uses the wallet's recorded token account, or checks
// for and if needed creates one.
func (o *Orchestrator) resolveTokenAccount(ctx context.Context, job *store.Job) {
	wallet, err := o.store.GetWallet(ctx, job.WalletID)
	if err != nil {
		o.retryOrFail(job, fmt.Errorf("loading wallet: %w", err))
		return
	}
	if wallet.TokenAccount != "" {
		job.TokenAccount = wallet.TokenAccount
		job.State = store.JobDropping
		return
	}

	owner, err := solana.PublicKeyFromBase58(job.Owner)
	if err != nil {
		o.fail(job, fmt.Errorf("%w: %v", ErrInvalidOwner, err))
		return
	}

	ata, created, err := o.tokens.EnsureTokenAccount(ctx, owner)
	if err != nil {
		o.retryOrFail(job, err)
		return
	}
	job.TokenAccount = ata.String()

	if created {
		now := o.now().UTC()
		job.State = store.JobWaitingForTokenAccount
		job.WaitingSince = now
		job.NextAttemptAt = now.Add(o.cfg.PollInterval)
		return
	}
	o.recordTokenAccount(ctx, job)
}

func (o *Orchestrator) awaitTokenAccount(ctx context.Context, job *store.Job) {
	now := o.now().UTC()
	if !job.WaitingSince.IsZero() && now.Sub(job.WaitingSince) > o.cfg.TokenAccountWait {
		o.fail(job, fmt.Errorf("token account %s not visible after %s", job.TokenAccount, o.cfg.TokenAccountWait))
		return
	}

	ata, err := solana.PublicKeyFromBase58(job.TokenAccount)
	if err != nil {
		o.fail(job, fmt.Errorf("stored token account: %w", err))
		return
	}

	exists, err := o.tokens.TokenAccountExists(ctx, ata)
	if err != nil || !exists {
		if err != nil {
			o.logger.Warn("checking token account", "job", job.ID, "error", err)
		}
		job.NextAttemptAt = now.Add(o.cfg.PollInterval)
		return
	}
	o.recordTokenAccount(ctx, job)
}

// recordTokenAccount writes the token account once and moves to dropping
// with whatever value the store kept.
func (o *Orchestrator) recordTokenAccount(ctx context.Context, job *store.Job) {
	stored, err := o.store.SetTokenAccount(ctx, job.WalletID, job.TokenAccount)
	if err != nil {
		o.retryOrFail(job, fmt.Errorf("recording token account: %w", err))
		return
	}
	job.TokenAccount = stored
	job.WaitingSince = time.Time{}
	job.State = store.JobDropping
}

// drop sends the tokens. The signature is saved before broadcast so an
// interrupted drop is resolved by status lookup and never sent twice.
func (o *Orchestrator) drop(ctx context.Context, lease string, job *store.Job) error {
	if job.Signature != "" {
		o.resolveInterruptedDrop(ctx, job)
		return nil
	}

	dest, err := solana.PublicKeyFromBase58(job.TokenAccount)
	if err != nil {
		o.fail(job, fmt.Errorf("stored token account: %w", err))
		return nil
	}

	tx, err := o.tokens.BuildChestTransfer(ctx, dest, o.cfg.DropAmount)
	if err != nil {
		o.fail(job, err)
		return nil
	}

	job.Signature = tx.Signatures[0].String()
	job.UpdatedAt = o.now().UTC()
	if err := o.store.UpdateJob(ctx, lease, job); err != nil {
		return fmt.Errorf("saving drop signature for job %s: %w", job.ID, err)
	}

	res, err := o.submit.SubmitTransaction(ctx, tx)
	if err != nil {
		o.fail(job, err)
		return nil
	}
	job.Signature = res.Signature.String()
	job.State = store.JobDone
	job.LastError = ""
	return nil
}

func (o *Orchestrator) resolveInterruptedDrop(ctx context.Context, job *store.Job) {
	sig, err := solana.SignatureFromBase58(job.Signature)
	if err != nil {
		o.fail(job, fmt.Errorf("stored signature: %w", err))
		return
	}

	status, err := o.ledger.GetSignatureStatus(ctx, sig)
	if err == nil && status.Landed() {
		job.State = store.JobDone
		job.LastError = ""
		return
	}
	o.fail(job, fmt.Errorf("drop interrupted before confirmation (status %s); not retried", status))
}

func (o *Orchestrator) stepNative(ctx context.Context, job *store.Job) {
	owner, err := solana.PublicKeyFromBase58(job.Owner)
	if err != nil {
		o.fail(job, fmt.Errorf("%w: %v", ErrInvalidOwner, err))
		return
	}

	balance, err := o.ledger.GetBalance(ctx, owner)
	if err != nil {
		o.retryOrFail(job, err)
		return
	}
	if balance >= o.cfg.NativeThreshold {
		job.State = store.JobDone
		return
	}

	sig, err := o.ledger.RequestAirdrop(ctx, owner, o.cfg.NativeAmount)
	if err != nil {
		o.fail(job, err)
		return
	}
	job.Signature = sig.String()
	job.State = store.JobDone
}

func (o *Orchestrator) retryOrFail(job *store.Job, err error) {
	if job.Attempts >= o.cfg.MaxAttempts {
		o.fail(job, fmt.Errorf("giving up after %d attempts: %w", job.Attempts, err))
		return
	}
	o.logger.Warn("airdrop step failed, will retry", "job", job.ID, "attempt", job.Attempts, "error", err)
	job.LastError = err.Error()
	job.NextAttemptAt = o.now().UTC().Add(o.cfg.PollInterval)
}

func (o *Orchestrator) fail(job *store.Job, err error) {
	job.State = store.JobFailed
	job.LastError = err.Error()
}

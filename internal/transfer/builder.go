// ABOUTME: Builds durable-nonce token transfers for external signing
// ABOUTME: Every transaction leads with advance-nonce and is partially signed by the nonce authority

package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/token"

	"github.com/2389/wren-gateway/internal/ledger"
	"github.com/2389/wren-gateway/internal/metrics"
	"github.com/2389/wren-gateway/internal/nonce"
	"github.com/2389/wren-gateway/internal/retry"
	"github.com/2389/wren-gateway/internal/submit"
)

var (
	ErrInvalidAddress   = errors.New("invalid address")
	ErrNonceUnavailable = errors.New("nonce unavailable")
	ErrTokenAccount     = errors.New("token account unavailable")

	errNonceNotAdvanced = errors.New("nonce has not advanced")
)

// DefaultNonceWait bounds how long a build waits for a nonce consumed by
// token account creation to advance.
var DefaultNonceWait = retry.Policy{MaxAttempts: 40, Timeout: 5 * time.Second, Interval: 500 * time.Millisecond}

// NonceSource hands out one nonce handle per build.
type NonceSource interface {
	Fetch(ctx context.Context) (nonce.Handle, error)
}

// Submitter broadcasts server-signed transactions.
type Submitter interface {
	SubmitTransaction(ctx context.Context, tx *solana.Transaction) (submit.Result, error)
}

// Request asks for a transfer of Amount whole tokens from Sender to Recipient.
type Request struct {
	Sender         string
	Recipient      string
	Amount         float64
	OrganizationID string
}

// Unsigned is a built transaction awaiting the sender's signature.
type Unsigned struct {
	Transaction    string `json:"unsignedTransaction"`
	OrganizationID string `json:"organizationId"`
}

// Config carries the singleton accounts the builder works with.
type Config struct {
	Mint  solana.PublicKey
	Chest solana.PrivateKey
	// NonceWait polls for a fresh nonce after the builder itself consumed
	// one. Zero uses DefaultNonceWait.
	NonceWait retry.Policy
}

// Builder constructs transfer transactions.
type Builder struct {
	client  ledger.Client
	nonces  NonceSource
	submit  Submitter
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewBuilder creates a Builder. m may be nil.
func NewBuilder(client ledger.Client, nonces NonceSource, submitter Submitter, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Builder {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.NonceWait.MaxAttempts == 0 {
		cfg.NonceWait = DefaultNonceWait
	}
	return &Builder{
		client:  client,
		nonces:  nonces,
		submit:  submitter,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With("component", "transfer"),
	}
}

// Mint returns the token mint address.
func (b *Builder) Mint() solana.PublicKey {
	return b.cfg.Mint
}

// ChestTokenAccount returns the chest's associated token account.
func (b *Builder) ChestTokenAccount() (solana.PublicKey, error) {
	return b.TokenAccountAddress(b.cfg.Chest.PublicKey())
}

// BuildTransfer returns a base64 transaction moving req.Amount tokens. The
// sender pays the fee and must sign before submission; the builder never
// sees the sender's key.
func (b *Builder) BuildTransfer(ctx context.Context, req Request) (Unsigned, error) {
	sender, err := solana.PublicKeyFromBase58(req.Sender)
	if err != nil {
		return Unsigned{}, fmt.Errorf("%w: sender: %v", ErrInvalidAddress, err)
	}
	recipient, err := solana.PublicKeyFromBase58(req.Recipient)
	if err != nil {
		return Unsigned{}, fmt.Errorf("%w: recipient: %v", ErrInvalidAddress, err)
	}
	minor, err := ToMinor(req.Amount)
	if err != nil {
		return Unsigned{}, err
	}

	source, err := b.TokenAccountAddress(sender)
	if err != nil {
		return Unsigned{}, err
	}
	destination, consumed, err := b.ensureTokenAccount(ctx, recipient)
	if err != nil {
		return Unsigned{}, err
	}

	var h nonce.Handle
	if consumed != nil {
		h, err = b.awaitNonceAdvance(ctx, consumed.Value)
	} else {
		h, err = b.fetchNonce(ctx)
	}
	if err != nil {
		return Unsigned{}, err
	}

	ix := token.NewTransferInstruction(minor, source, destination, sender, nil).Build()
	tx, err := Assemble(h, sender, []solana.Instruction{ix})
	if err != nil {
		return Unsigned{}, err
	}

	encoded, err := ledger.EncodeTransaction(tx)
	if err != nil {
		return Unsigned{}, err
	}

	b.logger.Info("transfer built",
		"sender", sender,
		"recipient", recipient,
		"amount_minor", minor,
		"nonce", h.Value,
	)
	return Unsigned{Transaction: encoded, OrganizationID: req.OrganizationID}, nil
}

// BuildChestTransfer returns a fully signed transaction moving minor units
// from the chest to destination. The chest pays the fee.
func (b *Builder) BuildChestTransfer(ctx context.Context, destination solana.PublicKey, minor uint64) (*solana.Transaction, error) {
	chest := b.cfg.Chest.PublicKey()
	source, err := b.ChestTokenAccount()
	if err != nil {
		return nil, err
	}

	h, err := b.fetchNonce(ctx)
	if err != nil {
		return nil, err
	}

	ix := token.NewTransferInstruction(minor, source, destination, chest, nil).Build()
	return Assemble(h, chest, []solana.Instruction{ix}, b.cfg.Chest)
}

func (b *Builder) fetchNonce(ctx context.Context) (nonce.Handle, error) {
	h, err := b.nonces.Fetch(ctx)
	if err != nil {
		b.metrics.NonceUnavailable()
		return nonce.Handle{}, fmt.Errorf("%w: %v", ErrNonceUnavailable, err)
	}
	return h, nil
}

// awaitNonceAdvance polls until the nonce differs from spent. A handle
// carrying spent would be rejected once the transaction that used it lands.
func (b *Builder) awaitNonceAdvance(ctx context.Context, spent solana.Hash) (nonce.Handle, error) {
	h, err := retry.Try(ctx, b.cfg.NonceWait, func(ctx context.Context) (nonce.Handle, error) {
		h, err := b.nonces.Fetch(ctx)
		if err != nil {
			return nonce.Handle{}, err
		}
		if h.Value == spent {
			return nonce.Handle{}, errNonceNotAdvanced
		}
		return h, nil
	})
	if err != nil {
		b.metrics.NonceUnavailable()
		b.logger.Warn("nonce did not advance after token account creation", "nonce", spent, "error", err)
		return nonce.Handle{}, fmt.Errorf("%w: %v", ErrNonceUnavailable, err)
	}
	return h, nil
}

// Assemble builds a v0 transaction whose first instruction advances the
// nonce in h, using the nonce value as the recent blockhash. It signs with
// the nonce authority and any extra signers; other required signatures are
// left empty.
func Assemble(h nonce.Handle, payer solana.PublicKey, ixs []solana.Instruction, signers ...solana.PrivateKey) (*solana.Transaction, error) {
	all := make([]solana.Instruction, 0, len(ixs)+1)
	all = append(all, h.Advance)
	all = append(all, ixs...)

	tx, err := solana.NewTransaction(all, h.Value, solana.TransactionPayer(payer))
	if err != nil {
		return nil, fmt.Errorf("assemble transaction: %w", err)
	}
	tx.Message.SetVersion(solana.MessageVersionV0)

	keys := make([]solana.PrivateKey, 0, len(signers)+1)
	keys = append(keys, h.Authority)
	keys = append(keys, signers...)

	if _, err := tx.PartialSign(func(pub solana.PublicKey) *solana.PrivateKey {
		for i := range keys {
			if keys[i].PublicKey().Equals(pub) {
				return &keys[i]
			}
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("partial sign: %w", err)
	}
	return tx, nil
}

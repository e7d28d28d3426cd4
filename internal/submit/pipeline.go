// ABOUTME: Submission pipeline: decodes signed transactions and broadcasts them with bounded retries
// ABOUTME: Confirmation is best-effort; an unconfirmed send still returns its signature

package submit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/2389/wren-gateway/internal/ledger"
	"github.com/2389/wren-gateway/internal/metrics"
	"github.com/2389/wren-gateway/internal/retry"
)

var (
	// ErrMalformed means the payload is not a decodable, fully signed transaction.
	ErrMalformed = errors.New("malformed signed transaction")
	// ErrExhausted means every send attempt failed or timed out.
	ErrExhausted = errors.New("submission attempts exhausted")
	// ErrRejected means the ledger definitively failed the transaction.
	// The caller should rebuild with a fresh nonce.
	ErrRejected = errors.New("transaction rejected by ledger")
)

// Default policies.
var (
	DefaultSendPolicy    = retry.Policy{MaxAttempts: 2, Timeout: 5 * time.Second}
	DefaultConfirmPolicy = retry.Policy{MaxAttempts: 1, Timeout: 5 * time.Second}
)

// DefaultNetworkRetries is passed to the RPC node's own rebroadcast loop.
const DefaultNetworkRetries = 2

// Config tunes a Pipeline. Zero values fall back to the defaults.
type Config struct {
	Send           retry.Policy
	Confirm        retry.Policy
	NetworkRetries uint
}

// Result describes an accepted submission.
type Result struct {
	Signature solana.Signature
	Status    ledger.Status
}

// Pipeline broadcasts signed transactions to the ledger.
type Pipeline struct {
	client  ledger.Client
	cfg     Config
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates a pipeline. m may be nil.
func New(client ledger.Client, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	if cfg.Send.MaxAttempts == 0 && cfg.Send.Timeout == 0 {
		cfg.Send = DefaultSendPolicy
	}
	if cfg.Confirm.MaxAttempts == 0 && cfg.Confirm.Timeout == 0 {
		cfg.Confirm = DefaultConfirmPolicy
	}
	if cfg.NetworkRetries == 0 {
		cfg.NetworkRetries = DefaultNetworkRetries
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		client:  client,
		cfg:     cfg,
		metrics: m,
		logger:  logger.With("component", "submit"),
	}
}

// Submit decodes a base64 signed transaction and broadcasts it. It returns
// the transaction id once the ledger has accepted it for broadcast.
func (p *Pipeline) Submit(ctx context.Context, signed string) (string, error) {
	tx, raw, err := ledger.DecodeTransaction(signed)
	if err != nil {
		p.metrics.Submission("malformed")
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := checkSigned(tx); err != nil {
		p.metrics.Submission("malformed")
		return "", err
	}

	res, err := p.send(ctx, raw)
	if err != nil {
		return "", err
	}
	return res.Signature.String(), nil
}

// SubmitTransaction broadcasts a transaction the server signed itself.
func (p *Pipeline) SubmitTransaction(ctx context.Context, tx *solana.Transaction) (Result, error) {
	if err := checkSigned(tx); err != nil {
		p.metrics.Submission("malformed")
		return Result{}, err
	}
	raw, err := tx.MarshalBinary()
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return p.send(ctx, raw)
}

func checkSigned(tx *solana.Transaction) error {
	required := int(tx.Message.Header.NumRequiredSignatures)
	if required == 0 || len(tx.Signatures) < required {
		return fmt.Errorf("%w: %d of %d signatures present", ErrMalformed, len(tx.Signatures), required)
	}
	for i, sig := range tx.Signatures[:required] {
		if sig.IsZero() {
			return fmt.Errorf("%w: signature %d missing", ErrMalformed, i)
		}
	}
	return nil
}

func (p *Pipeline) send(ctx context.Context, raw []byte) (Result, error) {
	opts := ledger.SendOptions{MaxRetries: p.cfg.NetworkRetries}

	// The empty signature can never be returned by a successful send.
	sig := retry.Do(ctx, p.cfg.Send, solana.Signature{}, func(ctx context.Context) (solana.Signature, error) {
		s, err := p.client.SendRawTransaction(ctx, raw, opts)
		if err != nil {
			p.logger.Warn("send attempt failed", "error", err)
		}
		return s, err
	})
	if sig.IsZero() {
		p.metrics.Submission("exhausted")
		p.logger.Error("submission exhausted", "attempts", p.cfg.Send.MaxAttempts)
		return Result{}, ErrExhausted
	}

	status := p.confirm(ctx, sig)
	switch {
	case status == ledger.StatusFailed:
		p.metrics.Submission("rejected")
		p.logger.Error("transaction failed on ledger", "signature", sig)
		return Result{Signature: sig, Status: status}, ErrRejected
	case !status.Landed():
		p.metrics.Unconfirmed()
		p.logger.Warn("transaction accepted without confirmation", "signature", sig, "status", status)
	}

	p.metrics.Submission("accepted")
	p.logger.Info("transaction submitted", "signature", sig, "status", status)
	return Result{Signature: sig, Status: status}, nil
}

var errNotLanded = errors.New("not landed yet")

// confirm polls the signature status through the envelope. Any failure to
// learn the status reports StatusUnknown rather than an error.
func (p *Pipeline) confirm(ctx context.Context, sig solana.Signature) ledger.Status {
	status, err := retry.Try(ctx, p.cfg.Confirm, func(ctx context.Context) (ledger.Status, error) {
		st, err := p.client.GetSignatureStatus(ctx, sig)
		if err != nil {
			return ledger.StatusUnknown, err
		}
		switch {
		case st == ledger.StatusFailed:
			return st, retry.Permanent(ErrRejected)
		case !st.Landed():
			return st, errNotLanded
		}
		return st, nil
	})
	if errors.Is(err, ErrRejected) {
		return ledger.StatusFailed
	}
	if err != nil {
		return ledger.StatusUnknown
	}
	return status
}

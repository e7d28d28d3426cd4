// ABOUTME: Ledger network client interface and its Solana JSON-RPC implementation
// ABOUTME: Narrows the RPC surface to the handful of calls the gateway makes

package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = solana.LAMPORTS_PER_SOL

// ErrAccountNotFound is returned when an account does not exist on the ledger.
var ErrAccountNotFound = errors.New("account not found")

// Account is the subset of on-chain account state the gateway reads.
type Account struct {
	Owner    solana.PublicKey
	Lamports uint64
	Data     []byte
}

// TokenBalance is a token account balance in minor units plus its display form.
type TokenBalance struct {
	Amount   string
	Decimals uint8
	UIAmount string
}

// Status is the confirmation level of a submitted transaction.
type Status int

const (
	StatusUnknown Status = iota
	StatusProcessed
	StatusConfirmed
	StatusFinalized
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusProcessed:
		return "processed"
	case StatusConfirmed:
		return "confirmed"
	case StatusFinalized:
		return "finalized"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Landed reports whether the transaction reached at least confirmed.
func (s Status) Landed() bool {
	return s == StatusConfirmed || s == StatusFinalized
}

// SendOptions controls how a raw transaction is broadcast.
type SendOptions struct {
	// MaxRetries is passed through to the RPC node's own rebroadcast loop.
	MaxRetries    uint
	SkipPreflight bool
}

// Client is the ledger surface used by the gateway.
type Client interface {
	GetAccount(ctx context.Context, address solana.PublicKey) (Account, error)
	GetBalance(ctx context.Context, address solana.PublicKey) (uint64, error)
	GetTokenBalance(ctx context.Context, tokenAccount solana.PublicKey) (TokenBalance, error)
	SendRawTransaction(ctx context.Context, raw []byte, opts SendOptions) (solana.Signature, error)
	RequestAirdrop(ctx context.Context, address solana.PublicKey, lamports uint64) (solana.Signature, error)
	GetSignatureStatus(ctx context.Context, sig solana.Signature) (Status, error)
}

// RPCClient implements Client against a Solana JSON-RPC endpoint.
type RPCClient struct {
	rpc        *rpc.Client
	commitment rpc.CommitmentType
	logger     *slog.Logger
}

// NewRPCClient creates a client for endpoint using the given commitment.
// An empty commitment defaults to confirmed.
func NewRPCClient(endpoint string, commitment string, logger *slog.Logger) *RPCClient {
	if logger == nil {
		logger = slog.Default()
	}
	c := rpc.CommitmentType(commitment)
	if c == "" {
		c = rpc.CommitmentConfirmed
	}
	return &RPCClient{
		rpc:        rpc.New(endpoint),
		commitment: c,
		logger:     logger.With("component", "ledger"),
	}
}

// Health returns the node's self-reported health string.
func (c *RPCClient) Health(ctx context.Context) (string, error) {
	return c.rpc.GetHealth(ctx)
}

func (c *RPCClient) GetAccount(ctx context.Context, address solana.PublicKey) (Account, error) {
	out, err := c.rpc.GetAccountInfoWithOpts(ctx, address, &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: c.commitment,
	})
	if errors.Is(err, rpc.ErrNotFound) {
		return Account{}, ErrAccountNotFound
	}
	if err != nil {
		return Account{}, fmt.Errorf("get account %s: %w", address, err)
	}
	if out == nil || out.Value == nil {
		return Account{}, ErrAccountNotFound
	}

	acct := Account{
		Owner:    out.Value.Owner,
		Lamports: out.Value.Lamports,
	}
	if out.Value.Data != nil {
		acct.Data = out.Value.Data.GetBinary()
	}
	return acct, nil
}

func (c *RPCClient) GetBalance(ctx context.Context, address solana.PublicKey) (uint64, error) {
	out, err := c.rpc.GetBalance(ctx, address, c.commitment)
	if err != nil {
		return 0, fmt.Errorf("get balance %s: %w", address, err)
	}
	return out.Value, nil
}

func (c *RPCClient) GetTokenBalance(ctx context.Context, tokenAccount solana.PublicKey) (TokenBalance, error) {
	out, err := c.rpc.GetTokenAccountBalance(ctx, tokenAccount, c.commitment)
	if err != nil {
		// Nodes answer a missing token account with an invalid-params error.
		if errors.Is(err, rpc.ErrNotFound) || strings.Contains(err.Error(), "could not find account") {
			return TokenBalance{}, ErrAccountNotFound
		}
		return TokenBalance{}, fmt.Errorf("get token balance %s: %w", tokenAccount, err)
	}
	if out == nil || out.Value == nil {
		return TokenBalance{}, ErrAccountNotFound
	}
	return TokenBalance{
		Amount:   out.Value.Amount,
		Decimals: out.Value.Decimals,
		UIAmount: out.Value.UiAmountString,
	}, nil
}

func (c *RPCClient) SendRawTransaction(ctx context.Context, raw []byte, opts SendOptions) (solana.Signature, error) {
	maxRetries := opts.MaxRetries
	sig, err := c.rpc.SendRawTransactionWithOpts(ctx, raw, rpc.TransactionOpts{
		SkipPreflight:       opts.SkipPreflight,
		PreflightCommitment: c.commitment,
		MaxRetries:          &maxRetries,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("send transaction: %w", err)
	}
	return sig, nil
}

func (c *RPCClient) RequestAirdrop(ctx context.Context, address solana.PublicKey, lamports uint64) (solana.Signature, error) {
	sig, err := c.rpc.RequestAirdrop(ctx, address, lamports, c.commitment)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("request airdrop to %s: %w", address, err)
	}
	c.logger.Info("airdrop requested", "address", address, "lamports", lamports, "signature", sig)
	return sig, nil
}

func (c *RPCClient) GetSignatureStatus(ctx context.Context, sig solana.Signature) (Status, error) {
	out, err := c.rpc.GetSignatureStatuses(ctx, false, sig)
	if err != nil {
		return StatusUnknown, fmt.Errorf("get signature status: %w", err)
	}
	if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
		return StatusUnknown, nil
	}

	st := out.Value[0]
	if st.Err != nil {
		return StatusFailed, nil
	}
	switch st.ConfirmationStatus {
	case rpc.ConfirmationStatusProcessed:
		return StatusProcessed, nil
	case rpc.ConfirmationStatusConfirmed:
		return StatusConfirmed, nil
	case rpc.ConfirmationStatusFinalized:
		return StatusFinalized, nil
	default:
		return StatusUnknown, nil
	}
}

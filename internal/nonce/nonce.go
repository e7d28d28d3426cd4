// ABOUTME: Durable nonce coordinator: reads the shared nonce account for each build
// ABOUTME: Produces the advance-nonce instruction that must lead every durable transaction

package nonce

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"

	"github.com/2389/wren-gateway/internal/ledger"
)

// ErrUnavailable is returned when the nonce account cannot be read or decoded.
// It is fatal for the request that asked for it.
var ErrUnavailable = errors.New("durable nonce unavailable")

// AccountSize is the byte length of a System Program nonce account.
const AccountSize = 80

// Nonce account states.
const (
	StateUninitialized uint32 = 0
	StateInitialized   uint32 = 1
)

// State is the decoded content of a nonce account.
type State struct {
	Version              uint32
	State                uint32
	Authority            solana.PublicKey
	Nonce                solana.Hash
	LamportsPerSignature uint64
}

// DecodeState parses raw nonce account data.
func DecodeState(data []byte) (State, error) {
	if len(data) < AccountSize {
		return State{}, fmt.Errorf("nonce account data is %d bytes, want %d", len(data), AccountSize)
	}
	var st State
	if err := bin.NewBinDecoder(data).Decode(&st); err != nil {
		return State{}, fmt.Errorf("decode nonce account: %w", err)
	}
	return st, nil
}

// Encode serialises the state in the on-chain layout.
func (s State) Encode() ([]byte, error) {
	return bin.MarshalBin(&s)
}

// Handle is everything a builder needs to make one durable transaction.
// Handles are fetched per build and never cached.
type Handle struct {
	// Value stands in for the recent blockhash.
	Value solana.Hash
	// Advance must be the first instruction of the transaction.
	Advance solana.Instruction
	// Authority signs for the advance instruction.
	Authority solana.PrivateKey
}

// Coordinator hands out nonce handles for a single configured nonce account.
type Coordinator struct {
	client    ledger.Client
	account   solana.PublicKey
	authority solana.PrivateKey
	logger    *slog.Logger
}

// NewCoordinator creates a coordinator for account, advanced by authority.
func NewCoordinator(client ledger.Client, account solana.PublicKey, authority solana.PrivateKey, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		client:    client,
		account:   account,
		authority: authority,
		logger:    logger.With("component", "nonce"),
	}
}

// Account returns the nonce account address.
func (c *Coordinator) Account() solana.PublicKey {
	return c.account
}

// Fetch reads the current nonce value. It does not modify ledger state and
// takes no lock: two concurrent builds may receive the same value, and the
// ledger accepts only the first to land.
func (c *Coordinator) Fetch(ctx context.Context) (Handle, error) {
	acct, err := c.client.GetAccount(ctx, c.account)
	if err != nil {
		c.logger.Error("reading nonce account", "account", c.account, "error", err)
		return Handle{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	st, err := DecodeState(acct.Data)
	if err != nil {
		c.logger.Error("decoding nonce account", "account", c.account, "error", err)
		return Handle{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if st.State != StateInitialized {
		return Handle{}, fmt.Errorf("%w: account not initialized", ErrUnavailable)
	}
	if !st.Authority.Equals(c.authority.PublicKey()) {
		return Handle{}, fmt.Errorf("%w: authority mismatch", ErrUnavailable)
	}

	return Handle{
		Value:     st.Nonce,
		Advance:   AdvanceInstruction(c.account, c.authority.PublicKey()),
		Authority: c.authority,
	}, nil
}

// AdvanceInstruction builds the System Program AdvanceNonceAccount instruction.
func AdvanceInstruction(account, authority solana.PublicKey) solana.Instruction {
	return system.NewAdvanceNonceAccountInstruction(
		account,
		solana.SysVarRecentBlockHashesPubkey,
		authority,
	).Build()
}

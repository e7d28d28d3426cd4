// ABOUTME: Associated token account resolution with check-then-create semantics
// ABOUTME: Creation is paid by the chest and submitted through the pipeline

package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"

	"github.com/2389/wren-gateway/internal/ledger"
	"github.com/2389/wren-gateway/internal/nonce"
)

// TokenAccountAddress derives the associated token account of owner for the mint.
func (b *Builder) TokenAccountAddress(owner solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(owner, b.cfg.Mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: derive: %v", ErrTokenAccount, err)
	}
	return ata, nil
}

// TokenAccountExists reports whether ata is present on the ledger.
func (b *Builder) TokenAccountExists(ctx context.Context, ata solana.PublicKey) (bool, error) {
	_, err := b.client.GetAccount(ctx, ata)
	if errors.Is(err, ledger.ErrAccountNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrTokenAccount, err)
	}
	return true, nil
}

// EnsureTokenAccount returns the associated token account of owner, creating
// it when absent. created reports whether this call submitted the creation;
// the account may not be visible on the ledger yet when it returns.
//
// Two callers may race to create the same account. The loser's submission
// fails on the ledger, after which the account is found and returned.
func (b *Builder) EnsureTokenAccount(ctx context.Context, owner solana.PublicKey) (ata solana.PublicKey, created bool, err error) {
	ata, consumed, err := b.ensureTokenAccount(ctx, owner)
	return ata, consumed != nil, err
}

// ensureTokenAccount is EnsureTokenAccount returning the nonce handle spent
// on creation, or nil when nothing was submitted.
func (b *Builder) ensureTokenAccount(ctx context.Context, owner solana.PublicKey) (solana.PublicKey, *nonce.Handle, error) {
	ata, err := b.TokenAccountAddress(owner)
	if err != nil {
		return solana.PublicKey{}, nil, err
	}

	exists, err := b.TokenAccountExists(ctx, ata)
	if err != nil {
		return solana.PublicKey{}, nil, err
	}
	if exists {
		return ata, nil, nil
	}

	h, err := b.fetchNonce(ctx)
	if err != nil {
		return solana.PublicKey{}, nil, err
	}

	chest := b.cfg.Chest.PublicKey()
	ix := associatedtokenaccount.NewCreateInstruction(chest, owner, b.cfg.Mint).Build()
	tx, err := Assemble(h, chest, []solana.Instruction{ix}, b.cfg.Chest)
	if err != nil {
		return solana.PublicKey{}, nil, err
	}

	if _, subErr := b.submit.SubmitTransaction(ctx, tx); subErr != nil {
		if ok, _ := b.TokenAccountExists(ctx, ata); ok {
			return ata, nil, nil
		}
		b.logger.Error("creating token account", "owner", owner, "ata", ata, "error", subErr)
		return solana.PublicKey{}, nil, fmt.Errorf("%w: create: %v", ErrTokenAccount, subErr)
	}

	b.logger.Info("token account created", "owner", owner, "ata", ata)
	return ata, &h, nil
}

// ABOUTME: The singleton on-chain accounts the gateway operates: chest, mint and durable nonce
// ABOUTME: Resolved once at startup and passed read-only to the components that need them

package keys

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Accounts holds the chest keypair (token source and fee payer for gateway
// transactions), the token mint, and the durable nonce account with its
// authority.
type Accounts struct {
	Chest          solana.PrivateKey
	Mint           solana.PublicKey
	NonceAccount   solana.PublicKey
	NonceAuthority solana.PrivateKey
}

// AccountsConfig is the textual form of Accounts. Private keys may be given
// inline or as a path to a key file.
type AccountsConfig struct {
	Chest              string
	ChestFile          string
	Mint               string
	NonceAccount       string
	NonceAuthority     string
	NonceAuthorityFile string
}

// LoadAccounts resolves every account in cfg.
func LoadAccounts(cfg AccountsConfig) (Accounts, error) {
	var (
		a   Accounts
		err error
	)
	if a.Chest, err = inlineOrFile(cfg.Chest, cfg.ChestFile); err != nil {
		return Accounts{}, fmt.Errorf("chest: %w", err)
	}
	if a.Mint, err = ParsePublicKey(cfg.Mint); err != nil {
		return Accounts{}, fmt.Errorf("mint: %w", err)
	}
	if a.NonceAccount, err = ParsePublicKey(cfg.NonceAccount); err != nil {
		return Accounts{}, fmt.Errorf("nonce account: %w", err)
	}
	if cfg.NonceAuthority == "" && cfg.NonceAuthorityFile == "" {
		// The chest is the nonce authority unless told otherwise.
		a.NonceAuthority = a.Chest
		return a, nil
	}
	if a.NonceAuthority, err = inlineOrFile(cfg.NonceAuthority, cfg.NonceAuthorityFile); err != nil {
		return Accounts{}, fmt.Errorf("nonce authority: %w", err)
	}
	return a, nil
}

func inlineOrFile(inline, path string) (solana.PrivateKey, error) {
	if inline != "" {
		return ParsePrivateKey(inline)
	}
	if path != "" {
		return LoadPrivateKey(path)
	}
	return nil, fmt.Errorf("%w: not configured", ErrInvalidKey)
}

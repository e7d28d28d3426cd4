// ABOUTME: Loading and generating the ed25519 keypairs the gateway signs with
// ABOUTME: Keys are base58 strings, JSON byte arrays or BIP-39 mnemonics

package keys

import (
	"bytes"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58/base58"
	"github.com/tyler-smith/go-bip39"
)

var (
	ErrInvalidKey      = errors.New("invalid key")
	ErrInvalidMnemonic = errors.New("invalid mnemonic")
)

// ParsePrivateKey accepts a base58 encoded 64-byte keypair or the JSON byte
// array written by the Solana CLI.
func ParsePrivateKey(s string) (solana.PrivateKey, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidKey)
	}

	var raw []byte
	if strings.HasPrefix(s, "[") {
		var ints []int
		if err := json.Unmarshal([]byte(s), &ints); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
		raw = make([]byte, len(ints))
		for i, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("%w: byte %d out of range", ErrInvalidKey, i)
			}
			raw[i] = byte(v)
		}
	} else {
		var err error
		raw, err = base58.Decode(s)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
		}
	}

	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, ed25519.PrivateKeySize, len(raw))
	}
	// The trailing half must be the public key of the leading seed. Compare
	// bytes: solana.PrivateKey.PublicKey panics on an off-curve half.
	derived := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	if !bytes.Equal(raw[ed25519.SeedSize:], derived[ed25519.SeedSize:]) {
		return nil, fmt.Errorf("%w: public half does not match seed", ErrInvalidKey)
	}
	return solana.PrivateKey(raw), nil
}

// LoadPrivateKey reads a key from a file in any format ParsePrivateKey accepts.
func LoadPrivateKey(path string) (solana.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading key file: %w", err)
	}
	return ParsePrivateKey(string(data))
}

// ParsePublicKey decodes a base58 address.
func ParsePublicKey(s string) (solana.PublicKey, error) {
	raw, err := base58.Decode(strings.TrimSpace(s))
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != solana.PublicKeyLength {
		return solana.PublicKey{}, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidKey, solana.PublicKeyLength, len(raw))
	}
	return solana.PublicKeyFromBytes(raw), nil
}

// FromMnemonic derives a keypair the way solana-keygen does without a
// derivation path: the first 32 bytes of the BIP-39 seed.
func FromMnemonic(mnemonic, passphrase string) (solana.PrivateKey, error) {
	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, ErrInvalidMnemonic
	}
	seed := bip39.NewSeed(mnemonic, passphrase)
	return solana.PrivateKey(ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize])), nil
}

// Generated is a fresh keypair and the mnemonic it came from.
type Generated struct {
	Mnemonic   string
	PrivateKey solana.PrivateKey
}

// Generate creates a 24-word mnemonic and its keypair.
func Generate() (Generated, error) {
	entropy, err := bip39.NewEntropy(256)
	if err != nil {
		return Generated{}, err
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return Generated{}, err
	}
	key, err := FromMnemonic(mnemonic, "")
	if err != nil {
		return Generated{}, err
	}
	return Generated{Mnemonic: mnemonic, PrivateKey: key}, nil
}

// EncodePrivateKey returns the base58 form accepted by ParsePrivateKey.
func EncodePrivateKey(k solana.PrivateKey) string {
	return base58.Encode(k)
}

// WriteKeyFile saves k as a Solana CLI JSON byte array, readable by
// LoadPrivateKey. Existing files are not overwritten.
func WriteKeyFile(path string, k solana.PrivateKey) error {
	ints := make([]int, len(k))
	for i, b := range k {
		ints[i] = int(b)
	}
	data, err := json.Marshal(ints)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return fmt.Errorf("creating key file: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("writing key file: %w", err)
	}
	return f.Close()
}

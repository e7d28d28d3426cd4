// ABOUTME: Base64 wire encoding for versioned Solana transactions
// ABOUTME: Shared by the builder (outbound) and the submission pipeline (inbound)

package ledger

import (
	"encoding/base64"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// ErrMalformedTransaction is returned when a payload is not a decodable transaction.
var ErrMalformedTransaction = errors.New("malformed transaction")

// EncodeTransaction serialises tx to its wire form and base64-encodes it.
func EncodeTransaction(tx *solana.Transaction) (string, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return "", fmt.Errorf("marshal transaction: %w", err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// DecodeTransaction parses a base64 wire-format transaction.
func DecodeTransaction(encoded string) (*solana.Transaction, []byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: base64: %v", ErrMalformedTransaction, err)
	}
	if len(raw) == 0 {
		return nil, nil, fmt.Errorf("%w: empty payload", ErrMalformedTransaction)
	}

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", ErrMalformedTransaction, err)
	}
	return tx, raw, nil
}

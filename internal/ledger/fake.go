// ABOUTME: In-memory ledger Client used by tests across packages
// ABOUTME: Records every call so tests can assert that no ledger I/O happened

package ledger

import (
	"context"
	"sync"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// Fake is a thread-safe in-memory Client. Unless a hook is set, sends succeed
// and return the transaction's first signature, and statuses are unknown.
// A default send that leads with advance-nonce moves the stored nonce value
// the way the ledger would once the transaction lands.
type Fake struct {
	mu sync.Mutex

	accounts      map[solana.PublicKey]Account
	balances      map[solana.PublicKey]uint64
	tokenBalances map[solana.PublicKey]TokenBalance
	statuses      map[solana.Signature]Status
	sent          [][]byte
	airdrops      map[solana.PublicKey]uint64
	calls         map[string]int

	// SendHook, when set, replaces the default send behaviour.
	SendHook func(raw []byte) (solana.Signature, error)
	// StatusHook, when set, replaces the status table.
	StatusHook func(sig solana.Signature) (Status, error)
}

// NewFake creates an empty fake ledger.
func NewFake() *Fake {
	return &Fake{
		accounts:      make(map[solana.PublicKey]Account),
		balances:      make(map[solana.PublicKey]uint64),
		tokenBalances: make(map[solana.PublicKey]TokenBalance),
		statuses:      make(map[solana.Signature]Status),
		airdrops:      make(map[solana.PublicKey]uint64),
		calls:         make(map[string]int),
	}
}

// SetAccount installs account state at address.
func (f *Fake) SetAccount(address solana.PublicKey, acct Account) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accounts[address] = acct
}

// RemoveAccount deletes account state at address.
func (f *Fake) RemoveAccount(address solana.PublicKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.accounts, address)
}

// SetBalance sets the lamport balance reported for address.
func (f *Fake) SetBalance(address solana.PublicKey, lamports uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balances[address] = lamports
}

// SetTokenBalance sets the token balance reported for a token account.
func (f *Fake) SetTokenBalance(tokenAccount solana.PublicKey, bal TokenBalance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokenBalances[tokenAccount] = bal
}

// SetStatus sets the confirmation status reported for sig.
func (f *Fake) SetStatus(sig solana.Signature, st Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[sig] = st
}

// Calls returns the total number of Client calls made.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

// CallsTo returns how many times the named method was called.
func (f *Fake) CallsTo(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

// Sent returns copies of every raw transaction passed to SendRawTransaction.
func (f *Fake) Sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]byte, len(f.sent))
	for i, raw := range f.sent {
		out[i] = append([]byte(nil), raw...)
	}
	return out
}

// Airdropped returns the total lamports requested for address.
func (f *Fake) Airdropped(address solana.PublicKey) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.airdrops[address]
}

func (f *Fake) record(method string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[method]++
}

func (f *Fake) GetAccount(_ context.Context, address solana.PublicKey) (Account, error) {
	f.record("GetAccount")
	f.mu.Lock()
	defer f.mu.Unlock()

	acct, ok := f.accounts[address]
	if !ok {
		return Account{}, ErrAccountNotFound
	}
	acct.Data = append([]byte(nil), acct.Data...)
	return acct, nil
}

func (f *Fake) GetBalance(_ context.Context, address solana.PublicKey) (uint64, error) {
	f.record("GetBalance")
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balances[address], nil
}

func (f *Fake) GetTokenBalance(_ context.Context, tokenAccount solana.PublicKey) (TokenBalance, error) {
	f.record("GetTokenBalance")
	f.mu.Lock()
	defer f.mu.Unlock()

	bal, ok := f.tokenBalances[tokenAccount]
	if !ok {
		return TokenBalance{}, ErrAccountNotFound
	}
	return bal, nil
}

func (f *Fake) SendRawTransaction(_ context.Context, raw []byte, _ SendOptions) (solana.Signature, error) {
	f.record("SendRawTransaction")

	f.mu.Lock()
	f.sent = append(f.sent, append([]byte(nil), raw...))
	hook := f.SendHook
	f.mu.Unlock()

	if hook != nil {
		return hook(raw)
	}

	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return solana.Signature{}, err
	}
	if len(tx.Signatures) == 0 {
		return solana.Signature{}, ErrMalformedTransaction
	}
	f.advanceNonce(tx)
	return tx.Signatures[0], nil
}

// Offset and length of the nonce value inside a nonce account.
const (
	nonceValueOffset = 40
	nonceValueEnd    = 72
)

// advanceNonce replaces the value of the nonce account named by a leading
// AdvanceNonceAccount instruction with bytes of the transaction's signature.
func (f *Fake) advanceNonce(tx *solana.Transaction) {
	msg := tx.Message
	if len(msg.Instructions) == 0 {
		return
	}
	ix := msg.Instructions[0]
	if int(ix.ProgramIDIndex) >= len(msg.AccountKeys) || len(ix.Accounts) == 0 {
		return
	}
	if msg.AccountKeys[ix.ProgramIDIndex] != solana.SystemProgramID {
		return
	}
	if len(ix.Data) < 4 || ix.Data[0] != 4 || ix.Data[1] != 0 || ix.Data[2] != 0 || ix.Data[3] != 0 {
		return
	}
	if int(ix.Accounts[0]) >= len(msg.AccountKeys) {
		return
	}
	account := msg.AccountKeys[ix.Accounts[0]]

	f.mu.Lock()
	defer f.mu.Unlock()
	acct, ok := f.accounts[account]
	if !ok || len(acct.Data) < nonceValueEnd {
		return
	}
	data := append([]byte(nil), acct.Data...)
	copy(data[nonceValueOffset:nonceValueEnd], tx.Signatures[0][:])
	acct.Data = data
	f.accounts[account] = acct
}

func (f *Fake) RequestAirdrop(_ context.Context, address solana.PublicKey, lamports uint64) (solana.Signature, error) {
	f.record("RequestAirdrop")
	f.mu.Lock()
	defer f.mu.Unlock()

	f.airdrops[address] += lamports
	f.balances[address] += lamports

	var sig solana.Signature
	copy(sig[:], address[:])
	sig[63] = byte(len(f.airdrops))
	return sig, nil
}

func (f *Fake) GetSignatureStatus(_ context.Context, sig solana.Signature) (Status, error) {
	f.record("GetSignatureStatus")

	f.mu.Lock()
	hook := f.StatusHook
	st := f.statuses[sig]
	f.mu.Unlock()

	if hook != nil {
		return hook(sig)
	}
	return st, nil
}

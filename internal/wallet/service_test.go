// ABOUTME: Tests for the session-gated wallet service over fake ledger, provider and mock store
// ABOUTME: Covers the register-to-build flow and the unauthenticated gate

package wallet

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/wren-gateway/internal/airdrop"
	"github.com/2389/wren-gateway/internal/identity"
	"github.com/2389/wren-gateway/internal/ledger"
	"github.com/2389/wren-gateway/internal/nonce"
	"github.com/2389/wren-gateway/internal/retry"
	"github.com/2389/wren-gateway/internal/session"
	"github.com/2389/wren-gateway/internal/store"
	"github.com/2389/wren-gateway/internal/submit"
	"github.com/2389/wren-gateway/internal/transfer"
)

type fixture struct {
	svc      *Service
	ledger   *ledger.Fake
	provider *identity.Fake
	store    *store.MockStore
	sessions *session.Store
	builder  *transfer.Builder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ledger:   ledger.NewFake(),
		provider: identity.NewFake(),
		store:    store.NewMockStore(),
	}
	backend := session.NewMemoryBackend(0)
	t.Cleanup(backend.Close)
	f.sessions = session.NewStore(backend)

	authority := solana.NewWallet().PrivateKey
	nonceAcct := solana.NewWallet().PublicKey()
	data, err := nonce.State{State: nonce.StateInitialized, Authority: authority.PublicKey(), Nonce: solana.Hash{7}}.Encode()
	require.NoError(t, err)
	f.ledger.SetAccount(nonceAcct, ledger.Account{Owner: solana.SystemProgramID, Data: data})

	pipe := submit.New(f.ledger, submit.Config{
		Send:    retry.Policy{MaxAttempts: 2, Timeout: time.Second},
		Confirm: retry.Policy{MaxAttempts: 1, Timeout: time.Second},
	}, nil, nil)
	f.builder = transfer.NewBuilder(
		f.ledger,
		nonce.NewCoordinator(f.ledger, nonceAcct, authority, nil),
		pipe,
		transfer.Config{Mint: solana.NewWallet().PublicKey(), Chest: solana.NewWallet().PrivateKey},
		nil, nil,
	)

	f.svc = NewService(Deps{
		Store:          f.store,
		Sessions:       f.sessions,
		Provider:       f.provider,
		Ledger:         f.ledger,
		Transfers:      f.builder,
		Submitter:      pipe,
		Airdrops:       airdrop.New(f.store, f.ledger, f.builder, pipe, airdrop.Config{}),
		FundOnRegister: true,
	})
	return f
}

func (f *fixture) register(t *testing.T, email string) Session {
	t.Helper()
	s, err := f.svc.Register(context.Background(), RegisterRequest{Email: email, Challenge: "c"})
	require.NoError(t, err)
	require.NotEmpty(t, s.ID)
	return s
}

// flakyStore fails the first registration write.
type flakyStore struct {
	*store.MockStore
	failed bool
}

func (s *flakyStore) CreateIdentityWithWallet(ctx context.Context, ident *store.Identity, w *store.Wallet) error {
	if !s.failed {
		s.failed = true
		return errors.New("disk I/O error")
	}
	return s.MockStore.CreateIdentityWithWallet(ctx, ident, w)
}

func TestRegister_FailedWriteCanBeRetried(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	flaky := &flakyStore{MockStore: f.store}
	f.svc.Store = flaky

	_, err := f.svc.Register(ctx, RegisterRequest{Email: "a@example.com", Challenge: "c"})
	require.Error(t, err)
	assert.Equal(t, KindInternal, Kind(err))

	_, err = f.store.GetIdentityByEmail(ctx, "a@example.com")
	assert.ErrorIs(t, err, store.ErrNotFound, "no half-registered identity left behind")

	s := f.register(t, "a@example.com")
	require.NotNil(t, s.Payload.Wallet)
	_, err = f.svc.Wallet(ctx, s.ID)
	assert.NoError(t, err)
}

func TestRegister_StampsCreatedAt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	before := time.Now()

	s := f.register(t, "a@example.com")
	require.NotNil(t, s.Payload.Wallet)

	ident, err := f.store.GetIdentityByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	assert.False(t, ident.CreatedAt.Before(before))

	w, err := f.store.GetWallet(ctx, s.Payload.Wallet.ID)
	require.NoError(t, err)
	assert.False(t, w.CreatedAt.Before(before))
	assert.Equal(t, ident.CreatedAt, w.CreatedAt)
}

func TestRegisterThenBuildTransfer(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := f.register(t, "a@example.com")
	require.NotNil(t, s.Payload.Wallet)
	sender := solana.MustPublicKeyFromBase58(s.Payload.Wallet.SolanaAddress)
	recipient := solana.NewWallet().PublicKey()

	unsigned, err := f.svc.BuildTransfer(ctx, s.ID, recipient.String(), 0.02)
	require.NoError(t, err)
	assert.Equal(t, s.Payload.Identity.OrganizationID, unsigned.OrganizationID)

	tx, _, err := ledger.DecodeTransaction(unsigned.Transaction)
	require.NoError(t, err)
	assert.Equal(t, sender, tx.Message.AccountKeys[0], "sender pays the fee")
	assert.Len(t, tx.Message.Instructions, 2)
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	s := f.register(t, " A@Example.com ")
	assert.Equal(t, "a@example.com", s.Payload.Identity.Email)

	ident, err := f.store.GetIdentityByEmail(ctx, "a@example.com")
	require.NoError(t, err)
	w, err := f.store.FindWalletByIdentity(ctx, ident.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Payload.Wallet.SolanaAddress, w.SolanaAddress)

	got, ok := f.sessions.Get(ctx, s.ID)
	require.True(t, ok)
	assert.Equal(t, ident.ID, got.Identity.ID)

	orgID, registered, err := f.svc.RegistrationStatus(ctx, "a@example.com")
	require.NoError(t, err)
	assert.True(t, registered)
	assert.Equal(t, ident.OrganizationID, orgID)

	_, err = f.svc.Register(ctx, RegisterRequest{Email: "a@example.com", Challenge: "c"})
	assert.ErrorIs(t, err, ErrAlreadyRegistered)
	assert.Equal(t, 1, f.provider.Organizations(), "duplicate never reaches the provider")

	_, err = f.svc.Register(ctx, RegisterRequest{Email: "not an email"})
	assert.Equal(t, KindInput, Kind(err))
}

func TestRegister_ProviderDown(t *testing.T) {
	f := newFixture(t)
	f.provider.Err = identity.ErrUnavailable

	_, err := f.svc.Register(context.Background(), RegisterRequest{Email: "a@example.com", Challenge: "c"})
	assert.Equal(t, KindUnavailable, Kind(err))

	_, registered, err := f.svc.RegistrationStatus(context.Background(), "a@example.com")
	require.NoError(t, err)
	assert.False(t, registered)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	reg := f.register(t, "a@example.com")

	req := identity.SignedRequest{Body: `{"organizationId":"` + reg.Payload.Identity.OrganizationID + `"}`}
	s, err := f.svc.Login(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, reg.ID, s.ID)
	assert.Equal(t, reg.Payload.Wallet.ID, s.Payload.Wallet.ID)

	_, err = f.svc.Login(ctx, identity.SignedRequest{Body: `{"organizationId":"someone-else"}`})
	assert.ErrorIs(t, err, ErrUnauthenticated)

	require.NoError(t, f.svc.Logout(ctx, s.ID))
	_, err = f.svc.Wallet(ctx, s.ID)
	assert.ErrorIs(t, err, ErrUnauthenticated)
}

func TestUnauthenticated_NoLedgerCalls(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	recipient := solana.NewWallet().PublicKey().String()

	for _, id := range []string{"", "made-up-session"} {
		_, err := f.svc.Wallet(ctx, id)
		assert.ErrorIs(t, err, ErrUnauthenticated)
		_, err = f.svc.BuildTransfer(ctx, id, recipient, 1)
		assert.ErrorIs(t, err, ErrUnauthenticated)
		_, err = f.svc.SubmitTransfer(ctx, id, "AAAA")
		assert.ErrorIs(t, err, ErrUnauthenticated)
		_, err = f.svc.RequestDrop(ctx, id)
		assert.ErrorIs(t, err, ErrUnauthenticated)
		_, err = f.svc.DropStatus(ctx, id, "job")
		assert.ErrorIs(t, err, ErrUnauthenticated)
	}

	assert.Zero(t, f.ledger.Calls())
	assert.Equal(t, KindAuth, Kind(ErrUnauthenticated))
}

func TestWallet_Balances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.register(t, "a@example.com")
	owner := solana.MustPublicKeyFromBase58(s.Payload.Wallet.SolanaAddress)

	f.ledger.SetBalance(owner, ledger.LamportsPerSOL*3/2)
	view, err := f.svc.Wallet(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "1.5", view.SOL)
	assert.Equal(t, "0", view.Wren)
	assert.Empty(t, view.Wallet.TokenAccount)

	// Someone sent tokens, creating the token account.
	ata, err := f.builder.TokenAccountAddress(owner)
	require.NoError(t, err)
	f.ledger.SetTokenBalance(ata, ledger.TokenBalance{Amount: "123", Decimals: 2, UIAmount: "1.23"})

	view, err = f.svc.Wallet(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, "1.23", view.Wren)
	assert.Equal(t, ata.String(), view.Wallet.TokenAccount)

	w, err := f.store.GetWallet(ctx, s.Payload.Wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, ata.String(), w.TokenAccount, "token account recorded once seen")

	got, ok := f.sessions.Get(ctx, s.ID)
	require.True(t, ok)
	assert.Equal(t, ata.String(), got.Wallet.TokenAccount)
	assert.Equal(t, s.Payload.Identity.ID, got.Identity.ID, "merge keeps the identity")
}

func TestBuildTransfer_InvalidInput(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "a@example.com")

	tests := []struct {
		name      string
		recipient string
		amount    float64
		want      error
	}{
		{"missing recipient", "", 1, ErrInvalidInput},
		{"negative amount", solana.NewWallet().PublicKey().String(), -0.01, transfer.ErrInvalidAmount},
		{"bad address", "not-base58!", 1, transfer.ErrInvalidAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.BuildTransfer(context.Background(), s.ID, tt.recipient, tt.amount)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, KindInput, Kind(err))
		})
	}
}

func TestBuildTransfer_ZeroAmount(t *testing.T) {
	f := newFixture(t)
	s := f.register(t, "a@example.com")
	recipient := solana.NewWallet().PublicKey()
	f.ledger.SetAccount(mustTokenAccount(t, f.builder, recipient), ledger.Account{Owner: solana.TokenProgramID})

	unsigned, err := f.svc.BuildTransfer(context.Background(), s.ID, recipient.String(), 0)
	require.NoError(t, err)

	tx, _, err := ledger.DecodeTransaction(unsigned.Transaction)
	require.NoError(t, err)
	require.Len(t, tx.Message.Instructions, 2)
	assert.Equal(t, []byte{3, 0, 0, 0, 0, 0, 0, 0, 0}, []byte(tx.Message.Instructions[1].Data), "transfer of zero minor units")
}

func mustTokenAccount(t *testing.T, b *transfer.Builder, owner solana.PublicKey) solana.PublicKey {
	t.Helper()
	ata, err := b.TokenAccountAddress(owner)
	require.NoError(t, err)
	return ata
}

func TestDrops(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.register(t, "a@example.com")
	b := f.register(t, "b@example.com")

	job, err := f.svc.RequestDrop(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobDropTokens, job.Kind)

	got, err := f.svc.DropStatus(ctx, a.ID, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)

	_, err = f.svc.DropStatus(ctx, b.ID, job.ID)
	assert.ErrorIs(t, err, ErrDropNotFound, "other wallets' drops are invisible")
	_, err = f.svc.DropStatus(ctx, a.ID, "missing")
	assert.ErrorIs(t, err, ErrDropNotFound)
}

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want ErrorKind
	}{
		{nil, ""},
		{ErrUnauthenticated, KindAuth},
		{transfer.ErrInvalidAmount, KindInput},
		{submit.ErrMalformed, KindInput},
		{transfer.ErrNonceUnavailable, KindUnavailable},
		{ErrWalletMissing, KindUnavailable},
		{submit.ErrExhausted, KindTransient},
		{submit.ErrRejected, KindTransient},
		{errors.New("boom"), KindInternal},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Kind(tt.err), "%v", tt.err)
	}
}

func TestMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("%w: sender: invalid base58 digit", transfer.ErrInvalidAddress), "invalid address"},
		{fmt.Errorf("%w: recipient is required", ErrInvalidInput), "invalid input"},
		{fmt.Errorf("%w: rpc error -32002", submit.ErrExhausted), "ledger did not accept the transaction"},
		{fmt.Errorf("%w: timeout", transfer.ErrNonceUnavailable), "resource unavailable"},
		{errors.New("disk I/O error"), "internal error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Message(tt.err), "%v", tt.err)
	}
}

func TestFormatLamports(t *testing.T) {
	assert.Equal(t, "0", formatLamports(0))
	assert.Equal(t, "1", formatLamports(ledger.LamportsPerSOL))
	assert.Equal(t, "0.000000001", formatLamports(1))
}

// ABOUTME: Session-gated wallet operations: registration, login, balances, transfers and drops
// ABOUTME: Every wallet-scoped call resolves the session first and touches nothing else on failure

package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/mail"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"

	"github.com/2389/wren-gateway/internal/identity"
	"github.com/2389/wren-gateway/internal/ledger"
	"github.com/2389/wren-gateway/internal/session"
	"github.com/2389/wren-gateway/internal/store"
	"github.com/2389/wren-gateway/internal/transfer"
)

// Transfers builds unsigned transfers.
type Transfers interface {
	BuildTransfer(ctx context.Context, req transfer.Request) (transfer.Unsigned, error)
	TokenAccountAddress(owner solana.PublicKey) (solana.PublicKey, error)
}

// Submitter broadcasts client-signed transactions.
type Submitter interface {
	Submit(ctx context.Context, signed string) (string, error)
}

// Airdrops schedules and reports background drops.
type Airdrops interface {
	Request(ctx context.Context, walletID, owner string) (*store.Job, error)
	RequestNative(ctx context.Context, walletID, owner string) (*store.Job, error)
	Status(ctx context.Context, id string) (*store.Job, error)
}

// Deps are the collaborators of a Service.
type Deps struct {
	Store     store.Store
	Sessions  *session.Store
	Provider  identity.Provider
	Ledger    ledger.Client
	Transfers Transfers
	Submitter Submitter
	Airdrops  Airdrops
	Logger    *slog.Logger

	// FundOnRegister enqueues a devnet SOL top-up for every new wallet.
	FundOnRegister bool
}

// Service implements the gateway's user-facing operations.
type Service struct {
	Deps
	logger *slog.Logger
}

// NewService creates a Service.
func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{Deps: d, logger: logger.With("component", "wallet")}
}

// RegisterRequest carries the passkey created in the browser.
type RegisterRequest struct {
	Email       string               `json:"email"`
	Challenge   string               `json:"challenge"`
	Attestation identity.Attestation `json:"attestation"`
}

// Session is a freshly issued session.
type Session struct {
	ID      string          `json:"sessionId"`
	Payload session.Payload `json:"-"`
}

// Register creates the provider sub-organization, records the identity and
// its wallet, and issues a session.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (Session, error) {
	email, err := normalizeEmail(req.Email)
	if err != nil {
		return Session{}, err
	}
	if _, err := s.Store.GetIdentityByEmail(ctx, email); err == nil {
		return Session{}, ErrAlreadyRegistered
	} else if !errors.Is(err, store.ErrNotFound) {
		return Session{}, fmt.Errorf("looking up identity: %w", err)
	}

	org, err := s.Provider.CreateSubOrganization(ctx, identity.SubOrganizationRequest{
		Email:       email,
		Challenge:   req.Challenge,
		Attestation: req.Attestation,
	})
	if err != nil {
		s.logger.Warn("sub-organization creation failed", "email", email, "error", err)
		return Session{}, err
	}

	now := time.Now()
	ident := &store.Identity{
		ID:             uuid.New().String(),
		OrganizationID: org.OrganizationID,
		Email:          email,
		CreatedAt:      now,
	}
	w := &store.Wallet{
		ID:              org.WalletID,
		IdentityID:      ident.ID,
		EthereumAddress: org.EthereumAddress,
		SolanaAddress:   org.SolanaAddress,
		CreatedAt:       now,
	}
	if err := s.Store.CreateIdentityWithWallet(ctx, ident, w); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return Session{}, ErrAlreadyRegistered
		}
		return Session{}, fmt.Errorf("creating identity: %w", err)
	}

	if s.FundOnRegister && s.Airdrops != nil {
		if _, err := s.Airdrops.RequestNative(ctx, w.ID, w.SolanaAddress); err != nil {
			s.logger.Warn("scheduling native funding", "wallet", w.ID, "error", err)
		}
	}

	payload := session.Payload{Identity: sessionIdentity(ident)}.WithWallet(sessionWallet(w))
	id := s.Sessions.Create(ctx, payload)
	s.logger.Info("registered", "identity", ident.ID, "organization_id", ident.OrganizationID)
	return Session{ID: id, Payload: payload}, nil
}

// RegistrationStatus reports the organization id registered for email, if any.
func (s *Service) RegistrationStatus(ctx context.Context, email string) (string, bool, error) {
	email, err := normalizeEmail(email)
	if err != nil {
		return "", false, err
	}
	ident, err := s.Store.GetIdentityByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("looking up identity: %w", err)
	}
	return ident.OrganizationID, true, nil
}

// Login forwards the browser-stamped whoami request and issues a session
// for the organization the provider vouches for.
func (s *Service) Login(ctx context.Context, req identity.SignedRequest) (Session, error) {
	orgID, err := s.Provider.ForwardSignedWhoami(ctx, req)
	switch {
	case errors.Is(err, identity.ErrRejected):
		return Session{}, ErrUnauthenticated
	case err != nil:
		return Session{}, err
	}

	ident, err := s.Store.GetIdentityByOrganization(ctx, orgID)
	if errors.Is(err, store.ErrNotFound) {
		s.logger.Warn("login for unknown organization", "organization_id", orgID)
		return Session{}, ErrUnauthenticated
	}
	if err != nil {
		return Session{}, fmt.Errorf("looking up identity: %w", err)
	}

	payload := session.Payload{Identity: sessionIdentity(ident)}
	w, err := s.Store.FindWalletByIdentity(ctx, ident.ID)
	switch {
	case err == nil:
		payload = payload.WithWallet(sessionWallet(w))
	case !errors.Is(err, store.ErrNotFound):
		return Session{}, fmt.Errorf("looking up wallet: %w", err)
	}

	id := s.Sessions.Create(ctx, payload)
	s.logger.Info("logged in", "identity", ident.ID)
	return Session{ID: id, Payload: payload}, nil
}

// Logout ends the session. Unknown sessions are not an error.
func (s *Service) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return nil
	}
	return s.Sessions.Delete(ctx, sessionID)
}

// View is the wallet as shown to its owner.
type View struct {
	Identity session.Identity `json:"user"`
	Wallet   session.Wallet   `json:"wallet"`
	SOL      string           `json:"solBalance"`
	Wren     string           `json:"wrenBalance"`
}

// Wallet returns balances for the session's wallet.
func (s *Service) Wallet(ctx context.Context, sessionID string) (View, error) {
	p, err := s.authenticate(ctx, sessionID)
	if err != nil {
		return View{}, err
	}
	w, err := s.refreshWallet(ctx, sessionID, p)
	if err != nil {
		return View{}, err
	}

	owner, err := solana.PublicKeyFromBase58(w.SolanaAddress)
	if err != nil {
		return View{}, fmt.Errorf("stored wallet address: %w", err)
	}
	lamports, err := s.Ledger.GetBalance(ctx, owner)
	if err != nil {
		return View{}, fmt.Errorf("reading balance: %w", err)
	}

	view := View{
		Identity: *p.Identity,
		Wallet:   w,
		SOL:      formatLamports(lamports),
		Wren:     "0",
	}

	ta, err := s.tokenAccount(w, owner)
	if err != nil {
		return View{}, err
	}
	bal, err := s.Ledger.GetTokenBalance(ctx, ta)
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		return view, nil
	case err != nil:
		return View{}, fmt.Errorf("reading token balance: %w", err)
	}
	view.Wren = bal.UIAmount

	if w.TokenAccount == "" {
		// Created by someone else's transfer; record it now.
		recorded, err := s.Store.SetTokenAccount(ctx, w.ID, ta.String())
		if err != nil {
			s.logger.Warn("recording token account", "wallet", w.ID, "error", err)
		} else {
			view.Wallet.TokenAccount = recorded
			if err := s.Sessions.Merge(ctx, sessionID, session.Payload{Wallet: &view.Wallet}); err != nil {
				s.logger.Warn("refreshing session wallet", "error", err)
			}
		}
	}
	return view, nil
}

func (s *Service) tokenAccount(w session.Wallet, owner solana.PublicKey) (solana.PublicKey, error) {
	if w.TokenAccount != "" {
		ta, err := solana.PublicKeyFromBase58(w.TokenAccount)
		if err != nil {
			return solana.PublicKey{}, fmt.Errorf("stored token account: %w", err)
		}
		return ta, nil
	}
	return s.Transfers.TokenAccountAddress(owner)
}

// BuildTransfer builds an unsigned transfer from the session's wallet.
func (s *Service) BuildTransfer(ctx context.Context, sessionID, recipient string, amount float64) (transfer.Unsigned, error) {
	p, err := s.authenticate(ctx, sessionID)
	if err != nil {
		return transfer.Unsigned{}, err
	}
	if p.Wallet == nil {
		return transfer.Unsigned{}, ErrWalletMissing
	}
	if recipient == "" {
		return transfer.Unsigned{}, fmt.Errorf("%w: recipient is required", ErrInvalidInput)
	}

	return s.Transfers.BuildTransfer(ctx, transfer.Request{
		Sender:         p.Wallet.SolanaAddress,
		Recipient:      recipient,
		Amount:         amount,
		OrganizationID: p.Identity.OrganizationID,
	})
}

// SubmitTransfer broadcasts a transaction the client has signed.
func (s *Service) SubmitTransfer(ctx context.Context, sessionID, signed string) (string, error) {
	if _, err := s.authenticate(ctx, sessionID); err != nil {
		return "", err
	}
	if signed == "" {
		return "", fmt.Errorf("%w: signedTransaction is required", ErrInvalidInput)
	}
	return s.Submitter.Submit(ctx, signed)
}

// RequestDrop schedules the welcome token drop for the session's wallet.
func (s *Service) RequestDrop(ctx context.Context, sessionID string) (*store.Job, error) {
	p, err := s.authenticate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if p.Wallet == nil {
		return nil, ErrWalletMissing
	}
	return s.Airdrops.Request(ctx, p.Wallet.ID, p.Wallet.SolanaAddress)
}

// DropStatus reports a drop belonging to the session's wallet.
func (s *Service) DropStatus(ctx context.Context, sessionID, jobID string) (*store.Job, error) {
	p, err := s.authenticate(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	job, err := s.Airdrops.Status(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && (p.Wallet == nil || job.WalletID != p.Wallet.ID)) {
		return nil, ErrDropNotFound
	}
	return job, err
}

// authenticate is the gate in front of every wallet-scoped operation.
func (s *Service) authenticate(ctx context.Context, sessionID string) (session.Payload, error) {
	if sessionID == "" {
		return session.Payload{}, ErrUnauthenticated
	}
	p, ok := s.Sessions.Get(ctx, sessionID)
	if !ok || p.Identity == nil {
		return session.Payload{}, ErrUnauthenticated
	}
	return p, nil
}

// refreshWallet reloads the wallet row so a token account recorded after the
// session was issued shows up, and folds it back into the session.
func (s *Service) refreshWallet(ctx context.Context, sessionID string, p session.Payload) (session.Wallet, error) {
	w, err := s.Store.FindWalletByIdentity(ctx, p.Identity.ID)
	if errors.Is(err, store.ErrNotFound) {
		return session.Wallet{}, ErrWalletMissing
	}
	if err != nil {
		return session.Wallet{}, fmt.Errorf("looking up wallet: %w", err)
	}

	fresh := sessionWallet(w)
	if p.Wallet == nil || *p.Wallet != fresh {
		if err := s.Sessions.Merge(ctx, sessionID, session.Payload{Wallet: &fresh}); err != nil {
			s.logger.Warn("refreshing session wallet", "error", err)
		}
	}
	return fresh, nil
}

func normalizeEmail(email string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	if err != nil || addr.Name != "" {
		return "", fmt.Errorf("%w: email", ErrInvalidInput)
	}
	return strings.ToLower(addr.Address), nil
}

func sessionIdentity(i *store.Identity) *session.Identity {
	return &session.Identity{ID: i.ID, OrganizationID: i.OrganizationID, Email: i.Email}
}

func sessionWallet(w *store.Wallet) session.Wallet {
	return session.Wallet{
		ID:              w.ID,
		EthereumAddress: w.EthereumAddress,
		SolanaAddress:   w.SolanaAddress,
		TokenAccount:    w.TokenAccount,
	}
}

// formatLamports renders lamports as SOL without float rounding.
func formatLamports(lamports uint64) string {
	r := new(big.Rat).SetFrac(new(big.Int).SetUint64(lamports), big.NewInt(int64(ledger.LamportsPerSOL)))
	s := r.FloatString(9)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// ABOUTME: Session store mapping opaque random tokens to identity snapshots
// ABOUTME: Entries are JSON blobs with a fixed TTL; reads past expiry report absent

package session

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/blake2b"
)

// DefaultTTL is how long a session lives after its last write.
const DefaultTTL = time.Hour

const keyPrefix = "session:"

// Identity is the authenticated-identity part of a session.
type Identity struct {
	ID             string `json:"userId"`
	OrganizationID string `json:"subOrgId"`
	Email          string `json:"email"`
}

// Wallet is the wallet snapshot attached to a session.
type Wallet struct {
	ID              string `json:"walletId"`
	EthereumAddress string `json:"ethAddress"`
	SolanaAddress   string `json:"solAddress"`
	TokenAccount    string `json:"wrenAddress,omitempty"`
}

// Payload is the data stored under a session token. Top-level keys are
// merged shallowly by Store.Merge, so a nil field leaves the stored one alone.
type Payload struct {
	Identity *Identity `json:"user,omitempty"`
	Wallet   *Wallet   `json:"wallet,omitempty"`
}

// WithWallet returns a copy of p with the wallet attached.
func (p Payload) WithWallet(w Wallet) Payload {
	p.Wallet = &w
	return p
}

// record is the envelope persisted in the backend.
type record struct {
	ExpiresAt time.Time       `json:"expiresAt"`
	Payload   json.RawMessage `json:"payload"`
}

// Store issues and resolves sessions on top of a Backend.
type Store struct {
	backend Backend
	ttl     time.Duration
	now     func() time.Time
	logger  *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used for swallowed backend failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// NewStore creates a session store writing through backend.
func NewStore(backend Backend, opts ...Option) *Store {
	s := &Store{
		backend: backend,
		ttl:     DefaultTTL,
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "session")
	return s
}

// TTL returns the lifetime applied on every write.
func (s *Store) TTL() time.Duration {
	return s.ttl
}

// Create stores payload under a fresh token and returns the token.
//
// A backend failure is logged and swallowed: the caller still gets a token,
// but the session may not exist.
func (s *Store) Create(ctx context.Context, payload Payload) string {
	id, err := GenerateID()
	if err != nil {
		s.logger.Error("generating session id", "error", err)
		return ""
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("encoding session payload", "error", err)
		return id
	}

	if err := s.write(ctx, id, raw); err != nil {
		s.logger.Error("creating session", "error", err)
	}
	return id
}

// Get returns the payload for id. Unknown, expired and empty ids all report
// false; the store does not tell them apart.
func (s *Store) Get(ctx context.Context, id string) (Payload, bool) {
	rec, ok := s.read(ctx, id)
	if !ok {
		return Payload{}, false
	}

	var p Payload
	if err := json.Unmarshal(rec.Payload, &p); err != nil {
		s.logger.Warn("decoding session payload", "error", err)
		return Payload{}, false
	}
	return p, true
}

// Merge overlays the top-level keys of partial onto the stored payload and
// rewrites it with a fresh TTL.
func (s *Store) Merge(ctx context.Context, id string, partial Payload) error {
	rec, ok := s.read(ctx, id)
	if !ok {
		return ErrNotFound
	}

	current := map[string]json.RawMessage{}
	if len(rec.Payload) > 0 {
		if err := json.Unmarshal(rec.Payload, &current); err != nil {
			return fmt.Errorf("decoding stored payload: %w", err)
		}
	}

	overlay, err := json.Marshal(partial)
	if err != nil {
		return fmt.Errorf("encoding partial payload: %w", err)
	}
	changes := map[string]json.RawMessage{}
	if err := json.Unmarshal(overlay, &changes); err != nil {
		return fmt.Errorf("decoding partial payload: %w", err)
	}
	for k, v := range changes {
		current[k] = v
	}

	merged, err := json.Marshal(current)
	if err != nil {
		return fmt.Errorf("encoding merged payload: %w", err)
	}
	return s.write(ctx, id, merged)
}

// Delete removes the session. Deleting an absent session is not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	if err := s.backend.Delete(ctx, backendKey(id)); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

func (s *Store) write(ctx context.Context, id string, payload json.RawMessage) error {
	data, err := json.Marshal(record{
		ExpiresAt: s.now().Add(s.ttl).UTC(),
		Payload:   payload,
	})
	if err != nil {
		return fmt.Errorf("encoding session record: %w", err)
	}
	return s.backend.Put(ctx, backendKey(id), data, s.ttl)
}

func (s *Store) read(ctx context.Context, id string) (record, bool) {
	if id == "" {
		return record{}, false
	}

	data, err := s.backend.Get(ctx, backendKey(id))
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Warn("reading session", "error", err)
		}
		return record{}, false
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn("decoding session record", "error", err)
		return record{}, false
	}

	// The backend TTL is not trusted on its own.
	if !s.now().Before(rec.ExpiresAt) {
		return record{}, false
	}
	return rec, true
}

// GenerateID returns a cryptographically random session token.
// 32 bytes = 256 bits of entropy.
func GenerateID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("session: failed to generate id: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// backendKey hashes the token so the raw value never sits in the KV store.
func backendKey(id string) string {
	sum := blake2b.Sum256([]byte(id))
	return keyPrefix + hex.EncodeToString(sum[:])
}

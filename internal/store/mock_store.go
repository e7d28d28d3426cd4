// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite

package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

type mockJob struct {
	job          Job
	leaseOwner   string
	leaseExpires time.Time
}

// MockStore is an in-memory Store implementation for testing.
type MockStore struct {
	mu         sync.RWMutex
	identities map[string]*Identity // keyed by identity ID
	wallets    map[string]*Wallet   // keyed by wallet ID
	jobs       map[string]*mockJob  // keyed by job ID
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		identities: make(map[string]*Identity),
		wallets:    make(map[string]*Wallet),
		jobs:       make(map[string]*mockJob),
	}
}

// CreateIdentity stores a new identity.
func (m *MockStore) CreateIdentity(ctx context.Context, identity *Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.identities {
		if existing.ID == identity.ID || existing.Email == identity.Email || existing.OrganizationID == identity.OrganizationID {
			return ErrDuplicate
		}
	}

	// Make a copy to avoid external modification
	i := *identity
	m.identities[i.ID] = &i
	return nil
}

// CreateIdentityWithWallet stores both records or neither.
func (m *MockStore) CreateIdentityWithWallet(ctx context.Context, identity *Identity, wallet *Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.identities {
		if existing.ID == identity.ID || existing.Email == identity.Email || existing.OrganizationID == identity.OrganizationID {
			return ErrDuplicate
		}
	}
	if wallet.IdentityID != identity.ID {
		return fmt.Errorf("inserting wallet: unknown identity %s", wallet.IdentityID)
	}
	for _, existing := range m.wallets {
		if existing.ID == wallet.ID {
			return ErrDuplicate
		}
	}

	i := *identity
	w := *wallet
	m.identities[i.ID] = &i
	m.wallets[w.ID] = &w
	return nil
}

// GetIdentity retrieves an identity by ID.
func (m *MockStore) GetIdentity(ctx context.Context, id string) (*Identity, error) {
	return m.findIdentity(func(i *Identity) bool { return i.ID == id })
}

// GetIdentityByOrganization retrieves an identity by organization ID.
func (m *MockStore) GetIdentityByOrganization(ctx context.Context, organizationID string) (*Identity, error) {
	return m.findIdentity(func(i *Identity) bool { return i.OrganizationID == organizationID })
}

// GetIdentityByEmail retrieves an identity by email.
func (m *MockStore) GetIdentityByEmail(ctx context.Context, email string) (*Identity, error) {
	return m.findIdentity(func(i *Identity) bool { return i.Email == email })
}

func (m *MockStore) findIdentity(match func(*Identity) bool) (*Identity, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, i := range m.identities {
		if match(i) {
			result := *i
			return &result, nil
		}
	}
	return nil, ErrNotFound
}

// CreateWallet stores a new wallet.
func (m *MockStore) CreateWallet(ctx context.Context, wallet *Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.identities[wallet.IdentityID]; !ok {
		return fmt.Errorf("inserting wallet: unknown identity %s", wallet.IdentityID)
	}
	for _, existing := range m.wallets {
		if existing.ID == wallet.ID || existing.IdentityID == wallet.IdentityID {
			return ErrDuplicate
		}
	}

	w := *wallet
	m.wallets[w.ID] = &w
	return nil
}

// GetWallet retrieves a wallet by ID.
func (m *MockStore) GetWallet(ctx context.Context, id string) (*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	w, ok := m.wallets[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := *w
	return &result, nil
}

// FindWalletByIdentity retrieves the wallet of an identity.
func (m *MockStore) FindWalletByIdentity(ctx context.Context, identityID string) (*Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, w := range m.wallets {
		if w.IdentityID == identityID {
			result := *w
			return &result, nil
		}
	}
	return nil, ErrNotFound
}

// SetTokenAccount records the token account once.
func (m *MockStore) SetTokenAccount(ctx context.Context, walletID, tokenAccount string) (string, error) {
	if tokenAccount == "" {
		return "", fmt.Errorf("token account is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.wallets[walletID]
	if !ok {
		return "", ErrNotFound
	}
	if w.TokenAccount == "" {
		w.TokenAccount = tokenAccount
	}
	return w.TokenAccount, nil
}

// CreateJob stores a new job.
func (m *MockStore) CreateJob(ctx context.Context, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.jobs[job.ID]; ok {
		return fmt.Errorf("inserting job: duplicate id %s", job.ID)
	}
	m.jobs[job.ID] = &mockJob{job: *job}
	return nil
}

// GetJob retrieves a job by ID.
func (m *MockStore) GetJob(ctx context.Context, id string) (*Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	result := j.job
	return &result, nil
}

// LeaseJobs claims due, non-terminal jobs in next-attempt order.
func (m *MockStore) LeaseJobs(ctx context.Context, owner string, limit int, now time.Time, leaseTTL time.Duration) ([]*Job, error) {
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, fmt.Errorf("lease owner is required")
	}
	if limit <= 0 || leaseTTL <= 0 {
		return nil, fmt.Errorf("limit and lease ttl must be greater than zero")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var due []*mockJob
	for _, j := range m.jobs {
		if j.job.State.Terminal() || j.job.NextAttemptAt.After(now) {
			continue
		}
		if j.leaseOwner != "" && j.leaseExpires.After(now) {
			continue
		}
		due = append(due, j)
	}
	sort.Slice(due, func(a, b int) bool {
		if !due[a].job.NextAttemptAt.Equal(due[b].job.NextAttemptAt) {
			return due[a].job.NextAttemptAt.Before(due[b].job.NextAttemptAt)
		}
		if !due[a].job.CreatedAt.Equal(due[b].job.CreatedAt) {
			return due[a].job.CreatedAt.Before(due[b].job.CreatedAt)
		}
		return due[a].job.ID < due[b].job.ID
	})
	if len(due) > limit {
		due = due[:limit]
	}

	leased := make([]*Job, 0, len(due))
	for _, j := range due {
		j.leaseOwner = owner
		j.leaseExpires = now.Add(leaseTTL)
		j.job.Attempts++
		j.job.UpdatedAt = now
		result := j.job
		leased = append(leased, &result)
	}
	return leased, nil
}

// UpdateJob persists mutable job fields for the lease holder.
func (m *MockStore) UpdateJob(ctx context.Context, owner string, job *Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[job.ID]
	if !ok || j.leaseOwner != owner {
		return ErrLeaseLost
	}
	j.job.State = job.State
	j.job.TokenAccount = job.TokenAccount
	j.job.Signature = job.Signature
	j.job.LastError = job.LastError
	j.job.NextAttemptAt = job.NextAttemptAt
	j.job.WaitingSince = job.WaitingSince
	j.job.UpdatedAt = job.UpdatedAt
	return nil
}

// ReleaseJob drops owner's lease.
func (m *MockStore) ReleaseJob(ctx context.Context, owner, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if j, ok := m.jobs[id]; ok && j.leaseOwner == owner {
		j.leaseOwner = ""
		j.leaseExpires = time.Time{}
	}
	return nil
}

// Close is a no-op for the mock store.
func (m *MockStore) Close() error {
	return nil
}

// Compile-time interface check
var (
	_ Store = (*MockStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)

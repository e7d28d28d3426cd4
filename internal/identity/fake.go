// ABOUTME: In-memory identity provider for tests and local development
// ABOUTME: Creates sub-organizations with fresh keys and trusts whoami bodies naming known orgs

package identity

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"github.com/tidwall/gjson"
)

// Fake is a Provider that never leaves the process.
type Fake struct {
	mu   sync.Mutex
	orgs map[string]SubOrganization

	// Err, when set, is returned by every call.
	Err error
}

// NewFake returns an empty Fake.
func NewFake() *Fake {
	return &Fake{orgs: make(map[string]SubOrganization)}
}

// CreateSubOrganization records a new organization with a random Solana key.
func (f *Fake) CreateSubOrganization(_ context.Context, req SubOrganizationRequest) (SubOrganization, error) {
	if f.Err != nil {
		return SubOrganization{}, f.Err
	}
	if req.Email == "" {
		return SubOrganization{}, fmt.Errorf("%w: email is required", ErrInvalidRequest)
	}

	eth := make([]byte, 20)
	_, _ = rand.Read(eth)
	org := SubOrganization{
		OrganizationID:  uuid.NewString(),
		WalletID:        uuid.NewString(),
		EthereumAddress: "0x" + hex.EncodeToString(eth),
		SolanaAddress:   solana.NewWallet().PublicKey().String(),
	}

	f.mu.Lock()
	f.orgs[org.OrganizationID] = org
	f.mu.Unlock()
	return org, nil
}

// ForwardSignedWhoami returns the organizationId named in the body when it
// belongs to an organization this Fake created.
func (f *Fake) ForwardSignedWhoami(_ context.Context, req SignedRequest) (string, error) {
	if f.Err != nil {
		return "", f.Err
	}
	orgID := gjson.Get(req.Body, "organizationId").String()

	f.mu.Lock()
	_, ok := f.orgs[orgID]
	f.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("%w: unknown organization", ErrRejected)
	}
	return orgID, nil
}

// Organizations returns the number of organizations created.
func (f *Fake) Organizations() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orgs)
}

var _ Provider = (*Fake)(nil)

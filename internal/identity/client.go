// ABOUTME: HTTP client for the identity provider: sub-organization creation and whoami forwarding
// ABOUTME: Server-side requests are stamped with the API key; client-signed requests pass through

package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/tidwall/gjson"
)

var (
	// ErrInvalidRequest indicates the caller supplied an unusable request.
	ErrInvalidRequest = errors.New("invalid identity request")

	// ErrRejected indicates the provider refused the request.
	ErrRejected = errors.New("identity provider rejected request")

	// ErrUnavailable indicates the provider could not be reached.
	ErrUnavailable = errors.New("identity provider unavailable")
)

const (
	// DefaultBaseURL is the public provider API.
	DefaultBaseURL = "https://api.turnkey.com"

	createSubOrgPath = "/public/v1/submit/create_sub_organization"
	whoamiPath       = "/public/v1/query/whoami"

	createSubOrgActivity = "ACTIVITY_TYPE_CREATE_SUB_ORGANIZATION_V7"

	// SolanaAccountPath is the derivation path of the wallet's Solana account.
	SolanaAccountPath = "m/44'/501'/0'/0'"

	ethereumAccountPath = "m/44'/60'/0'/0/0"

	maxResponseBytes = 1 << 20
)

// Provider is the identity provider as seen by the wallet service.
type Provider interface {
	CreateSubOrganization(ctx context.Context, req SubOrganizationRequest) (SubOrganization, error)
	ForwardSignedWhoami(ctx context.Context, req SignedRequest) (string, error)
}

// SubOrganizationRequest describes a new user and their passkey.
type SubOrganizationRequest struct {
	Email       string
	Challenge   string
	Attestation Attestation
}

// SubOrganization is the provider's view of a newly created user.
type SubOrganization struct {
	OrganizationID  string
	WalletID        string
	EthereumAddress string
	SolanaAddress   string
}

// SignedRequest is a request stamped by the user's passkey in the browser.
type SignedRequest struct {
	Body  string `json:"body"`
	Stamp struct {
		HeaderName  string `json:"stampHeaderName"`
		HeaderValue string `json:"stampHeaderValue"`
	} `json:"stamp"`
	URL string `json:"url"`
}

// Config configures a Client.
type Config struct {
	BaseURL        string
	OrganizationID string
	APIPublicKey   string
	APIPrivateKey  string
	Timeout        time.Duration
}

// Client talks to the provider over HTTPS.
type Client struct {
	base    *url.URL
	orgID   string
	stamper *Stamper
	http    *http.Client
	now     func() time.Time
	logger  *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithClock sets the time source used for activity timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient validates cfg and returns a Client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid provider base url %q", cfg.BaseURL)
	}
	if cfg.OrganizationID == "" {
		return nil, errors.New("provider organization id is required")
	}
	stamper, err := NewStamper(cfg.APIPrivateKey, cfg.APIPublicKey)
	if err != nil {
		return nil, err
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	c := &Client{
		base:    base,
		orgID:   cfg.OrganizationID,
		stamper: stamper,
		http:    &http.Client{Timeout: cfg.Timeout},
		now:     time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "identity")
	return c, nil
}

type walletAccount struct {
	Curve         string `json:"curve"`
	PathFormat    string `json:"pathFormat"`
	Path          string `json:"path"`
	AddressFormat string `json:"addressFormat"`
}

type authenticator struct {
	AuthenticatorName string              `json:"authenticatorName"`
	Challenge         string              `json:"challenge"`
	Attestation       providerAttestation `json:"attestation"`
}

type rootUser struct {
	UserName       string          `json:"userName"`
	UserEmail      string          `json:"userEmail"`
	APIKeys        []any           `json:"apiKeys"`
	Authenticators []authenticator `json:"authenticators"`
	OAuthProviders []any           `json:"oauthProviders"`
}

type subOrgParameters struct {
	SubOrganizationName string     `json:"subOrganizationName"`
	RootUsers           []rootUser `json:"rootUsers"`
	RootQuorumThreshold int        `json:"rootQuorumThreshold"`
	Wallet              struct {
		WalletName string          `json:"walletName"`
		Accounts   []walletAccount `json:"accounts"`
	} `json:"wallet"`
}

type activityRequest struct {
	Type           string `json:"type"`
	TimestampMs    string `json:"timestampMs"`
	OrganizationID string `json:"organizationId"`
	Parameters     any    `json:"parameters"`
}

func subOrgPayload(req SubOrganizationRequest) subOrgParameters {
	p := subOrgParameters{
		SubOrganizationName: req.Email,
		RootUsers: []rootUser{{
			UserName:  req.Email,
			UserEmail: req.Email,
			APIKeys:   []any{},
			Authenticators: []authenticator{{
				AuthenticatorName: req.Email,
				Challenge:         req.Challenge,
				Attestation:       req.Attestation.encode(),
			}},
			OAuthProviders: []any{},
		}},
		RootQuorumThreshold: 1,
	}
	p.Wallet.WalletName = req.Email
	p.Wallet.Accounts = []walletAccount{
		{Curve: "CURVE_SECP256K1", PathFormat: "PATH_FORMAT_BIP32", Path: ethereumAccountPath, AddressFormat: "ADDRESS_FORMAT_ETHEREUM"},
		{Curve: "CURVE_ED25519", PathFormat: "PATH_FORMAT_BIP32", Path: SolanaAccountPath, AddressFormat: "ADDRESS_FORMAT_SOLANA"},
	}
	return p
}

// CreateSubOrganization creates a sub-organization with one root user
// (the passkey) and a wallet holding an Ethereum and a Solana account.
func (c *Client) CreateSubOrganization(ctx context.Context, req SubOrganizationRequest) (SubOrganization, error) {
	if req.Email == "" || req.Challenge == "" {
		return SubOrganization{}, fmt.Errorf("%w: email and challenge are required", ErrInvalidRequest)
	}
	if err := req.Attestation.Validate(req.Challenge); err != nil {
		return SubOrganization{}, err
	}

	body, err := json.Marshal(activityRequest{
		Type:           createSubOrgActivity,
		TimestampMs:    strconv.FormatInt(c.now().UnixMilli(), 10),
		OrganizationID: c.orgID,
		Parameters:     subOrgPayload(req),
	})
	if err != nil {
		return SubOrganization{}, fmt.Errorf("marshaling request: %w", err)
	}

	stamp, err := c.stamper.Stamp(body)
	if err != nil {
		return SubOrganization{}, err
	}

	raw, err := c.post(ctx, c.base.String()+createSubOrgPath, body, StampHeader, stamp)
	if err != nil {
		return SubOrganization{}, err
	}

	res := gjson.GetBytes(raw, "activity.result.createSubOrganizationResultV7")
	out := SubOrganization{
		OrganizationID: res.Get("subOrganizationId").String(),
		WalletID:       res.Get("wallet.walletId").String(),
	}
	for _, addr := range res.Get("wallet.addresses").Array() {
		a := addr.String()
		switch {
		case strings.HasPrefix(a, "0x"):
			out.EthereumAddress = a
		default:
			if _, err := solana.PublicKeyFromBase58(a); err == nil {
				out.SolanaAddress = a
			}
		}
	}

	if out.OrganizationID == "" || out.WalletID == "" || out.SolanaAddress == "" {
		c.logger.Error("incomplete sub-organization response",
			"status", gjson.GetBytes(raw, "activity.status").String())
		return SubOrganization{}, fmt.Errorf("%w: incomplete sub-organization result", ErrRejected)
	}

	c.logger.Info("created sub-organization", "organization_id", out.OrganizationID)
	return out, nil
}

// ForwardSignedWhoami sends a browser-stamped whoami request to the provider
// and returns the organization id it vouches for. Only the provider's own
// whoami endpoint is accepted as a target.
func (c *Client) ForwardSignedWhoami(ctx context.Context, req SignedRequest) (string, error) {
	target, err := url.Parse(req.URL)
	if err != nil {
		return "", fmt.Errorf("%w: bad url", ErrInvalidRequest)
	}
	if target.Scheme != c.base.Scheme || target.Host != c.base.Host || target.Path != whoamiPath {
		return "", fmt.Errorf("%w: url is not the provider whoami endpoint", ErrInvalidRequest)
	}
	switch req.Stamp.HeaderName {
	case StampHeader, "X-Stamp-WebAuthn", "X-Stamp-Webauthn":
	default:
		return "", fmt.Errorf("%w: unsupported stamp header %q", ErrInvalidRequest, req.Stamp.HeaderName)
	}
	if req.Stamp.HeaderValue == "" || req.Body == "" {
		return "", fmt.Errorf("%w: missing stamp or body", ErrInvalidRequest)
	}

	raw, err := c.post(ctx, c.base.String()+whoamiPath, []byte(req.Body), req.Stamp.HeaderName, req.Stamp.HeaderValue)
	if err != nil {
		return "", err
	}

	orgID := gjson.GetBytes(raw, "organizationId").String()
	if orgID == "" {
		return "", fmt.Errorf("%w: whoami returned no organization", ErrRejected)
	}
	return orgID, nil
}

func (c *Client) post(ctx context.Context, target string, body []byte, header, value string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(header, value)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Warn("provider request failed", "path", httpReq.URL.Path, "error", err)
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	switch {
	case resp.StatusCode >= 500:
		c.logger.Warn("provider server error", "path", httpReq.URL.Path, "status", resp.StatusCode)
		return nil, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		c.logger.Warn("provider refused request",
			"path", httpReq.URL.Path,
			"status", resp.StatusCode,
			"message", gjson.GetBytes(raw, "message").String())
		return nil, fmt.Errorf("%w: status %d", ErrRejected, resp.StatusCode)
	}
	return raw, nil
}

var _ Provider = (*Client)(nil)

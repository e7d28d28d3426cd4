package identity

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

const testChallenge = "Y2hhbGxlbmdlLWJ5dGVz"

func testKeyHex(t *testing.T) string {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	raw, err := key.Bytes()
	require.NoError(t, err)
	return hex.EncodeToString(raw)
}

func testAttestation() Attestation {
	return Attestation{
		CredentialID:      protocol.URLEncodedBase64("cred-id"),
		ClientDataJSON:    protocol.URLEncodedBase64(`{"type":"webauthn.create","challenge":"` + testChallenge + `","origin":"https://wren.test"}`),
		AttestationObject: protocol.URLEncodedBase64("attestation-object"),
		Transports:        []protocol.AuthenticatorTransport{protocol.Internal, protocol.Hybrid},
	}
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		BaseURL:        srv.URL,
		OrganizationID: "parent-org",
		APIPrivateKey:  testKeyHex(t),
	}, WithClock(func() time.Time { return time.UnixMilli(1700000000000) }))
	require.NoError(t, err)
	return c, srv
}

func TestStamp_RoundTrip(t *testing.T) {
	s, err := NewStamper(testKeyHex(t), "")
	require.NoError(t, err)

	body := []byte(`{"hello":"world"}`)
	header, err := s.Stamp(body)
	require.NoError(t, err)

	pub, ok := VerifyStamp(header, body)
	assert.True(t, ok)
	assert.Equal(t, s.PublicKey(), pub)
	assert.Len(t, pub, 66, "compressed P-256 key in hex")

	_, ok = VerifyStamp(header, []byte(`{"hello":"mallory"}`))
	assert.False(t, ok)
}

func TestNewStamper_RejectsMismatchedPublicKey(t *testing.T) {
	other, err := NewStamper(testKeyHex(t), "")
	require.NoError(t, err)

	_, err = NewStamper(testKeyHex(t), other.PublicKey())
	assert.Error(t, err)
}

func TestCreateSubOrganization(t *testing.T) {
	sol := solana.NewWallet().PublicKey().String()
	var gotBody []byte

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, createSubOrgPath, r.URL.Path)
		gotBody, _ = io.ReadAll(r.Body)
		_, ok := VerifyStamp(r.Header.Get(StampHeader), gotBody)
		assert.True(t, ok, "request is stamped")

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"activity":{"status":"ACTIVITY_STATUS_COMPLETED","result":{"createSubOrganizationResultV7":{
			"subOrganizationId":"sub-org-1",
			"wallet":{"walletId":"wallet-1","addresses":["0xabc123","`+sol+`"]}}}}}`)
	})

	org, err := c.CreateSubOrganization(context.Background(), SubOrganizationRequest{
		Email:       "a@example.com",
		Challenge:   testChallenge,
		Attestation: testAttestation(),
	})
	require.NoError(t, err)

	assert.Equal(t, SubOrganization{
		OrganizationID:  "sub-org-1",
		WalletID:        "wallet-1",
		EthereumAddress: "0xabc123",
		SolanaAddress:   sol,
	}, org)

	body := gjson.ParseBytes(gotBody)
	assert.Equal(t, createSubOrgActivity, body.Get("type").String())
	assert.Equal(t, "1700000000000", body.Get("timestampMs").String())
	assert.Equal(t, "parent-org", body.Get("organizationId").String())
	assert.Equal(t, "a@example.com", body.Get("parameters.rootUsers.0.userEmail").String())
	assert.Equal(t, SolanaAccountPath, body.Get("parameters.wallet.accounts.1.path").String())
	assert.Equal(t, "ADDRESS_FORMAT_SOLANA", body.Get("parameters.wallet.accounts.1.addressFormat").String())

	att := body.Get("parameters.rootUsers.0.authenticators.0.attestation")
	assert.Equal(t, base64.RawURLEncoding.EncodeToString([]byte("cred-id")), att.Get("credentialId").String())
	assert.Equal(t, `["AUTHENTICATOR_TRANSPORT_INTERNAL","AUTHENTICATOR_TRANSPORT_HYBRID"]`, att.Get("transports").Raw)
}

func TestCreateSubOrganization_Errors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"provider refuses", http.StatusBadRequest, `{"message":"bad attestation"}`, ErrRejected},
		{"provider down", http.StatusBadGateway, ``, ErrUnavailable},
		{"incomplete result", http.StatusOK, `{"activity":{"status":"ACTIVITY_STATUS_PENDING"}}`, ErrRejected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := c.CreateSubOrganization(context.Background(), SubOrganizationRequest{
				Email:       "a@example.com",
				Challenge:   testChallenge,
				Attestation: testAttestation(),
			})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestCreateSubOrganization_ValidatesAttestation(t *testing.T) {
	called := false
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	att := testAttestation()
	att.ClientDataJSON = protocol.URLEncodedBase64(`{"type":"webauthn.get","challenge":"` + testChallenge + `"}`)

	_, err := c.CreateSubOrganization(context.Background(), SubOrganizationRequest{
		Email: "a@example.com", Challenge: testChallenge, Attestation: att,
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = c.CreateSubOrganization(context.Background(), SubOrganizationRequest{
		Email: "a@example.com", Challenge: "other", Attestation: testAttestation(),
	})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.False(t, called, "invalid attestations never reach the provider")
}

func TestForwardSignedWhoami(t *testing.T) {
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, whoamiPath, r.URL.Path)
		assert.Equal(t, "browser-stamp", r.Header.Get("X-Stamp-WebAuthn"))
		body, _ := io.ReadAll(r.Body)
		assert.JSONEq(t, `{"organizationId":"sub-org-1"}`, string(body))
		_, _ = io.WriteString(w, `{"organizationId":"sub-org-1","userId":"u1","username":"a@example.com"}`)
	})

	req := SignedRequest{Body: `{"organizationId":"sub-org-1"}`, URL: srv.URL + whoamiPath}
	req.Stamp.HeaderName = "X-Stamp-WebAuthn"
	req.Stamp.HeaderValue = "browser-stamp"

	orgID, err := c.ForwardSignedWhoami(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "sub-org-1", orgID)
}

func TestForwardSignedWhoami_OnlyTargetsProvider(t *testing.T) {
	called := false
	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { called = true })

	urls := []string{
		"http://169.254.169.254" + whoamiPath,
		srv.URL + "/public/v1/submit/create_sub_organization",
		"::not a url",
	}
	for _, u := range urls {
		req := SignedRequest{Body: `{}`, URL: u}
		req.Stamp.HeaderName = StampHeader
		req.Stamp.HeaderValue = "x"

		_, err := c.ForwardSignedWhoami(context.Background(), req)
		assert.ErrorIs(t, err, ErrInvalidRequest, u)
	}
	assert.False(t, called)
}

func TestFake(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	org, err := f.CreateSubOrganization(ctx, SubOrganizationRequest{Email: "a@example.com"})
	require.NoError(t, err)
	_, err = solana.PublicKeyFromBase58(org.SolanaAddress)
	require.NoError(t, err)

	req := SignedRequest{Body: `{"organizationId":"` + org.OrganizationID + `"}`}
	got, err := f.ForwardSignedWhoami(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, org.OrganizationID, got)

	_, err = f.ForwardSignedWhoami(ctx, SignedRequest{Body: `{"organizationId":"nope"}`})
	assert.ErrorIs(t, err, ErrRejected)
}

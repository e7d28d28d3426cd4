// ABOUTME: Passkey attestation payload accepted at registration and its provider encoding
// ABOUTME: Client data is checked for the create ceremony and the expected challenge

package identity

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-webauthn/webauthn/protocol"
)

// Attestation is the result of a browser credential creation ceremony.
type Attestation struct {
	CredentialID      protocol.URLEncodedBase64         `json:"credentialId"`
	ClientDataJSON    protocol.URLEncodedBase64         `json:"clientDataJson"`
	AttestationObject protocol.URLEncodedBase64         `json:"attestationObject"`
	Transports        []protocol.AuthenticatorTransport `json:"transports"`
}

// Validate checks that the attestation is complete and was produced for
// challenge.
func (a Attestation) Validate(challenge string) error {
	if len(a.CredentialID) == 0 || len(a.ClientDataJSON) == 0 || len(a.AttestationObject) == 0 {
		return fmt.Errorf("%w: incomplete attestation", ErrInvalidRequest)
	}

	var cd protocol.CollectedClientData
	if err := json.Unmarshal(a.ClientDataJSON, &cd); err != nil {
		return fmt.Errorf("%w: client data: %v", ErrInvalidRequest, err)
	}
	if cd.Type != protocol.CreateCeremony {
		return fmt.Errorf("%w: unexpected ceremony %q", ErrInvalidRequest, cd.Type)
	}
	if challenge != "" && strings.TrimRight(cd.Challenge, "=") != strings.TrimRight(challenge, "=") {
		return fmt.Errorf("%w: challenge mismatch", ErrInvalidRequest)
	}
	return nil
}

// providerTransports maps WebAuthn transport hints to the provider's enum.
func providerTransports(ts []protocol.AuthenticatorTransport) []string {
	out := make([]string, 0, len(ts))
	for _, t := range ts {
		switch t {
		case protocol.USB, protocol.NFC, protocol.BLE, protocol.Hybrid, protocol.Internal:
			out = append(out, "AUTHENTICATOR_TRANSPORT_"+strings.ToUpper(string(t)))
		}
	}
	return out
}

type providerAttestation struct {
	CredentialID      string   `json:"credentialId"`
	ClientDataJSON    string   `json:"clientDataJson"`
	AttestationObject string   `json:"attestationObject"`
	Transports        []string `json:"transports"`
}

func (a Attestation) encode() providerAttestation {
	return providerAttestation{
		CredentialID:      base64.RawURLEncoding.EncodeToString(a.CredentialID),
		ClientDataJSON:    base64.RawURLEncoding.EncodeToString(a.ClientDataJSON),
		AttestationObject: base64.RawURLEncoding.EncodeToString(a.AttestationObject),
		Transports:        providerTransports(a.Transports),
	}
}

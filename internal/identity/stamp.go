// ABOUTME: API request stamping for the identity provider using a P-256 API key
// ABOUTME: The stamp is a base64url JSON envelope carrying the key and a DER signature

package identity

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// StampHeader is the header carrying a request stamp.
const StampHeader = "X-Stamp"

const stampScheme = "SIGNATURE_SCHEME_TK_API_P256"

// Stamper signs request bodies with an API key pair.
type Stamper struct {
	key       *ecdsa.PrivateKey
	publicHex string
}

// NewStamper loads a hex-encoded P-256 private key. If publicKeyHex is
// non-empty it must match the key's compressed public key.
func NewStamper(privateKeyHex, publicKeyHex string) (*Stamper, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(privateKeyHex))
	if err != nil {
		return nil, fmt.Errorf("decoding api private key: %w", err)
	}
	key, err := ecdsa.ParseRawPrivateKey(elliptic.P256(), raw)
	if err != nil {
		return nil, fmt.Errorf("parsing api private key: %w", err)
	}

	derived := hex.EncodeToString(elliptic.MarshalCompressed(elliptic.P256(), key.X, key.Y))
	if publicKeyHex != "" && !strings.EqualFold(strings.TrimSpace(publicKeyHex), derived) {
		return nil, fmt.Errorf("api public key does not match private key")
	}
	return &Stamper{key: key, publicHex: derived}, nil
}

// PublicKey returns the compressed public key in hex.
func (s *Stamper) PublicKey() string {
	return s.publicHex
}

type stamp struct {
	PublicKey string `json:"publicKey"`
	Scheme    string `json:"scheme"`
	Signature string `json:"signature"`
}

// Stamp returns the header value authenticating body.
func (s *Stamper) Stamp(body []byte) (string, error) {
	digest := sha256.Sum256(body)
	sig, err := ecdsa.SignASN1(rand.Reader, s.key, digest[:])
	if err != nil {
		return "", fmt.Errorf("signing request: %w", err)
	}

	out, err := json.Marshal(stamp{
		PublicKey: s.publicHex,
		Scheme:    stampScheme,
		Signature: hex.EncodeToString(sig),
	})
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(out), nil
}

// VerifyStamp checks a stamp header against body. Used by tests and by
// stub servers.
func VerifyStamp(header string, body []byte) (publicKeyHex string, ok bool) {
	raw, err := base64.RawURLEncoding.DecodeString(header)
	if err != nil {
		return "", false
	}
	var st stamp
	if err := json.Unmarshal(raw, &st); err != nil || st.Scheme != stampScheme {
		return "", false
	}

	pubBytes, err := hex.DecodeString(st.PublicKey)
	if err != nil {
		return "", false
	}
	x, y := elliptic.UnmarshalCompressed(elliptic.P256(), pubBytes)
	if x == nil {
		return "", false
	}
	sig, err := hex.DecodeString(st.Signature)
	if err != nil {
		return "", false
	}

	digest := sha256.Sum256(body)
	pub := &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}
	return st.PublicKey, ecdsa.VerifyASN1(pub, digest[:], sig)
}

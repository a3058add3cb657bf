package command

import (
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/hex"
	"errors"
	"fmt"
)

// ErrUnsupportedKey is returned for key types other than Ed25519 and RSA.
var ErrUnsupportedKey = errors.New("unsupported key type")

// Identity is a guid with its key pair. PrivateKey is nil for identities
// that can only be verified.
type Identity struct {
	GUID       string
	PublicKey  crypto.PublicKey
	PrivateKey crypto.Signer
}

// NewIdentity binds an existing key pair to a guid derived from the public key.
func NewIdentity(priv crypto.Signer) (*Identity, error) {
	guid, err := GUIDFromPublicKey(priv.Public())
	if err != nil {
		return nil, err
	}
	return &Identity{GUID: guid, PublicKey: priv.Public(), PrivateKey: priv}, nil
}

// GenerateIdentity creates a fresh Ed25519 identity.
func GenerateIdentity() (*Identity, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return NewIdentity(priv)
}

// CanSign reports whether the identity holds a private key.
func (id *Identity) CanSign() bool {
	return id != nil && id.PrivateKey != nil
}

// PublicKeyBytes returns the wire encoding of the public key.
func (id *Identity) PublicKeyBytes() ([]byte, error) {
	return MarshalPublicKey(id.PublicKey)
}

// MarshalPublicKey returns raw bytes for Ed25519 keys and PKCS#1 DER for RSA keys.
func MarshalPublicKey(pub crypto.PublicKey) ([]byte, error) {
	switch k := pub.(type) {
	case ed25519.PublicKey:
		return []byte(k), nil
	case *rsa.PublicKey:
		return x509.MarshalPKCS1PublicKey(k), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnsupportedKey, pub)
	}
}

// GUIDFromPublicKey derives the guid as the upper-case hex SHA-256 prefix of the key.
func GUIDFromPublicKey(pub crypto.PublicKey) (string, error) {
	raw, err := MarshalPublicKey(pub)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(raw)
	return fmt.Sprintf("%X", sum[:20]), nil
}

// Fingerprint is a short hex form of the public key used in logs.
func (id *Identity) Fingerprint() string {
	raw, err := id.PublicKeyBytes()
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:6])
}

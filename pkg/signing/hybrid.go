package signing

import (
	"crypto/cipher"
	"crypto/hmac"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/plaenen/nsclient/pkg/command"
	"github.com/zeebo/blake3"
	"golang.org/x/crypto/chacha20poly1305"
)

const secretKeySize = chacha20poly1305.KeySize

var errMalformedBlob = errors.New("malformed hybrid signature")

// secretKey is the symmetric key bound to one key pair together with its
// certificate: the key followed by an asymmetric signature over it.
type secretKey struct {
	key  []byte
	cert []byte
}

func (e *Engine) secretKeyFor(id *command.Identity) (*secretKey, error) {
	pub, err := id.PublicKeyBytes()
	if err != nil {
		return nil, err
	}
	cacheKey := string(pub)

	e.keysMu.Lock()
	defer e.keysMu.Unlock()

	if sk, ok := e.keys[cacheKey]; ok {
		return sk, nil
	}

	seed, err := keySeed(id)
	if err != nil {
		return nil, err
	}
	key, err := deriveKey(seed, id.GUID)
	if err != nil {
		return nil, fmt.Errorf("failed to derive secret key: %w", err)
	}
	keySig, err := signRaw(id, key)
	if err != nil {
		return nil, fmt.Errorf("failed to certify secret key: %w", err)
	}

	sk := &secretKey{key: key, cert: append(append([]byte(nil), key...), keySig...)}
	e.keys[cacheKey] = sk
	e.logger.Debug("derived secret key", "guid", id.GUID)
	return sk, nil
}

func (e *Engine) signHybrid(id *command.Identity, nonce string, canonical []byte) ([]byte, error) {
	sk, err := e.secretKeyFor(id)
	if err != nil {
		return nil, err
	}

	digest := e.digest().sum(canonical)
	sealed, err := e.seal(sk.key, nonce, digest)
	if err != nil {
		return nil, err
	}
	return encodeBlob(sealed, sk.cert)
}

func (e *Engine) seal(key []byte, nonce string, digest []byte) ([]byte, error) {
	return e.cipher().do(key, func(aead cipher.AEAD) ([]byte, error) {
		return aead.Seal(nil, aeadNonce(nonce), digest, nil), nil
	})
}

func (e *Engine) verifyHybrid(pub any, nonce string, canonical, blob []byte) error {
	sealed, cert, err := decodeBlob(blob)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if len(cert) <= secretKeySize {
		return fmt.Errorf("%w: certificate too short", ErrInvalidSignature)
	}
	key, keySig := cert[:secretKeySize], cert[secretKeySize:]
	if err := verifyAsymmetric(pub, key, keySig); err != nil {
		return fmt.Errorf("%w: certificate: %v", ErrInvalidSignature, err)
	}

	digest, err := e.cipher().do(key, func(aead cipher.AEAD) ([]byte, error) {
		return aead.Open(nil, aeadNonce(nonce), sealed, nil)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if !hmac.Equal(digest, e.digest().sum(canonical)) {
		return ErrInvalidSignature
	}
	return nil
}

// aeadNonce stretches the command nonce to the XChaCha20 nonce size.
func aeadNonce(nonce string) []byte {
	sum := blake3.Sum256([]byte(nonce))
	return sum[:chacha20poly1305.NonceSizeX]
}

// encodeBlob lays out uint16be(len(sig)) | sig | uint16be(len(cert)) | cert.
func encodeBlob(sig, cert []byte) ([]byte, error) {
	if len(sig) > 0xffff || len(cert) > 0xffff {
		return nil, fmt.Errorf("hybrid signature part too large")
	}
	out := make([]byte, 0, 4+len(sig)+len(cert))
	out = binary.BigEndian.AppendUint16(out, uint16(len(sig)))
	out = append(out, sig...)
	out = binary.BigEndian.AppendUint16(out, uint16(len(cert)))
	out = append(out, cert...)
	return out, nil
}

func decodeBlob(blob []byte) (sig, cert []byte, err error) {
	sig, rest, err := readChunk(blob)
	if err != nil {
		return nil, nil, err
	}
	cert, rest, err = readChunk(rest)
	if err != nil {
		return nil, nil, err
	}
	if len(rest) != 0 {
		return nil, nil, fmt.Errorf("%w: %d trailing bytes", errMalformedBlob, len(rest))
	}
	return sig, cert, nil
}

func readChunk(b []byte) (chunk, rest []byte, err error) {
	if len(b) < 2 {
		return nil, nil, errMalformedBlob
	}
	n := int(binary.BigEndian.Uint16(b))
	if len(b) < 2+n {
		return nil, nil, errMalformedBlob
	}
	return b[2 : 2+n], b[2+n:], nil
}

package signing_test

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/binary"
	"encoding/hex"
	"sync"
	"testing"
	"time"

	"github.com/plaenen/nsclient/pkg/command"
	"github.com/plaenen/nsclient/pkg/signing"
	"github.com/plaenen/nsclient/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newIdentity(t *testing.T) *command.Identity {
	t.Helper()
	id, err := command.GenerateIdentity()
	require.NoError(t, err)
	return id
}

func replaceBio() *command.Command {
	return command.New(command.TypeReplace,
		command.FieldGUID, "alice.example",
		command.FieldField, "bio",
		command.FieldValue, "hi",
	)
}

func TestEngine_DefaultPoolSizes(t *testing.T) {
	e := signing.NewEngine(wire.NewCodec())
	digests, ciphers := e.PoolSizes()
	assert.Greater(t, digests, 0)
	assert.Equal(t, 2*digests, ciphers)
	assert.Equal(t, signing.ModeAsymmetric, e.Mode())
}

func TestEngine_SignVerify(t *testing.T) {
	modes := []signing.Mode{signing.ModeAsymmetric, signing.ModeHybridSecretKey}

	for _, mode := range modes {
		t.Run(mode.String(), func(t *testing.T) {
			e := signing.NewEngine(wire.NewCodec(), signing.WithMode(mode))
			id := newIdentity(t)

			cmd := replaceBio()
			signed, err := e.Sign(cmd, id)
			require.NoError(t, err)

			assert.True(t, signed.Signed())
			assert.NotEmpty(t, signed.Nonce)
			assert.False(t, signed.Timestamp.IsZero())
			assert.False(t, cmd.Signed(), "original command must not be modified")

			require.NoError(t, e.Verify(signed, id.PublicKey))

			t.Run("tampered field fails", func(t *testing.T) {
				tampered := signed.Clone()
				tampered.Fields[2].Value = "bye"
				assert.ErrorIs(t, e.Verify(tampered, id.PublicKey), signing.ErrInvalidSignature)
			})

			t.Run("other key fails", func(t *testing.T) {
				other := newIdentity(t)
				assert.ErrorIs(t, e.Verify(signed, other.PublicKey), signing.ErrInvalidSignature)
			})
		})
	}
}

func TestEngine_FreshNoncePerSignature(t *testing.T) {
	e := signing.NewEngine(wire.NewCodec())
	id := newIdentity(t)

	a, err := e.Sign(replaceBio(), id)
	require.NoError(t, err)
	b, err := e.Sign(replaceBio(), id)
	require.NoError(t, err)

	assert.NotEqual(t, a.Nonce, b.Nonce)
	assert.NotEqual(t, a.Signature, b.Signature)
}

func TestEngine_UsesClock(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	e := signing.NewEngine(wire.NewCodec(), signing.WithClock(func() time.Time { return fixed }))

	signed, err := e.Sign(replaceBio(), newIdentity(t))
	require.NoError(t, err)
	assert.Equal(t, fixed, signed.Timestamp)
}

func TestEngine_RSA(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	id, err := command.NewIdentity(key)
	require.NoError(t, err)

	for _, mode := range []signing.Mode{signing.ModeAsymmetric, signing.ModeHybridSecretKey} {
		t.Run(mode.String(), func(t *testing.T) {
			e := signing.NewEngine(wire.NewCodec(), signing.WithMode(mode))
			signed, err := e.Sign(replaceBio(), id)
			require.NoError(t, err)
			require.NoError(t, e.Verify(signed, id.PublicKey))
		})
	}
}

func TestEngine_HybridLayout(t *testing.T) {
	e := signing.NewEngine(wire.NewCodec(), signing.WithMode(signing.ModeHybridSecretKey))
	signed, err := e.Sign(replaceBio(), newIdentity(t))
	require.NoError(t, err)

	blob, err := hex.DecodeString(signed.Signature)
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(blob), 2)
	sigLen := int(binary.BigEndian.Uint16(blob))
	require.GreaterOrEqual(t, len(blob), 4+sigLen)
	certLen := int(binary.BigEndian.Uint16(blob[2+sigLen:]))
	assert.Equal(t, len(blob), 4+sigLen+certLen)
	assert.Greater(t, sigLen, 0)
	assert.Greater(t, certLen, 32)
}

func TestEngine_NoPrivateKey(t *testing.T) {
	e := signing.NewEngine(wire.NewCodec())
	id := newIdentity(t)
	verifyOnly := &command.Identity{GUID: id.GUID, PublicKey: id.PublicKey}

	_, err := e.Sign(replaceBio(), verifyOnly)
	assert.ErrorIs(t, err, signing.ErrSigningFailure)
	assert.ErrorIs(t, err, signing.ErrNoPrivateKey)
}

func TestEngine_ConcurrentSigning(t *testing.T) {
	e := signing.NewEngine(wire.NewCodec(), signing.WithMode(signing.ModeHybridSecretKey), signing.WithPoolSizes(2, 4))
	id := newIdentity(t)

	const n = 64
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			signed, err := e.Sign(replaceBio(), id)
			if err != nil {
				errs <- err
				return
			}
			errs <- e.Verify(signed, id.PublicKey)
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestParseMode(t *testing.T) {
	m, err := signing.ParseMode("hybrid-secret-key")
	require.NoError(t, err)
	assert.Equal(t, signing.ModeHybridSecretKey, m)

	m, err = signing.ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, signing.ModeAsymmetric, m)

	_, err = signing.ParseMode("quantum")
	assert.Error(t, err)
}

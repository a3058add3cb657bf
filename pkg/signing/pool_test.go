package signing

import (
	"testing"

	"github.com/plaenen/nsclient/pkg/command"
	"github.com/plaenen/nsclient/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCipherEngine_ReusesInstancePerKey(t *testing.T) {
	e := NewEngine(wire.NewCodec(), WithMode(ModeHybridSecretKey), WithPoolSizes(1, 1))
	id, err := command.GenerateIdentity()
	require.NoError(t, err)

	cmd := command.New(command.TypeReplace, command.FieldGUID, "alice.example", command.FieldValue, "hi")
	first, err := e.Sign(cmd, id)
	require.NoError(t, err)

	c := e.ciphers[0]
	require.Len(t, c.aeads, 1)
	var aead any
	for _, v := range c.aeads {
		aead = v
	}

	second, err := e.Sign(cmd, id)
	require.NoError(t, err)
	require.NoError(t, e.Verify(first, id.PublicKey))
	require.NoError(t, e.Verify(second, id.PublicKey))

	require.Len(t, c.aeads, 1, "same key must reuse its instance")
	for _, v := range c.aeads {
		assert.Same(t, aead, v)
	}

	t.Run("other keys get their own instance", func(t *testing.T) {
		other, err := command.GenerateIdentity()
		require.NoError(t, err)
		_, err = e.Sign(cmd, other)
		require.NoError(t, err)
		assert.Len(t, c.aeads, 2)
	})
}

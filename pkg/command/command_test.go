package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_PreservesFieldOrder(t *testing.T) {
	cmd := New(TypeReplace, FieldGUID, "alice.example", FieldField, "bio", FieldValue, "hi")

	require.Len(t, cmd.Fields, 3)
	assert.Equal(t, FieldGUID, cmd.Fields[0].Key)
	assert.Equal(t, FieldField, cmd.Fields[1].Key)
	assert.Equal(t, FieldValue, cmd.Fields[2].Key)
	assert.Equal(t, "alice.example", cmd.ServiceName())
}

func TestCommand_Set(t *testing.T) {
	cmd := New(TypeRead, FieldGUID, "g1")

	require.NoError(t, cmd.Set(FieldField, "bio"))
	require.NoError(t, cmd.Set(FieldGUID, "g2"))
	assert.Equal(t, "g2", cmd.GetString(FieldGUID))
	assert.Len(t, cmd.Fields, 2)

	cmd.Signature = "abcd"
	assert.ErrorIs(t, cmd.Set(FieldField, "x"), ErrSigned)
}

func TestCommand_Clone(t *testing.T) {
	cmd := New(TypeRead, FieldGUID, "g1")
	cp := cmd.Clone()
	require.NoError(t, cp.Set(FieldGUID, "g2"))

	assert.Equal(t, "g1", cmd.GetString(FieldGUID))
	assert.Equal(t, "g2", cp.GetString(FieldGUID))
}

func TestCommand_Anycast(t *testing.T) {
	assert.True(t, New(TypeCreate, FieldName, "bob").Anycast())
	assert.True(t, New(TypeSelect, FieldField, "x").Anycast())
	assert.True(t, New(TypeRead, FieldGUID, AllNamesService).Anycast())
	assert.False(t, New(TypeRead, FieldGUID, "bob").Anycast())
}

func TestRequestID_RoundTrip(t *testing.T) {
	id := RequestID(18446744073709551615)
	parsed, err := ParseRequestID(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseRequestID("not-a-number")
	assert.Error(t, err)
}

func TestGenerateIdentity(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)

	assert.True(t, id.CanSign())
	assert.Len(t, id.GUID, 40)
	assert.NotEmpty(t, id.Fingerprint())

	verifyOnly := &Identity{GUID: id.GUID, PublicKey: id.PublicKey}
	assert.False(t, verifyOnly.CanSign())
}

func TestBuilders(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)

	t.Run("replace", func(t *testing.T) {
		c := NewReplace("alice.example", "bio", "hi", id)
		assert.Equal(t, TypeReplace, c.Type)
		assert.Equal(t, "alice.example", c.ServiceName())
		assert.Equal(t, id.GUID, c.GetString(FieldWriter))
		assert.Same(t, id, c.Identity)
		assert.False(t, c.IsRead())
	})

	t.Run("read", func(t *testing.T) {
		c := NewRead("alice.example", "bio", nil)
		assert.True(t, c.IsRead())
		assert.Nil(t, c.Identity)
		_, ok := c.Get(FieldReader)
		assert.False(t, ok)
	})

	t.Run("append", func(t *testing.T) {
		c := NewAppend("alice.example", "tags", "x", id)
		assert.Equal(t, TypeAppend, c.Type)
		v, ok := c.Get(FieldValue)
		require.True(t, ok)
		assert.Equal(t, "x", v)
	})

	t.Run("unsigned read", func(t *testing.T) {
		assert.Equal(t, TypeReadUnsigned, NewReadUnsigned("g", "f").Type)
	})
}

package wire

import (
	"testing"
	"time"

	"github.com/plaenen/nsclient/pkg/command"
	"github.com/plaenen/nsclient/pkg/outcome"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodec_Command(t *testing.T) {
	codec := NewCodec()

	cmd := command.New(command.TypeReplace, command.FieldGUID, "alice.example", command.FieldField, "bio", command.FieldValue, "hi")
	cmd.Timestamp = time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	cmd.Nonce = "01HZX"
	cmd.Identity = &command.Identity{GUID: "G"}
	cmd.Signature = "cafe"
	cmd.CoordinateReads = true

	data, err := codec.Encode(&Message{Kind: KindCommand, RequestID: 18446744073709551000, ReplyTo: "inbox.1", Command: cmd})
	require.NoError(t, err)

	msg, err := codec.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, KindCommand, msg.Kind)
	assert.Equal(t, command.RequestID(18446744073709551000), msg.RequestID)
	assert.Equal(t, "inbox.1", msg.ReplyTo)

	got := msg.Command
	require.NotNil(t, got)
	assert.Equal(t, command.TypeReplace, got.Type)
	assert.Equal(t, cmd.Fields, got.Fields)
	assert.True(t, cmd.Timestamp.Equal(got.Timestamp))
	assert.Equal(t, "G", got.Identity.GUID)
	assert.Equal(t, "cafe", got.Signature)
	assert.True(t, got.CoordinateReads)
}

func TestCodec_CanonicalizeIsStable(t *testing.T) {
	codec := NewCodec()

	cmd := command.New(command.TypeReplace, command.FieldGUID, "g", command.FieldValue, 42)
	cmd.Timestamp = time.Now()
	cmd.Nonce = "n"
	cmd.Identity = &command.Identity{GUID: "G"}

	first, err := codec.Canonicalize(cmd)
	require.NoError(t, err)

	t.Run("repeatable", func(t *testing.T) {
		again, err := codec.Canonicalize(cmd)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	})

	t.Run("signature excluded", func(t *testing.T) {
		signed := cmd.Clone()
		signed.Signature = "abc"
		withSig, err := codec.Canonicalize(signed)
		require.NoError(t, err)
		assert.Equal(t, first, withSig)
	})

	t.Run("survives a wire round trip", func(t *testing.T) {
		data, err := codec.Encode(&Message{Kind: KindCommand, Command: cmd})
		require.NoError(t, err)
		msg, err := codec.Decode(data)
		require.NoError(t, err)

		decoded, err := codec.Canonicalize(msg.Command)
		require.NoError(t, err)
		assert.Equal(t, first, decoded)
	})

	t.Run("field change alters form", func(t *testing.T) {
		changed := cmd.Clone()
		require.NoError(t, changed.Set(command.FieldValue, 43))
		other, err := codec.Canonicalize(changed)
		require.NoError(t, err)
		assert.NotEqual(t, first, other)
	})
}

func TestCodec_CommandResult(t *testing.T) {
	codec := NewCodec()

	data, err := codec.Encode(&Message{
		Kind:      KindCommandResult,
		RequestID: 7,
		Responder: "replica-1",
		Code:      outcome.CodeBadGUID,
		Detail:    "guid not found",
	})
	require.NoError(t, err)

	msg, err := codec.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, KindCommandResult, msg.Kind)
	assert.Equal(t, command.RequestID(7), msg.RequestID)
	assert.Equal(t, "replica-1", msg.Responder)
	assert.Equal(t, outcome.CodeBadGUID, msg.Code)
	assert.Equal(t, "guid not found", msg.Detail)
}

func TestCodec_Resolution(t *testing.T) {
	codec := NewCodec()

	data, err := codec.Encode(&Message{
		Kind:      KindResolutionResponse,
		RequestID: 3,
		Service:   "alice.example",
		Endpoints: []string{"a", "b"},
	})
	require.NoError(t, err)

	msg, err := codec.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, KindResolutionResponse, msg.Kind)
	assert.Equal(t, "alice.example", msg.Service)
	assert.Equal(t, []string{"a", "b"}, msg.Endpoints)
	assert.False(t, msg.Failed)
}

func TestCodec_Decode(t *testing.T) {
	codec := NewCodec()

	t.Run("garbage", func(t *testing.T) {
		_, err := codec.Decode([]byte{0xff, 0xff, 0xff})
		assert.ErrorIs(t, err, ErrMalformed)
	})

	t.Run("unencodable kind", func(t *testing.T) {
		_, err := codec.Encode(&Message{Kind: "mystery"})
		assert.ErrorIs(t, err, ErrMalformed)
	})
}

func TestCodec_Msgpack(t *testing.T) {
	mp := NewCodec(WithFormat(FormatMsgpack))
	pb := NewCodec()
	assert.Equal(t, FormatMsgpack, mp.Format())

	cmd := command.New(command.TypeReplace, command.FieldGUID, "alice.example", command.FieldField, "bio", command.FieldValue, "hi")
	cmd.Timestamp = time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC)
	cmd.Nonce = "n"
	cmd.Identity = &command.Identity{GUID: "G"}

	data, err := mp.Encode(&Message{Kind: KindCommand, RequestID: 77, ReplyTo: "inbox.2", Command: cmd})
	require.NoError(t, err)
	assert.True(t, isMsgpackMap(data))

	t.Run("either codec decodes", func(t *testing.T) {
		for _, c := range []*Codec{mp, pb} {
			msg, err := c.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, command.RequestID(77), msg.RequestID)
			require.NotNil(t, msg.Command)
			assert.Equal(t, cmd.Fields, msg.Command.Fields)
			assert.True(t, cmd.Timestamp.Equal(msg.Command.Timestamp))
		}
	})

	t.Run("result values keep their shape", func(t *testing.T) {
		value := map[string]any{"n": float64(3), "tags": []any{"a", "b"}}
		data, err := mp.Encode(&Message{Kind: KindCommandResult, RequestID: 5, Code: outcome.CodeOK, Value: value})
		require.NoError(t, err)

		msg, err := pb.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, value, msg.Value)
	})

	t.Run("resolution", func(t *testing.T) {
		data, err := mp.Encode(&Message{Kind: KindResolutionResponse, Service: "svc", Endpoints: []string{"a", "b"}})
		require.NoError(t, err)

		msg, err := mp.Decode(data)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, msg.Endpoints)
		assert.False(t, msg.Failed)
	})

	t.Run("signing form does not depend on format", func(t *testing.T) {
		a, err := mp.Canonicalize(cmd)
		require.NoError(t, err)
		b, err := pb.Canonicalize(cmd)
		require.NoError(t, err)
		assert.Equal(t, a, b)
	})
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatProtobuf, "protobuf": FormatProtobuf, " MsgPack ": FormatMsgpack} {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := ParseFormat("xml")
	assert.Error(t, err)
}

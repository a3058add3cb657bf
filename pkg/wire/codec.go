// Package wire encodes commands, command results and resolution traffic.
//
// Every message is an envelope map with a "kind" discriminator, serialized as
// a protobuf Struct or as msgpack. Decode detects the format from the first
// byte, so peers configured differently still understand each other.
// Request ids travel as decimal strings because Struct numbers are float64.
// Canonicalize produces the deterministic byte form that gets signed; it is
// always protobuf regardless of the envelope format.
package wire

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/plaenen/nsclient/pkg/command"
	"github.com/plaenen/nsclient/pkg/outcome"
	"github.com/vmihailenco/msgpack/v5"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Format selects the envelope serialization.
type Format int

const (
	FormatProtobuf Format = iota
	FormatMsgpack
)

func (f Format) String() string {
	switch f {
	case FormatProtobuf:
		return "protobuf"
	case FormatMsgpack:
		return "msgpack"
	default:
		return fmt.Sprintf("format(%d)", int(f))
	}
}

// ParseFormat parses the textual form produced by String. Empty means
// protobuf.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "protobuf", "proto":
		return FormatProtobuf, nil
	case "msgpack":
		return FormatMsgpack, nil
	default:
		return 0, fmt.Errorf("unknown wire format %q", s)
	}
}

// Kind discriminates decoded messages.
type Kind string

const (
	KindCommand            Kind = "command"
	KindCommandResult      Kind = "command_result"
	KindResolutionRequest  Kind = "resolution_request"
	KindResolutionResponse Kind = "resolution_response"
	KindOther              Kind = "other"
)

var (
	// ErrMalformed is returned when bytes cannot be decoded into an envelope.
	ErrMalformed = errors.New("malformed message")
)

// Envelope keys.
const (
	keyKind       = "kind"
	keyRequestID  = "rid"
	keyReplyTo    = "reply_to"
	keyType       = "type"
	keyFields     = "fields"
	keyKey        = "k"
	keyValue      = "v"
	keyTimestamp  = "ts"
	keyNonce      = "nonce"
	keyWriter     = "writer"
	keySignature  = "sig"
	keyCoordinate = "coord"
	keyService    = "service"
	keyCode       = "code"
	keyDetail     = "detail"
	keyResponder  = "responder"
	keyEndpoints  = "endpoints"
	keyFailed     = "failed"
)

// Message is a decoded wire message. Only the fields relevant to Kind are set.
type Message struct {
	Kind      Kind
	RequestID command.RequestID
	// ReplyTo is the endpoint responses should be sent to.
	ReplyTo string

	Command *command.Command

	// Command results.
	Responder string
	Code      outcome.Code
	Value     any
	Detail    string

	// Resolution traffic.
	Service   string
	Endpoints []string
	Failed    bool
}

// Codec converts messages to and from bytes. It is safe for concurrent use.
type Codec struct {
	format Format
}

// Option configures a Codec.
type Option func(*Codec)

// WithFormat selects the format Encode writes.
func WithFormat(f Format) Option {
	return func(c *Codec) {
		c.format = f
	}
}

// NewCodec returns a codec writing protobuf Struct envelopes unless
// WithFormat says otherwise.
func NewCodec(opts ...Option) *Codec {
	c := &Codec{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Format returns the format Encode writes.
func (c *Codec) Format() Format {
	return c.format
}

var deterministic = proto.MarshalOptions{Deterministic: true}

// Encode serializes m.
func (c *Codec) Encode(m *Message) ([]byte, error) {
	fields := map[string]any{
		keyKind:      string(m.Kind),
		keyRequestID: m.RequestID.String(),
	}
	if m.ReplyTo != "" {
		fields[keyReplyTo] = m.ReplyTo
	}

	switch m.Kind {
	case KindCommand:
		if m.Command == nil {
			return nil, fmt.Errorf("%w: command message without command", ErrMalformed)
		}
		for k, v := range commandFields(m.Command, true) {
			fields[k] = v
		}
	case KindCommandResult:
		fields[keyResponder] = m.Responder
		fields[keyCode] = string(m.Code)
		fields[keyValue] = normalize(m.Value)
		fields[keyDetail] = m.Detail
	case KindResolutionRequest:
		fields[keyService] = m.Service
	case KindResolutionResponse:
		fields[keyService] = m.Service
		fields[keyEndpoints] = stringsToAny(m.Endpoints)
		fields[keyFailed] = m.Failed
	default:
		return nil, fmt.Errorf("%w: cannot encode kind %q", ErrMalformed, m.Kind)
	}

	if c.format == FormatMsgpack {
		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		enc.SetSortMapKeys(true)
		if err := enc.Encode(fields); err != nil {
			return nil, fmt.Errorf("failed to build envelope: %w", err)
		}
		return buf.Bytes(), nil
	}

	st, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to build envelope: %w", err)
	}
	return deterministic.Marshal(st)
}

// isMsgpackMap reports whether data starts with a msgpack map header. A
// protobuf Struct starts with the tag of field 1 instead.
func isMsgpackMap(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	b := data[0]
	return b&0xf0 == 0x80 || b == 0xde || b == 0xdf
}

func decodeEnvelope(data []byte) (map[string]any, error) {
	if isMsgpackMap(data) {
		var raw map[string]any
		if err := msgpack.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		return raw, nil
	}

	st := &structpb.Struct{}
	if err := proto.Unmarshal(data, st); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return st.AsMap(), nil
}

// Decode parses bytes produced by Encode in either format. Envelopes with an
// unrecognized kind decode to KindOther rather than failing.
func (c *Codec) Decode(data []byte) (*Message, error) {
	raw, err := decodeEnvelope(data)
	if err != nil {
		return nil, err
	}

	m := &Message{Kind: Kind(str(raw[keyKind]))}
	if rid := str(raw[keyRequestID]); rid != "" {
		id, err := command.ParseRequestID(rid)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		m.RequestID = id
	}
	m.ReplyTo = str(raw[keyReplyTo])

	switch m.Kind {
	case KindCommand:
		cmd, err := decodeCommand(raw)
		if err != nil {
			return nil, err
		}
		m.Command = cmd
	case KindCommandResult:
		m.Responder = str(raw[keyResponder])
		m.Code = outcome.Code(str(raw[keyCode]))
		m.Value = raw[keyValue]
		m.Detail = str(raw[keyDetail])
	case KindResolutionRequest:
		m.Service = str(raw[keyService])
	case KindResolutionResponse:
		m.Service = str(raw[keyService])
		m.Failed, _ = raw[keyFailed].(bool)
		if list, ok := raw[keyEndpoints].([]any); ok {
			for _, e := range list {
				if s := str(e); s != "" {
					m.Endpoints = append(m.Endpoints, s)
				}
			}
		}
	default:
		m.Kind = KindOther
	}
	return m, nil
}

// Canonicalize returns the deterministic signing form of cmd. The signature
// itself is excluded.
func (c *Codec) Canonicalize(cmd *command.Command) ([]byte, error) {
	st, err := structpb.NewStruct(commandFields(cmd, false))
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize command: %w", err)
	}
	return deterministic.Marshal(st)
}

func commandFields(cmd *command.Command, withSignature bool) map[string]any {
	list := make([]any, 0, len(cmd.Fields))
	for _, f := range cmd.Fields {
		list = append(list, map[string]any{keyKey: f.Key, keyValue: normalize(f.Value)})
	}
	fields := map[string]any{
		keyType:       string(cmd.Type),
		keyFields:     list,
		keyService:    cmd.Service,
		keyNonce:      cmd.Nonce,
		keyCoordinate: cmd.CoordinateReads,
	}
	if !cmd.Timestamp.IsZero() {
		fields[keyTimestamp] = cmd.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	if cmd.Identity != nil {
		fields[keyWriter] = cmd.Identity.GUID
	}
	if withSignature && cmd.Signature != "" {
		fields[keySignature] = cmd.Signature
	}
	return fields
}

func decodeCommand(raw map[string]any) (*command.Command, error) {
	cmd := &command.Command{
		Type:      command.Type(str(raw[keyType])),
		Service:   str(raw[keyService]),
		Nonce:     str(raw[keyNonce]),
		Signature: str(raw[keySignature]),
	}
	cmd.CoordinateReads, _ = raw[keyCoordinate].(bool)
	if ts := str(raw[keyTimestamp]); ts != "" {
		parsed, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("%w: bad timestamp: %v", ErrMalformed, err)
		}
		cmd.Timestamp = parsed
	}
	if writer := str(raw[keyWriter]); writer != "" {
		cmd.Identity = &command.Identity{GUID: writer}
	}
	list, _ := raw[keyFields].([]any)
	for _, item := range list {
		kv, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: bad field entry", ErrMalformed)
		}
		cmd.Fields = append(cmd.Fields, command.Field{Key: str(kv[keyKey]), Value: kv[keyValue]})
	}
	return cmd, nil
}

// normalize maps Go values onto the types structpb accepts.
func normalize(v any) any {
	switch x := v.(type) {
	case nil, bool, string, float64, map[string]any, []any:
		return x
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case uint64:
		return fmt.Sprint(x)
	case float32:
		return float64(x)
	case []string:
		return stringsToAny(x)
	case []byte:
		return string(x)
	case fmt.Stringer:
		return x.String()
	default:
		return fmt.Sprint(x)
	}
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

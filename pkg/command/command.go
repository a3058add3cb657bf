// Package command defines the commands issued to the naming service.
//
// A Command is an ordered set of named fields plus a type tag. Commands are
// built by callers, signed by the signing engine (which returns a signed
// copy) and never modified after that.
package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrSigned is returned when a signed command is modified.
	ErrSigned = errors.New("command is signed and immutable")

	// ErrNoService is returned when a command does not name a target record.
	ErrNoService = errors.New("command has no service name")
)

// Type is the command-type tag.
type Type string

const (
	TypeRead           Type = "Read"
	TypeReadUnsigned   Type = "ReadUnsigned"
	TypeReplace        Type = "Replace"
	TypeAppend         Type = "Append"
	TypeRemoveField    Type = "RemoveField"
	TypeCreate         Type = "Create"
	TypeDelete         Type = "Delete"
	TypeSelect         Type = "Select"
	TypeLookupIdentity Type = "LookupGuid"
)

// Well-known field keys.
const (
	FieldGUID   = "guid"
	FieldName   = "name"
	FieldField  = "field"
	FieldValue  = "value"
	FieldReader = "reader"
	FieldWriter = "writer"
)

// AllNamesService is the pseudo service name answered by any replica.
const AllNamesService = "*all-names*"

// RequestID identifies an outstanding command.
type RequestID uint64

func (id RequestID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseRequestID parses the decimal form produced by String.
func ParseRequestID(s string) (RequestID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid request id %q: %w", s, err)
	}
	return RequestID(v), nil
}

// Field is one named value of a command.
type Field struct {
	Key   string
	Value any
}

// Command is a single operation against a named record.
type Command struct {
	Type   Type
	Fields []Field

	// Service overrides the service name derived from the guid/name field.
	Service string

	// Set by the signing engine.
	Timestamp time.Time
	Nonce     string
	Signature string

	// Identity signs the command when it carries a private key. It is not
	// encoded on the wire; its GUID is.
	Identity *Identity

	// CoordinateReads asks the replicas to serve a read through the
	// coordinated (linearizable) path.
	CoordinateReads bool
}

// New creates a command of type t from alternating key/value pairs.
func New(t Type, kv ...any) *Command {
	c := &Command{Type: t}
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		c.Fields = append(c.Fields, Field{Key: key, Value: kv[i+1]})
	}
	return c
}

// Set replaces the value of key, appending the field when absent.
func (c *Command) Set(key string, value any) error {
	if c.Signed() {
		return ErrSigned
	}
	for i := range c.Fields {
		if c.Fields[i].Key == key {
			c.Fields[i].Value = value
			return nil
		}
	}
	c.Fields = append(c.Fields, Field{Key: key, Value: value})
	return nil
}

// Get returns the value of key.
func (c *Command) Get(key string) (any, bool) {
	for _, f := range c.Fields {
		if f.Key == key {
			return f.Value, true
		}
	}
	return nil, false
}

// GetString returns the value of key rendered as a string.
func (c *Command) GetString(key string) string {
	v, ok := c.Get(key)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Signed reports whether a signature is attached.
func (c *Command) Signed() bool {
	return c.Signature != ""
}

// Clone returns a deep copy of the field list; the identity is shared.
func (c *Command) Clone() *Command {
	cp := *c
	cp.Fields = append([]Field(nil), c.Fields...)
	return &cp
}

// ServiceName returns the record the command targets.
func (c *Command) ServiceName() string {
	if c.Service != "" {
		return c.Service
	}
	if s := c.GetString(FieldGUID); s != "" {
		return s
	}
	return c.GetString(FieldName)
}

// Anycast reports whether any replica may serve the command, so it bypasses
// active-replica resolution.
func (c *Command) Anycast() bool {
	switch c.Type {
	case TypeCreate, TypeDelete, TypeSelect:
		return true
	}
	return c.ServiceName() == AllNamesService
}

// IsRead reports whether the command only reads state.
func (c *Command) IsRead() bool {
	switch c.Type {
	case TypeRead, TypeReadUnsigned, TypeLookupIdentity, TypeSelect:
		return true
	}
	return false
}

// Summary renders a short human readable description.
func (c *Command) Summary() string {
	var b strings.Builder
	b.WriteString(string(c.Type))
	for _, f := range c.Fields {
		if f.Key == FieldValue {
			continue
		}
		fmt.Fprintf(&b, " %s=%v", f.Key, f.Value)
	}
	return b.String()
}

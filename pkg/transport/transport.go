// Package transport moves opaque byte messages between named endpoints.
//
// The client core needs only two things from a transport: send bytes to an
// endpoint, and have inbound bytes delivered to a handler. Handlers run on
// the transport's own delivery goroutine and must not block.
package transport

import (
	"context"
	"errors"
)

var (
	// ErrUnknownEndpoint is returned when sending to an endpoint nobody serves.
	ErrUnknownEndpoint = errors.New("unknown endpoint")

	// ErrClosed is returned when using a closed transport.
	ErrClosed = errors.New("transport closed")

	// ErrAlreadySubscribed is returned when a second handler is registered.
	ErrAlreadySubscribed = errors.New("handler already registered")
)

// Handler receives one inbound message.
type Handler func(ctx context.Context, data []byte)

// Transport is bound to one local endpoint address.
type Transport interface {
	// Address is the endpoint peers reply to.
	Address() string

	// SendTo delivers data to endpoint.
	SendTo(ctx context.Context, endpoint string, data []byte) error

	// Subscribe registers the handler for messages addressed to Address.
	Subscribe(h Handler) error

	// Close releases the transport.
	Close() error
}

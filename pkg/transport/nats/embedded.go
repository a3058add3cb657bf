package nats

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServer wraps an in-process NATS server for tests and local runs.
type EmbeddedServer struct {
	server *server.Server
	url    string
}

// EmbeddedOptions configures StartEmbeddedServer.
type EmbeddedOptions struct {
	Host string
	// Port -1 picks a random free port.
	Port          int
	Authorization string
	// NKeys lists the public user nkeys allowed to connect.
	NKeys []string
}

// StartEmbeddedServer starts a core NATS server and waits until it accepts
// connections.
func StartEmbeddedServer(o EmbeddedOptions) (*EmbeddedServer, error) {
	if o.Host == "" {
		o.Host = "127.0.0.1"
	}
	if o.Port == 0 {
		o.Port = -1
	}
	opts := &server.Options{
		Host:          o.Host,
		Port:          o.Port,
		Authorization: o.Authorization,
		NoSigs:        true,
	}
	for _, pub := range o.NKeys {
		opts.Nkeys = append(opts.Nkeys, &server.NkeyUser{Nkey: pub})
	}

	s, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded server: %w", err)
	}

	go s.Start()

	if !s.ReadyForConnections(5 * time.Second) {
		s.Shutdown()
		return nil, fmt.Errorf("server not ready")
	}

	return &EmbeddedServer{
		server: s,
		url:    s.ClientURL(),
	}, nil
}

// URL returns the connection URL for the embedded server.
func (e *EmbeddedServer) URL() string {
	return e.url
}

// Shutdown stops the embedded server.
func (e *EmbeddedServer) Shutdown() {
	if e.server != nil {
		e.server.Shutdown()
		e.server.WaitForShutdown()
	}
}

// Running reports whether the server is still accepting clients.
func (e *EmbeddedServer) Running() bool {
	return e.server.Running()
}

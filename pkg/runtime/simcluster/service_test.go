package simcluster

import (
	"context"
	"testing"
	"time"

	"github.com/plaenen/nsclient/pkg/client"
	"github.com/plaenen/nsclient/pkg/command"
	"github.com/plaenen/nsclient/pkg/replicasim"
	"github.com/plaenen/nsclient/pkg/runner"
	"github.com/plaenen/nsclient/pkg/runtime/embeddednats"
	"github.com/plaenen/nsclient/pkg/security/credentials"
	natstransport "github.com/plaenen/nsclient/pkg/transport/nats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_UnderRunner(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping NATS integration test in short mode")
	}

	natsSvc := embeddednats.New(embeddednats.WithServerOptions(natstransport.EmbeddedOptions{Port: -1, Authorization: "tok"}))
	simSvc := New(replicasim.New(replicasim.Config{}),
		WithURLFunc(natsSvc.URL),
		WithCredentials(credentials.NewStaticTokenProvider("tok", 0)),
		WithSeeds(Seed{GUID: "alice.example", Name: "alice", Fields: map[string]any{"bio": "hello"}}),
	)
	ready := make(chan struct{})
	r := runner.New([]runner.Service{natsSvc, simSvc, &runner.Func{
		ServiceName: "ready",
		OnStart: func(context.Context) error {
			close(ready)
			return nil
		},
	}})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	defer func() {
		cancel()
		assert.NoError(t, <-done)
	}()

	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("services did not start")
	}
	require.NoError(t, r.HealthCheck(ctx))

	tr, err := natstransport.NewTransport(ctx, natstransport.Config{
		URL:                natsSvc.URL(),
		CredentialProvider: credentials.NewStaticTokenProvider("tok", 0),
	})
	require.NoError(t, err)
	c, err := client.New(tr, client.WithBootstrap(simSvc.Cluster().Bootstrap()...), client.WithReadTimeout(5*time.Second))
	require.NoError(t, err)
	defer c.Close()

	out, err := c.SendAndWait(ctx, command.NewReadUnsigned("alice.example", "bio"))
	require.NoError(t, err)
	assert.Equal(t, "hello", out.Value)
}

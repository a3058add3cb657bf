package embeddednats

import (
	"context"
	"testing"

	natstransport "github.com/plaenen/nsclient/pkg/transport/nats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_Lifecycle(t *testing.T) {
	ctx := context.Background()

	t.Run("start, check, stop", func(t *testing.T) {
		svc := New(WithServerOptions(natstransport.EmbeddedOptions{Port: -1, Authorization: "tok"}))
		assert.Equal(t, "embedded-nats", svc.Name())
		assert.Empty(t, svc.URL())
		assert.Error(t, svc.HealthCheck(ctx))

		require.NoError(t, svc.Start(ctx))
		assert.NotEmpty(t, svc.URL())
		assert.NoError(t, svc.HealthCheck(ctx))

		require.NoError(t, svc.Stop(ctx))
		assert.Error(t, svc.HealthCheck(ctx))
	})

	t.Run("stop is safe without start", func(t *testing.T) {
		assert.NoError(t, New().Stop(ctx))
	})
}

package middleware

import (
	"context"

	"github.com/plaenen/nsclient/pkg/command"
	"github.com/plaenen/nsclient/pkg/observability"
	"github.com/plaenen/nsclient/pkg/outcome"
)

// Tracing opens a server span named "<name>.<command type>" around the
// handler.
func Tracing(tel *observability.Telemetry, name string) Middleware {
	if tel == nil {
		tel = observability.Disabled()
	}
	mw := observability.NewHandlerMiddleware(tel, name)

	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, id command.RequestID, cmd *command.Command) outcome.Outcome {
			return mw.WrapHandle(ctx, id, cmd, func(ctx context.Context) outcome.Outcome {
				return next.Handle(ctx, id, cmd)
			})
		})
	}
}

package middleware

import (
	"context"

	"github.com/plaenen/nsclient/pkg/command"
	"github.com/plaenen/nsclient/pkg/outcome"
)

// Authorizer decides whether a command may run. When it may not, the
// returned outcome is sent back instead.
type Authorizer interface {
	Authorize(ctx context.Context, cmd *command.Command) (outcome.Outcome, bool)
}

// AuthorizerFunc adapts a function to an Authorizer.
type AuthorizerFunc func(ctx context.Context, cmd *command.Command) (outcome.Outcome, bool)

func (f AuthorizerFunc) Authorize(ctx context.Context, cmd *command.Command) (outcome.Outcome, bool) {
	return f(ctx, cmd)
}

// Authorization runs authorizer before the handler.
func Authorization(authorizer Authorizer) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, id command.RequestID, cmd *command.Command) outcome.Outcome {
			if out, ok := authorizer.Authorize(ctx, cmd); !ok {
				return out
			}
			return next.Handle(ctx, id, cmd)
		})
	}
}

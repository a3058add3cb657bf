// Package middleware composes the handler chain a replica runs for every
// inbound command.
package middleware

import (
	"context"

	"github.com/plaenen/nsclient/pkg/command"
	"github.com/plaenen/nsclient/pkg/outcome"
)

// Handler executes one command and returns its outcome.
type Handler interface {
	Handle(ctx context.Context, id command.RequestID, cmd *command.Command) outcome.Outcome
}

// HandlerFunc adapts a function to a Handler.
type HandlerFunc func(ctx context.Context, id command.RequestID, cmd *command.Command) outcome.Outcome

func (f HandlerFunc) Handle(ctx context.Context, id command.RequestID, cmd *command.Command) outcome.Outcome {
	return f(ctx, id, cmd)
}

// Middleware wraps a Handler.
type Middleware func(Handler) Handler

// Chain applies middlewares so the first one listed runs outermost.
func Chain(h Handler, mws ...Middleware) Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/plaenen/nsclient/pkg/command"
	"github.com/plaenen/nsclient/pkg/outcome"
)

// Recovery turns a panicking handler into a GENERIC_ERROR outcome.
func Recovery(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, id command.RequestID, cmd *command.Command) (out outcome.Outcome) {
			defer func() {
				if r := recover(); r != nil {
					logger.ErrorContext(ctx, "command handler panicked",
						slog.String("request_id", id.String()),
						slog.String("command_type", string(cmd.Type)),
						slog.Any("panic", r),
						slog.String("stack_trace", string(debug.Stack())),
					)
					out = outcome.Failure(outcome.KindGeneralFailure, outcome.CodeGenericError,
						fmt.Sprintf("command handler panicked: %v", r))
				}
			}()

			return next.Handle(ctx, id, cmd)
		})
	}
}

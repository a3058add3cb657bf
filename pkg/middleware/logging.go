package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/plaenen/nsclient/pkg/command"
	"github.com/plaenen/nsclient/pkg/outcome"
)

// Logging logs every command with its outcome and duration.
func Logging(logger *slog.Logger) Middleware {
	if logger == nil {
		logger = slog.Default()
	}

	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, id command.RequestID, cmd *command.Command) outcome.Outcome {
			start := time.Now()

			logger.DebugContext(ctx, "executing command",
				slog.String("command_type", string(cmd.Type)),
				slog.String("request_id", id.String()),
				slog.String("service", cmd.ServiceName()),
				slog.Bool("signed", cmd.Signed()),
			)

			out := next.Handle(ctx, id, cmd)
			duration := time.Since(start)

			if !out.OK() {
				logger.InfoContext(ctx, "command failed",
					slog.String("command_type", string(cmd.Type)),
					slog.String("request_id", id.String()),
					slog.String("code", string(out.Code)),
					slog.String("detail", out.Detail),
					slog.Int64("duration_ms", duration.Milliseconds()),
				)
				return out
			}

			logger.DebugContext(ctx, "command executed",
				slog.String("command_type", string(cmd.Type)),
				slog.String("request_id", id.String()),
				slog.Int64("duration_ms", duration.Milliseconds()),
			)
			return out
		})
	}
}

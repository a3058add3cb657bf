package middleware

import (
	"context"

	"github.com/plaenen/nsclient/pkg/command"
	"github.com/plaenen/nsclient/pkg/outcome"
)

// Validator inspects a command before it runs. A non-nil error rejects it.
type Validator func(cmd *command.Command) error

// Validation rejects malformed commands before they reach the handler.
// Every command needs a type, and every non-anycast command must name the
// record it targets.
func Validation(validators ...Validator) Middleware {
	return func(next Handler) Handler {
		return HandlerFunc(func(ctx context.Context, id command.RequestID, cmd *command.Command) outcome.Outcome {
			if cmd == nil || cmd.Type == "" {
				return outcome.Failure(outcome.KindUnsupportedOperation, outcome.CodeOperationNotSupported, "command type is required")
			}
			if !cmd.Anycast() && cmd.ServiceName() == "" {
				return outcome.Failure(outcome.KindBadIdentity, outcome.CodeBadGUID, "command names no record")
			}
			for _, v := range validators {
				if err := v(cmd); err != nil {
					return outcome.Failure(outcome.KindGeneralFailure, outcome.CodeGenericError, err.Error())
				}
			}

			return next.Handle(ctx, id, cmd)
		})
	}
}

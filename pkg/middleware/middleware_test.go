package middleware

import (
	"context"
	"errors"
	"testing"

	"github.com/plaenen/nsclient/pkg/command"
	"github.com/plaenen/nsclient/pkg/observability"
	"github.com/plaenen/nsclient/pkg/outcome"
	"github.com/stretchr/testify/assert"
)

func read() *command.Command {
	return command.New(command.TypeRead, command.FieldGUID, "alice.example", command.FieldField, "bio")
}

func ok(v any) Handler {
	return HandlerFunc(func(context.Context, command.RequestID, *command.Command) outcome.Outcome {
		return outcome.Success(v)
	})
}

func TestChain_Order(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next Handler) Handler {
			return HandlerFunc(func(ctx context.Context, id command.RequestID, cmd *command.Command) outcome.Outcome {
				order = append(order, name)
				return next.Handle(ctx, id, cmd)
			})
		}
	}

	h := Chain(ok("v"), mark("outer"), mark("inner"))
	out := h.Handle(context.Background(), 1, read())

	assert.Equal(t, "v", out.Value)
	assert.Equal(t, []string{"outer", "inner"}, order)
}

func TestRecovery(t *testing.T) {
	h := Chain(HandlerFunc(func(context.Context, command.RequestID, *command.Command) outcome.Outcome {
		panic("store corrupted")
	}), Recovery(nil))

	out := h.Handle(context.Background(), 1, read())
	assert.Equal(t, outcome.CodeGenericError, out.Code)
	assert.Contains(t, out.Detail, "store corrupted")
}

func TestValidation(t *testing.T) {
	h := Chain(ok("v"), Validation(func(cmd *command.Command) error {
		if cmd.GetString(command.FieldField) == "secret" {
			return errors.New("field is reserved")
		}
		return nil
	}))
	ctx := context.Background()

	t.Run("valid", func(t *testing.T) {
		assert.True(t, h.Handle(ctx, 1, read()).OK())
	})

	t.Run("missing type", func(t *testing.T) {
		out := h.Handle(ctx, 1, command.New("", command.FieldGUID, "g"))
		assert.Equal(t, outcome.KindUnsupportedOperation, out.Kind)
	})

	t.Run("missing record", func(t *testing.T) {
		out := h.Handle(ctx, 1, command.New(command.TypeRead, command.FieldField, "bio"))
		assert.Equal(t, outcome.CodeBadGUID, out.Code)
	})

	t.Run("anycast needs no record", func(t *testing.T) {
		assert.True(t, h.Handle(ctx, 1, command.New(command.TypeSelect, command.FieldField, "bio")).OK())
	})

	t.Run("custom validator", func(t *testing.T) {
		out := h.Handle(ctx, 1, command.New(command.TypeRead, command.FieldGUID, "g", command.FieldField, "secret"))
		assert.Equal(t, outcome.CodeGenericError, out.Code)
		assert.Equal(t, "field is reserved", out.Detail)
	})
}

func TestAuthorization(t *testing.T) {
	deny := AuthorizerFunc(func(_ context.Context, cmd *command.Command) (outcome.Outcome, bool) {
		if !cmd.Signed() {
			return outcome.Failure(outcome.KindAccessDenied, outcome.CodeAccessDenied, "unsigned command"), false
		}
		return outcome.Outcome{}, true
	})
	h := Chain(ok("v"), Authorization(deny))

	out := h.Handle(context.Background(), 1, read())
	assert.Equal(t, outcome.KindAccessDenied, out.Kind)
}

func TestLoggingAndTracing(t *testing.T) {
	h := Chain(HandlerFunc(func(context.Context, command.RequestID, *command.Command) outcome.Outcome {
		return outcome.Failure(outcome.KindFieldNotFound, outcome.CodeFieldNotFound, "bio")
	}), Tracing(observability.Disabled(), "replica-1"), Logging(nil))

	out := h.Handle(context.Background(), 5, read())
	assert.Equal(t, outcome.CodeFieldNotFound, out.Code)
}

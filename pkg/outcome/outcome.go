// Package outcome classifies wire-level command results into typed outcomes.
//
// An Outcome is either a success carrying a value (possibly an explicit null)
// or a failure carrying a Kind, the original wire code and a detail message.
// Timeouts are outcomes too, so callers can tell "no answer yet" apart from
// "the server said no" without inspecting errors.
package outcome

import (
	"fmt"
	"time"
)

// Kind categorizes an outcome.
type Kind int

const (
	KindNone Kind = iota
	KindSignatureInvalid
	KindBadIdentity
	KindFieldNotFound
	KindAccessDenied
	KindVerificationError
	KindDuplicateName
	KindDuplicateField
	KindUnsupportedOperation
	KindTimeout
	KindGeneralFailure
	KindUnknownCode
)

var kindNames = map[Kind]string{
	KindNone:                 "none",
	KindSignatureInvalid:     "signature-invalid",
	KindBadIdentity:          "bad-identity",
	KindFieldNotFound:        "field-not-found",
	KindAccessDenied:         "access-denied",
	KindVerificationError:    "verification-error",
	KindDuplicateName:        "duplicate-name",
	KindDuplicateField:       "duplicate-field",
	KindUnsupportedOperation: "unsupported-operation",
	KindTimeout:              "timeout",
	KindGeneralFailure:       "general-failure",
	KindUnknownCode:          "unknown-code",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Outcome is the typed result of a command.
type Outcome struct {
	// Value is the returned payload of a successful command.
	Value any
	// Null is set when the server answered with the explicit null result.
	Null bool

	Kind   Kind
	Code   Code
	Detail string
}

// Success builds a successful outcome carrying v.
func Success(v any) Outcome {
	return Outcome{Value: v, Code: CodeOK}
}

// Null builds the explicit null-result outcome.
func Null() Outcome {
	return Outcome{Null: true, Code: CodeNullResult}
}

// Failure builds a failed outcome. kind must not be KindNone.
func Failure(kind Kind, code Code, detail string) Outcome {
	if kind == KindNone {
		kind = KindUnknownCode
	}
	return Outcome{Kind: kind, Code: code, Detail: detail}
}

// Timeout builds the outcome for a wait that exceeded its budget.
func Timeout(detail string) Outcome {
	return Outcome{Kind: KindTimeout, Code: CodeTimeout, Detail: detail}
}

// OK reports whether the outcome is a success (including null).
func (o Outcome) OK() bool {
	return o.Kind == KindNone
}

// TimedOut reports whether the outcome is a timeout.
func (o Outcome) TimedOut() bool {
	return o.Kind == KindTimeout
}

// Err converts a failed outcome to an error matching the sentinel of its kind.
// Returns nil for successful outcomes.
func (o Outcome) Err() error {
	if o.OK() {
		return nil
	}
	return &ProtocolError{Kind: o.Kind, Code: o.Code, Detail: o.Detail}
}

func (o Outcome) String() string {
	switch {
	case o.Null:
		return "success(null)"
	case o.OK():
		return fmt.Sprintf("success(%v)", o.Value)
	default:
		return fmt.Sprintf("failure(%s, %s, %q)", o.Kind, o.Code, o.Detail)
	}
}

// Result is a command result received from a responder.
type Result struct {
	RequestID  uint64
	Responder  string
	Code       Code
	Value      any
	Detail     string
	ReceivedAt time.Time
	Latency    time.Duration
}

// Outcome classifies the result.
func (r *Result) Outcome() Outcome {
	if r == nil {
		return Failure(KindUnknownCode, "", "nil result")
	}
	if r.Code.Kind() == KindNone {
		return Classify(r.Code, r.Value)
	}
	if r.Detail == "" {
		return Classify(r.Code, r.Value)
	}
	return Classify(r.Code, r.Detail)
}

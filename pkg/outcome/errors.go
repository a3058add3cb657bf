package outcome

import (
	"errors"
	"fmt"
)

var (
	// ErrSignatureInvalid is returned when the server rejected the command signature.
	ErrSignatureInvalid = errors.New("signature invalid")

	// ErrBadIdentity is returned for unknown, duplicate or unauthorized identities.
	ErrBadIdentity = errors.New("bad identity")

	// ErrFieldNotFound is returned when the addressed field does not exist.
	ErrFieldNotFound = errors.New("field not found")

	// ErrAccessDenied is returned when the identity may not access the field.
	ErrAccessDenied = errors.New("access denied")

	// ErrVerification is returned when account verification failed.
	ErrVerification = errors.New("verification error")

	// ErrDuplicateName is returned when a name is already registered.
	ErrDuplicateName = errors.New("duplicate name")

	// ErrDuplicateField is returned when a field already exists.
	ErrDuplicateField = errors.New("duplicate field")

	// ErrUnsupportedOperation is returned when the command type is not supported.
	ErrUnsupportedOperation = errors.New("operation not supported")

	// ErrTimeout is returned when no response arrived within the read timeout.
	ErrTimeout = errors.New("timeout")

	// ErrGeneralFailure is returned for known server-side processing failures.
	ErrGeneralFailure = errors.New("general failure")

	// ErrUnknownCode is returned when the response code is not recognized.
	ErrUnknownCode = errors.New("unknown response code")
)

var kindErrors = map[Kind]error{
	KindSignatureInvalid:     ErrSignatureInvalid,
	KindBadIdentity:          ErrBadIdentity,
	KindFieldNotFound:        ErrFieldNotFound,
	KindAccessDenied:         ErrAccessDenied,
	KindVerificationError:    ErrVerification,
	KindDuplicateName:        ErrDuplicateName,
	KindDuplicateField:       ErrDuplicateField,
	KindUnsupportedOperation: ErrUnsupportedOperation,
	KindTimeout:              ErrTimeout,
	KindGeneralFailure:       ErrGeneralFailure,
	KindUnknownCode:          ErrUnknownCode,
}

// ProtocolError is a failed outcome surfaced as a Go error.
type ProtocolError struct {
	Kind   Kind
	Code   Code
	Detail string
}

func (e *ProtocolError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s (code: %s)", e.Kind, e.Code)
	}
	return fmt.Sprintf("%s: %s (code: %s)", e.Kind, e.Detail, e.Code)
}

func (e *ProtocolError) Is(target error) bool {
	return kindErrors[e.Kind] == target
}

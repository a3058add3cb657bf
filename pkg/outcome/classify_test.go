package outcome

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_Success(t *testing.T) {
	o := Classify(CodeOK, "hi")
	assert.True(t, o.OK())
	assert.False(t, o.Null)
	assert.Equal(t, "hi", o.Value)
	assert.NoError(t, o.Err())
}

func TestClassify_BadGUID(t *testing.T) {
	o := Classify(CodeBadGUID, "guid not found")
	assert.False(t, o.OK())
	assert.Equal(t, KindBadIdentity, o.Kind)
	assert.Equal(t, "guid not found", o.Detail)
	assert.ErrorIs(t, o.Err(), ErrBadIdentity)
}

func TestClassify_Null(t *testing.T) {
	t.Run("null code", func(t *testing.T) {
		o := Classify(CodeNullResult, nil)
		assert.True(t, o.OK())
		assert.True(t, o.Null)
	})

	t.Run("null sentinel payload", func(t *testing.T) {
		o := Classify(CodeOK, LegacyNull)
		assert.True(t, o.Null)
	})
}

func TestClassify_Totality(t *testing.T) {
	for _, code := range KnownCodes() {
		o := Classify(code, "detail")
		if code == CodeOK || code == CodeNullResult {
			assert.True(t, o.OK(), "code %s", code)
			continue
		}
		assert.False(t, o.OK(), "code %s", code)
		assert.NotEqual(t, KindUnknownCode, o.Kind, "code %s", code)
		assert.Equal(t, code, o.Code)
	}
}

func TestClassify_UnknownCode(t *testing.T) {
	o := Classify(Code("MYSTERY_ERROR"), "what happened")
	assert.False(t, o.OK())
	assert.Equal(t, KindUnknownCode, o.Kind)
	assert.Equal(t, Code("MYSTERY_ERROR"), o.Code)
	assert.Equal(t, "what happened", o.Detail)
	assert.ErrorIs(t, o.Err(), ErrUnknownCode)
}

func TestClassify_KindMapping(t *testing.T) {
	tests := []struct {
		code Code
		kind Kind
		err  error
	}{
		{CodeSignatureError, KindSignatureInvalid, ErrSignatureInvalid},
		{CodeDuplicateGUID, KindBadIdentity, ErrBadIdentity},
		{CodeBadAccount, KindBadIdentity, ErrBadIdentity},
		{CodeBadField, KindFieldNotFound, ErrFieldNotFound},
		{CodeAccessDenied, KindAccessDenied, ErrAccessDenied},
		{CodeVerificationError, KindVerificationError, ErrVerification},
		{CodeDuplicateName, KindDuplicateName, ErrDuplicateName},
		{CodeDuplicateField, KindDuplicateField, ErrDuplicateField},
		{CodeOperationNotSupported, KindUnsupportedOperation, ErrUnsupportedOperation},
		{CodeTimeout, KindTimeout, ErrTimeout},
		{CodeJSONParseError, KindGeneralFailure, ErrGeneralFailure},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			o := Classify(tt.code, "x")
			assert.Equal(t, tt.kind, o.Kind)
			assert.True(t, errors.Is(o.Err(), tt.err))
		})
	}
}

func TestClassifyLegacy(t *testing.T) {
	t.Run("bad guid matches structured form", func(t *testing.T) {
		legacy := ClassifyLegacy("+NO+ +BADGUID+ guid not found")
		structured := Classify(CodeBadGUID, "guid not found")
		assert.Equal(t, structured, legacy)
	})

	t.Run("null", func(t *testing.T) {
		assert.Equal(t, Null(), ClassifyLegacy(LegacyNull))
	})

	t.Run("ok marker", func(t *testing.T) {
		o := ClassifyLegacy(LegacyOK)
		assert.True(t, o.OK())
		assert.False(t, o.Null)
		assert.Nil(t, o.Value)
	})

	t.Run("bare value", func(t *testing.T) {
		assert.Equal(t, Success("hi"), ClassifyLegacy("hi"))
	})

	t.Run("unknown legacy code keeps code", func(t *testing.T) {
		o := ClassifyLegacy("+NO+ +WEIRD+ oops now")
		assert.Equal(t, KindUnknownCode, o.Kind)
		assert.Equal(t, Code("+WEIRD+"), o.Code)
		assert.Equal(t, "oops now", o.Detail)
	})

	t.Run("code without detail", func(t *testing.T) {
		o := ClassifyLegacy("+NO+ +ACCESS_DENIED+")
		assert.Equal(t, KindAccessDenied, o.Kind)
		assert.Empty(t, o.Detail)
	})
}

func TestLegacyText_RoundTrip(t *testing.T) {
	for name, o := range map[string]Outcome{
		"valueless success": Success(nil),
		"null":              Null(),
		"value":             Success("hi"),
		"field not found":   Failure(KindFieldNotFound, CodeFieldNotFound, "bio"),
		"unknown code":      Failure(KindUnknownCode, Code("+WEIRD+"), "oops"),
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, o, ClassifyLegacy(LegacyText(o)))
		})
	}
}

func TestLegacyText_Timeout(t *testing.T) {
	text := LegacyText(Timeout("for command read"))
	assert.Equal(t, "+NO+ +TIMEOUT+ for command read", text)

	back := ClassifyLegacy(text)
	require.True(t, back.TimedOut())
	assert.Equal(t, "for command read", back.Detail)
}

func TestResult_Outcome(t *testing.T) {
	r := &Result{Code: CodeOK, Value: "hi"}
	assert.Equal(t, Success("hi"), r.Outcome())

	r = &Result{Code: CodeFieldNotFound, Detail: "bio"}
	o := r.Outcome()
	assert.Equal(t, KindFieldNotFound, o.Kind)
	assert.Equal(t, "bio", o.Detail)
}

package outcome

import (
	"fmt"
	"strings"
)

// Legacy text markers.
const (
	LegacyOK   = "+OK+"
	LegacyNull = "+NULL+"
	LegacyBad  = "+NO+"
)

// legacyCodes maps legacy textual codes to their structured form.
var legacyCodes = map[string]Code{
	"+BAD_SIGNATURE+":         CodeSignatureError,
	"+ACCESS_DENIED+":         CodeAccessDenied,
	"+STALE_COMMMAND+":        CodeStaleCommand,
	"+OPERATIONNOTSUPPORTED+": CodeOperationNotSupported,
	"+QUERYPROCESSINGERROR+":  CodeQueryProcessingError,
	"+VERIFICATIONERROR+":     CodeVerificationError,
	"+BADACCESSORGUID+":       CodeBadAccessor,
	"+BADGUID+":               CodeBadGUID,
	"+BADACCOUNT+":            CodeBadAccount,
	"+BADUSER+":               CodeBadUser,
	"+BADGROUP+":              CodeBadGroup,
	"+BADFIELD+":              CodeBadField,
	"+FIELDNOTFOUND+":         CodeFieldNotFound,
	"+DUPLICATEUSER+":         CodeDuplicateUser,
	"+DUPLICATEGUID+":         CodeDuplicateGUID,
	"+DUPLICATEGROUP+":        CodeDuplicateGroup,
	"+DUPLICATEFIELD+":        CodeDuplicateField,
	"+DUPLICATENAME+":         CodeDuplicateName,
	"+JSONPARSEERROR+":        CodeJSONParseError,
	"+UPDATEERROR+":           CodeUpdateError,
	"+UPDATETIMEOUT+":         CodeTimeout,
	"+SELECTERROR+":           CodeSelectError,
	"+GENERICERROR+":          CodeGenericError,
	"+FAIL_ACTIVE+":           CodeActiveReplicaError,
	"+INVALID_ACTIVE+":        CodeActiveReplicaError,
	"+TIMEOUT+":               CodeTimeout,
}

// Classify maps a wire code and payload to an Outcome. For failures the
// payload is rendered as the detail message.
func Classify(code Code, payload any) Outcome {
	kind := code.Kind()
	if kind != KindNone {
		return Failure(kind, code, detailOf(payload))
	}
	if code == CodeNullResult {
		return Null()
	}
	if s, ok := payload.(string); ok && s == LegacyNull {
		return Null()
	}
	return Success(payload)
}

// ClassifyLegacy decodes a textual response of the form "+OK+", "+NULL+",
// "+NO+ <code> <detail...>" or a bare value, and classifies it exactly as the
// structured form would. A bare "+OK+" is a success without a value.
func ClassifyLegacy(text string) Outcome {
	switch {
	case text == LegacyOK:
		return Success(nil)
	case text == LegacyNull:
		return Null()
	case strings.HasPrefix(text, LegacyBad):
		rest := strings.TrimSpace(strings.TrimPrefix(text, LegacyBad))
		legacy, detail, _ := strings.Cut(rest, " ")
		code, ok := legacyCodes[legacy]
		if !ok {
			code = Code(legacy)
		}
		return Classify(code, strings.TrimSpace(detail))
	default:
		return Classify(CodeOK, text)
	}
}

// LegacyText renders an outcome in the legacy textual form.
func LegacyText(o Outcome) string {
	switch {
	case o.Null:
		return LegacyNull
	case o.OK():
		if o.Value == nil {
			return LegacyOK
		}
		return fmt.Sprint(o.Value)
	}
	for legacy, code := range legacyCodes {
		if code == o.Code && legacy != "+UPDATETIMEOUT+" && legacy != "+FAIL_ACTIVE+" {
			return strings.TrimSpace(LegacyBad + " " + legacy + " " + o.Detail)
		}
	}
	return strings.TrimSpace(LegacyBad + " " + string(o.Code) + " " + o.Detail)
}

func detailOf(payload any) string {
	switch v := payload.(type) {
	case nil:
		return ""
	case string:
		return v
	case error:
		return v.Error()
	default:
		return fmt.Sprint(v)
	}
}

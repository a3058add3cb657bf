package outcome

// Code is a wire-level response code as carried in a command result.
type Code string

// Structured response codes understood by the classifier.
const (
	CodeOK                    Code = "OK"
	CodeNullResult            Code = "NULL_RESULT"
	CodeSignatureError        Code = "SIGNATURE_ERROR"
	CodeBadGUID               Code = "BAD_GUID_ERROR"
	CodeBadAccessor           Code = "BAD_ACCESSOR_ERROR"
	CodeBadAccount            Code = "BAD_ACCOUNT_ERROR"
	CodeDuplicateGUID         Code = "DUPLICATE_GUID_EXCEPTION"
	CodeUnauthorizedGUID      Code = "UNAUTHORIZED_GUID_ERROR"
	CodeBadUser               Code = "BAD_USER_ERROR"
	CodeDuplicateUser         Code = "DUPLICATE_USER_EXCEPTION"
	CodeBadGroup              Code = "BAD_GROUP_ERROR"
	CodeDuplicateGroup        Code = "DUPLICATE_GROUP_EXCEPTION"
	CodeFieldNotFound         Code = "FIELD_NOT_FOUND_ERROR"
	CodeBadField              Code = "BAD_FIELD_ERROR"
	CodeAccessDenied          Code = "ACCESS_ERROR"
	CodeVerificationError     Code = "VERIFICATION_ERROR"
	CodeDuplicateName         Code = "DUPLICATE_NAME_EXCEPTION"
	CodeDuplicateField        Code = "DUPLICATE_FIELD_EXCEPTION"
	CodeOperationNotSupported Code = "OPERATION_NOT_SUPPORTED"
	CodeTimeout               Code = "TIMEOUT"
	CodeStaleCommand          Code = "STALE_COMMAND"
	CodeJSONParseError        Code = "JSON_PARSE_ERROR"
	CodeQueryProcessingError  Code = "QUERY_PROCESSING_ERROR"
	CodeUpdateError           Code = "UPDATE_ERROR"
	CodeSelectError           Code = "SELECT_ERROR"
	CodeGenericError          Code = "GENERIC_ERROR"
	CodeActiveReplicaError    Code = "ACTIVE_REPLICA_EXCEPTION"
)

// codeKinds is the closed mapping from every known code to its kind.
var codeKinds = map[Code]Kind{
	CodeOK:                    KindNone,
	CodeNullResult:            KindNone,
	CodeSignatureError:        KindSignatureInvalid,
	CodeBadGUID:               KindBadIdentity,
	CodeBadAccessor:           KindBadIdentity,
	CodeBadAccount:            KindBadIdentity,
	CodeDuplicateGUID:         KindBadIdentity,
	CodeUnauthorizedGUID:      KindBadIdentity,
	CodeBadUser:               KindBadIdentity,
	CodeDuplicateUser:         KindBadIdentity,
	CodeBadGroup:              KindBadIdentity,
	CodeDuplicateGroup:        KindBadIdentity,
	CodeFieldNotFound:         KindFieldNotFound,
	CodeBadField:              KindFieldNotFound,
	CodeAccessDenied:          KindAccessDenied,
	CodeVerificationError:     KindVerificationError,
	CodeDuplicateName:         KindDuplicateName,
	CodeDuplicateField:        KindDuplicateField,
	CodeOperationNotSupported: KindUnsupportedOperation,
	CodeTimeout:               KindTimeout,
	CodeStaleCommand:          KindGeneralFailure,
	CodeJSONParseError:        KindGeneralFailure,
	CodeQueryProcessingError:  KindGeneralFailure,
	CodeUpdateError:           KindGeneralFailure,
	CodeSelectError:           KindGeneralFailure,
	CodeGenericError:          KindGeneralFailure,
	CodeActiveReplicaError:    KindGeneralFailure,
}

// Known reports whether c belongs to the known code enumeration.
func (c Code) Known() bool {
	_, ok := codeKinds[c]
	return ok
}

// Kind returns the outcome kind for c. Unknown codes map to KindUnknownCode.
func (c Code) Kind() Kind {
	if k, ok := codeKinds[c]; ok {
		return k
	}
	return KindUnknownCode
}

// KnownCodes returns every code the classifier recognizes.
func KnownCodes() []Code {
	codes := make([]Code, 0, len(codeKinds))
	for c := range codeKinds {
		codes = append(codes, c)
	}
	return codes
}

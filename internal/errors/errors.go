package errors

import "fmt"

// AppError carries a stable code alongside the message so handlers and logs
// can classify failures without string matching.
type AppError struct {
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(code, message string, cause ...error) *AppError {
	var c error
	if len(cause) > 0 {
		c = cause[0]
	}
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   c,
	}
}

var (
	ErrConfigInvalid = &AppError{Code: "CONFIG_001", Message: "invalid configuration"}

	ErrProviderNotConfigured = &AppError{Code: "LLM_001", Message: "no inference provider configured"}
	ErrProviderUnavailable   = &AppError{Code: "LLM_002", Message: "inference provider unavailable"}
	ErrEmptyCompletion       = &AppError{Code: "LLM_003", Message: "empty completion from model"}

	// ErrParseFailure means the intent parser could not obtain a schema-valid
	// plan even after a corrective retry. It triggers the fallback agent and
	// is distinct from a relevance rejection.
	ErrParseFailure = &AppError{Code: "PARSE_001", Message: "intent parsing failed"}

	ErrUnknownCapability = &AppError{Code: "CATALOG_001", Message: "unknown capability"}
	ErrInvalidParams     = &AppError{Code: "CATALOG_002", Message: "invalid operation parameters"}

	ErrOperationTimeout = &AppError{Code: "DISPATCH_001", Message: "operation timed out"}

	// ErrGiveUp means the fallback agent exhausted its step budget without a
	// completed answer.
	ErrGiveUp = &AppError{Code: "FALLBACK_001", Message: "fallback agent gave up"}

	ErrThreadNotFound = &AppError{Code: "MEM_001", Message: "thread not found"}

	ErrUnauthorized = &AppError{Code: "AUTH_001", Message: "unauthorized"}

	ErrBadRequest = &AppError{Code: "GEN_001", Message: "bad request"}
	ErrInternal   = &AppError{Code: "GEN_002", Message: "internal error"}
)

func IsAppError(err error) bool {
	_, ok := err.(*AppError)
	return ok
}

func GetCode(err error) string {
	if appErr, ok := err.(*AppError); ok {
		return appErr.Code
	}
	return "UNKNOWN"
}

func Wrap(err error, code, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

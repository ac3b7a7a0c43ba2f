package types

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a failed tool invocation for the calling agent.
type ErrorCode string

const (
	CodeNavigationFailed ErrorCode = "NAVIGATION_FAILED"  // CodeNavigationFailed indicates navigation failed or left the allowed domains.
	CodeSelectorNotFound ErrorCode = "SELECTOR_NOT_FOUND" // CodeSelectorNotFound indicates a required element was absent or ambiguous.
	CodeValidation       ErrorCode = "VALIDATION_ERROR"   // CodeValidation indicates bad input or a rejected write.
	CodeSiteChanged      ErrorCode = "SITE_CHANGED"       // CodeSiteChanged indicates the target site no longer matches the adapter.
	CodeAuthRequired     ErrorCode = "AUTH_REQUIRED"      // CodeAuthRequired indicates the site wants a logged-in user.
	CodeRateLimited      ErrorCode = "RATE_LIMITED"       // CodeRateLimited indicates the site throttled the request.
	CodeHumanRequired    ErrorCode = "HUMAN_REQUIRED"     // CodeHumanRequired indicates a human step was needed but nobody can answer.
	CodeUnknown          ErrorCode = "UNKNOWN"            // CodeUnknown covers everything else.
)

// KnownCodes lists every code adapter code may raise itself.
var KnownCodes = []ErrorCode{
	CodeNavigationFailed,
	CodeSelectorNotFound,
	CodeValidation,
	CodeSiteChanged,
	CodeAuthRequired,
	CodeRateLimited,
	CodeHumanRequired,
	CodeUnknown,
}

// ParseErrorCode maps a string to a known code, falling back to CodeUnknown.
func ParseErrorCode(s string) ErrorCode {
	for _, c := range KnownCodes {
		if string(c) == s {
			return c
		}
	}
	return CodeUnknown
}

// Sentinel kinds. Match with errors.Is against any *Error built from them.
var (
	ErrDomainNotAllowed  = errors.New("url is outside the adapter's allowed domains")
	ErrSelectorNotFound  = errors.New("selector not found")
	ErrAmbiguousSelector = errors.New("selector matched more than one element")
	ErrTimeout           = errors.New("timed out")
	ErrQuotaExceeded     = errors.New("storage quota exceeded")
	ErrPermissionDenied  = errors.New("permission not granted to adapter")
	ErrHumanUnavailable  = errors.New("no human available to complete the step")
	ErrHumanTimeout      = errors.New("timed out waiting for human")
	ErrValidation        = errors.New("invalid input")
	ErrToolNotFound      = errors.New("tool not found")
)

// Error is a coded error raised at the capability boundary or by adapter code.
type Error struct {
	Code    ErrorCode
	Message string
	Cause   error
}

// NewError creates a coded error with a formatted message.
func NewError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap creates a coded error around cause. When cause is one of the sentinel
// kinds errors.Is keeps matching it.
func Wrap(code ErrorCode, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Message == "" {
		return e.Cause.Error()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// CodeOf extracts the code of the first *Error in err's chain.
func CodeOf(err error) ErrorCode {
	var coded *Error
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeUnknown
}

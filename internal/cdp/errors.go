package cdp

import (
	"fmt"
	"strings"
)

const (
	CodeValidation      = "VALIDATION"
	CodePageNotFound    = "PAGE_NOT_FOUND"
	CodeCommandRejected = "COMMAND_REJECTED"
	CodeEvalFailure     = "EVAL_FAILURE"
	CodeEvalTimeout     = "EVAL_TIMEOUT"
	CodeCDPUnavailable  = "CDP_UNAVAILABLE"
	CodeEndpointDown    = "ENDPOINT_UNREACHABLE"
)

// CodedError is a typed error used for stable API mapping.
type CodedError struct {
	Code    string
	Message string
	Cause   error
}

func (e *CodedError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
}

func (e *CodedError) Unwrap() error { return e.Cause }

func newError(code, msg string, cause error) error {
	return &CodedError{Code: code, Message: msg, Cause: cause}
}

// transientPatterns identify mid-session failures caused by navigation or a
// closing target. These are recoverable no-ops: capture continues.
var transientPatterns = []string{
	"execution context was destroyed",
	"cannot find context with specified id",
	"target closed",
	"session closed",
	"inspected target navigated or closed",
}

// IsTransient reports whether err looks like a navigation/teardown transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, p := range transientPatterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

package flowerr

import (
	"errors"
	"fmt"

	"github.com/ilumeobrasil/desk-research/pkg/types"
)

// Error codes, grouped by category.
const (
	// Infrastructure (1xxx)
	CodeConnectionFailed = "DR-1001" // network connectivity issues
	CodeTimeout          = "DR-1002" // operation timeout
	CodeRateLimit        = "DR-1003" // rate limit exceeded
	CodeEmptyResult      = "DR-1004" // source returned nothing usable

	// Configuration (2xxx), fatal: the run cannot proceed
	CodeConfigMissing = "DR-2001" // missing credentials or endpoint
	CodeConfigInvalid = "DR-2002" // malformed configuration

	// Validation (3xxx)
	CodeInvalidInput    = "DR-3001" // invalid parameters
	CodeMissingRequired = "DR-3002" // missing required field

	// Run / graph state (4xxx); structural faults are fatal
	CodeUnknownModule = "DR-4001" // selected module has no contract
	CodeStateConflict = "DR-4002" // operation invalid for current run status
	CodeGraphInvalid  = "DR-4003" // dependency graph misconfigured
	CodeRunNotFound   = "DR-4004" // no persisted run with that ID
	CodeFailClosed    = "DR-4005" // module failure under the fail-closed policy

	// System (5xxx)
	CodeInternal = "DR-5001" // unexpected internal error
	CodePanic    = "DR-5002" // panic recovered by the isolator
)

// Error is a coded error. Fatal errors abort the run with no retry path;
// Retryable marks errors worth another attempt at the caller's discretion.
type Error struct {
	Code      string
	Message   string
	Cause     error
	Fatal     bool
	Retryable bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the cause to errors.Is/As.
func (e *Error) Unwrap() error { return e.Cause }

// New creates a coded error with classification derived from the code.
func New(code, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Fatal:     fatalCode(code),
		Retryable: retryableCode(code),
	}
}

// Newf creates a coded error with a formatted message.
func Newf(code, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// Wrap attaches a code and message to an existing error. Returns nil for a
// nil cause.
func Wrap(err error, code, message string) *Error {
	if err == nil {
		return nil
	}
	e := New(code, message)
	e.Cause = err
	return e
}

// IsFatal reports whether err (or anything it wraps) is a fatal coded error.
func IsFatal(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Fatal
	}
	return false
}

// IsRetryable reports whether err is worth retrying. Unclassified errors
// default to retryable, matching the behavior of the research sources whose
// failures are overwhelmingly transient.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return true
}

// Code extracts the code from a coded error, or CodeInternal for anything else.
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}

// Info converts an error into the ErrorInfo recorded on a module outcome.
func Info(id types.ModuleID, err error) *types.ErrorInfo {
	info := &types.ErrorInfo{
		ModuleID: id,
		Code:     Code(err),
		Message:  err.Error(),
		Fatal:    IsFatal(err),
	}
	var e *Error
	if errors.As(err, &e) {
		info.Message = e.Message
		if e.Cause != nil {
			info.Cause = e.Cause.Error()
		}
	}
	return info
}

func fatalCode(code string) bool {
	switch code {
	case CodeConfigMissing, CodeConfigInvalid, CodeUnknownModule, CodeGraphInvalid:
		return true
	}
	return false
}

func retryableCode(code string) bool {
	switch code {
	case CodeConnectionFailed, CodeTimeout, CodeRateLimit, CodeInternal, CodePanic:
		return true
	}
	return false
}

package domain

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
)

// Category sentinels.
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrTimeout       = fmt.Errorf("operation timed out")
	ErrInvalidInput  = fmt.Errorf("invalid input")
	ErrProviderError = fmt.Errorf("provider error")
)

// Sentinel errors for the domain layer.
var (
	ErrInvalidRequestFormat = fmt.Errorf("invalid request format")
	ErrValidation           = fmt.Errorf("validation failed")
	ErrToolNotFound         = fmt.Errorf("tool not found")
	ErrToolFailure          = fmt.Errorf("tool execution failed")
	ErrMaxIterations        = fmt.Errorf("agent reached max iterations")
	ErrSSRFBlocked          = fmt.Errorf("request to private/reserved IP blocked")
	ErrConfigLoad           = fmt.Errorf("failed to load configuration")
	ErrOperationNotAllowed  = fmt.Errorf("operation not allowed")
	ErrCaptureReleased      = fmt.Errorf("output capture already released")

	// Resilience errors.
	ErrContextOverflow = fmt.Errorf("context window exceeded")
	ErrRateLimit       = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid     = fmt.Errorf("authentication failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op     string // operation name (e.g., "Tool.Execute")
	Err    error  // underlying sentinel or wrapped error
	Detail string // human-readable detail
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsRetryableError reports whether err is a transient error that may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrProviderError) || errors.Is(err, ErrTimeout)
}

// ValidationError carries the human-readable reason a prompt was rejected.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// ErrorKind is the coarse category reported in a failure envelope.
type ErrorKind string

const (
	KindInvalidRequestFormat ErrorKind = "invalid_request_format"
	KindValidation           ErrorKind = "validation_error"
	KindInternal             ErrorKind = "internal_error"
)

// KindOf maps an error onto the response taxonomy.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrInvalidRequestFormat):
		return KindInvalidRequestFormat
	case errors.Is(err, ErrValidation):
		return KindValidation
	default:
		return KindInternal
	}
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown              ErrorCode = "UNKNOWN"
	CodeNotFound             ErrorCode = "NOT_FOUND"
	CodeTimeout              ErrorCode = "TIMEOUT"
	CodeInvalidInput         ErrorCode = "INVALID_INPUT"
	CodeProviderError        ErrorCode = "PROVIDER_ERROR"
	CodeInvalidRequestFormat ErrorCode = "INVALID_REQUEST_FORMAT"
	CodeValidation           ErrorCode = "VALIDATION"
	CodeToolNotFound         ErrorCode = "TOOL_NOT_FOUND"
	CodeToolFailure          ErrorCode = "TOOL_FAILURE"
	CodeMaxIterations        ErrorCode = "MAX_ITERATIONS"
	CodeSSRFBlocked          ErrorCode = "SSRF_BLOCKED"
	CodeConfigLoad           ErrorCode = "CONFIG_LOAD"
	CodeOperationNotAllowed  ErrorCode = "OPERATION_NOT_ALLOWED"
	CodeCaptureReleased      ErrorCode = "CAPTURE_RELEASED"
	CodeContextOverflow      ErrorCode = "CONTEXT_OVERFLOW"
	CodeRateLimit            ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid          ErrorCode = "AUTH_INVALID"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:             CodeNotFound,
	ErrTimeout:              CodeTimeout,
	ErrInvalidInput:         CodeInvalidInput,
	ErrProviderError:        CodeProviderError,
	ErrInvalidRequestFormat: CodeInvalidRequestFormat,
	ErrValidation:           CodeValidation,
	ErrToolNotFound:         CodeToolNotFound,
	ErrToolFailure:          CodeToolFailure,
	ErrMaxIterations:        CodeMaxIterations,
	ErrSSRFBlocked:          CodeSSRFBlocked,
	ErrConfigLoad:           CodeConfigLoad,
	ErrOperationNotAllowed:  CodeOperationNotAllowed,
	ErrCaptureReleased:      CodeCaptureReleased,
	ErrContextOverflow:      CodeContextOverflow,
	ErrRateLimit:            CodeRateLimit,
	ErrAuthInvalid:          CodeAuthInvalid,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code, ok := errorCodeMap[de.Err]; ok {
			return code
		}
	}

	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
func (e *DomainError) Code() ErrorCode {
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}

// KindName returns a short diagnostic name for err: its ErrorCode when one is
// known, otherwise the Go type name of the outermost error without the
// pointer marker or package path.
func KindName(err error) string {
	if err == nil {
		return ""
	}
	if code := ErrorCodeOf(err); code != CodeUnknown {
		return string(code)
	}
	name := reflect.TypeOf(err).String()
	name = strings.TrimPrefix(name, "*")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}

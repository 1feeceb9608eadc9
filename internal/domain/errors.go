package domain

import (
	"errors"
	"fmt"
)

// Category sentinels.
var (
	ErrNotFound     = fmt.Errorf("not found")
	ErrDuplicate    = fmt.Errorf("duplicate")
	ErrInvalidInput = fmt.Errorf("invalid input")
)

// Sentinel errors for the domain layer.
var (
	ErrProviderNotFound     = fmt.Errorf("llm provider not found")
	ErrToolNotFound         = fmt.Errorf("tool not found")
	ErrMaxIterations        = fmt.Errorf("agent reached max iterations")
	ErrConversationNotFound = fmt.Errorf("conversation not found")
	ErrStateNotFound        = fmt.Errorf("execution state not found")
	ErrInvalidTransition    = fmt.Errorf("invalid status transition")
	ErrConfigLoad           = fmt.Errorf("failed to load configuration")

	// Provider error taxonomy. Rate limit and provider (5xx/network) errors
	// are retryable; auth and malformed responses are permanent.
	ErrRateLimit         = fmt.Errorf("rate limit exceeded")
	ErrAuthInvalid       = fmt.Errorf("authentication failed")
	ErrContextOverflow   = fmt.Errorf("context window exceeded")
	ErrMalformedResponse = fmt.Errorf("malformed provider response")
	ErrProviderError     = fmt.Errorf("provider error")

	// ErrSSRFBlocked marks requests to private/reserved addresses rejected by
	// the web tool's SSRF guard.
	ErrSSRFBlocked = fmt.Errorf("request blocked: private or reserved address")
)

// DomainError wraps a sentinel error with operation context.
type DomainError struct {
	Op     string // operation name (e.g., "Registry.Get")
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

// IsRetryableError reports whether err is transient and may succeed on retry.
func IsRetryableError(err error) bool {
	return errors.Is(err, ErrRateLimit) || errors.Is(err, ErrProviderError)
}

// ErrorCode is a machine-parseable error category for monitoring.
type ErrorCode string

const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeNotFound          ErrorCode = "NOT_FOUND"
	CodeDuplicate         ErrorCode = "DUPLICATE"
	CodeInvalidInput      ErrorCode = "INVALID_INPUT"
	CodeProviderNotFound  ErrorCode = "PROVIDER_NOT_FOUND"
	CodeToolNotFound      ErrorCode = "TOOL_NOT_FOUND"
	CodeMaxIterations     ErrorCode = "MAX_ITERATIONS"
	CodeConversation      ErrorCode = "CONVERSATION_NOT_FOUND"
	CodeStateNotFound     ErrorCode = "STATE_NOT_FOUND"
	CodeInvalidTransition ErrorCode = "INVALID_TRANSITION"
	CodeConfigLoad        ErrorCode = "CONFIG_LOAD"
	CodeRateLimit         ErrorCode = "RATE_LIMIT"
	CodeAuthInvalid       ErrorCode = "AUTH_INVALID"
	CodeContextOverflow   ErrorCode = "CONTEXT_OVERFLOW"
	CodeMalformed         ErrorCode = "MALFORMED_RESPONSE"
	CodeProviderError     ErrorCode = "PROVIDER_ERROR"
	CodeSSRFBlocked       ErrorCode = "SSRF_BLOCKED"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:             CodeNotFound,
	ErrDuplicate:            CodeDuplicate,
	ErrInvalidInput:         CodeInvalidInput,
	ErrProviderNotFound:     CodeProviderNotFound,
	ErrToolNotFound:         CodeToolNotFound,
	ErrMaxIterations:        CodeMaxIterations,
	ErrConversationNotFound: CodeConversation,
	ErrStateNotFound:        CodeStateNotFound,
	ErrInvalidTransition:    CodeInvalidTransition,
	ErrConfigLoad:           CodeConfigLoad,
	ErrRateLimit:            CodeRateLimit,
	ErrAuthInvalid:          CodeAuthInvalid,
	ErrContextOverflow:      CodeContextOverflow,
	ErrMalformedResponse:    CodeMalformed,
	ErrProviderError:        CodeProviderError,
	ErrSSRFBlocked:          CodeSSRFBlocked,
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and walks the chain with errors.Is.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}
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

package usecase

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"agentkit/internal/domain"
)

// ErrorCategory says how the retry policy should treat a provider error.
type ErrorCategory int

const (
	ErrorCategoryUnknown   ErrorCategory = iota
	ErrorCategoryRetryable               // rate limits, 5xx, transient network, overflow
	ErrorCategoryPermanent               // auth, bad requests, malformed responses
)

// ClassifiedError is the classifier's verdict on one provider error.
type ClassifiedError struct {
	Original   error
	Category   ErrorCategory
	Sentinel   error // matching domain sentinel, or nil
	StatusCode int   // HTTP status when one could be extracted
}

// ErrorClassifier maps provider errors onto retry categories. It prefers
// wrapped domain sentinels, then an HTTP status embedded in the message,
// then known message substrings.
type ErrorClassifier struct{}

func NewErrorClassifier() *ErrorClassifier { return &ErrorClassifier{} }

// sentinelVerdicts pairs each domain sentinel with its category.
var sentinelVerdicts = []struct {
	sentinel error
	category ErrorCategory
}{
	{domain.ErrRateLimit, ErrorCategoryRetryable},
	{domain.ErrContextOverflow, ErrorCategoryRetryable},
	{domain.ErrProviderError, ErrorCategoryRetryable},
	{domain.ErrAuthInvalid, ErrorCategoryPermanent},
	{domain.ErrMalformedResponse, ErrorCategoryPermanent},
}

// substringVerdicts classifies errors that carry neither a sentinel nor a
// status code, by message content.
var substringVerdicts = []struct {
	needles  []string
	category ErrorCategory
	sentinel error
}{
	{[]string{"rate limit", "too many requests"}, ErrorCategoryRetryable, domain.ErrRateLimit},
	{[]string{"context length", "token limit", "maximum context"}, ErrorCategoryRetryable, domain.ErrContextOverflow},
	{[]string{"connection refused", "connection reset", "no such host", "timeout", "deadline exceeded"}, ErrorCategoryRetryable, nil},
}

// statusPattern matches the "API error NNN:" prefix every provider backend
// puts on HTTP failures.
var statusPattern = regexp.MustCompile(`API error (\d+):`)

// overflowHints mark a 400 body as a context-length complaint rather than a
// plain bad request.
var overflowHints = []string{"context", "token", "length", "too long", "maximum"}

func (c *ErrorClassifier) Classify(err error) ClassifiedError {
	if err == nil {
		return ClassifiedError{}
	}

	for _, v := range sentinelVerdicts {
		if errors.Is(err, v.sentinel) {
			return ClassifiedError{Original: err, Category: v.category, Sentinel: v.sentinel}
		}
	}

	msg := err.Error()
	if m := statusPattern.FindStringSubmatch(msg); len(m) == 2 {
		code, _ := strconv.Atoi(m[1])
		return classifyStatus(err, code, msg)
	}

	lower := strings.ToLower(msg)
	for _, v := range substringVerdicts {
		for _, needle := range v.needles {
			if strings.Contains(lower, needle) {
				return ClassifiedError{Original: err, Category: v.category, Sentinel: v.sentinel}
			}
		}
	}
	return ClassifiedError{Original: err, Category: ErrorCategoryUnknown}
}

func classifyStatus(err error, code int, body string) ClassifiedError {
	out := ClassifiedError{Original: err, StatusCode: code}
	switch {
	case code == 429:
		out.Category, out.Sentinel = ErrorCategoryRetryable, domain.ErrRateLimit
	case code == 401 || code == 403:
		out.Category, out.Sentinel = ErrorCategoryPermanent, domain.ErrAuthInvalid
	case code == 413:
		out.Category, out.Sentinel = ErrorCategoryRetryable, domain.ErrContextOverflow
	case code == 400:
		if hintsOverflow(body) {
			out.Category, out.Sentinel = ErrorCategoryRetryable, domain.ErrContextOverflow
		} else {
			out.Category = ErrorCategoryPermanent
		}
	case code >= 500 && code < 600:
		out.Category = ErrorCategoryRetryable
	default:
		out.Category = ErrorCategoryPermanent
	}
	return out
}

func hintsOverflow(body string) bool {
	lower := strings.ToLower(body)
	for _, hint := range overflowHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

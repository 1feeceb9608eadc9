package tool

import (
	"errors"
	"strings"

	"agentkit/internal/domain"
)

var transientSentinels = []error{
	domain.ErrProviderError,
	domain.ErrRateLimit,
}

// transientHints are message fragments that mark a failure as transient when
// no sentinel matches. Compared case-insensitively.
var transientHints = []string{
	"connection refused",
	"connection reset",
	"no such host",
	"timeout",
	"deadline exceeded",
	"temporarily unavailable",
	"service unavailable",
	"try again",
}

// classifyToolError reports whether a tool failure is transient, meaning the
// same call may succeed if the model retries it. Unknown errors count as
// permanent.
func classifyToolError(err error) bool {
	if err == nil {
		return false
	}
	for _, sentinel := range transientSentinels {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range transientHints {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}

package provider

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/forgecore/forge/internal/core"
)

// ErrorType is the provider-level classification of a failed request,
// generalizing the teacher's internal/llm.ErrorType string-pattern
// classifier to apply across all providers uniformly before it is mapped
// onto core.ErrorKind.
type ErrorType string

const (
	ErrorTypeMaxTokens       ErrorType = "max_tokens"
	ErrorTypeContextOverflow ErrorType = "context_overflow"
	ErrorTypeRateLimit       ErrorType = "rate_limit"
	ErrorTypeOverloaded      ErrorType = "overloaded"
	ErrorTypeBilling         ErrorType = "billing"
	ErrorTypeAuth            ErrorType = "auth"
	ErrorTypeTimeout         ErrorType = "timeout"
	ErrorTypeFormat          ErrorType = "format"
	ErrorTypeUnknown         ErrorType = "unknown"
)

var maxTokensPatterns = []*regexp.Regexp{
	regexp.MustCompile(`max_tokens:\s*\d+\s*>\s*(\d+)`),
	regexp.MustCompile(`max_tokens\s+(?:must be|cannot exceed|<=)\s*(\d+)`),
	regexp.MustCompile(`(?s)maximum.*?output.*?tokens.*?(\d+)`),
}

// ParseMaxTokensLimit extracts the provider-reported max_tokens ceiling
// from an error message, if present. provider.Anthropic stores the limit
// and caps MaxOutputTokens on later requests for that model; the failed
// request itself is not retried.
func ParseMaxTokensLimit(msg string) (bool, int) {
	for _, re := range maxTokensPatterns {
		m := re.FindStringSubmatch(msg)
		if len(m) == 2 {
			if n, err := strconv.Atoi(m[1]); err == nil {
				return true, n
			}
		}
	}
	return IsMaxTokensMessage(msg), 0
}

// IsMaxTokensMessage checks if a message indicates an output token limit
// was exceeded or rejected by the provider.
func IsMaxTokensMessage(msg string) bool {
	if msg == "" {
		return false
	}
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "max_tokens") ||
		strings.Contains(lower, "max tokens") ||
		strings.Contains(lower, "maximum output tokens") ||
		strings.Contains(lower, "maximum number of tokens")
}

// IsContextOverflowMessage checks if a message indicates the request's
// total context exceeded the model's context window.
func IsContextOverflowMessage(msg string) bool {
	if msg == "" {
		return false
	}
	lower := strings.ToLower(msg)

	if strings.Contains(lower, "context size has been exceeded") {
		return true
	}
	if strings.Contains(lower, "context_length_exceeded") {
		return true
	}
	if strings.Contains(lower, "context length exceeded") {
		return true
	}
	if strings.Contains(lower, "maximum context length") ||
		strings.Contains(lower, "prompt is too long") ||
		strings.Contains(lower, "request_too_large") ||
		strings.Contains(lower, "request exceeds the maximum size") ||
		strings.Contains(lower, "exceeds model context window") ||
		strings.Contains(lower, "context overflow") ||
		strings.Contains(lower, "exceeded model token limit") {
		return true
	}
	if strings.Contains(lower, "413") && strings.Contains(lower, "too large") {
		return true
	}
	if strings.Contains(lower, "request size exceeds") && strings.Contains(lower, "context") {
		return true
	}
	return false
}

// IsRateLimitMessage checks if a message indicates rate limiting.
func IsRateLimitMessage(msg string) bool {
	if msg == "" {
		return false
	}
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "429") {
		return true
	}
	if strings.Contains(lower, "rate_limit") ||
		strings.Contains(lower, "rate limit") ||
		strings.Contains(lower, "too many requests") ||
		strings.Contains(lower, "exceeded your current quota") ||
		strings.Contains(lower, "quota exceeded") ||
		strings.Contains(lower, "resource_exhausted") ||
		strings.Contains(lower, "resource has been exhausted") ||
		strings.Contains(lower, "usage limit") ||
		strings.Contains(lower, "requests per minute") ||
		strings.Contains(lower, "requests per day") {
		return true
	}
	return false
}

// IsOverloadedMessage checks if a message indicates the service is
// temporarily overloaded.
func IsOverloadedMessage(msg string) bool {
	if msg == "" {
		return false
	}
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "503") && (strings.Contains(lower, "service") || strings.Contains(lower, "unavailable")) {
		return true
	}
	if strings.Contains(lower, "overloaded_error") ||
		strings.Contains(lower, "overloaded") ||
		strings.Contains(lower, "server is busy") ||
		strings.Contains(lower, "temporarily unavailable") ||
		strings.Contains(lower, "capacity") {
		return true
	}
	return false
}

// IsAuthMessage checks if a message indicates authentication failure.
func IsAuthMessage(msg string) bool {
	if msg == "" {
		return false
	}
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "401") || strings.Contains(lower, "403") {
		return true
	}
	return strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "invalid api key") ||
		strings.Contains(lower, "invalid x-api-key") ||
		strings.Contains(lower, "authentication") ||
		strings.Contains(lower, "permission denied") ||
		strings.Contains(lower, "forbidden")
}

// IsBillingMessage checks if a message indicates an account/billing
// problem rather than a transient provider condition.
func IsBillingMessage(msg string) bool {
	if msg == "" {
		return false
	}
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "insufficient_quota") ||
		strings.Contains(lower, "billing") ||
		strings.Contains(lower, "payment") ||
		strings.Contains(lower, "credit balance") ||
		strings.Contains(lower, "exceeded your current plan")
}

// IsTimeoutMessage checks if a message indicates a network-level timeout.
func IsTimeoutMessage(msg string) bool {
	if msg == "" {
		return false
	}
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "timeout") ||
		strings.Contains(lower, "timed out") ||
		strings.Contains(lower, "deadline exceeded")
}

// IsFormatMessage checks if a message indicates the request or response
// body was malformed, as distinct from a transient transport failure.
func IsFormatMessage(msg string) bool {
	if msg == "" {
		return false
	}
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "invalid json") ||
		strings.Contains(lower, "invalid_request_error") ||
		strings.Contains(lower, "malformed") ||
		strings.Contains(lower, "unexpected schema") ||
		strings.Contains(lower, "failed to parse")
}

// ClassifyError determines msg's ErrorType. Order matters: max_tokens is
// checked first since a 400 rejecting an out-of-range max_tokens value
// would otherwise be misclassified under auth/format once those patterns
// also match generic "invalid" wording, and context_overflow before
// rate_limit since some gateways report both "429" and a context message
// in the same body.
func ClassifyError(msg string) ErrorType {
	switch {
	case IsMaxTokensMessage(msg):
		return ErrorTypeMaxTokens
	case IsContextOverflowMessage(msg):
		return ErrorTypeContextOverflow
	case IsRateLimitMessage(msg):
		return ErrorTypeRateLimit
	case IsOverloadedMessage(msg):
		return ErrorTypeOverloaded
	case IsBillingMessage(msg):
		return ErrorTypeBilling
	case IsAuthMessage(msg):
		return ErrorTypeAuth
	case IsTimeoutMessage(msg):
		return ErrorTypeTimeout
	case IsFormatMessage(msg):
		return ErrorTypeFormat
	default:
		return ErrorTypeUnknown
	}
}

// IsFailoverError reports whether errType should cause the registry to
// fail over to the next provider in core.ProviderPriority rather than
// retry the same provider. max_tokens is excluded: the error is returned
// to the caller, and a provider that learned the limit (see
// ParseMaxTokensLimit) caps later requests instead. format and
// unknown are excluded: retrying or failing over rarely helps a
// malformed-request error and the caller surfaces it directly.
func IsFailoverError(errType ErrorType) bool {
	switch errType {
	case ErrorTypeRateLimit, ErrorTypeAuth, ErrorTypeBilling, ErrorTypeTimeout, ErrorTypeOverloaded:
		return true
	default:
		return false
	}
}

// ToErrorKind maps a provider ErrorType onto the orchestrator-level
// core.ErrorKind taxonomy (spec.md §7). context_overflow has no direct
// ErrorKind: the caller routes it to compaction instead of surfacing it
// as a terminal error, so it maps to ErrCompactionFailed only if
// compaction itself then fails to bring the context under budget.
func ToErrorKind(errType ErrorType) core.ErrorKind {
	switch errType {
	case ErrorTypeRateLimit:
		return core.ErrRateLimited
	case ErrorTypeAuth:
		return core.ErrUnauthorized
	case ErrorTypeBilling:
		return core.ErrProviderFatal
	case ErrorTypeTimeout, ErrorTypeOverloaded:
		return core.ErrProviderTransient
	case ErrorTypeFormat:
		return core.ErrProtocolError
	case ErrorTypeContextOverflow:
		return core.ErrCompactionFailed
	case ErrorTypeMaxTokens:
		return core.ErrProviderFatal
	default:
		return core.ErrProviderFatal
	}
}

// FormatErrorForUser renders a provider error message into the
// user-facing text the orchestrator places in a Failed transcript entry,
// per errType, mirroring the teacher's FormatErrorForUser.
func FormatErrorForUser(msg string, errType ErrorType) string {
	switch errType {
	case ErrorTypeMaxTokens:
		return "the model rejected the requested output length; retrying with a smaller limit"
	case ErrorTypeContextOverflow:
		return "the conversation exceeded the model's context window; compacting and retrying"
	case ErrorTypeRateLimit:
		return "the provider is rate-limiting requests; retrying with backoff"
	case ErrorTypeOverloaded:
		return "the provider is temporarily overloaded; retrying with backoff"
	case ErrorTypeBilling:
		return "the provider rejected the request for billing/quota reasons: " + msg
	case ErrorTypeAuth:
		return "the provider rejected the request's credentials: " + msg
	case ErrorTypeTimeout:
		return "the request to the provider timed out; retrying"
	case ErrorTypeFormat:
		return "the provider returned a malformed response: " + msg
	default:
		return msg
	}
}

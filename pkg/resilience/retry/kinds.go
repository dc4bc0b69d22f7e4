// Package retry provides failure classification and exponential backoff with
// jitter for resilient agent invocations.
package retry

// FailureKind is a coarse classification of an operation failure, used to
// tune retry delay and for breaker/metrics bookkeeping.
type FailureKind int8

const (
	// KindTimeout represents operation or deadline timeouts.
	KindTimeout FailureKind = iota
	// KindRateLimit represents rate limiting errors (429, quota exceeded).
	KindRateLimit
	// KindAPIError represents generic provider API errors (5xx).
	KindAPIError
	// KindValidation represents request/response validation failures.
	KindValidation
	// KindNetwork represents connection and network-level failures.
	KindNetwork
	// KindAuthentication represents authentication errors (401/403, bad key).
	KindAuthentication
	// KindUnknown is the default for unclassified errors.
	KindUnknown
)

// String returns the string representation of the failure kind.
func (k FailureKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindRateLimit:
		return "rate_limit"
	case KindAPIError:
		return "api_error"
	case KindValidation:
		return "validation_error"
	case KindNetwork:
		return "network_error"
	case KindAuthentication:
		return "authentication_error"
	case KindUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

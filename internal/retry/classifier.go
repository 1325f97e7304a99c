// Package retry implements the retry manager (C6): the retryability
// classifier, exponential backoff with jitter, per-node-type policy
// overrides and schedule-based re-dispatch.
//
// Grounded on the teacher's inline retry loop in
// internal/worker/processor/processor.go::executeNode, generalized from an
// in-process sleep loop (`time.Sleep(...)`) into the spec's schedule-based
// retry: spec §5 forbids in-process sleeps on the critical path, so retry
// waits are realised entirely through the state store's time-indexed queue.
package retry

import "strings"

// NodeError is the minimal shape the classifier needs: a human message, an
// optional HTTP-style status and an optional engine error code.
type NodeError struct {
	Message    string
	HTTPStatus int
	Code       string
}

var retryableMessageSubstrings = []string{
	"econnreset",
	"etimedout",
	"enotfound",
	"econnrefused",
	"socket hang up",
	"network timeout",
	"service unavailable",
	"internal server error",
	"bad gateway",
	"gateway timeout",
}

var retryableHTTPStatuses = map[int]bool{
	408: true, 429: true, 500: true, 502: true, 503: true, 504: true,
}

var retryableCodes = map[string]bool{
	"EXTERNAL_SERVICE_ERROR": true,
	"DATABASE_ERROR":         true,
	"REDIS_ERROR":            true,
	"KAFKA_ERROR":            true,
	"RATE_LIMIT_EXCEEDED":    true,
	// CircuitBreakerOpen is treated as a transient failure per spec §7: it
	// participates in retry scheduling like any other retryable error.
	"CIRCUIT_OPEN": true,
}

// IsRetryable implements the classifier of spec §4.6: an error is
// retryable if any of the message/status/code checks matches.
func IsRetryable(err NodeError) bool {
	lower := strings.ToLower(err.Message)
	for _, s := range retryableMessageSubstrings {
		if strings.Contains(lower, s) {
			return true
		}
	}
	if retryableHTTPStatuses[err.HTTPStatus] {
		return true
	}
	if retryableCodes[err.Code] {
		return true
	}
	return false
}

// ShouldRetry implements shouldRetry(context, error) = attempt < maxRetries
// AND isRetryable(error).
func ShouldRetry(attempt, maxRetries int, err NodeError) bool {
	return attempt < maxRetries && IsRetryable(err)
}

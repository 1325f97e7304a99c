package retry_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/linkflow-ai/officeflow-engine/internal/retry"
)

func TestDelay_DeterministicWithoutJitter(t *testing.T) {
	// Scenario 2 from spec §8: policy {backoffMs:2000, multiplier:2,
	// maxBackoffMs:60000, jitter:false}, expected delays 2000ms, 4000ms.
	d1 := retry.Delay(1, 2000, 2, 60_000, false)
	d2 := retry.Delay(2, 2000, 2, 60_000, false)
	assert.Equal(t, int64(2000), d1.Milliseconds())
	assert.Equal(t, int64(4000), d2.Milliseconds())
}

func TestDelay_MonotoneNonDecreasingUpToCap(t *testing.T) {
	var prev int64
	for attempt := 1; attempt <= 10; attempt++ {
		d := retry.Delay(attempt, 1000, 2, 30_000, false)
		assert.GreaterOrEqual(t, d.Milliseconds(), prev)
		prev = d.Milliseconds()
	}
	assert.Equal(t, int64(30_000), prev)
}

func TestDelay_JitterWithinTenPercent(t *testing.T) {
	for i := 0; i < 50; i++ {
		d := retry.Delay(3, 1000, 2, 300_000, true)
		ms := float64(d.Milliseconds())
		assert.GreaterOrEqual(t, ms, 3600.0) // 4000 - 10%
		assert.LessOrEqual(t, ms, 4400.0)    // 4000 + 10%
	}
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, retry.IsRetryable(retry.NodeError{Message: "connection reset: ECONNRESET"}))
	assert.True(t, retry.IsRetryable(retry.NodeError{HTTPStatus: 503}))
	assert.True(t, retry.IsRetryable(retry.NodeError{Code: "RATE_LIMIT_EXCEEDED"}))
	assert.False(t, retry.IsRetryable(retry.NodeError{Message: "validation failed", Code: "VALIDATION_ERROR"}))
}

func TestShouldRetry_RespectsMaxRetries(t *testing.T) {
	err := retry.NodeError{Message: "ETIMEDOUT"}
	assert.True(t, retry.ShouldRetry(2, 5, err))
	assert.False(t, retry.ShouldRetry(5, 5, err))
}

func TestResolvePolicy_NodeTypeOverridesGlobalDefault(t *testing.T) {
	policy := retry.ResolvePolicy("identity.provision", nil)
	assert.Equal(t, 5, policy.MaxRetries)
	assert.Equal(t, int64(2000), policy.BackoffMs)
}

package dispatch_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkflow-ai/officeflow-engine/internal/dispatch"
	"github.com/linkflow-ai/officeflow-engine/internal/domain"
)

func TestRateLimiter_AdmitsWithinBurst(t *testing.T) {
	rl := dispatch.NewRateLimiter(dispatch.RateLimitConfig{
		OrgRPS: 10, OrgBurst: 3,
	})
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		require.NoError(t, rl.Wait(ctx, "org-1", domain.NodeEmailSend))
	}
}

func TestRateLimiter_NodeTypeWithoutConfiguredLimitIsUnthrottled(t *testing.T) {
	rl := dispatch.NewRateLimiter(dispatch.RateLimitConfig{
		OrgRPS: 1000, OrgBurst: 1000,
	})
	ctx := context.Background()
	for i := 0; i < 50; i++ {
		require.NoError(t, rl.Wait(ctx, "org-1", domain.NodeDelay))
	}
}

func TestRateLimiter_BlocksPastBurstUntilContextDeadline(t *testing.T) {
	rl := dispatch.NewRateLimiter(dispatch.RateLimitConfig{
		OrgRPS: 1, OrgBurst: 1,
	})
	ctx := context.Background()
	require.NoError(t, rl.Wait(ctx, "org-2", domain.NodeEmailSend))

	tightCtx, cancel := context.WithTimeout(ctx, 5*time.Millisecond)
	defer cancel()
	err := rl.Wait(tightCtx, "org-2", domain.NodeEmailSend)
	assert.Error(t, err, "second request within the same second must wait past a 5ms deadline")
}

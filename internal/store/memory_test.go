package store_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkflow-ai/officeflow-engine/internal/domain"
	"github.com/linkflow-ai/officeflow-engine/internal/store"
)

func TestAcquireLock_ExactlyOneWinner(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	results := make([]bool, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ok, err := s.AcquireLock(ctx, "run-1", "holder-"+string(rune('a'+i)), time.Minute)
			require.NoError(t, err)
			results[i] = ok
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, r := range results {
		if r {
			winners++
		}
	}
	assert.Equal(t, 1, winners)
}

func TestReleaseLock_OnlyHolderMayRelease(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	ok, err := s.AcquireLock(ctx, "run-2", "alice", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	released, err := s.ReleaseLock(ctx, "run-2", "bob")
	require.NoError(t, err)
	assert.False(t, released)

	released, err = s.ReleaseLock(ctx, "run-2", "alice")
	require.NoError(t, err)
	assert.True(t, released)
}

func TestRetrySchedule_OneEntryPerRetryingNode(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	past := time.Now().Add(-time.Minute)
	require.NoError(t, s.ScheduleRetry(ctx, "run-3", "node-1", past))

	due, err := s.GetNodesReadyForRetry(ctx, time.Now(), 50)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "run-3", due[0].RunID)
	assert.Equal(t, "node-1", due[0].NodeID)

	require.NoError(t, s.RemoveFromRetrySchedule(ctx, "run-3", "node-1"))
	due, err = s.GetNodesReadyForRetry(ctx, time.Now(), 50)
	require.NoError(t, err)
	assert.Empty(t, due)
}

func TestWorkflowState_RoundTrip(t *testing.T) {
	s := store.NewMemoryStore()
	ctx := context.Background()

	ws := domain.NewWorkflowState("run-4", &domain.WorkflowDefinition{ID: "wf-1", OrgID: "org-1"}, "emp-1", "corr-1", domain.Variables{})
	require.NoError(t, s.PutWorkflowState(ctx, ws))

	got, err := s.GetWorkflowState(ctx, "run-4")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, domain.WorkflowPending, got.Status)
}

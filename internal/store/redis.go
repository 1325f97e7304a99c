package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/linkflow-ai/officeflow-engine/internal/domain"
)

// releaseLockScript atomically deletes key only if its value still equals
// holder, preventing a lost-lease holder from releasing someone else's
// lock. Grounded on the teacher's pkg/redis.Client.ReleaseLock.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

// extendLockScript atomically extends key's TTL only if its value still
// equals holder. Grounded on pkg/redis.Client.ExtendLock.
var extendLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end
`)

// RedisStore is the production Store implementation backed by
// github.com/redis/go-redis/v9, grounded on the teacher's
// internal/pkg/redis client wrapper.
type RedisStore struct {
	client *redis.Client
	keys   KeyBuilder
}

func NewRedisStore(client *redis.Client, namespace string) *RedisStore {
	return &RedisStore{client: client, keys: NewKeyBuilder(namespace)}
}

func (s *RedisStore) GetWorkflowState(ctx context.Context, runID string) (*domain.WorkflowState, error) {
	raw, err := s.client.Get(ctx, s.keys.Workflow(runID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, &ErrStore{Op: "GetWorkflowState", Err: err}
	}
	var state domain.WorkflowState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, &ErrStore{Op: "GetWorkflowState", Err: err}
	}
	return &state, nil
}

func (s *RedisStore) PutWorkflowState(ctx context.Context, state *domain.WorkflowState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return &ErrStore{Op: "PutWorkflowState", Err: err}
	}
	if err := s.client.Set(ctx, s.keys.Workflow(state.RunID), raw, DefaultWorkflowTTL).Err(); err != nil {
		return &ErrStore{Op: "PutWorkflowState", Err: err}
	}
	return nil
}

func (s *RedisStore) DeleteWorkflowState(ctx context.Context, runID string) error {
	nodeKeys, err := s.scanKeys(ctx, s.keys.NodeScanPattern(runID))
	if err != nil {
		return &ErrStore{Op: "DeleteWorkflowState", Err: err}
	}
	toDelete := append([]string{s.keys.Workflow(runID), s.keys.Lock(runID)}, nodeKeys...)
	if err := s.client.Del(ctx, toDelete...).Err(); err != nil {
		return &ErrStore{Op: "DeleteWorkflowState", Err: err}
	}
	return nil
}

func (s *RedisStore) ListActiveRunIDs(ctx context.Context) ([]string, error) {
	keys, err := s.scanKeys(ctx, s.keys.WorkflowScanPattern())
	if err != nil {
		return nil, &ErrStore{Op: "ListActiveRunIDs", Err: err}
	}
	prefix := s.keys.Namespace + "workflow:"
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, prefix))
	}
	return out, nil
}

func (s *RedisStore) GetNodeState(ctx context.Context, runID, nodeID string) (*domain.NodeState, error) {
	raw, err := s.client.Get(ctx, s.keys.Node(runID, nodeID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, &ErrStore{Op: "GetNodeState", Err: err}
	}
	var state domain.NodeState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, &ErrStore{Op: "GetNodeState", Err: err}
	}
	return &state, nil
}

func (s *RedisStore) PutNodeState(ctx context.Context, state *domain.NodeState) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return &ErrStore{Op: "PutNodeState", Err: err}
	}
	if err := s.client.Set(ctx, s.keys.Node(state.RunID, state.NodeID), raw, DefaultNodeTTL).Err(); err != nil {
		return &ErrStore{Op: "PutNodeState", Err: err}
	}
	return nil
}

// GetAllNodeStates enumerates node:<runId>:* via SCAN and batch-reads with
// a pipelined MGET, mirroring asynq's own pipeline-batching style used
// throughout the teacher's pkg/queue.
func (s *RedisStore) GetAllNodeStates(ctx context.Context, runID string) ([]*domain.NodeState, error) {
	keys, err := s.scanKeys(ctx, s.keys.NodeScanPattern(runID))
	if err != nil {
		return nil, &ErrStore{Op: "GetAllNodeStates", Err: err}
	}
	if len(keys) == 0 {
		return nil, nil
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, &ErrStore{Op: "GetAllNodeStates", Err: err}
	}
	out := make([]*domain.NodeState, 0, len(vals))
	for _, v := range vals {
		if v == nil {
			continue
		}
		str, ok := v.(string)
		if !ok {
			continue
		}
		var state domain.NodeState
		if err := json.Unmarshal([]byte(str), &state); err != nil {
			continue
		}
		out = append(out, &state)
	}
	return out, nil
}

func (s *RedisStore) BatchPutNodeStates(ctx context.Context, states []*domain.NodeState) error {
	pipe := s.client.Pipeline()
	for _, state := range states {
		raw, err := json.Marshal(state)
		if err != nil {
			return &ErrStore{Op: "BatchPutNodeStates", Err: err}
		}
		pipe.Set(ctx, s.keys.Node(state.RunID, state.NodeID), raw, DefaultNodeTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return &ErrStore{Op: "BatchPutNodeStates", Err: err}
	}
	return nil
}

func (s *RedisStore) AcquireLock(ctx context.Context, runID, holder string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.keys.Lock(runID), holder, ttl).Result()
	if err != nil {
		return false, &ErrStore{Op: "AcquireLock", Err: err}
	}
	return ok, nil
}

func (s *RedisStore) ReleaseLock(ctx context.Context, runID, holder string) (bool, error) {
	res, err := releaseLockScript.Run(ctx, s.client, []string{s.keys.Lock(runID)}, holder).Int()
	if err != nil {
		return false, &ErrStore{Op: "ReleaseLock", Err: err}
	}
	return res == 1, nil
}

func (s *RedisStore) ExtendLock(ctx context.Context, runID, holder string, ttl time.Duration) (bool, error) {
	res, err := extendLockScript.Run(ctx, s.client, []string{s.keys.Lock(runID)}, holder, ttl.Milliseconds()).Int()
	if err != nil {
		return false, &ErrStore{Op: "ExtendLock", Err: err}
	}
	return res == 1, nil
}

func (s *RedisStore) ScheduleRetry(ctx context.Context, runID, nodeID string, at time.Time) error {
	member := runID + ":" + nodeID
	if err := s.client.ZAdd(ctx, s.keys.RetrySchedule(), redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: member,
	}).Err(); err != nil {
		return &ErrStore{Op: "ScheduleRetry", Err: err}
	}
	s.client.Expire(ctx, s.keys.RetrySchedule(), DefaultRetryScheduleTTL)
	return nil
}

func (s *RedisStore) GetNodesReadyForRetry(ctx context.Context, now time.Time, limit int) ([]RetryScheduleEntry, error) {
	members, err := s.client.ZRangeByScoreWithScores(ctx, s.keys.RetrySchedule(), &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", now.UnixMilli()),
		Offset: 0,
		Count:  int64(limit),
	}).Result()
	if err != nil {
		return nil, &ErrStore{Op: "GetNodesReadyForRetry", Err: err}
	}
	out := make([]RetryScheduleEntry, 0, len(members))
	for _, m := range members {
		member, _ := m.Member.(string)
		runID, nodeID, found := splitPair(member)
		if !found {
			continue
		}
		out = append(out, RetryScheduleEntry{RunID: runID, NodeID: nodeID, ScoredAt: int64(m.Score)})
	}
	return out, nil
}

func (s *RedisStore) RemoveFromRetrySchedule(ctx context.Context, runID, nodeID string) error {
	member := runID + ":" + nodeID
	if err := s.client.ZRem(ctx, s.keys.RetrySchedule(), member).Err(); err != nil {
		return &ErrStore{Op: "RemoveFromRetrySchedule", Err: err}
	}
	return nil
}

func (s *RedisStore) GetCircuitBreaker(ctx context.Context, service string) (*domain.CircuitBreakerRecord, error) {
	raw, err := s.client.Get(ctx, s.keys.CircuitBreaker(service)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, &ErrStore{Op: "GetCircuitBreaker", Err: err}
	}
	var rec domain.CircuitBreakerRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, &ErrStore{Op: "GetCircuitBreaker", Err: err}
	}
	return &rec, nil
}

func (s *RedisStore) PutCircuitBreaker(ctx context.Context, record *domain.CircuitBreakerRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return &ErrStore{Op: "PutCircuitBreaker", Err: err}
	}
	if err := s.client.Set(ctx, s.keys.CircuitBreaker(record.Service), raw, DefaultCircuitTTL).Err(); err != nil {
		return &ErrStore{Op: "PutCircuitBreaker", Err: err}
	}
	return nil
}

func (s *RedisStore) PutErrorLog(ctx context.Context, entry *domain.ErrorLogEntry) error {
	raw, err := json.Marshal(entry)
	if err != nil {
		return &ErrStore{Op: "PutErrorLog", Err: err}
	}
	key := s.keys.ErrorLog(entry.Timestamp.UnixMilli(), entry.ID)
	if err := s.client.Set(ctx, key, raw, DefaultErrorLogTTL).Err(); err != nil {
		return &ErrStore{Op: "PutErrorLog", Err: err}
	}
	return nil
}

func (s *RedisStore) scanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return nil, err
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return keys, nil
}

func splitPair(member string) (runID, nodeID string, found bool) {
	for i := len(member) - 1; i >= 0; i-- {
		if member[i] == ':' {
			return member[:i], member[i+1:], true
		}
	}
	return "", "", false
}

// Package store implements the distributed state store (C2): per-run
// workflow/node state, distributed locks, the retry schedule, circuit
// breaker records and the error log, behind a single Store interface with
// a Redis-backed production implementation and an in-memory test double.
//
// Grounded on the teacher's internal/pkg/redis client (SetNX-based lock
// acquire, Lua-script compare-and-delete release, Lua-script
// compare-and-extend renewal) and internal/scheduler/leader/election.go for
// the acquire/renew/release lease shape.
package store

import "fmt"

// KeyBuilder prefixes every key with a configurable namespace, default
// "officeflow:" per spec §6.
type KeyBuilder struct {
	Namespace string
}

func NewKeyBuilder(namespace string) KeyBuilder {
	if namespace == "" {
		namespace = "officeflow:"
	}
	return KeyBuilder{Namespace: namespace}
}

func (k KeyBuilder) Workflow(runID string) string {
	return k.Namespace + "workflow:" + runID
}

func (k KeyBuilder) Node(runID, nodeID string) string {
	return k.Namespace + "node:" + runID + ":" + nodeID
}

func (k KeyBuilder) NodeScanPattern(runID string) string {
	return k.Namespace + "node:" + runID + ":*"
}

func (k KeyBuilder) WorkflowScanPattern() string {
	return k.Namespace + "workflow:*"
}

func (k KeyBuilder) Lock(runID string) string {
	return k.Namespace + "lock:workflow:" + runID
}

func (k KeyBuilder) RetrySchedule() string {
	return k.Namespace + "retry:schedule"
}

func (k KeyBuilder) CircuitBreaker(service string) string {
	return k.Namespace + "circuit_breaker:" + service
}

func (k KeyBuilder) ErrorLog(tsMillis int64, id string) string {
	return k.Namespace + fmt.Sprintf("error_log:%d:%s", tsMillis, id)
}

// Package breaker implements the per-external-service circuit breaker
// (C7): CLOSED/OPEN/HALF_OPEN transitions with failure-threshold and
// minimum-throughput gating, shared cross-instance via the state store.
//
// Directly adapted from the teacher's internal/pkg/circuitbreaker package
// (CircuitBreaker, Counts, generation-based concurrent accounting), with
// the addition of a minimumThroughput gate spec §4.7 requires and a
// store-backed Manager for cross-instance persistence that the teacher's
// in-process-only Manager did not need.
package breaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/linkflow-ai/officeflow-engine/internal/domain"
	"github.com/linkflow-ai/officeflow-engine/internal/pkg/metrics"
)

// ErrOpen is returned by Execute when the breaker is OPEN and the recovery
// timeout has not yet elapsed.
type ErrOpen struct {
	Service     string
	NextRetryAt time.Time
}

func (e *ErrOpen) Error() string { return "circuit breaker open for " + e.Service }

// Config mirrors spec §4.7's fixed defaults.
type Config struct {
	FailureThreshold  int64
	RecoveryTimeout   time.Duration
	MinimumThroughput int64
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold:  5,
		RecoveryTimeout:   60 * time.Second,
		MinimumThroughput: 10,
	}
}

// Breaker is one per-service circuit breaker instance. Generation-based
// counting (teacher's circuitbreaker.go) is not needed here because state
// transitions happen only inside beforeCall/afterCall under mu (reached via
// Execute, or via Allow/ApplyOutcome for asynchronous callers), but the counts and
// nextRetryAt fields are exactly the ones synced to the store.
type Breaker struct {
	mu      sync.Mutex
	service string
	cfg     Config

	state         domain.CircuitState
	failureCount  int64
	successCount  int64
	totalRequests int64
	lastFailureAt *time.Time
	nextRetryAt   *time.Time
}

func New(service string, cfg Config) *Breaker {
	return &Breaker{service: service, cfg: cfg, state: domain.CircuitClosed}
}

// LoadRecord hydrates a Breaker from a persisted CircuitBreakerRecord —
// used when constructing a Breaker from store state shared by another
// engine instance.
func LoadRecord(cfg Config, rec *domain.CircuitBreakerRecord) *Breaker {
	b := New(rec.Service, cfg)
	b.state = rec.State
	b.failureCount = rec.FailureCount
	b.successCount = rec.SuccessCount
	b.totalRequests = rec.TotalRequests
	b.lastFailureAt = rec.LastFailureAt
	b.nextRetryAt = rec.NextRetryAt
	return b
}

// Record returns the current state as a persistable CircuitBreakerRecord.
func (b *Breaker) Record() *domain.CircuitBreakerRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return &domain.CircuitBreakerRecord{
		Service:       b.service,
		State:         b.state,
		FailureCount:  b.failureCount,
		SuccessCount:  b.successCount,
		TotalRequests: b.totalRequests,
		LastFailureAt: b.lastFailureAt,
		NextRetryAt:   b.nextRetryAt,
	}
}

func (b *Breaker) State() domain.CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// ErrTrialInFlight is returned by Execute when a HALF_OPEN breaker already
// has its one trial call in flight.
var ErrTrialInFlight = errors.New("circuit breaker half-open trial already in flight")

// Execute runs op under the breaker's current state, applying the
// CLOSED/OPEN/HALF_OPEN transitions of spec §4.7.
func (b *Breaker) Execute(ctx context.Context, op func(context.Context) error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}
	err := op(ctx)
	b.afterCall(err == nil)
	return err
}

// Allow reports whether a call may proceed right now, applying the same
// OPEN/HALF_OPEN gating Execute does, for callers whose op runs
// asynchronously (e.g. a node dispatched over the bus) and so cannot be
// passed to Execute directly.
func (b *Breaker) Allow() error {
	return b.beforeCall()
}

// ApplyOutcome applies the outcome of a call admitted by a prior Allow, the
// asynchronous counterpart to Execute's built-in afterCall.
func (b *Breaker) ApplyOutcome(success bool) {
	b.afterCall(success)
}

func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	switch b.state {
	case domain.CircuitOpen:
		if b.nextRetryAt == nil || now.Before(*b.nextRetryAt) {
			nra := time.Time{}
			if b.nextRetryAt != nil {
				nra = *b.nextRetryAt
			}
			return &ErrOpen{Service: b.service, NextRetryAt: nra}
		}
		b.state = domain.CircuitHalfOpen
		return nil
	case domain.CircuitHalfOpen:
		// A single trial call is permitted; callers invoking concurrently
		// while one trial is in flight are rejected rather than queued.
		return ErrTrialInFlight
	default:
		return nil
	}
}

func (b *Breaker) afterCall(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.totalRequests++
	now := time.Now()

	if b.state == domain.CircuitHalfOpen {
		if success {
			b.resetLocked()
		} else {
			b.tripLocked(now)
		}
		return
	}

	if success {
		b.successCount++
		return
	}

	b.failureCount++
	b.lastFailureAt = &now

	if b.totalRequests >= b.cfg.MinimumThroughput {
		failureRate := float64(b.failureCount) / float64(b.totalRequests)
		if b.failureCount >= b.cfg.FailureThreshold || failureRate > 0.5 {
			b.tripLocked(now)
		}
	}
}

func (b *Breaker) tripLocked(now time.Time) {
	b.state = domain.CircuitOpen
	nra := now.Add(b.cfg.RecoveryTimeout)
	b.nextRetryAt = &nra
	metrics.CircuitBreakerTripsTotal.WithLabelValues(b.service).Inc()
}

func (b *Breaker) resetLocked() {
	b.state = domain.CircuitClosed
	b.failureCount = 0
	b.successCount = 0
	b.totalRequests = 0
	b.nextRetryAt = nil
}

package orchestrator

import "time"

// Config holds the recognised options from spec §6. Every duration is kept
// in its native Go form; internal/pkg/config's BuildOrchestratorConfig
// converts from the millisecond/second units the configuration surface is
// documented in.
type Config struct {
	InstanceID string

	MaxConcurrentWorkflows     int
	NodeExecutionTimeout       time.Duration
	WorkflowExecutionTimeout   time.Duration
	LockTTL                    time.Duration
	LockRenewEvery             time.Duration

	EnableRetry          bool
	EnableCircuitBreaker bool
	EnableCompensation   bool
	EnableAlerting       bool

	MaxRetryAttempts        int
	CircuitBreakerThreshold int64
	AlertCooldownMs         int64

	RetryPollInterval     time.Duration
	RetryPollBatchSize    int
	TimeoutScanInterval   time.Duration
}

// DefaultConfig returns the defaults tabulated in spec §6.
func DefaultConfig(instanceID string) Config {
	return Config{
		InstanceID:               instanceID,
		MaxConcurrentWorkflows:   100,
		NodeExecutionTimeout:     300 * time.Second,
		WorkflowExecutionTimeout: 3600 * time.Second,
		LockTTL:                  300 * time.Second,
		LockRenewEvery:           100 * time.Second,
		EnableRetry:              true,
		EnableCircuitBreaker:     true,
		EnableCompensation:       true,
		EnableAlerting:           true,
		MaxRetryAttempts:         3,
		CircuitBreakerThreshold:  5,
		AlertCooldownMs:          300_000,
		RetryPollInterval:        5 * time.Second,
		RetryPollBatchSize:       50,
		TimeoutScanInterval:      30 * time.Second,
	}
}

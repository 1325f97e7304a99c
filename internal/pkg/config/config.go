package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/linkflow-ai/officeflow-engine/internal/orchestrator"
)

// Config is the engine process's full configuration surface: a plain App
// section plus the Redis connection the state store and bus are built on,
// the Orchestrator tuning knobs from spec §6, and the metrics server the
// engine exposes Prometheus counters on.
type Config struct {
	App          AppConfig
	Redis        RedisConfig
	Orchestrator OrchestratorConfig
	Metrics      MetricsConfig
}

type AppConfig struct {
	Name        string
	Environment string
	InstanceID  string
	LogLevel    string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	TLS      bool
}

func (c *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// OrchestratorConfig mirrors orchestrator.Config in the millisecond/second
// units spec §6 documents the configuration surface in;
// BuildOrchestratorConfig converts these into the time.Duration-native
// orchestrator.Config.
type OrchestratorConfig struct {
	MaxConcurrentWorkflows   int
	NodeExecutionTimeoutMs   int64
	WorkflowExecutionTimeoutS int64
	LockTTLS                 int64
	LockRenewEveryS          int64

	EnableRetry          bool
	EnableCircuitBreaker bool
	EnableCompensation   bool
	EnableAlerting       bool

	MaxRetryAttempts        int
	CircuitBreakerThreshold int64
	AlertCooldownMs         int64

	RetryPollIntervalS  int64
	RetryPollBatchSize  int
	TimeoutScanIntervalS int64
}

type MetricsConfig struct {
	Enabled bool
	Host    string
	Port    int
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	_ = viper.BindEnv("redis.host", "REDIS_HOST")
	_ = viper.BindEnv("redis.port", "REDIS_PORT")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("app.instance_id", "INSTANCE_ID")

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config

	cfg.App.Name = viper.GetString("app.name")
	cfg.App.Environment = viper.GetString("app.environment")
	cfg.App.InstanceID = viper.GetString("app.instance_id")
	cfg.App.LogLevel = viper.GetString("app.log_level")

	cfg.Redis.Host = viper.GetString("redis.host")
	cfg.Redis.Port = viper.GetInt("redis.port")
	cfg.Redis.Password = viper.GetString("redis.password")
	cfg.Redis.DB = viper.GetInt("redis.db")
	cfg.Redis.TLS = viper.GetBool("redis.tls")

	cfg.Orchestrator.MaxConcurrentWorkflows = viper.GetInt("orchestrator.max_concurrent_workflows")
	cfg.Orchestrator.NodeExecutionTimeoutMs = viper.GetInt64("orchestrator.node_execution_timeout_ms")
	cfg.Orchestrator.WorkflowExecutionTimeoutS = viper.GetInt64("orchestrator.workflow_execution_timeout_s")
	cfg.Orchestrator.LockTTLS = viper.GetInt64("orchestrator.lock_ttl_s")
	cfg.Orchestrator.LockRenewEveryS = viper.GetInt64("orchestrator.lock_renew_every_s")
	cfg.Orchestrator.EnableRetry = viper.GetBool("orchestrator.enable_retry")
	cfg.Orchestrator.EnableCircuitBreaker = viper.GetBool("orchestrator.enable_circuit_breaker")
	cfg.Orchestrator.EnableCompensation = viper.GetBool("orchestrator.enable_compensation")
	cfg.Orchestrator.EnableAlerting = viper.GetBool("orchestrator.enable_alerting")
	cfg.Orchestrator.MaxRetryAttempts = viper.GetInt("orchestrator.max_retry_attempts")
	cfg.Orchestrator.CircuitBreakerThreshold = viper.GetInt64("orchestrator.circuit_breaker_threshold")
	cfg.Orchestrator.AlertCooldownMs = viper.GetInt64("orchestrator.alert_cooldown_ms")
	cfg.Orchestrator.RetryPollIntervalS = viper.GetInt64("orchestrator.retry_poll_interval_s")
	cfg.Orchestrator.RetryPollBatchSize = viper.GetInt("orchestrator.retry_poll_batch_size")
	cfg.Orchestrator.TimeoutScanIntervalS = viper.GetInt64("orchestrator.timeout_scan_interval_s")

	cfg.Metrics.Enabled = viper.GetBool("metrics.enabled")
	cfg.Metrics.Host = viper.GetString("metrics.host")
	cfg.Metrics.Port = viper.GetInt("metrics.port")

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("app.name", "officeflow-engine")
	viper.SetDefault("app.environment", "development")
	viper.SetDefault("app.instance_id", "")
	viper.SetDefault("app.log_level", "info")

	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.tls", false)

	viper.SetDefault("orchestrator.max_concurrent_workflows", 100)
	viper.SetDefault("orchestrator.node_execution_timeout_ms", 300_000)
	viper.SetDefault("orchestrator.workflow_execution_timeout_s", 3600)
	viper.SetDefault("orchestrator.lock_ttl_s", 300)
	viper.SetDefault("orchestrator.lock_renew_every_s", 100)
	viper.SetDefault("orchestrator.enable_retry", true)
	viper.SetDefault("orchestrator.enable_circuit_breaker", true)
	viper.SetDefault("orchestrator.enable_compensation", true)
	viper.SetDefault("orchestrator.enable_alerting", true)
	viper.SetDefault("orchestrator.max_retry_attempts", 3)
	viper.SetDefault("orchestrator.circuit_breaker_threshold", 5)
	viper.SetDefault("orchestrator.alert_cooldown_ms", 300_000)
	viper.SetDefault("orchestrator.retry_poll_interval_s", 5)
	viper.SetDefault("orchestrator.retry_poll_batch_size", 50)
	viper.SetDefault("orchestrator.timeout_scan_interval_s", 30)

	viper.SetDefault("metrics.enabled", true)
	viper.SetDefault("metrics.host", "0.0.0.0")
	viper.SetDefault("metrics.port", 9090)
}

// BuildOrchestratorConfig converts the document-friendly millisecond/second
// fields into orchestrator.Config's native time.Duration form. Every field is
// copied as-is, so a field left at zero here is zero in the result as well;
// unset configuration keys get their defaults from Load's viper defaults.
func (c OrchestratorConfig) BuildOrchestratorConfig(instanceID string) orchestrator.Config {
	oc := orchestrator.DefaultConfig(instanceID)
	oc.MaxConcurrentWorkflows = c.MaxConcurrentWorkflows
	oc.NodeExecutionTimeout = time.Duration(c.NodeExecutionTimeoutMs) * time.Millisecond
	oc.WorkflowExecutionTimeout = time.Duration(c.WorkflowExecutionTimeoutS) * time.Second
	oc.LockTTL = time.Duration(c.LockTTLS) * time.Second
	oc.LockRenewEvery = time.Duration(c.LockRenewEveryS) * time.Second
	oc.EnableRetry = c.EnableRetry
	oc.EnableCircuitBreaker = c.EnableCircuitBreaker
	oc.EnableCompensation = c.EnableCompensation
	oc.EnableAlerting = c.EnableAlerting
	oc.MaxRetryAttempts = c.MaxRetryAttempts
	oc.CircuitBreakerThreshold = c.CircuitBreakerThreshold
	oc.AlertCooldownMs = c.AlertCooldownMs
	oc.RetryPollInterval = time.Duration(c.RetryPollIntervalS) * time.Second
	oc.RetryPollBatchSize = c.RetryPollBatchSize
	oc.TimeoutScanInterval = time.Duration(c.TimeoutScanIntervalS) * time.Second
	return oc
}

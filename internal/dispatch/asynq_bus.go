package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog/log"
)

// QuarantineThreshold is spec §5's dead-letter quarantine threshold: once a
// message's attemptCount reaches this, a DLQ processor quarantines it
// instead of re-submitting.
const QuarantineThreshold = 6

// dlqSuffix names the per-topic dead-letter topic a message is forwarded to
// once asynq has exhausted every redelivery attempt for it.
const dlqSuffix = ".dlq"

// DLQTopic returns the dead-letter topic a given topic's exhausted messages
// are forwarded to.
func DLQTopic(topic string) string {
	return topic + dlqSuffix
}

// DeadLetterEnvelope is the metadata spec §5 requires a DLQ entry to
// preserve: the original topic, how many attempts were made, and the error
// that caused the final attempt to fail.
type DeadLetterEnvelope struct {
	OriginalTopic string `json:"originalTopic"`
	AttemptCount  int    `json:"attemptCount"`
	Error         string `json:"error"`
	Payload       []byte `json:"payload"`
}

// AsynqBus backs the Bus abstraction with github.com/hibiken/asynq over
// Redis, grounded directly on the teacher's internal/pkg/queue/client.go
// and server.go.
type AsynqBus struct {
	client        *asynq.Client
	server        *asynq.Server
	mux           *asynq.ServeMux
	numPartitions int
}

// AsynqBusConfig mirrors the teacher's queue.Config shape.
type AsynqBusConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Concurrency   int
	NumPartitions int
}

func NewAsynqBus(cfg AsynqBusConfig) *AsynqBus {
	redisOpt := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}

	partitions := cfg.NumPartitions
	if partitions <= 0 {
		partitions = 8
	}
	queues := make(map[string]int, partitions)
	for i := 0; i < partitions; i++ {
		queues[fmt.Sprintf("p%d", i)] = 1
	}

	client := asynq.NewClient(redisOpt)
	bus := &AsynqBus{
		client:        client,
		mux:           asynq.NewServeMux(),
		numPartitions: partitions,
	}

	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: cfg.Concurrency,
		Queues:      queues,
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			log.Error().Err(err).Str("task_type", task.Type()).Msg("node dispatch task failed")
			bus.maybeDeadLetter(ctx, task, err)
		}),
		Logger: &asynqLogger{},
	})
	bus.server = server
	return bus
}

// maybeDeadLetter forwards task to its per-topic DLQ once asynq has
// exhausted every redelivery attempt (spec §5's dead-letter handling): a
// handler error on any attempt before the last is left to asynq's own
// retry/backoff, only the final failure is forwarded.
func (b *AsynqBus) maybeDeadLetter(ctx context.Context, task *asynq.Task, cause error) {
	retried, _ := asynq.GetRetryCount(ctx)
	maxRetry, _ := asynq.GetMaxRetry(ctx)
	if retried < maxRetry {
		return
	}
	envelope := DeadLetterEnvelope{
		OriginalTopic: task.Type(),
		AttemptCount:  retried + 1,
		Error:         cause.Error(),
		Payload:       task.Payload(),
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		log.Error().Err(err).Str("task_type", task.Type()).Msg("failed to marshal dead-letter envelope")
		return
	}
	dlqTask := asynq.NewTask(DLQTopic(task.Type()), payload)
	dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := b.client.EnqueueContext(dctx, dlqTask, asynq.MaxRetry(0)); err != nil {
		log.Error().Err(err).Str("task_type", task.Type()).Msg("failed to enqueue dead-letter task")
	}
}

func (b *AsynqBus) Publish(ctx context.Context, topic, partitionKey string, payload []byte) error {
	task := asynq.NewTask(topic, payload)
	queue := b.partitionQueue(partitionKey)
	_, err := b.client.EnqueueContext(ctx, task, asynq.Queue(queue), asynq.MaxRetry(0))
	return err
}

func (b *AsynqBus) partitionQueue(key string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return fmt.Sprintf("p%d", int(h.Sum32())%b.numPartitions)
}

func (b *AsynqBus) Subscribe(topic string, handler Handler) {
	b.mux.HandleFunc(topic, func(ctx context.Context, task *asynq.Task) error {
		return handler(ctx, task.Type(), task.Payload())
	})
}

// Commit is a no-op: asynq acknowledges a task implicitly when its handler
// returns nil, so there is nothing to commit explicitly.
func (b *AsynqBus) Commit(_ context.Context, _ string, _ []byte) error {
	return nil
}

func (b *AsynqBus) Run(_ context.Context) error {
	return b.server.Run(b.mux)
}

func (b *AsynqBus) Close() error {
	b.server.Shutdown()
	return b.client.Close()
}

// asynqLogger shims asynq.Logger over zerolog, identical in shape to the
// teacher's internal/pkg/queue/server.go asynqLogger.
type asynqLogger struct{}

func (l *asynqLogger) Debug(args ...interface{}) { log.Debug().Msg(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { log.Info().Msg(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { log.Warn().Msg(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { log.Error().Msg(fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...interface{}) { log.Fatal().Msg(fmt.Sprint(args...)) }

package dispatch

import "context"

// Handler processes one inbound message. Returning an error causes the
// underlying transport to redeliver (and, after exhausting its own
// retries, dead-letter) the message.
type Handler func(ctx context.Context, topic string, payload []byte) error

// Bus is the capability descriptor spec.md §9 calls for: publish,
// subscribe, commit. Concrete backends (asynq/Redis in production, an
// in-memory fake for tests) are variants selected at wiring time.
type Bus interface {
	// Publish sends payload to topic, partitioned by partitionKey so all
	// messages sharing a key preserve relative order (spec §5: partitioned
	// by orgId).
	Publish(ctx context.Context, topic, partitionKey string, payload []byte) error

	// Subscribe registers handler for topic (or a topic pattern, backend
	// permitting) before Run is called.
	Subscribe(topic string, handler Handler)

	// Commit is a best-effort explicit ack hook for backends that need one.
	// The asynq-backed Bus has nothing to commit: task completion is
	// implicit in the handler's return value, so Commit is a no-op there.
	Commit(ctx context.Context, topic string, payload []byte) error

	// Run blocks, consuming subscribed topics until ctx is cancelled.
	Run(ctx context.Context) error

	// Close releases any underlying connections.
	Close() error
}

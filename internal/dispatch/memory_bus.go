package dispatch

import (
	"context"
	"sync"
)

// MemoryBus is an in-process Bus implementation for tests: Publish invokes
// any matching subscriber synchronously. There is no real partitioning;
// partitionKey is accepted only to satisfy the interface.
type MemoryBus struct {
	mu       sync.Mutex
	handlers map[string][]Handler

	publishMu sync.Mutex
	published []PublishedMessage
}

// PublishedMessage records one Publish call, for test assertions.
type PublishedMessage struct {
	Topic        string
	PartitionKey string
	Payload      []byte
}

func NewMemoryBus() *MemoryBus {
	return &MemoryBus{handlers: make(map[string][]Handler)}
}

func (b *MemoryBus) Publish(ctx context.Context, topic, partitionKey string, payload []byte) error {
	b.publishMu.Lock()
	b.published = append(b.published, PublishedMessage{Topic: topic, PartitionKey: partitionKey, Payload: payload})
	b.publishMu.Unlock()

	b.mu.Lock()
	handlers := append([]Handler(nil), b.handlers[topic]...)
	b.mu.Unlock()

	for _, h := range handlers {
		if err := h(ctx, topic, payload); err != nil {
			return err
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[topic] = append(b.handlers[topic], handler)
}

func (b *MemoryBus) Commit(_ context.Context, _ string, _ []byte) error { return nil }

func (b *MemoryBus) Run(ctx context.Context) error {
	<-ctx.Done()
	return nil
}

func (b *MemoryBus) Close() error { return nil }

// Published returns every message published so far, for assertions.
func (b *MemoryBus) Published() []PublishedMessage {
	b.publishMu.Lock()
	defer b.publishMu.Unlock()
	out := make([]PublishedMessage, len(b.published))
	copy(out, b.published)
	return out
}

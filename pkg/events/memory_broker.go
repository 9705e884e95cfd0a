package events

import (
	"context"
	"sync"
)

// MemoryBroker serves a single-process deployment where the API and
// worker share one process and no Redis is configured.
type MemoryBroker struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{handlers: make(map[string][]Handler)}
}

func (b *MemoryBroker) Publish(ctx context.Context, channel string, hint Hint) error {
	b.mu.RLock()
	handlers := append([]Handler(nil), b.handlers[channel]...)
	b.mu.RUnlock()

	for _, h := range handlers {
		_ = h(ctx, hint)
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, channel string, handler Handler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[channel] = append(b.handlers[channel], handler)
	return nil
}

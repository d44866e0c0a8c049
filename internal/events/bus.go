package events

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Handler consumes an event. Handlers run on their own goroutine and must
// not assume delivery order across topics; a panicking handler is recovered
// and logged.
type Handler func(Event)

// Bus is the publish/subscribe boundary between the engine and everything
// downstream of it.
type Bus interface {
	Publish(ctx context.Context, event Event)
	Subscribe(topic string, handler Handler)
}

// FanoutBus is an in-memory, concurrency-safe bus. Publish hands the event
// off and returns immediately; the engine never waits on consumers.
type FanoutBus struct {
	logger *zap.Logger
	mu     sync.RWMutex
	subs   map[string][]Handler
}

// NewFanoutBus creates an empty bus.
func NewFanoutBus(logger *zap.Logger) *FanoutBus {
	return &FanoutBus{
		logger: logger,
		subs:   make(map[string][]Handler),
	}
}

// Publish delivers the event to every subscriber of its topic.
func (b *FanoutBus) Publish(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := append([]Handler{}, b.subs[event.Topic]...)
	b.mu.RUnlock()

	for _, handler := range handlers {
		go func(h Handler) {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panic",
						zap.Any("recover", r),
						zap.String("topic", event.Topic),
						zap.String("type", event.Type))
				}
			}()
			h(event)
		}(handler)
	}
}

// Subscribe registers a handler for a topic.
func (b *FanoutBus) Subscribe(topic string, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[topic] = append(b.subs[topic], handler)
	b.logger.Info("subscribed handler to topic", zap.String("topic", topic))
}

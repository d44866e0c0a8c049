package events

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestFanoutBusDeliversToTopicSubscribers(t *testing.T) {
	bus := NewFanoutBus(zap.NewNop())
	received := make(chan Event, 2)
	bus.Subscribe(TopicOrderBook, func(e Event) { received <- e })
	bus.Subscribe(TopicOrderBook, func(e Event) { received <- e })
	bus.Subscribe(TopicBalances, func(e Event) {
		t.Error("balances handler must not see orderbook events")
	})

	bus.Publish(context.Background(), Event{
		Topic:     TopicOrderBook,
		Type:      TypeBookUpdated,
		Timestamp: time.Now(),
	})

	for i := 0; i < 2; i++ {
		select {
		case e := <-received:
			assert.Equal(t, TypeBookUpdated, e.Type)
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for event delivery")
		}
	}
}

func TestFanoutBusIgnoresTopicsWithoutSubscribers(t *testing.T) {
	bus := NewFanoutBus(zap.NewNop())
	// must not panic or block
	bus.Publish(context.Background(), Event{Topic: "nobody-listens", Type: "NOOP"})
}

func TestFanoutBusSurvivesPanickingHandler(t *testing.T) {
	bus := NewFanoutBus(zap.NewNop())
	received := make(chan struct{}, 1)
	bus.Subscribe(TopicBalances, func(Event) { panic("boom") })
	bus.Subscribe(TopicBalances, func(Event) { received <- struct{}{} })

	bus.Publish(context.Background(), Event{Topic: TopicBalances, Type: TypeBalancesChanged})

	select {
	case <-received:
	case <-time.After(time.Second):
		t.Fatal("healthy handler was not invoked")
	}
}

func TestPublishDoesNotBlockOnSlowHandlers(t *testing.T) {
	bus := NewFanoutBus(zap.NewNop())
	release := make(chan struct{})
	bus.Subscribe(TopicOrderBook, func(Event) { <-release })

	done := make(chan struct{})
	go func() {
		bus.Publish(context.Background(), Event{Topic: TopicOrderBook, Type: TypeBookUpdated})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow handler")
	}
	close(release)
}

package events

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishKeepsOrder(t *testing.T) {
	bus := NewEventBus()

	var mu sync.Mutex
	var got []int
	bus.Subscribe(EventUpdate, func(e Event) {
		mu.Lock()
		got = append(got, e.Payload.(int))
		mu.Unlock()
	})

	for i := 0; i < 50; i++ {
		bus.Publish(EventUpdate, i, "test")
	}
	bus.Close()

	require.Len(t, got, 50)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestWildcardAndUnsubscribe(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	var specific, wildcard, other int
	sub := bus.Subscribe(EventTurnStarted, func(Event) { specific++ })
	bus.Subscribe("*", func(Event) { wildcard++ })
	bus.Subscribe(EventTurnStarted, func(Event) { other++ })

	bus.PublishSync(EventTurnStarted, TurnPayload{TurnID: "1"}, "test")
	bus.Unsubscribe(sub)
	bus.PublishSync(EventTurnStarted, TurnPayload{TurnID: "2"}, "test")
	bus.PublishSync(EventError, ErrorPayload{Error: "x"}, "test")

	assert.Equal(t, 1, specific)
	assert.Equal(t, 2, other)
	assert.Equal(t, 3, wildcard)
}

func TestPanickingHandlerIsContained(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	var delivered bool
	bus.Subscribe(EventError, func(Event) { panic("boom") })
	bus.Subscribe(EventError, func(Event) { delivered = true })

	assert.NotPanics(t, func() { bus.PublishSync(EventError, nil, "test") })
	assert.True(t, delivered)
}

func TestPublishAfterClose(t *testing.T) {
	bus := NewEventBus()
	bus.Close()
	bus.Close()

	done := make(chan struct{})
	go func() {
		bus.Publish(EventUpdate, 1, "test")
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked after Close")
	}
}

func TestFlushWaitsForEarlierEvents(t *testing.T) {
	bus := NewEventBus()
	defer bus.Close()

	var mu sync.Mutex
	seen := 0
	bus.Subscribe("*", func(e Event) {
		time.Sleep(time.Millisecond)
		mu.Lock()
		seen++
		mu.Unlock()
	})

	for i := 0; i < 10; i++ {
		bus.Publish(EventUpdate, i, "test")
	}
	bus.Flush()

	mu.Lock()
	assert.Equal(t, 10, seen)
	mu.Unlock()

	bus.Close()
	bus.Flush()
}

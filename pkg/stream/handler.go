package stream

import (
	"context"
	"sync"
)

// Emitter delivers events to a consumer channel on behalf of a provider.
// Sends respect cancellation so a provider goroutine never blocks after the
// consumer has gone away.
type Emitter struct {
	ctx    context.Context
	out    chan Event
	once   sync.Once
	closed bool
	mu     sync.Mutex
}

// NewEmitter creates an emitter with a buffered output channel
func NewEmitter(ctx context.Context, buffer int) *Emitter {
	return &Emitter{
		ctx: ctx,
		out: make(chan Event, buffer),
	}
}

// Events returns the channel consumers read from
func (e *Emitter) Events() <-chan Event {
	return e.out
}

// Emit sends ev unless the context is done. It returns the context error when
// the event could not be delivered.
func (e *Emitter) Emit(ev Event) error {
	e.mu.Lock()
	closed := e.closed
	e.mu.Unlock()
	if closed {
		return context.Canceled
	}

	select {
	case e.out <- ev:
		return nil
	case <-e.ctx.Done():
		return e.ctx.Err()
	}
}

// Close closes the output channel. Safe to call more than once; only the
// goroutine that calls Emit may call it.
func (e *Emitter) Close() {
	e.once.Do(func() {
		e.mu.Lock()
		e.closed = true
		e.mu.Unlock()
		close(e.out)
	})
}

// ToStreamingFunc adapts the emitter to langchaingo's llms.WithStreamingFunc
// signature. Each chunk becomes a TextDelta.
func (e *Emitter) ToStreamingFunc() func(context.Context, []byte) error {
	return func(ctx context.Context, chunk []byte) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if len(chunk) == 0 {
			return nil
		}
		return e.Emit(TextDelta{Text: string(chunk)})
	}
}

// FromSlice returns a closed channel preloaded with events
func FromSlice(events ...Event) <-chan Event {
	ch := make(chan Event, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch
}

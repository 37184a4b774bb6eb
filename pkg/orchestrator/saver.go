package orchestrator

import (
	"context"
	"sync"
	"time"

	"github.com/killallgit/relay/pkg/content"
	"github.com/killallgit/relay/pkg/events"
	"github.com/killallgit/relay/pkg/logger"
	"github.com/killallgit/relay/pkg/session"
)

// snapshot is one conversation state to persist
type snapshot struct {
	id       string
	messages []content.Message
	title    string
	tokens   int
}

// saver persists snapshots in the order they were taken on a single
// goroutine. A snapshot still waiting is replaced by a newer one of the same
// session, so the store never ends on an older state than the conversation.
type saver struct {
	store   session.Store
	bus     *events.EventBus
	log     *logger.Logger
	timeout time.Duration

	mu      sync.Mutex
	pending []snapshot
	running bool
	wg      sync.WaitGroup
}

func newSaver(store session.Store, bus *events.EventBus, log *logger.Logger) *saver {
	return &saver{store: store, bus: bus, log: log, timeout: saveTimeout}
}

// Enqueue schedules snap and returns at once
func (s *saver) Enqueue(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(s.pending); n > 0 && s.pending[n-1].id == snap.id {
		s.pending[n-1] = snap
	} else {
		s.pending = append(s.pending, snap)
	}
	if s.running {
		return
	}
	s.running = true
	s.wg.Add(1)
	go s.loop()
}

func (s *saver) loop() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		if len(s.pending) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		snap := s.pending[0]
		s.pending = s.pending[1:]
		s.mu.Unlock()

		s.save(snap)
	}
}

func (s *saver) save(snap snapshot) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	if err := s.store.Save(ctx, snap.id, snap.messages, snap.title, snap.tokens); err != nil {
		s.log.Error("Failed to save session %s: %v", snap.id, err)
		s.bus.Publish(events.EventError, events.ErrorPayload{
			Error:   err.Error(),
			Source:  "session",
			Context: map[string]interface{}{"session_id": snap.id},
		}, eventSource)
		return
	}
	s.bus.Publish(events.EventSessionSaved, events.SessionPayload{SessionID: snap.id, Title: snap.title, Tokens: snap.tokens}, eventSource)
}

// Wait blocks until every enqueued snapshot has been handled
func (s *saver) Wait() {
	s.wg.Wait()
}

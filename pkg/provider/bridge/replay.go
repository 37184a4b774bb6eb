package bridge

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/killallgit/relay/pkg/logger"
	"github.com/killallgit/relay/pkg/provider"
	"github.com/killallgit/relay/pkg/stream"
)

// ErrReplayExhausted is returned when every recorded turn has been played
var ErrReplayExhausted = errors.New("no recorded turns left")

// SplitTurns cuts a recording after each terminal event. A trailing segment
// without one is kept as the last turn.
func SplitTurns(events []stream.Event) [][]stream.Event {
	var turns [][]stream.Event
	var cur []stream.Event
	for _, ev := range events {
		cur = append(cur, ev)
		if stream.IsTerminal(ev) {
			turns = append(turns, cur)
			cur = nil
		}
	}
	if len(cur) > 0 {
		turns = append(turns, cur)
	}
	return turns
}

// ReplayProvider plays a recorded bridge stream, one recorded turn per
// SendMessage. After a permission_request it waits for the response before
// continuing, so approvals behave as they would against a live process.
type ReplayProvider struct {
	turns [][]stream.Event
	delay time.Duration
	log   *logger.Logger

	mu        sync.Mutex
	next      int
	cancel    context.CancelFunc
	responses chan struct{}
	sessionID string
	resumeID  string
}

// ReplayOption configures a ReplayProvider
type ReplayOption func(*ReplayProvider)

// WithDelay pauses between events
func WithDelay(d time.Duration) ReplayOption {
	return func(r *ReplayProvider) { r.delay = d }
}

// NewReplayProvider replays events
func NewReplayProvider(events []stream.Event, opts ...ReplayOption) *ReplayProvider {
	r := &ReplayProvider{
		turns: SplitTurns(events),
		log:   logger.WithComponent("replay"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OpenReplay reads a recording from path
func OpenReplay(path string, opts ...ReplayOption) (*ReplayProvider, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open recording: %w", err)
	}
	defer f.Close()

	events, err := ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read recording %s: %w", path, err)
	}
	return NewReplayProvider(events, opts...), nil
}

// Turns returns how many recorded turns there are
func (r *ReplayProvider) Turns() int {
	return len(r.turns)
}

// Remaining returns how many recorded turns have not been played
func (r *ReplayProvider) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.turns) - r.next
}

// SendMessage plays the next recorded turn
func (r *ReplayProvider) SendMessage(ctx context.Context, _ provider.Request) (<-chan stream.Event, error) {
	r.mu.Lock()
	if r.next >= len(r.turns) {
		r.mu.Unlock()
		return nil, ErrReplayExhausted
	}
	turn := r.turns[r.next]
	r.next++
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	responses := make(chan struct{}, 1)
	r.responses = responses
	r.mu.Unlock()

	em := stream.NewEmitter(ctx, 16)
	go func() {
		defer em.Close()
		defer r.release(responses, cancel)

		for _, ev := range turn {
			if r.delay > 0 {
				select {
				case <-time.After(r.delay):
				case <-ctx.Done():
					return
				}
			}
			if start, ok := ev.(stream.StreamStart); ok && start.SessionID != "" {
				r.mu.Lock()
				r.sessionID = start.SessionID
				r.mu.Unlock()
			}
			if em.Emit(ev) != nil {
				return
			}
			if _, ok := ev.(stream.PermissionRequest); ok {
				select {
				case <-responses:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return em.Events(), nil
}

func (r *ReplayProvider) release(responses chan struct{}, cancel context.CancelFunc) {
	cancel()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.responses == responses {
		r.responses = nil
		r.cancel = nil
	}
}

// Abort stops the turn being played
func (r *ReplayProvider) Abort() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel == nil {
		return provider.ErrNoActiveStream
	}
	r.cancel()
	return nil
}

func (r *ReplayProvider) respond(allowed bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.responses == nil {
		return provider.ErrNoActiveStream
	}
	r.log.Debug("Permission response allowed=%t", allowed)
	select {
	case r.responses <- struct{}{}:
	default:
	}
	return nil
}

// SendPermissionResponse lets the recording continue past a permission request.
// The recording already decided what happened next, so allowed only gets logged.
func (r *ReplayProvider) SendPermissionResponse(_ context.Context, allowed bool, _ string) error {
	return r.respond(allowed)
}

// SendPermissionResponseWithInput is SendPermissionResponse for payload answers
func (r *ReplayProvider) SendPermissionResponseWithInput(_ context.Context, allowed bool, _ map[string]any) error {
	return r.respond(allowed)
}

// ResetSession forgets the session
func (r *ReplayProvider) ResetSession() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessionID = ""
	r.resumeID = ""
}

// SetResumeSessionID records the session to resume
func (r *ReplayProvider) SetResumeSessionID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resumeID = id
}

// SessionID returns the recorded session id, or the resumed one
func (r *ReplayProvider) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessionID != "" {
		return r.sessionID
	}
	return r.resumeID
}

var _ provider.Provider = (*ReplayProvider)(nil)

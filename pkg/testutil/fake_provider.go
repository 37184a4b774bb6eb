package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/killallgit/relay/pkg/provider"
	"github.com/killallgit/relay/pkg/stream"
)

// Script is the event sequence of one scripted turn
type Script struct {
	Events []stream.Event
	// Err is returned by SendMessage instead of a stream
	Err error
	// Gate, when set, holds the stream back until it is closed
	Gate chan struct{}
	// Hold keeps the stream open after the last event until the turn is aborted
	Hold bool
}

// PermissionResponse is one recorded response to a permission request
type PermissionResponse struct {
	Allowed bool
	Reason  string
	Payload map[string]any
}

// FakeProvider plays scripts in order, one per SendMessage. Events go out on
// an unbuffered channel, so the log shows exactly when each one was taken.
type FakeProvider struct {
	mu        sync.Mutex
	scripts   []Script
	requests  []provider.Request
	responses []PermissionResponse
	log       []string
	aborts    int
	resets    int
	cancel    context.CancelFunc
	sessionID string
	resumeID  string
}

var _ provider.Provider = (*FakeProvider)(nil)

// NewFakeProvider creates a provider with the given scripts
func NewFakeProvider(scripts ...Script) *FakeProvider {
	return &FakeProvider{scripts: scripts}
}

// AddScript queues another turn
func (f *FakeProvider) AddScript(s Script) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scripts = append(f.scripts, s)
}

// SetSessionID sets the id SessionID reports
func (f *FakeProvider) SetSessionID(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessionID = id
}

func (f *FakeProvider) record(entry string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, entry)
}

// SendMessage starts the next script. Without one the turn just ends.
func (f *FakeProvider) SendMessage(ctx context.Context, req provider.Request) (<-chan stream.Event, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.log = append(f.log, "send:"+req.LastUserText())
	script := Script{Events: []stream.Event{stream.StreamEnd{}}}
	if len(f.scripts) > 0 {
		script = f.scripts[0]
		f.scripts = f.scripts[1:]
	}
	if script.Err != nil {
		f.mu.Unlock()
		return nil, script.Err
	}
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.mu.Unlock()

	ch := make(chan stream.Event)
	go func() {
		defer close(ch)
		if script.Gate != nil {
			select {
			case <-script.Gate:
			case <-ctx.Done():
				return
			}
		}
		for _, ev := range script.Events {
			select {
			case ch <- ev:
				f.record("event:" + string(ev.Kind()))
			case <-ctx.Done():
				return
			}
		}
		if script.Hold {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

// Abort cancels the running script
func (f *FakeProvider) Abort() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.log = append(f.log, "abort")
	if f.cancel == nil {
		return provider.ErrNoActiveStream
	}
	f.aborts++
	f.cancel()
	f.cancel = nil
	return nil
}

// SendPermissionResponse records the response. Like a real provider it
// fails once the turn has been aborted, after recording.
func (f *FakeProvider) SendPermissionResponse(_ context.Context, allowed bool, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, PermissionResponse{Allowed: allowed, Reason: reason})
	f.log = append(f.log, fmt.Sprintf("response:%t:%s", allowed, reason))
	return f.liveLocked()
}

func (f *FakeProvider) SendPermissionResponseWithInput(_ context.Context, allowed bool, payload map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, PermissionResponse{Allowed: allowed, Payload: payload})
	f.log = append(f.log, fmt.Sprintf("response:%t:input", allowed))
	return f.liveLocked()
}

func (f *FakeProvider) liveLocked() error {
	if f.cancel == nil {
		return provider.ErrNoActiveStream
	}
	return nil
}

func (f *FakeProvider) ResetSession() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.sessionID = ""
	f.resumeID = ""
}

func (f *FakeProvider) SetResumeSessionID(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resumeID = id
}

func (f *FakeProvider) SessionID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sessionID
}

// Requests returns every request sent so far
func (f *FakeProvider) Requests() []provider.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.Request(nil), f.requests...)
}

// Responses returns the permission responses in order
func (f *FakeProvider) Responses() []PermissionResponse {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]PermissionResponse(nil), f.responses...)
}

// Log returns sends, delivered events, responses and aborts in order
func (f *FakeProvider) Log() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.log...)
}

// Aborts returns how many running turns were aborted
func (f *FakeProvider) Aborts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.aborts
}

// Resets returns how many times the session was reset
func (f *FakeProvider) Resets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}

// ResumeID returns the id passed to SetResumeSessionID
func (f *FakeProvider) ResumeID() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resumeID
}

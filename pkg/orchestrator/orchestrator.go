package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/killallgit/relay/pkg/approval"
	"github.com/killallgit/relay/pkg/config"
	"github.com/killallgit/relay/pkg/content"
	"github.com/killallgit/relay/pkg/events"
	"github.com/killallgit/relay/pkg/logger"
	"github.com/killallgit/relay/pkg/plan"
	"github.com/killallgit/relay/pkg/provider"
	"github.com/killallgit/relay/pkg/session"
	"github.com/killallgit/relay/pkg/stream"
	"github.com/killallgit/relay/pkg/tools"
)

const (
	eventSource = "orchestrator"
	saveTimeout = 30 * time.Second
)

var (
	// ErrClosed is returned once Close has been called
	ErrClosed = errors.New("orchestrator closed")
	// ErrEmptyMessage is returned for a send with no text, images or files
	ErrEmptyMessage = errors.New("message is empty")
	// ErrBusy is returned by session operations while a turn is in flight
	ErrBusy = errors.New("conversation is busy")
)

// Config tunes the turn loop
type Config struct {
	Model           string
	SystemPrompt    string
	MaxTokens       int
	PermissionMode  provider.PermissionMode
	Streaming       bool
	Debounce        time.Duration
	ApprovalTimeout time.Duration
	PlanPolicy      plan.Policy
	CompactPrompt   string
}

// DefaultConfig is used when no configuration is supplied
func DefaultConfig() Config {
	return Config{
		MaxTokens:      8192,
		PermissionMode: provider.PermissionDefault,
		Streaming:      true,
		Debounce:       50 * time.Millisecond,
		PlanPolicy:     plan.PolicyLongest,
		CompactPrompt:  "/compact",
	}
}

// ConfigFrom converts the loaded application config
func ConfigFrom(c *config.Config) (Config, error) {
	mode, err := provider.ParsePermissionMode(c.PermissionMode)
	if err != nil {
		return Config{}, err
	}
	policy, err := plan.ParsePolicy(c.Orchestrator.PlanPolicy)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Model:           c.ResolvedModel(),
		SystemPrompt:    c.SystemPrompt,
		MaxTokens:       c.MaxTokens,
		PermissionMode:  mode,
		Streaming:       c.Streaming,
		Debounce:        c.Orchestrator.Debounce,
		ApprovalTimeout: c.Orchestrator.ApprovalTimeout,
		PlanPolicy:      policy,
		CompactPrompt:   c.Orchestrator.CompactPrompt,
	}, nil
}

// Dispatch says what Send did with a message
type Dispatch struct {
	Queued   bool
	Position int
}

// Option is a functional option for configuring the orchestrator
type Option func(*Orchestrator)

// WithStore persists each finished turn
func WithStore(s session.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithPresenter shows approval requests to the user
func WithPresenter(p approval.Presenter) Option {
	return func(o *Orchestrator) { o.presenter = p }
}

// WithTable replaces the default tool classification table
func WithTable(t *tools.Table) Option {
	return func(o *Orchestrator) { o.table = t }
}

// WithConfig replaces DefaultConfig
func WithConfig(c Config) Option {
	return func(o *Orchestrator) { o.cfg = c }
}

// WithBus publishes on a shared bus. The orchestrator does not close it.
func WithBus(b *events.EventBus) Option {
	return func(o *Orchestrator) { o.bus = b }
}

// Orchestrator drives one conversation: it starts turns, feeds provider
// events through the State reducer, suspends on approvals and persists
// finished turns. One goroutine per turn mutates state, always under mu.
type Orchestrator struct {
	provider  provider.Provider
	store     session.Store
	presenter approval.Presenter
	coord     *approval.Coordinator
	bus       *events.EventBus
	ownBus    bool
	table     *tools.Table
	cfg       Config
	log       *logger.Logger

	queue    *Queue
	debounce *Debouncer

	// pubMu orders update publication; it is always taken before mu
	pubMu sync.Mutex
	seq   uint64

	mu          sync.Mutex
	state       *State
	messages    []content.Message
	placeholder content.Message
	turnCancel  context.CancelFunc
	active      bool
	idle        chan struct{}
	closed      bool
	sessionID   string
	title       string
	tokens      int

	saver  *saver
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an idle orchestrator around p
func New(p provider.Provider, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		provider: p,
		cfg:      DefaultConfig(),
		log:      logger.WithComponent("orchestrator"),
		queue:    NewQueue(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if o.store == nil {
		o.store = session.NopStore{}
	}
	if o.table == nil {
		o.table = tools.DefaultTable()
	}
	if o.bus == nil {
		o.bus = events.NewEventBus()
		o.ownBus = true
	}

	o.saver = newSaver(o.store, o.bus, o.log)
	o.coord = approval.NewCoordinator(p, o.presenter, approval.WithTimeout(o.cfg.ApprovalTimeout))
	o.debounce = NewDebouncer(o.cfg.Debounce)
	o.state = NewState(o.table, o.cfg.PlanPolicy)
	o.idle = make(chan struct{})
	close(o.idle)
	o.ctx, o.cancel = context.WithCancel(context.Background())
	return o
}

// Send starts msg now when the conversation is idle, otherwise queues it
func (o *Orchestrator) Send(ctx context.Context, msg QueuedMessage) (Dispatch, error) {
	if err := ctx.Err(); err != nil {
		return Dispatch{}, err
	}
	if msg.Empty() {
		return Dispatch{}, ErrEmptyMessage
	}

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return Dispatch{}, ErrClosed
	}
	if o.active {
		n := o.queue.Push(msg)
		o.mu.Unlock()

		o.log.Debug("Queued message, %d pending", n)
		o.bus.Publish(events.EventMessageQueued, events.QueuePayload{Text: msg.Text, Pending: n}, eventSource)
		o.publishUpdate()
		return Dispatch{Queued: true, Position: n}, nil
	}
	o.startLocked(msg)
	o.mu.Unlock()
	return Dispatch{}, nil
}

func (o *Orchestrator) startLocked(msg QueuedMessage) {
	history := content.Append(o.messages, msg.Message())
	o.placeholder = content.NewAssistantPlaceholder()
	o.messages = content.Append(history, o.placeholder)

	turn := o.state.Begin()
	ctx, cancel := context.WithCancel(o.ctx)
	o.turnCancel = cancel
	if !o.active {
		o.active = true
		o.idle = make(chan struct{})
	}

	req := provider.Request{
		History:        history,
		Model:          o.cfg.Model,
		MaxTokens:      o.cfg.MaxTokens,
		SystemPrompt:   o.cfg.SystemPrompt,
		PermissionMode: o.cfg.PermissionMode,
		Streaming:      o.cfg.Streaming,
	}
	go o.run(ctx, turn, req)
}

func (o *Orchestrator) run(ctx context.Context, turn *Turn, req provider.Request) {
	defer o.exit()

	o.log.Debug("Starting turn %s with %d messages", turn.ID, len(req.History))
	o.bus.Publish(events.EventTurnStarted, events.TurnPayload{TurnID: turn.ID}, eventSource)
	o.publishUpdate()

	ch, err := o.provider.SendMessage(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		o.log.Error("Failed to start turn %s: %v", turn.ID, err)
		o.apply(ctx, turn, stream.Error{Message: err.Error()})
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				if ctx.Err() == nil {
					o.log.Warn("Stream for turn %s closed without an end event", turn.ID)
					o.finish(turn, FinishCompleted)
				}
				return
			}
			if o.apply(ctx, turn, ev) {
				return
			}
		}
	}
}

// apply folds ev into the state and carries out the effects. It reports
// whether the turn is over.
func (o *Orchestrator) apply(ctx context.Context, turn *Turn, ev stream.Event) bool {
	o.mu.Lock()
	if o.state.Turn != turn {
		o.mu.Unlock()
		return true
	}
	effects := o.state.Apply(ev)
	o.mu.Unlock()

	return o.handle(ctx, turn, effects)
}

func (o *Orchestrator) handle(ctx context.Context, turn *Turn, effects []Effect) bool {
	for _, eff := range effects {
		switch e := eff.(type) {
		case Rebuild:
			if e.Immediate {
				o.debounce.Cancel()
				o.publishUpdate()
			} else {
				o.debounce.Trigger(o.publishUpdate)
			}
		case AwaitApproval:
			if o.await(ctx, turn, e.Request) {
				return true
			}
		case Finalize:
			o.finish(turn, e.Reason)
			return true
		case SessionStarted:
			o.log.Debug("Provider session %s (model %s)", e.ID, e.Model)
		case Unhandled:
			o.log.Warn("Unhandled stream event %s", e.Kind)
		}
	}
	return false
}

// await blocks the turn, and with it the reading of the stream, until the
// request is resolved and its response has been sent.
func (o *Orchestrator) await(ctx context.Context, turn *Turn, req approval.Request) bool {
	o.bus.Publish(events.EventApprovalRequested, req, eventSource)
	o.publishUpdate()

	out, err := o.coord.Await(ctx, req)
	switch {
	case err != nil && ctx.Err() != nil:
		// the turn was cancelled and the provider already aborted
		o.log.Debug("Approval for %s dropped with the turn: %v", req.ToolName, err)
	case err != nil:
		o.log.Error("Approval for %s failed: %v", req.ToolName, err)
		o.bus.Publish(events.EventError, events.ErrorPayload{
			Error:   err.Error(),
			Source:  eventSource,
			Context: map[string]interface{}{"tool": req.ToolName, "kind": string(req.Kind)},
		}, eventSource)
	}
	o.bus.Publish(events.EventApprovalResolved, out, eventSource)

	if ctx.Err() != nil {
		return true
	}

	o.mu.Lock()
	if o.state.Turn != turn {
		o.mu.Unlock()
		return true
	}
	effects := o.state.Resolved(out)
	o.mu.Unlock()

	return o.handle(ctx, turn, effects)
}

func (o *Orchestrator) finish(turn *Turn, reason FinishReason) {
	o.mu.Lock()
	if o.state.Turn != turn {
		o.mu.Unlock()
		return
	}
	o.turnCancel()
	fin := o.finishLocked(reason)
	o.mu.Unlock()

	o.notify(fin)
}

type finished struct {
	turnID string
	reason FinishReason
}

// finishLocked closes the in-flight turn: the draft replaces the placeholder,
// the session is queued for saving and any compaction follow-up is queued
// ahead of the user's messages.
func (o *Orchestrator) finishLocked(reason FinishReason) finished {
	o.debounce.Cancel()
	turnID := o.state.Turn.ID

	msg, keep := o.state.Finish(o.placeholder, reason)
	if keep {
		o.messages = content.ReplaceLast(o.messages, msg)
		if msg.Usage != nil {
			o.tokens += msg.Usage.Total()
		}
	} else {
		o.messages = content.DropLast(o.messages)
	}

	if o.sessionID == "" {
		o.sessionID = o.resolveSessionID()
	}
	if o.title == "" {
		o.title = session.TitleFor(o.messages)
	}
	o.saver.Enqueue(snapshot{id: o.sessionID, messages: o.messages, title: o.title, tokens: o.tokens})

	if reason == FinishCompleted && o.state.CompactRequested() && o.cfg.CompactPrompt != "" {
		o.queue.PushFront(QueuedMessage{Text: o.cfg.CompactPrompt})
	}

	o.log.Info("Turn %s finished: %s", turnID, reason)
	return finished{turnID: turnID, reason: reason}
}

func (o *Orchestrator) resolveSessionID() string {
	if o.state.SessionID != "" {
		return o.state.SessionID
	}
	if id := o.provider.SessionID(); id != "" {
		return id
	}
	return uuid.New().String()
}

func (o *Orchestrator) notify(fin finished) {
	o.bus.Publish(events.EventTurnFinished, events.TurnPayload{TurnID: fin.turnID, Reason: string(fin.reason)}, eventSource)
	o.publishUpdate()
}

// exit runs when a turn goroutine returns. It starts the next queued message
// or marks the conversation idle.
func (o *Orchestrator) exit() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state.Streaming() {
		// a newer turn already owns the conversation
		return
	}
	if !o.closed {
		if next, ok := o.queue.Pop(); ok {
			o.startLocked(next)
			return
		}
	}
	if o.active {
		o.active = false
		close(o.idle)
	}
}

func (o *Orchestrator) publishUpdate() {
	o.pubMu.Lock()
	defer o.pubMu.Unlock()

	o.mu.Lock()
	u := o.snapshotLocked()
	o.mu.Unlock()

	o.seq++
	u.Seq = o.seq
	o.bus.Publish(events.EventUpdate, u, eventSource)
}

// Subscribe registers fn for every update and returns a function removing it
func (o *Orchestrator) Subscribe(fn func(Update)) func() {
	sub := o.bus.Subscribe(events.EventUpdate, func(e events.Event) {
		if u, ok := e.Payload.(Update); ok {
			fn(u)
		}
	})
	return func() { o.bus.Unsubscribe(sub) }
}

// Bus exposes the event bus for lifecycle events other than updates
func (o *Orchestrator) Bus() *events.EventBus {
	return o.bus
}

// Cancel stops the in-flight turn. Partial output is kept and tagged as
// stopped; an empty turn leaves no message behind. Queued messages still run.
func (o *Orchestrator) Cancel() bool {
	o.mu.Lock()
	if !o.state.Streaming() {
		o.mu.Unlock()
		return false
	}
	if err := o.provider.Abort(); err != nil && !errors.Is(err, provider.ErrNoActiveStream) {
		o.log.Warn("Failed to abort provider: %v", err)
	}
	o.turnCancel()
	fin := o.finishLocked(FinishCancelled)
	o.mu.Unlock()

	o.notify(fin)
	return true
}

// Wait blocks until no turn is running and the queue is empty
func (o *Orchestrator) Wait(ctx context.Context) error {
	o.mu.Lock()
	idle := o.idle
	o.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot returns the current view without publishing it
func (o *Orchestrator) Snapshot() Update {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Messages returns the conversation, including the in-flight draft
func (o *Orchestrator) Messages() []content.Message {
	return o.Snapshot().Messages
}

// Usage returns the usage of the newest assistant message that reported one
func (o *Orchestrator) Usage() (content.Usage, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return session.LastUsage(o.messages)
}

// Tokens returns the tokens counted over every turn of the session
func (o *Orchestrator) Tokens() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.tokens
}

// SessionID returns the id the conversation is saved under
func (o *Orchestrator) SessionID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.sessionID
}

// Pending returns the queued messages in send order
func (o *Orchestrator) Pending() []QueuedMessage {
	return o.queue.Snapshot()
}

// ClearQueue drops every queued message and returns how many there were
func (o *Orchestrator) ClearQueue() int {
	n := o.queue.Clear()
	if n > 0 {
		o.publishUpdate()
	}
	return n
}

// ResolveApproval answers the pending approval request
func (o *Orchestrator) ResolveApproval(d approval.Decision) error {
	return o.coord.Resolve(d)
}

// SetPresenter swaps the presenter for future approval requests
func (o *Orchestrator) SetPresenter(p approval.Presenter) {
	o.coord.SetPresenter(p)
}

// Approval reports the pending approval, if any
func (o *Orchestrator) Approval() approval.State {
	return o.coord.State()
}

// LoadSession replaces the conversation with a stored session and asks the
// provider to resume it
func (o *Orchestrator) LoadSession(ctx context.Context, id string) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.active {
		o.mu.Unlock()
		return ErrBusy
	}
	o.mu.Unlock()

	messages, ok, err := o.store.Load(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load session %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("failed to load session %s: %w", id, session.ErrNotFound)
	}
	title, err := o.store.Title(ctx, id)
	if err != nil && !errors.Is(err, session.ErrNotFound) {
		return fmt.Errorf("failed to load title of session %s: %w", id, err)
	}

	tokens := 0
	for _, m := range messages {
		if m.Usage != nil {
			tokens += m.Usage.Total()
		}
	}

	o.mu.Lock()
	if o.active {
		o.mu.Unlock()
		return ErrBusy
	}
	o.state.Reset()
	o.messages = messages
	o.sessionID = id
	o.title = title
	o.tokens = tokens
	o.mu.Unlock()

	o.provider.SetResumeSessionID(id)
	o.log.Info("Loaded session %s with %d messages", id, len(messages))
	o.publishUpdate()
	return nil
}

// NewSession clears the conversation and the provider session
func (o *Orchestrator) NewSession() error {
	o.mu.Lock()
	if o.active {
		o.mu.Unlock()
		return ErrBusy
	}
	o.state.Reset()
	o.messages = nil
	o.sessionID = ""
	o.title = ""
	o.tokens = 0
	o.mu.Unlock()

	o.provider.ResetSession()
	o.publishUpdate()
	return nil
}

// Close cancels any running turn, drops the queue and waits for pending
// saves. It is safe to call more than once.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	dropped := o.queue.Clear()
	o.mu.Unlock()

	if dropped > 0 {
		o.log.Warn("Dropped %d queued messages on close", dropped)
	}
	o.Cancel()

	o.mu.Lock()
	idle := o.idle
	o.mu.Unlock()
	<-idle

	o.cancel()
	o.saver.Wait()
	if o.ownBus {
		o.bus.Close()
	}
	return nil
}

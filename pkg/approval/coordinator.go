package approval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/killallgit/relay/pkg/logger"
)

var (
	// ErrAlreadyWaiting is returned when a second suspension is requested
	// while one is still unresolved.
	ErrAlreadyWaiting = errors.New("approval already pending")
	// ErrNoPendingApproval is returned by Resolve when nothing is waiting
	ErrNoPendingApproval = errors.New("no pending approval")
	// ErrAlreadyResolved is returned by Resolve after the decision was taken
	ErrAlreadyResolved = errors.New("approval already resolved")
)

// Presenter shows a request to the human. It returns once the request is
// on screen; the answer arrives later through Coordinator.Resolve.
type Presenter interface {
	Present(ctx context.Context, req Request) error
}

// PresenterFunc adapts a function to Presenter
type PresenterFunc func(ctx context.Context, req Request) error

func (f PresenterFunc) Present(ctx context.Context, req Request) error {
	return f(ctx, req)
}

// Responder is the provider side channel that carries the decision back
type Responder interface {
	SendPermissionResponse(ctx context.Context, allowed bool, reason string) error
	SendPermissionResponseWithInput(ctx context.Context, allowed bool, payload map[string]any) error
}

// State is either idle or WaitingForDecision(kind, request)
type State struct {
	Waiting bool
	Kind    Kind
	Request Request
	Since   time.Time
}

type suspension struct {
	req       Request
	decisions chan Decision
	since     time.Time
	// done is set under Coordinator.mu once the wait is over; later
	// decisions are refused
	done bool
}

// Coordinator owns the single outstanding suspension of a conversation
type Coordinator struct {
	responder Responder
	presenter Presenter
	timeout   time.Duration
	log       *logger.Logger

	mu      sync.Mutex
	pending *suspension
}

// CoordinatorOption configures a Coordinator
type CoordinatorOption func(*Coordinator)

// WithTimeout resolves unanswered requests with a denial after d. Zero waits forever.
func WithTimeout(d time.Duration) CoordinatorOption {
	return func(c *Coordinator) { c.timeout = d }
}

// NewCoordinator creates a coordinator sending responses through responder
func NewCoordinator(responder Responder, presenter Presenter, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		responder: responder,
		presenter: presenter,
		log:       logger.WithComponent("approval"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetPresenter swaps the presenter used for future requests
func (c *Coordinator) SetPresenter(p Presenter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.presenter = p
}

// State reports the current state
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending == nil || c.pending.done {
		return State{}
	}
	return State{Waiting: true, Kind: c.pending.req.Kind, Request: c.pending.req, Since: c.pending.since}
}

// Await suspends the caller until the request is resolved, then sends exactly
// one permission response. Presenter failures resolve with a safe default;
// context cancellation and timeout resolve with a denial.
func (c *Coordinator) Await(ctx context.Context, req Request) (Outcome, error) {
	s := &suspension{req: req, decisions: make(chan Decision, 1), since: time.Now()}

	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return Outcome{}, ErrAlreadyWaiting
	}
	c.pending = s
	presenter := c.presenter
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.pending = nil
		c.mu.Unlock()
	}()

	decision, defaulted := c.wait(ctx, s, presenter)
	if d, ok := c.settle(s); ok && defaulted {
		// accepted by Resolve while the wait gave up
		decision, defaulted = d, false
	}
	outcome := c.outcome(req, decision)
	outcome.Defaulted = defaulted

	// The response must go out even when ctx is already done.
	sendCtx := context.WithoutCancel(ctx)
	var err error
	if outcome.Payload != nil {
		err = c.responder.SendPermissionResponseWithInput(sendCtx, outcome.Allowed, outcome.Payload)
	} else {
		err = c.responder.SendPermissionResponse(sendCtx, outcome.Allowed, outcome.Reason)
	}
	if err != nil {
		return outcome, fmt.Errorf("failed to send %s response: %w", req.Kind, err)
	}

	c.log.Debug("Resolved %s for %s: allowed=%t defaulted=%t", req.Kind, req.ToolName, outcome.Allowed, defaulted)
	return outcome, nil
}

func (c *Coordinator) wait(ctx context.Context, s *suspension, presenter Presenter) (Decision, bool) {
	if presenter == nil {
		c.log.Error("No presenter for %s request on %s", s.req.Kind, s.req.ToolName)
		return defaultOnFailure(s.req.Kind), true
	}
	if err := c.present(ctx, presenter, s.req); err != nil {
		c.log.Error("Failed to present %s request for %s: %v", s.req.Kind, s.req.ToolName, err)
		return defaultOnFailure(s.req.Kind), true
	}

	var timeout <-chan time.Time
	if c.timeout > 0 {
		timer := time.NewTimer(c.timeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case d := <-s.decisions:
		return d, false
	case <-ctx.Done():
		c.log.Warn("%s request for %s abandoned: %v", s.req.Kind, s.req.ToolName, ctx.Err())
		return defaultOnAbandon(s.req.Kind, "Request cancelled"), true
	case <-timeout:
		c.log.Warn("%s request for %s timed out after %s", s.req.Kind, s.req.ToolName, c.timeout)
		return defaultOnAbandon(s.req.Kind, "Approval timed out"), true
	}
}

// settle closes s to further decisions and returns one accepted meanwhile
func (c *Coordinator) settle(s *suspension) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.done = true
	select {
	case d := <-s.decisions:
		return d, true
	default:
		return Decision{}, false
	}
}

// present recovers a panicking presenter so the stream is never left blocked
func (c *Coordinator) present(ctx context.Context, p Presenter, req Request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("presenter panicked: %v", r)
		}
	}()
	return p.Present(ctx, req)
}

func (c *Coordinator) outcome(req Request, d Decision) Outcome {
	out := Outcome{Request: req, Decision: d}

	switch req.Kind {
	case KindQuestion:
		if d.Cancelled || !d.Allow {
			out.Reason = CancelledReason
			return out
		}
		out.Allowed = true
		out.Payload = MergeAnswers(req.Input, d.Answers)
	case KindPlanApproval:
		out.Allowed = d.Plan.Allows() || (d.Plan == "" && d.Allow)
		if !out.Allowed {
			out.Reason = d.Reason
			if out.Reason == "" {
				out.Reason = "User rejected the plan"
			}
		}
	default:
		out.Allowed = d.Allow
		if !d.Allow {
			out.Reason = d.Reason
			if out.Reason == "" {
				out.Reason = "User denied permission"
			}
		}
	}
	return out
}

// Resolve delivers the human's decision to the waiting request
func (c *Coordinator) Resolve(d Decision) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.pending
	if s == nil || s.done {
		return ErrNoPendingApproval
	}
	select {
	case s.decisions <- d:
		return nil
	default:
		return ErrAlreadyResolved
	}
}

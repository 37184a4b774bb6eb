package testutil

import (
	"context"
	"sync"

	"github.com/killallgit/relay/pkg/approval"
)

// RecordingPresenter records every request. With Decide set it answers
// through Resolver while presenting; otherwise the test resolves later.
type RecordingPresenter struct {
	mu        sync.Mutex
	requests  []approval.Request
	Decide    func(approval.Request) approval.Decision
	Resolver  func(approval.Decision) error
	Err       error
	Presented chan approval.Request
}

// NewRecordingPresenter creates a presenter that answers with decide, which may be nil
func NewRecordingPresenter(decide func(approval.Request) approval.Decision) *RecordingPresenter {
	return &RecordingPresenter{
		Decide:    decide,
		Presented: make(chan approval.Request, 16),
	}
}

func (p *RecordingPresenter) Present(_ context.Context, req approval.Request) error {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	decide, resolve, err := p.Decide, p.Resolver, p.Err
	p.mu.Unlock()

	select {
	case p.Presented <- req:
	default:
	}

	if err != nil {
		return err
	}
	if decide != nil && resolve != nil {
		return resolve(decide(req))
	}
	return nil
}

// Requests returns the presented requests in order
func (p *RecordingPresenter) Requests() []approval.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]approval.Request(nil), p.requests...)
}

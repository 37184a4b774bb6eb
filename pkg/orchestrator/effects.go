package orchestrator

import (
	"github.com/killallgit/relay/pkg/approval"
	"github.com/killallgit/relay/pkg/stream"
)

// Effect is an instruction returned by the reducer for the runtime to carry out
type Effect interface {
	isEffect()
}

// Rebuild asks for the content flow to be re-rendered. Immediate rebuilds
// cancel any pending debounced one.
type Rebuild struct {
	Immediate bool
}

// AwaitApproval suspends event processing until the request is resolved
type AwaitApproval struct {
	Request approval.Request
}

// Finalize ends the turn
type Finalize struct {
	Reason FinishReason
}

// SessionStarted reports the provider's session id for the turn
type SessionStarted struct {
	ID    string
	Model string
}

// Unhandled flags an event kind the reducer does not know
type Unhandled struct {
	Kind stream.Kind
}

func (Rebuild) isEffect()        {}
func (AwaitApproval) isEffect()  {}
func (Finalize) isEffect()       {}
func (SessionStarted) isEffect() {}
func (Unhandled) isEffect()      {}

package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/killallgit/relay/pkg/content"
	"github.com/killallgit/relay/pkg/stream"
)

// PermissionMode controls how much the assistant may do without asking
type PermissionMode string

const (
	PermissionDefault     PermissionMode = "default"
	PermissionAcceptEdits PermissionMode = "acceptEdits"
	PermissionPlan        PermissionMode = "plan"
	PermissionBypass      PermissionMode = "bypassPermissions"
)

// ParsePermissionMode validates a configured mode; "" means default
func ParsePermissionMode(s string) (PermissionMode, error) {
	switch m := PermissionMode(s); m {
	case "":
		return PermissionDefault, nil
	case PermissionDefault, PermissionAcceptEdits, PermissionPlan, PermissionBypass:
		return m, nil
	}
	return "", fmt.Errorf("unknown permission mode %q", s)
}

// ErrNoActiveStream is returned when a response is sent with no turn in flight
var ErrNoActiveStream = errors.New("no active stream")

// Request is everything needed to start one turn
type Request struct {
	History        []content.Message
	Model          string
	MaxTokens      int
	SystemPrompt   string
	PermissionMode PermissionMode
	Streaming      bool
}

// LastUserText returns the text of the newest user message
func (r Request) LastUserText() string {
	for i := len(r.History) - 1; i >= 0; i-- {
		if r.History[i].IsUser() {
			return r.History[i].PlainText()
		}
	}
	return ""
}

// Provider is the assistant backend. Events for one turn arrive in order on
// the returned channel, which the provider closes when the turn is over.
type Provider interface {
	SendMessage(ctx context.Context, req Request) (<-chan stream.Event, error)
	Abort() error
	SendPermissionResponse(ctx context.Context, allowed bool, reason string) error
	SendPermissionResponseWithInput(ctx context.Context, allowed bool, payload map[string]any) error
	ResetSession()
	SetResumeSessionID(id string)
	SessionID() string
}

package orchestrator

import (
	"github.com/killallgit/relay/pkg/activity"
	"github.com/killallgit/relay/pkg/approval"
	"github.com/killallgit/relay/pkg/content"
	"github.com/killallgit/relay/pkg/flow"
)

// Update is the view of a conversation handed to subscribers. Messages ends
// with the in-flight assistant draft while a turn streams.
type Update struct {
	Seq       uint64
	Phase     Phase
	Sub       SubState
	Planning  bool
	Plan      string
	Messages  []content.Message
	Items     []flow.Item
	Activity  activity.Snapshot
	Pending   int
	Approval  approval.State
	SessionID string
}

// Streaming reports whether a turn was in flight when the update was taken
func (u Update) Streaming() bool {
	return u.Phase == PhaseStreaming
}

// Last returns the newest message, if any
func (u Update) Last() (content.Message, bool) {
	if len(u.Messages) == 0 {
		return content.Message{}, false
	}
	return u.Messages[len(u.Messages)-1], true
}

func (o *Orchestrator) snapshotLocked() Update {
	msgs := make([]content.Message, len(o.messages))
	copy(msgs, o.messages)
	if o.state.Streaming() && len(msgs) > 0 {
		msgs[len(msgs)-1] = o.state.Draft(o.placeholder)
	}

	return Update{
		Phase:     o.state.Phase,
		Sub:       o.state.Sub,
		Planning:  o.state.Plan.Active(),
		Plan:      o.state.CurrentPlan(),
		Messages:  msgs,
		Items:     o.state.Items(),
		Activity:  o.state.Activity.Snapshot(),
		Pending:   o.queue.Len(),
		Approval:  o.coord.State(),
		SessionID: o.sessionID,
	}
}

package orchestrator

import (
	"strings"

	"github.com/google/uuid"

	"github.com/killallgit/relay/pkg/activity"
	"github.com/killallgit/relay/pkg/approval"
	"github.com/killallgit/relay/pkg/content"
	"github.com/killallgit/relay/pkg/flow"
	"github.com/killallgit/relay/pkg/plan"
	"github.com/killallgit/relay/pkg/stream"
	"github.com/killallgit/relay/pkg/tools"
)

// Phase is the conversation-level state
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseStreaming Phase = "streaming"
)

// SubState refines PhaseStreaming
type SubState string

const (
	SubNormal           SubState = "normal"
	SubAwaitingApproval SubState = "awaiting_approval"
)

// FinishReason says why a turn ended
type FinishReason string

const (
	FinishCompleted FinishReason = "completed"
	FinishError     FinishReason = "error"
	FinishCancelled FinishReason = "cancelled"
)

// Turn is the in-flight state of one streamed reply. It never outlives the turn.
type Turn struct {
	ID          string
	Thinking    string
	Text        string
	Tools       []content.ToolUse
	Results     map[string]content.ToolResult
	Checkpoints []int
	Usage       content.Usage
	HasUsage    bool
	Err         *stream.Error
	Plan        string
}

func newTurn() *Turn {
	return &Turn{
		ID:      uuid.New().String(),
		Results: make(map[string]content.ToolResult),
	}
}

// Input exposes the turn buffers to the assembler
func (t *Turn) Input() flow.Input {
	return flow.Input{
		Thinking:    t.Thinking,
		Text:        t.Text,
		Tools:       t.Tools,
		Results:     t.Results,
		Checkpoints: t.Checkpoints,
	}
}

// Empty reports whether nothing visible has accumulated
func (t *Turn) Empty() bool {
	return strings.TrimSpace(t.Text) == "" &&
		strings.TrimSpace(t.Thinking) == "" &&
		len(t.Tools) == 0 &&
		len(t.Results) == 0
}

// State holds every transition of a conversation. Apply is the only way
// stream events change it, so the logic is testable without a provider or UI.
type State struct {
	Phase     Phase
	Sub       SubState
	Turn      *Turn
	Plan      *plan.Tracker
	Activity  *activity.Tracker
	SessionID string

	table            *tools.Table
	assembler        *flow.Assembler
	compactRequested bool
}

// NewState creates an idle conversation state
func NewState(table *tools.Table, policy plan.Policy) *State {
	if table == nil {
		table = tools.DefaultTable()
	}
	return &State{
		Phase:     PhaseIdle,
		Sub:       SubNormal,
		Plan:      plan.NewTracker(policy),
		Activity:  activity.NewTracker(table),
		table:     table,
		assembler: flow.NewAssembler(table),
	}
}

// Begin starts a new turn
func (s *State) Begin() *Turn {
	s.Phase = PhaseStreaming
	s.Sub = SubNormal
	s.Turn = newTurn()
	s.compactRequested = false
	s.Plan.Rebase(0)
	return s.Turn
}

// Streaming reports whether a turn is in flight
func (s *State) Streaming() bool {
	return s.Phase == PhaseStreaming && s.Turn != nil
}

// Apply folds one event into the state and returns the effects the caller
// must carry out. Events arriving while idle are ignored.
func (s *State) Apply(ev stream.Event) []Effect {
	if !s.Streaming() {
		return nil
	}
	t := s.Turn

	switch e := ev.(type) {
	case stream.TextDelta:
		t.Text += e.Text
		s.Plan.Append(e.Text)
		return []Effect{Rebuild{}}

	case stream.ThinkingDelta:
		t.Thinking += e.Text
		return []Effect{Rebuild{}}

	case stream.TextSnapshot:
		t.Text = e.Text
		if s.Plan.Active() && s.Plan.Offset() <= len(e.Text) {
			s.Plan.Prepare(e.Text[s.Plan.Offset():])
		}
		return []Effect{Rebuild{}}

	case stream.ThinkingSnapshot:
		t.Thinking = e.Text
		return []Effect{Rebuild{}}

	case stream.ToolUse:
		s.applyToolUse(e)
		return []Effect{Rebuild{Immediate: true}}

	case stream.ToolResult:
		t.Results[e.ToolUseID] = e.Block()
		s.Activity.OnToolResult(e.ToolUseID, e.IsError)
		return []Effect{Rebuild{Immediate: true}}

	case stream.Usage:
		t.Usage = t.Usage.Add(e.ToContent())
		t.HasUsage = true
		return nil

	case stream.PermissionRequest:
		s.Sub = SubAwaitingApproval
		return []Effect{AwaitApproval{Request: s.permissionRequest(e)}}

	case stream.Error:
		err := e
		t.Err = &err
		return []Effect{Finalize{Reason: FinishError}}

	case stream.PlanModeEnter:
		s.Plan.Enter(len(t.Text))
		return []Effect{Rebuild{Immediate: true}}

	case stream.PlanModeExit:
		s.exitPlan(e.Input)
		return []Effect{Rebuild{Immediate: true}}

	case stream.StreamStart:
		if e.SessionID == "" {
			return nil
		}
		s.SessionID = e.SessionID
		return []Effect{SessionStarted{ID: e.SessionID, Model: e.Model}}

	case stream.StreamEnd:
		return []Effect{Finalize{Reason: FinishCompleted}}

	case stream.MessageStop:
		// one assistant message inside the turn ended; the turn continues
		return nil
	}

	return []Effect{Unhandled{Kind: ev.Kind()}}
}

func (s *State) applyToolUse(e stream.ToolUse) {
	t := s.Turn
	use := e.Block()
	t.Tools = append(t.Tools, use)
	t.Checkpoints = append(t.Checkpoints, len(t.Text))
	s.Activity.OnToolUse(use.ID, use.Name, use.Input)

	switch s.table.Classify(use.Name).Kind {
	case tools.KindPlanEnter:
		s.Plan.Enter(len(t.Text))
	case tools.KindPlanExit:
		if p, ok := use.Input["plan"].(string); ok {
			s.Plan.Prepare(p)
		}
	}
}

func (s *State) permissionRequest(e stream.PermissionRequest) approval.Request {
	info := s.table.Classify(e.ToolName)

	switch info.Kind {
	case tools.KindPlanExit:
		preview := s.Plan.Preview(e.Input, s.Turn.Text)
		return approval.NewPlanRequest(info, e.ToolUseID, e.Input, preview.Text)
	case tools.KindPlanEnter:
		s.Plan.Enter(len(s.Turn.Text))
	}
	return approval.NewRequest(info, e.ToolUseID, e.Input)
}

// Resolved folds an approval outcome back into the state
func (s *State) Resolved(out approval.Outcome) []Effect {
	if !s.Streaming() {
		return nil
	}
	s.Sub = SubNormal
	req := out.Request

	switch {
	case req.Kind == approval.KindPlanApproval && out.Allowed:
		s.exitPlan(req.Input)
		if out.Decision.Plan.Compacts() {
			s.compactRequested = true
		}
	case req.Kind == approval.KindPlanApproval:
		// still planning; keep what was shown so it can win the next exit
		s.Plan.Prepare(req.Plan)
	case req.Info.Kind == tools.KindPlanEnter && !out.Allowed:
		s.Plan.Abort()
	}
	return []Effect{Rebuild{Immediate: true}}
}

// exitPlan leaves plan mode. A blank reconciliation, such as the exit signal
// that follows an approved exit request, keeps the plan already settled.
func (s *State) exitPlan(input map[string]any) {
	if res := s.Plan.Exit(input, s.Turn.Text); res.Text != "" {
		s.Turn.Plan = res.Text
	}
}

// CurrentPlan is the plan settled in the running turn, or else the last one
// settled in the conversation
func (s *State) CurrentPlan() string {
	if s.Turn != nil && s.Turn.Plan != "" {
		return s.Turn.Plan
	}
	return s.Plan.Last().Text
}

// Items renders the current turn
func (s *State) Items() []flow.Item {
	if s.Turn == nil {
		return nil
	}
	return s.assembler.Items(s.Turn.Input())
}

// Draft is the assistant message as it would look if the turn ended now. A
// settled plan the response text does not already carry is appended.
func (s *State) Draft(placeholder content.Message) content.Message {
	t := s.Turn
	if t == nil {
		return placeholder
	}
	blocks := s.assembler.Blocks(t.Input())
	if t.Plan != "" && !strings.Contains(t.Text, t.Plan) {
		blocks = append(blocks, content.Text{Text: t.Plan})
	}
	return placeholder.WithContent(blocks)
}

// Finish ends the turn and returns the finalized assistant message. keep is
// false when a cancelled turn produced nothing and the placeholder should go.
func (s *State) Finish(placeholder content.Message, reason FinishReason) (msg content.Message, keep bool) {
	t := s.Turn
	if t == nil {
		return placeholder, false
	}

	msg = s.Draft(placeholder)
	if t.HasUsage {
		msg = msg.WithUsage(t.Usage)
	}

	switch reason {
	case FinishCancelled:
		if t.Empty() {
			keep = false
		} else {
			msg, keep = msg.WithStopped(), true
		}
	case FinishError:
		text := "Unknown error"
		if t.Err != nil && t.Err.Message != "" {
			text = t.Err.Message
		}
		msg, keep = msg.WithError(text), true
	default:
		keep = true
	}

	s.Phase = PhaseIdle
	s.Sub = SubNormal
	s.Turn = nil
	if reason != FinishCompleted {
		s.Plan.Abort()
	}
	return msg, keep
}

// CompactRequested reports whether the finished turn asked for compaction
func (s *State) CompactRequested() bool {
	return s.compactRequested
}

// Reset clears everything tied to the conversation
func (s *State) Reset() {
	s.Phase = PhaseIdle
	s.Sub = SubNormal
	s.Turn = nil
	s.SessionID = ""
	s.compactRequested = false
	s.Plan.Clear()
	s.Activity.Clear()
}

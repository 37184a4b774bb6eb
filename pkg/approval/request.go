package approval

import (
	"github.com/killallgit/relay/pkg/content"
	"github.com/killallgit/relay/pkg/plan"
	"github.com/killallgit/relay/pkg/tools"
)

// Kind is the type of human decision being awaited
type Kind string

const (
	KindToolPermission Kind = "tool_permission"
	KindQuestion       Kind = "question"
	KindPlanApproval   Kind = "plan_approval"
)

// CancelledReason is sent when the user dismisses a question
const CancelledReason = "User cancelled"

// Request describes one suspension
type Request struct {
	Kind      Kind
	ToolName  string
	ToolUseID string
	Info      tools.Info
	Input     map[string]any
	Summary   string
	Questions []Question
	Plan      string
}

// NewRequest builds a request for a permission prompt on a tool. Question
// tools become question requests; everything else is a tool permission.
// Plan approvals are built with NewPlanRequest.
func NewRequest(info tools.Info, toolUseID string, input map[string]any) Request {
	req := Request{
		Kind:      KindToolPermission,
		ToolName:  info.Name,
		ToolUseID: toolUseID,
		Info:      info,
		Input:     content.CloneInput(input),
		Summary:   tools.Summary(info, input),
	}
	if info.Kind == tools.KindQuestion {
		req.Kind = KindQuestion
		req.Questions = ParseQuestions(input)
	}
	return req
}

// NewPlanRequest builds a plan approval request showing planText
func NewPlanRequest(info tools.Info, toolUseID string, input map[string]any, planText string) Request {
	return Request{
		Kind:      KindPlanApproval,
		ToolName:  info.Name,
		ToolUseID: toolUseID,
		Info:      info,
		Input:     content.CloneInput(input),
		Summary:   tools.Summary(info, map[string]any{"plan": planText}),
		Plan:      planText,
	}
}

// Decision is the single value that resolves a suspension
type Decision struct {
	Allow     bool
	Reason    string
	Cancelled bool
	Answers   map[string]any
	Plan      plan.Decision
}

// Allow approves a tool permission
func Allow() Decision { return Decision{Allow: true} }

// Deny rejects a tool permission with an optional reason
func Deny(reason string) Decision { return Decision{Reason: reason} }

// Answer submits question answers keyed by question text
func Answer(answers map[string]any) Decision {
	return Decision{Allow: true, Answers: answers}
}

// Cancel dismisses a question
func Cancel() Decision { return Decision{Cancelled: true, Reason: CancelledReason} }

// PlanDecision answers a plan approval
func PlanDecision(d plan.Decision, reason string) Decision {
	return Decision{Allow: d.Allows(), Plan: d, Reason: reason}
}

// defaultOnFailure is used when the approval UI cannot be shown. Plan
// approval proceeds so the stream cannot deadlock.
func defaultOnFailure(kind Kind) Decision {
	switch kind {
	case KindPlanApproval:
		return PlanDecision(plan.Approved, "")
	case KindQuestion:
		return Cancel()
	}
	return Deny("Approval prompt unavailable")
}

// defaultOnAbandon is used on cancellation or timeout: every kind is denied
func defaultOnAbandon(kind Kind, reason string) Decision {
	switch kind {
	case KindPlanApproval:
		return PlanDecision(plan.Denied, reason)
	case KindQuestion:
		return Cancel()
	}
	return Deny(reason)
}

// Outcome is what was sent back for a suspension
type Outcome struct {
	Request   Request
	Decision  Decision
	Allowed   bool
	Reason    string
	Payload   map[string]any
	Defaulted bool
}

package plan

import (
	"fmt"
	"strings"
)

// State of the plan-mode sub-protocol
type State string

const (
	StateIdle     State = "idle"
	StatePlanning State = "planning"
)

// Policy decides which candidate wins when plan sources disagree
type Policy string

const (
	// PolicyLongest picks the longest non-blank candidate; ties go to the
	// higher-priority source.
	PolicyLongest Policy = "longest"
	// PolicyPriority picks the first non-blank candidate in priority order.
	PolicyPriority Policy = "priority"
)

// ParsePolicy accepts "longest" or "priority"; "" means longest
func ParsePolicy(s string) (Policy, error) {
	switch p := Policy(strings.ToLower(strings.TrimSpace(s))); p {
	case "", PolicyLongest:
		return PolicyLongest, nil
	case PolicyPriority:
		return p, nil
	default:
		return "", fmt.Errorf("unknown plan policy %q", s)
	}
}

// Source names where a plan candidate came from, in priority order
type Source int

const (
	SourceExitInput Source = iota
	SourceDirect
	SourcePrepared
	SourceResponse
	SourceNone
)

func (s Source) String() string {
	switch s {
	case SourceExitInput:
		return "exit_input"
	case SourceDirect:
		return "direct"
	case SourcePrepared:
		return "prepared"
	case SourceResponse:
		return "response"
	}
	return "none"
}

// Result is a reconciled plan
type Result struct {
	Text   string
	Source Source
}

// Tracker follows plan mode for one turn. It is owned by the turn goroutine
// and is not safe for concurrent use.
type Tracker struct {
	policy   Policy
	state    State
	offset   int
	direct   strings.Builder
	prepared string
	last     Result
}

// NewTracker creates an idle tracker
func NewTracker(policy Policy) *Tracker {
	if policy == "" {
		policy = PolicyLongest
	}
	return &Tracker{policy: policy, state: StateIdle}
}

// State returns the current state
func (t *Tracker) State() State { return t.state }

// Active reports whether plan mode is on
func (t *Tracker) Active() bool { return t.state == StatePlanning }

// Offset is the response length recorded when planning began
func (t *Tracker) Offset() int { return t.offset }

// Enter starts planning at the given response offset. A second Enter while
// planning changes nothing and returns false.
func (t *Tracker) Enter(offset int) bool {
	if t.state == StatePlanning {
		return false
	}
	if offset < 0 {
		offset = 0
	}
	t.state = StatePlanning
	t.offset = offset
	t.direct.Reset()
	t.prepared = ""
	return true
}

// Rebase moves the planning offset, for a new turn that starts while
// planning. It does nothing when idle.
func (t *Tracker) Rebase(offset int) {
	if t.state == StatePlanning {
		t.offset = max(offset, 0)
	}
}

// Append adds streamed text to the direct plan buffer while planning
func (t *Tracker) Append(delta string) {
	if t.state == StatePlanning {
		t.direct.WriteString(delta)
	}
}

// Prepare records a candidate seen before the exit signal itself
func (t *Tracker) Prepare(candidate string) {
	if strings.TrimSpace(candidate) != "" {
		t.prepared = candidate
	}
}

// Candidates returns the plan sources in priority order without changing state
func (t *Tracker) Candidates(input map[string]any, mainText string) [4]string {
	var c [4]string
	if s, ok := input["plan"].(string); ok {
		c[SourceExitInput] = s
	}
	c[SourceDirect] = t.direct.String()
	c[SourcePrepared] = t.prepared
	if t.state == StatePlanning || t.offset > 0 {
		off := t.offset
		if off > len(mainText) {
			off = len(mainText)
		}
		c[SourceResponse] = mainText[off:]
	}
	return c
}

// Preview reconciles the current candidates without leaving plan mode
func (t *Tracker) Preview(input map[string]any, mainText string) Result {
	return Reconcile(t.policy, t.Candidates(input, mainText))
}

// Exit reconciles the candidates and returns to idle. Exiting while idle
// still reconciles whatever the exit input carries. A blank result leaves
// Last untouched.
func (t *Tracker) Exit(input map[string]any, mainText string) Result {
	res := t.Preview(input, mainText)
	t.reset()
	if res.Text != "" {
		t.last = res
	}
	return res
}

// Abort leaves plan mode without producing a plan
func (t *Tracker) Abort() {
	t.reset()
}

// Last returns the most recently reconciled plan
func (t *Tracker) Last() Result { return t.last }

// Clear aborts plan mode and forgets the last plan
func (t *Tracker) Clear() {
	t.reset()
	t.last = Result{}
}

func (t *Tracker) reset() {
	t.state = StateIdle
	t.offset = 0
	t.direct.Reset()
	t.prepared = ""
}

// Reconcile picks the winning candidate under policy. Blank candidates never win.
func Reconcile(policy Policy, candidates [4]string) Result {
	best := Result{Source: SourceNone}
	for i, c := range candidates {
		text := strings.TrimSpace(c)
		if text == "" {
			continue
		}
		if policy == PolicyPriority {
			return Result{Text: text, Source: Source(i)}
		}
		if len(text) > len(best.Text) {
			best = Result{Text: text, Source: Source(i)}
		}
	}
	return best
}

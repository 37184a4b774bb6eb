package cmd

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"github.com/killallgit/relay/pkg/approval"
	"github.com/killallgit/relay/pkg/plan"
	"github.com/killallgit/relay/pkg/render"
)

var errNoPrompt = errors.New("no interactive prompt available")

// promptPresenter prints the request; the answer comes back as the next
// input line
func promptPresenter(con *console, r *render.Renderer) approval.Presenter {
	return approval.PresenterFunc(func(_ context.Context, req approval.Request) error {
		con.Println(r.Approval(req))
		return nil
	})
}

// headlessPresenter refuses to present, so every request takes the
// coordinator's unattended default
func headlessPresenter() approval.Presenter {
	return approval.PresenterFunc(func(context.Context, approval.Request) error {
		return errNoPrompt
	})
}

// autoPresenter answers every request at once with decide
func autoPresenter(resolve func(approval.Decision) error, decide func(approval.Request) approval.Decision) approval.Presenter {
	return approval.PresenterFunc(func(_ context.Context, req approval.Request) error {
		return resolve(decide(req))
	})
}

// approveAll allows tools and plans and dismisses questions
func approveAll(req approval.Request) approval.Decision {
	switch req.Kind {
	case approval.KindPlanApproval:
		return approval.PlanDecision(plan.Approved, "")
	case approval.KindQuestion:
		return approval.Cancel()
	}
	return approval.Allow()
}

// denyAll rejects everything
func denyAll(req approval.Request) approval.Decision {
	switch req.Kind {
	case approval.KindPlanApproval:
		return approval.PlanDecision(plan.Denied, "Rejected by replay")
	case approval.KindQuestion:
		return approval.Cancel()
	}
	return approval.Deny("Rejected by replay")
}

// parseDecision reads one line typed in answer to req
func parseDecision(req approval.Request, line string) approval.Decision {
	line = strings.TrimSpace(line)
	word := strings.ToLower(line)

	switch req.Kind {
	case approval.KindPlanApproval:
		switch word {
		case "y", "yes":
			return approval.PlanDecision(plan.Approved, "")
		case "c", "compact":
			return approval.PlanDecision(plan.ApprovedCompact, "")
		case "", "n", "no":
			return approval.PlanDecision(plan.Denied, "")
		}
		return approval.PlanDecision(plan.Denied, line)

	case approval.KindQuestion:
		if line == "" || len(req.Questions) == 0 {
			return approval.Cancel()
		}
		parts := []string{line}
		if len(req.Questions) > 1 {
			parts = strings.Split(line, ";")
		}
		answers := make(map[string]any, len(req.Questions))
		for i, q := range req.Questions {
			if i >= len(parts) {
				break
			}
			if a := answerFor(q, strings.TrimSpace(parts[i])); a != "" {
				answers[q.Text] = a
			}
		}
		if len(answers) == 0 {
			return approval.Cancel()
		}
		return approval.Answer(answers)
	}

	switch word {
	case "y", "yes":
		return approval.Allow()
	case "", "n", "no":
		return approval.Deny("")
	}
	return approval.Deny(line)
}

// answerFor maps option numbers to labels; multi-select answers are comma
// separated. Anything else is free text.
func answerFor(q approval.Question, text string) string {
	if text == "" {
		return ""
	}
	picks := strings.Split(text, ",")
	if !q.MultiSelect {
		picks = []string{text}
	}

	labels := make([]string, 0, len(picks))
	for _, p := range picks {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 1 || n > len(q.Options) {
			return text
		}
		labels = append(labels, q.Options[n-1].Label)
	}
	return strings.Join(labels, ", ")
}

package cmd

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/killallgit/relay/pkg/approval"
	"github.com/killallgit/relay/pkg/plan"
)

func TestParseToolPermission(t *testing.T) {
	req := approval.Request{Kind: approval.KindToolPermission, ToolName: "Bash"}

	tests := []struct {
		line string
		want approval.Decision
	}{
		{"y", approval.Allow()},
		{" YES ", approval.Allow()},
		{"n", approval.Deny("")},
		{"", approval.Deny("")},
		{"use the makefile instead", approval.Deny("use the makefile instead")},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			assert.Equal(t, tt.want, parseDecision(req, tt.line))
		})
	}
}

func TestParsePlanApproval(t *testing.T) {
	req := approval.Request{Kind: approval.KindPlanApproval, Plan: "1. fix"}

	assert.Equal(t, approval.PlanDecision(plan.Approved, ""), parseDecision(req, "y"))
	assert.Equal(t, approval.PlanDecision(plan.ApprovedCompact, ""), parseDecision(req, "c"))
	assert.Equal(t, approval.PlanDecision(plan.Denied, ""), parseDecision(req, "no"))
	assert.Equal(t, approval.PlanDecision(plan.Denied, "split step 2"), parseDecision(req, "split step 2"))
}

func TestParseQuestionAnswers(t *testing.T) {
	db := approval.Question{
		Text:    "Which database?",
		Options: []approval.Option{{Label: "Postgres"}, {Label: "SQLite"}},
	}
	features := approval.Question{
		Text:        "Which features?",
		MultiSelect: true,
		Options:     []approval.Option{{Label: "Auth"}, {Label: "Billing"}, {Label: "Search"}},
	}

	one := approval.Request{Kind: approval.KindQuestion, Questions: []approval.Question{db}}
	assert.Equal(t, approval.Cancel(), parseDecision(one, "  "))
	assert.Equal(t, approval.Answer(map[string]any{"Which database?": "SQLite"}), parseDecision(one, "2"))
	assert.Equal(t, approval.Answer(map[string]any{"Which database?": "MySQL"}), parseDecision(one, "MySQL"))
	assert.Equal(t, approval.Answer(map[string]any{"Which database?": "7"}), parseDecision(one, "7"))

	two := approval.Request{Kind: approval.KindQuestion, Questions: []approval.Question{db, features}}
	assert.Equal(t, approval.Answer(map[string]any{
		"Which database?": "Postgres",
		"Which features?": "Auth, Search",
	}), parseDecision(two, "1; 1,3"))
	assert.Equal(t, approval.Answer(map[string]any{"Which database?": "Postgres"}), parseDecision(two, "1"))

	assert.Equal(t, approval.Cancel(), parseDecision(approval.Request{Kind: approval.KindQuestion}, "1"))
}

func TestUnattendedPolicies(t *testing.T) {
	perm := approval.Request{Kind: approval.KindToolPermission}
	planReq := approval.Request{Kind: approval.KindPlanApproval}
	question := approval.Request{Kind: approval.KindQuestion}

	assert.Equal(t, approval.Allow(), approveAll(perm))
	assert.Equal(t, approval.PlanDecision(plan.Approved, ""), approveAll(planReq))
	assert.Equal(t, approval.Cancel(), approveAll(question))

	assert.False(t, denyAll(perm).Allow)
	assert.Equal(t, plan.Denied, denyAll(planReq).Plan)
	assert.True(t, denyAll(question).Cancelled)

	assert.ErrorIs(t, headlessPresenter().Present(context.Background(), perm), errNoPrompt)
}

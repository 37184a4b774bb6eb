package session

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/killallgit/relay/pkg/content"
)

func conversation(question, answer string, usage *content.Usage) []content.Message {
	reply := content.NewAssistantMessage(content.Text{Text: answer})
	if usage != nil {
		reply = reply.WithUsage(*usage)
	}
	return []content.Message{content.NewUserMessage(question), reply}
}

func TestTitleFor(t *testing.T) {
	tests := []struct {
		name     string
		messages []content.Message
		want     string
	}{
		{"no messages", nil, "New conversation"},
		{"first line only", conversation("fix the bug\nin main.go", "ok", nil), "fix the bug"},
		{"skips blank user messages", []content.Message{content.NewUserMessage("  "), content.NewUserMessage("second")}, "second"},
		{"assistant only", []content.Message{content.NewAssistantMessage(content.Text{Text: "hi"})}, "New conversation"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, TitleFor(tt.messages))
		})
	}

	long := TitleFor(conversation(strings.Repeat("é", 100), "ok", nil))
	assert.Equal(t, maxTitleLen, len([]rune(long)))
	assert.True(t, strings.HasSuffix(long, "…"))
}

func TestLastUsage(t *testing.T) {
	_, ok := LastUsage(conversation("q", "a", nil))
	assert.False(t, ok)

	first := content.Usage{InputTokens: 1}
	second := content.Usage{InputTokens: 10, OutputTokens: 5}
	msgs := append(conversation("q", "a", &first), conversation("q2", "a2", &second)...)
	msgs = append(msgs, content.NewAssistantMessage(content.Text{Text: "no usage"}))

	u, ok := LastUsage(msgs)
	require.True(t, ok)
	assert.Equal(t, second, u)
}

func TestValidateID(t *testing.T) {
	assert.NoError(t, validateID("abc-123"))
	for _, bad := range []string{"", "  ", "../x", "a/b", `a\b`, ".", ".."} {
		assert.Error(t, validateID(bad), bad)
	}
}

func TestNopStore(t *testing.T) {
	ctx := context.Background()
	var s Store = NopStore{}
	require.NoError(t, s.Save(ctx, "x", conversation("q", "a", nil), "", 0))
	msgs, ok, err := s.Load(ctx, "x")
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, msgs)
	_, err = s.Title(ctx, "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

package langchain

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/killallgit/relay/pkg/stream"
)

func TestSplitThinking(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		thinking string
		answer   string
	}{
		{"no tags", "Just an answer", "", "Just an answer"},
		{"leading block", "<think>\nhmm\n</think>\n\nThe answer", "hmm", "The answer"},
		{"two blocks", "<think>a</think>x<think>b</think>y", "a\n\nb", "xy"},
		{"unclosed", "answer first <think>still going", "still going", "answer first"},
		{"empty block", "<think>  </think>ok", "", "ok"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			thinking, answer := SplitThinking(tt.text)
			assert.Equal(t, tt.thinking, thinking)
			assert.Equal(t, tt.answer, answer)
		})
	}
}

func feedAll(chunks ...string) (thinking, text string) {
	var s thinkSplitter
	var events []stream.Event
	for _, c := range chunks {
		events = append(events, s.Feed(c)...)
	}
	events = append(events, s.Flush()...)

	for _, ev := range events {
		switch e := ev.(type) {
		case stream.ThinkingDelta:
			thinking += e.Text
		case stream.TextDelta:
			text += e.Text
		}
	}
	return thinking, text
}

func TestSplitterTagsAcrossChunks(t *testing.T) {
	thinking, text := feedAll("<thi", "nk>rea", "soning</th", "ink>Answer <", "b>bold</b>")
	assert.Equal(t, "reasoning", thinking)
	assert.Equal(t, "Answer <b>bold</b>", text)
}

func TestSplitterHoldsOnlyTagPrefixes(t *testing.T) {
	var s thinkSplitter
	assert.Equal(t, []stream.Event{stream.TextDelta{Text: "a "}}, s.Feed("a <t"))
	assert.Equal(t, []stream.Event{stream.TextDelta{Text: "<tx"}}, s.Feed("x"))
	assert.Empty(t, s.Flush())
}

func TestSplitterFlushesDanglingPrefix(t *testing.T) {
	thinking, text := feedAll("x <")
	assert.Equal(t, "", thinking)
	assert.Equal(t, "x <", text)

	thinking, text = feedAll("<think>deep </")
	assert.Equal(t, "deep </", thinking)
	assert.Equal(t, "", text)
}

func TestPartialSuffix(t *testing.T) {
	assert.Equal(t, 0, partialSuffix("hello", openThink))
	assert.Equal(t, 1, partialSuffix("hello<", openThink))
	assert.Equal(t, 6, partialSuffix("<think", openThink))
	assert.Equal(t, 0, partialSuffix("", openThink))
	assert.Equal(t, 2, partialSuffix("ab</", closeThink))
}

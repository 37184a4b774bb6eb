package langchain

import (
	"regexp"
	"strings"

	"github.com/killallgit/relay/pkg/stream"
)

const (
	openThink  = "<think>"
	closeThink = "</think>"
)

var thinkBlock = regexp.MustCompile(`(?s)<think>(.*?)</think>`)

// SplitThinking separates <think> blocks from the answer of a complete reply.
// An unclosed block at the end counts as thinking.
func SplitThinking(text string) (thinking, answer string) {
	var blocks []string
	for _, m := range thinkBlock.FindAllStringSubmatch(text, -1) {
		if s := strings.TrimSpace(m[1]); s != "" {
			blocks = append(blocks, s)
		}
	}
	answer = thinkBlock.ReplaceAllString(text, "")

	if i := strings.Index(answer, openThink); i >= 0 {
		if s := strings.TrimSpace(answer[i+len(openThink):]); s != "" {
			blocks = append(blocks, s)
		}
		answer = answer[:i]
	}
	return strings.Join(blocks, "\n\n"), strings.TrimSpace(answer)
}

// thinkSplitter turns streamed chunks into text and thinking deltas. A tag
// may arrive split across chunks, so a possible tag prefix at the end of the
// buffer is held back until the next chunk decides it.
type thinkSplitter struct {
	buf     string
	inThink bool
}

func (s *thinkSplitter) Feed(chunk string) []stream.Event {
	s.buf += chunk
	var out []stream.Event

	for {
		tag := openThink
		if s.inThink {
			tag = closeThink
		}

		if i := strings.Index(s.buf, tag); i >= 0 {
			out = s.emit(out, s.buf[:i])
			s.buf = s.buf[i+len(tag):]
			s.inThink = !s.inThink
			continue
		}

		keep := partialSuffix(s.buf, tag)
		out = s.emit(out, s.buf[:len(s.buf)-keep])
		s.buf = s.buf[len(s.buf)-keep:]
		return out
	}
}

// Flush releases whatever is held back
func (s *thinkSplitter) Flush() []stream.Event {
	out := s.emit(nil, s.buf)
	s.buf = ""
	return out
}

func (s *thinkSplitter) emit(out []stream.Event, text string) []stream.Event {
	if text == "" {
		return out
	}
	if s.inThink {
		return append(out, stream.ThinkingDelta{Text: text})
	}
	return append(out, stream.TextDelta{Text: text})
}

// partialSuffix is the length of the longest suffix of s that is a proper
// prefix of tag
func partialSuffix(s, tag string) int {
	for n := min(len(tag)-1, len(s)); n > 0; n-- {
		if strings.HasSuffix(s, tag[:n]) {
			return n
		}
	}
	return 0
}

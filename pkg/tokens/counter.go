package tokens

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/killallgit/relay/pkg/content"
)

// messageOverhead approximates the role and boundary markers around a message
const messageOverhead = 4

// Counter counts tokens with a tiktoken encoding, or estimates them when no
// encoding could be loaded (tiktoken fetches its tables on first use).
type Counter struct {
	encoder *tiktoken.Tiktoken
	mu      sync.RWMutex
}

// NewCounter returns a counter for modelName. It never fails: without an
// encoder it falls back to estimation.
func NewCounter(modelName string) *Counter {
	encoder, err := tiktoken.GetEncoding(encodingForModel(modelName))
	if err != nil {
		encoder = nil
	}
	return &Counter{encoder: encoder}
}

// Exact reports whether counts come from a real encoder
func (c *Counter) Exact() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.encoder != nil
}

// Count counts the tokens in text
func (c *Counter) Count(text string) int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.encoder == nil {
		return estimateTokens(text)
	}
	return len(c.encoder.Encode(text, nil, nil))
}

// CountMessages counts a prompt made of messages plus the reply primer
func (c *Counter) CountMessages(messages []content.Message) int {
	total := 0
	for _, m := range messages {
		total += c.Count(string(m.Role)) + c.Count(m.PlainText()) + messageOverhead
	}
	// every reply is primed with the assistant role
	return total + 3
}

// Usage estimates the usage of one turn from its prompt and reply
func (c *Counter) Usage(system string, history []content.Message, reply string) content.Usage {
	input := c.CountMessages(history)
	if system != "" {
		input += c.Count(system) + messageOverhead
	}
	return content.Usage{InputTokens: input, OutputTokens: c.Count(reply)}
}

func encodingForModel(modelName string) string {
	model := strings.ToLower(modelName)

	switch {
	case strings.Contains(model, "gpt-4o"), strings.HasPrefix(model, "o1"), strings.HasPrefix(model, "o3"):
		return "o200k_base"
	case strings.Contains(model, "gpt-4"), strings.Contains(model, "gpt-3.5"):
		return "cl100k_base"
	case strings.Contains(model, "davinci"), strings.Contains(model, "curie"), strings.Contains(model, "code"):
		return "p50k_base"
	}
	// close enough for most local models
	return "cl100k_base"
}

// estimateTokens takes the larger of the word count and a quarter of the
// byte count
func estimateTokens(text string) int {
	words := len(strings.Fields(text))
	chars := len(text) / 4
	if words > chars {
		return words
	}
	return chars
}

package orchestrator

import (
	"strings"
	"sync"

	"github.com/killallgit/relay/pkg/content"
)

// QueuedMessage is a user send waiting for the stream to become free
type QueuedMessage struct {
	Text   string
	Images []content.Image
	Files  []string
}

// Message builds the user message, listing file references after the text
func (q QueuedMessage) Message() content.Message {
	text := q.Text
	if len(q.Files) > 0 {
		var sb strings.Builder
		sb.WriteString(text)
		for _, f := range q.Files {
			if sb.Len() > 0 {
				sb.WriteString("\n")
			}
			sb.WriteString("@")
			sb.WriteString(f)
		}
		text = sb.String()
	}
	return content.NewUserMessage(text, q.Images...)
}

// Empty reports whether there is nothing to send
func (q QueuedMessage) Empty() bool {
	return strings.TrimSpace(q.Text) == "" && len(q.Images) == 0 && len(q.Files) == 0
}

// Queue is a FIFO of pending sends. It is touched both by callers of Send
// and by the turn goroutine draining it, so every method locks.
type Queue struct {
	mu    sync.Mutex
	items []QueuedMessage
}

// NewQueue creates an empty queue
func NewQueue() *Queue {
	return &Queue{}
}

// Push appends a message and returns the new length
func (q *Queue) Push(m QueuedMessage) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, m)
	return len(q.items)
}

// PushFront puts a message ahead of everything queued
func (q *Queue) PushFront(m QueuedMessage) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append([]QueuedMessage{m}, q.items...)
	return len(q.items)
}

// Pop removes the oldest message
func (q *Queue) Pop() (QueuedMessage, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return QueuedMessage{}, false
	}
	m := q.items[0]
	q.items[0] = QueuedMessage{}
	q.items = q.items[1:]
	return m, true
}

// Len returns the number of queued messages
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Snapshot copies the queue in order
func (q *Queue) Snapshot() []QueuedMessage {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueuedMessage, len(q.items))
	copy(out, q.items)
	return out
}

// Clear empties the queue and returns how many messages were dropped
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	return n
}

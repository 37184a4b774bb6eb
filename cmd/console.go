package cmd

import (
	"fmt"
	"io"
	"sync"

	"github.com/killallgit/relay/pkg/content"
	"github.com/killallgit/relay/pkg/orchestrator"
	"github.com/killallgit/relay/pkg/render"
)

// console serialises writes from the update dispatcher, the turn goroutine
// presenting approvals and the input loop
type console struct {
	mu sync.Mutex
	w  io.Writer
}

func newConsole(w io.Writer) *console {
	return &console{w: w}
}

func (c *console) Println(s string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, s)
}

func (c *console) Printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, format, args...)
}

// transcript prints each message once it is final. While a turn streams the
// newest message is the draft and is held back.
type transcript struct {
	con      *console
	r        *render.Renderer
	echoUser bool

	mu      sync.Mutex
	printed int
	paused  bool
	last    mark
	want    *mark
}

// mark identifies the update a conversation swap publishes
type mark struct {
	session  string
	messages int
}

func newTranscript(con *console, r *render.Renderer, echoUser bool) *transcript {
	return &transcript{con: con, r: r, echoUser: echoUser}
}

// Update is registered with Orchestrator.Subscribe
func (t *transcript) Update(u orchestrator.Update) {
	t.mu.Lock()
	defer t.mu.Unlock()

	m := mark{session: u.SessionID, messages: len(u.Messages)}
	if t.paused {
		t.last = m
		return
	}
	if t.want != nil {
		// updates from before the swap are stale
		if m == *t.want {
			t.want = nil
		}
		return
	}

	final := len(u.Messages)
	if u.Streaming() && final > 0 {
		final--
	}
	if final < t.printed {
		// the conversation was replaced
		t.printed = final
	}
	for _, m := range u.Messages[t.printed:final] {
		t.print(m)
	}
	t.printed = final
}

func (t *transcript) print(m content.Message) {
	if m.IsUser() && !t.echoUser {
		return
	}
	if m.IsEmpty() && !m.Failed && !m.Stopped {
		return
	}
	t.con.Println(t.r.Message(m))
}

// Pause holds printing while the conversation is swapped out
func (t *transcript) Pause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = true
	t.last = mark{}
}

// Resume restarts printing after a swap to session id holding n messages,
// which the caller has already shown. Updates published before the swap
// are dropped.
func (t *transcript) Resume(id string, n int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = false
	t.printed = n
	want := mark{session: id, messages: n}
	if t.last == want {
		t.want = nil
		return
	}
	t.want = &want
}

// Unpause restarts printing when the swap did not happen
func (t *transcript) Unpause() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.paused = false
}

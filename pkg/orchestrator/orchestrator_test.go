package orchestrator_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/killallgit/relay/pkg/approval"
	"github.com/killallgit/relay/pkg/content"
	"github.com/killallgit/relay/pkg/events"
	"github.com/killallgit/relay/pkg/orchestrator"
	"github.com/killallgit/relay/pkg/plan"
	"github.com/killallgit/relay/pkg/session"
	"github.com/killallgit/relay/pkg/stream"
	"github.com/killallgit/relay/pkg/testutil"
)

func reply(text string) testutil.Script {
	return testutil.Script{Events: []stream.Event{stream.TextDelta{Text: text}, stream.StreamEnd{}}}
}

func texts(msgs []content.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.PlainText())
	}
	return out
}

func indexOf(log []string, entry string) int {
	return slices.Index(log, entry)
}

var _ = Describe("Orchestrator", func() {
	var (
		ctx      context.Context
		fake     *testutil.FakeProvider
		store    *testutil.MemoryStore
		present  *testutil.RecordingPresenter
		cfg      orchestrator.Config
		orch     *orchestrator.Orchestrator
		newOrch  func() *orchestrator.Orchestrator
		waitIdle func()
	)

	BeforeEach(func() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		DeferCleanup(cancel)

		fake = testutil.NewFakeProvider()
		store = testutil.NewMemoryStore()
		present = testutil.NewRecordingPresenter(nil)
		cfg = orchestrator.DefaultConfig()
		cfg.Debounce = 0

		newOrch = func() *orchestrator.Orchestrator {
			o := orchestrator.New(fake,
				orchestrator.WithConfig(cfg),
				orchestrator.WithStore(store),
				orchestrator.WithPresenter(present),
			)
			present.Resolver = o.ResolveApproval
			DeferCleanup(o.Close)
			return o
		}
		waitIdle = func() {
			GinkgoHelper()
			Expect(orch.Wait(ctx)).To(Succeed())
		}
	})

	Describe("sending", func() {
		It("starts queued messages in FIFO order", func() {
			gate := make(chan struct{})
			first := reply("a")
			first.Gate = gate
			fake.AddScript(first)
			fake.AddScript(reply("b"))
			fake.AddScript(reply("c"))
			orch = newOrch()

			d, err := orch.Send(ctx, orchestrator.QueuedMessage{Text: "A"})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Queued).To(BeFalse())

			d, err = orch.Send(ctx, orchestrator.QueuedMessage{Text: "B"})
			Expect(err).NotTo(HaveOccurred())
			Expect(d).To(Equal(orchestrator.Dispatch{Queued: true, Position: 1}))

			d, err = orch.Send(ctx, orchestrator.QueuedMessage{Text: "C"})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Position).To(Equal(2))

			Expect(orch.Pending()).To(HaveLen(2))
			Expect(orch.Pending()[0].Text).To(Equal("B"))

			close(gate)
			waitIdle()

			var sent []string
			for _, req := range fake.Requests() {
				sent = append(sent, req.LastUserText())
			}
			Expect(sent).To(Equal([]string{"A", "B", "C"}))
			Expect(texts(orch.Messages())).To(Equal([]string{"A", "a", "B", "b", "C", "c"}))
			Expect(fake.Requests()[1].History).To(HaveLen(3))
			Expect(orch.Pending()).To(BeEmpty())
		})

		It("rejects empty messages", func() {
			orch = newOrch()
			_, err := orch.Send(ctx, orchestrator.QueuedMessage{Text: "  "})
			Expect(err).To(MatchError(orchestrator.ErrEmptyMessage))
		})

		It("rejects sends after Close", func() {
			orch = newOrch()
			Expect(orch.Close()).To(Succeed())
			_, err := orch.Send(ctx, orchestrator.QueuedMessage{Text: "hi"})
			Expect(err).To(MatchError(orchestrator.ErrClosed))
		})

		It("lists attached files after the text", func() {
			orch = newOrch()
			_, err := orch.Send(ctx, orchestrator.QueuedMessage{Text: "review", Files: []string{"a.go"}})
			Expect(err).NotTo(HaveOccurred())
			waitIdle()
			Expect(fake.Requests()[0].LastUserText()).To(Equal("review\n@a.go"))
		})
	})

	Describe("a tool-using turn", func() {
		It("persists tool use, result and text in order and counts the diff", func() {
			input := map[string]any{"file_path": "main.go", "old_string": "x", "new_string": "y"}
			fake.AddScript(testutil.Script{Events: []stream.Event{
				stream.ToolUse{ID: "1", Name: "Edit", Input: input},
				stream.ToolResult{ToolUseID: "1", Content: "ok"},
				stream.TextDelta{Text: "Done."},
				stream.StreamEnd{},
			}})
			orch = newOrch()

			_, err := orch.Send(ctx, orchestrator.QueuedMessage{Text: "fix the bug"})
			Expect(err).NotTo(HaveOccurred())
			waitIdle()

			msgs := orch.Messages()
			Expect(msgs).To(HaveLen(2))
			Expect(msgs[1].Content).To(Equal([]content.ContentBlock{
				content.ToolUse{ID: "1", Name: "Edit", Input: input},
				content.ToolResult{ToolUseID: "1", Content: "ok"},
				content.Text{Text: "Done."},
			}))

			snap := orch.Snapshot()
			Expect(snap.Phase).To(Equal(orchestrator.PhaseIdle))
			Expect(snap.Activity.Files).To(HaveLen(1))
			Expect(snap.Activity.Files[0].Additions).To(Equal(1))
			Expect(snap.Activity.Files[0].Deletions).To(Equal(1))
		})
	})

	Describe("errors", func() {
		It("shows a protocol error inline and does not retry", func() {
			fake.AddScript(testutil.Script{Events: []stream.Event{
				stream.TextDelta{Text: "Partial"},
				stream.Error{Message: "overloaded_error: try again"},
				stream.TextDelta{Text: "never read"},
			}})
			orch = newOrch()

			_, err := orch.Send(ctx, orchestrator.QueuedMessage{Text: "go"})
			Expect(err).NotTo(HaveOccurred())
			waitIdle()

			last := orch.Messages()[1]
			Expect(last.Failed).To(BeTrue())
			Expect(last.ErrorText()).To(Equal("overloaded_error: try again"))
			Expect(last.PlainText()).To(ContainSubstring("Partial"))
			Expect(fake.Requests()).To(HaveLen(1))
		})

		It("finishes with an inline error when the stream cannot start", func() {
			fake.AddScript(testutil.Script{Err: errors.New("connection refused")})
			fake.AddScript(reply("recovered"))
			orch = newOrch()

			_, err := orch.Send(ctx, orchestrator.QueuedMessage{Text: "one"})
			Expect(err).NotTo(HaveOccurred())
			waitIdle()
			Expect(orch.Messages()[1].ErrorText()).To(Equal("connection refused"))

			_, err = orch.Send(ctx, orchestrator.QueuedMessage{Text: "two"})
			Expect(err).NotTo(HaveOccurred())
			waitIdle()
			Expect(orch.Messages()[3].PlainText()).To(Equal("recovered"))
		})
	})

	Describe("cancellation", func() {
		It("keeps partial output tagged as stopped and then runs the queue", func() {
			fake.AddScript(testutil.Script{Events: []stream.Event{stream.TextDelta{Text: "Half"}}, Hold: true})
			fake.AddScript(reply("next answer"))
			orch = newOrch()

			_, err := orch.Send(ctx, orchestrator.QueuedMessage{Text: "long task"})
			Expect(err).NotTo(HaveOccurred())
			Eventually(func() string {
				return orch.Messages()[1].PlainText()
			}).Should(Equal("Half"))

			d, err := orch.Send(ctx, orchestrator.QueuedMessage{Text: "follow up"})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Queued).To(BeTrue())

			Expect(orch.Cancel()).To(BeTrue())
			waitIdle()

			msgs := orch.Messages()
			Expect(texts(msgs)).To(Equal([]string{"long task", "Half", "follow up", "next answer"}))
			Expect(msgs[1].Stopped).To(BeTrue())
			Expect(fake.Aborts()).To(Equal(1))
			Expect(orch.Snapshot().Phase).To(Equal(orchestrator.PhaseIdle))
		})

		It("removes the placeholder when nothing arrived", func() {
			fake.AddScript(testutil.Script{Hold: true})
			orch = newOrch()

			_, err := orch.Send(ctx, orchestrator.QueuedMessage{Text: "hello"})
			Expect(err).NotTo(HaveOccurred())
			Eventually(fake.Log).Should(ContainElement("send:hello"))

			Expect(orch.Cancel()).To(BeTrue())
			waitIdle()
			Expect(texts(orch.Messages())).To(Equal([]string{"hello"}))
			Expect(orch.Cancel()).To(BeFalse())
		})

		It("denies a pending approval when the turn is cancelled", func() {
			fake.AddScript(testutil.Script{Events: []stream.Event{
				stream.PermissionRequest{ToolName: "Bash", ToolUseID: "b1", Input: map[string]any{"command": "rm -rf build"}},
			}, Hold: true})
			orch = newOrch()

			_, err := orch.Send(ctx, orchestrator.QueuedMessage{Text: "clean"})
			Expect(err).NotTo(HaveOccurred())
			Eventually(present.Presented).Should(Receive())

			Expect(orch.Cancel()).To(BeTrue())
			waitIdle()
			Eventually(fake.Responses).Should(HaveLen(1))
			Expect(fake.Responses()[0].Allowed).To(BeFalse())
			Expect(orch.Approval().Waiting).To(BeFalse())
		})

		It("does not report the aborted provider refusing the denial", func() {
			fake.AddScript(testutil.Script{Events: []stream.Event{
				stream.PermissionRequest{ToolName: "Bash", ToolUseID: "b1", Input: map[string]any{"command": "make"}},
			}, Hold: true})
			orch = newOrch()

			var mu sync.Mutex
			var failures []events.Event
			sub := orch.Bus().Subscribe(events.EventError, func(e events.Event) {
				mu.Lock()
				defer mu.Unlock()
				failures = append(failures, e)
			})
			DeferCleanup(orch.Bus().Unsubscribe, sub)

			_, err := orch.Send(ctx, orchestrator.QueuedMessage{Text: "build"})
			Expect(err).NotTo(HaveOccurred())
			Eventually(present.Presented).Should(Receive())

			Expect(orch.Cancel()).To(BeTrue())
			waitIdle()
			orch.Bus().Flush()

			Expect(fake.Responses()).To(HaveLen(1))
			mu.Lock()
			defer mu.Unlock()
			Expect(failures).To(BeEmpty())
		})
	})

	Describe("approvals", func() {
		It("does not read the stream until a cancelled question is answered", func() {
			present.Decide = func(approval.Request) approval.Decision { return approval.Cancel() }
			fake.AddScript(testutil.Script{Events: []stream.Event{
				stream.PermissionRequest{ToolName: "AskUserQuestion", ToolUseID: "q1", Input: map[string]any{"question": "Which one?"}},
				stream.TextDelta{Text: "after"},
				stream.StreamEnd{},
			}})
			orch = newOrch()

			_, err := orch.Send(ctx, orchestrator.QueuedMessage{Text: "ask me"})
			Expect(err).NotTo(HaveOccurred())
			waitIdle()

			Expect(fake.Responses()).To(Equal([]testutil.PermissionResponse{{Allowed: false, Reason: "User cancelled"}}))
			log := fake.Log()
			response := indexOf(log, "response:false:User cancelled")
			Expect(response).To(BeNumerically(">=", 0))
			Expect(indexOf(log, "event:text_delta")).To(BeNumerically(">", response))
			Expect(present.Requests()[0].Kind).To(Equal(approval.KindQuestion))
		})

		It("waits in the awaiting sub-state until the user decides", func() {
			fake.AddScript(testutil.Script{Events: []stream.Event{
				stream.PermissionRequest{ToolName: "Bash", ToolUseID: "b1", Input: map[string]any{"command": "make"}},
				stream.StreamEnd{},
			}})
			orch = newOrch()

			_, err := orch.Send(ctx, orchestrator.QueuedMessage{Text: "build"})
			Expect(err).NotTo(HaveOccurred())

			var req approval.Request
			Eventually(present.Presented).Should(Receive(&req))
			Expect(req.Kind).To(Equal(approval.KindToolPermission))
			Expect(orch.Snapshot().Sub).To(Equal(orchestrator.SubAwaitingApproval))
			Expect(orch.Approval().Waiting).To(BeTrue())

			Expect(orch.ResolveApproval(approval.Deny("not now"))).To(Succeed())
			waitIdle()
			Expect(fake.Responses()).To(Equal([]testutil.PermissionResponse{{Allowed: false, Reason: "not now"}}))
			Expect(orch.ResolveApproval(approval.Allow())).To(MatchError(approval.ErrNoPendingApproval))
		})

		It("approves a plan with compaction and sends the follow-up first", func() {
			present.Decide = func(approval.Request) approval.Decision {
				return approval.PlanDecision(plan.ApprovedCompact, "")
			}
			fake.AddScript(testutil.Script{Events: []stream.Event{
				stream.PlanModeEnter{},
				stream.TextDelta{Text: "1. read\n2. fix"},
				stream.PermissionRequest{ToolName: "ExitPlanMode", ToolUseID: "p1"},
				stream.StreamEnd{},
			}})
			fake.AddScript(reply("compacted"))
			fake.AddScript(reply("queued answer"))
			orch = newOrch()

			_, err := orch.Send(ctx, orchestrator.QueuedMessage{Text: "plan it"})
			Expect(err).NotTo(HaveOccurred())
			_, err = orch.Send(ctx, orchestrator.QueuedMessage{Text: "then this"})
			Expect(err).NotTo(HaveOccurred())
			waitIdle()

			var sent []string
			for _, r := range fake.Requests() {
				sent = append(sent, r.LastUserText())
			}
			Expect(sent).To(Equal([]string{"plan it", cfg.CompactPrompt, "then this"}))

			req := present.Requests()[0]
			Expect(req.Kind).To(Equal(approval.KindPlanApproval))
			Expect(req.Plan).To(Equal("1. read\n2. fix"))
			Expect(fake.Responses()[0].Allowed).To(BeTrue())
			Expect(orch.Snapshot().Planning).To(BeFalse())
			Expect(orch.Snapshot().Plan).To(Equal("1. read\n2. fix"))
		})

		It("falls back to a denial when the presenter fails", func() {
			present.Err = errors.New("no terminal")
			fake.AddScript(testutil.Script{Events: []stream.Event{
				stream.PermissionRequest{ToolName: "Write", ToolUseID: "w1", Input: map[string]any{"file_path": "x"}},
				stream.StreamEnd{},
			}})
			orch = newOrch()

			_, err := orch.Send(ctx, orchestrator.QueuedMessage{Text: "write"})
			Expect(err).NotTo(HaveOccurred())
			waitIdle()
			Expect(fake.Responses()).To(HaveLen(1))
			Expect(fake.Responses()[0].Allowed).To(BeFalse())
		})
	})

	Describe("persistence", func() {
		It("saves after the turn without blocking it", func() {
			store.Gate = make(chan struct{})
			fake.AddScript(testutil.Script{Events: []stream.Event{
				stream.StreamStart{SessionID: "sess-1", Model: "m"},
				stream.TextDelta{Text: "hi"},
				stream.Usage{InputTokens: 5, OutputTokens: 2},
				stream.StreamEnd{},
			}})
			orch = newOrch()

			_, err := orch.Send(ctx, orchestrator.QueuedMessage{Text: "hello"})
			Expect(err).NotTo(HaveOccurred())
			waitIdle()
			Expect(store.Saves()).To(Equal(0))
			Expect(orch.SessionID()).To(Equal("sess-1"))

			close(store.Gate)
			Eventually(store.Saved).Should(Receive(Equal("sess-1")))
			Expect(store.Tokens("sess-1")).To(Equal(7))
			Expect(orch.Tokens()).To(Equal(7))

			title, err := store.Title(ctx, "sess-1")
			Expect(err).NotTo(HaveOccurred())
			Expect(title).To(Equal("hello"))

			usage, ok := orch.Usage()
			Expect(ok).To(BeTrue())
			Expect(usage.InputTokens).To(Equal(5))
		})

		It("keeps going when a save fails", func() {
			store.SaveErr = errors.New("disk full")
			fake.AddScript(reply("one"))
			fake.AddScript(reply("two"))
			orch = newOrch()

			_, err := orch.Send(ctx, orchestrator.QueuedMessage{Text: "first"})
			Expect(err).NotTo(HaveOccurred())
			waitIdle()
			Eventually(store.Saves).Should(Equal(1))
			_, err = orch.Send(ctx, orchestrator.QueuedMessage{Text: "second"})
			Expect(err).NotTo(HaveOccurred())
			waitIdle()

			Eventually(store.Saves).Should(Equal(2))
			Expect(texts(orch.Messages())).To(Equal([]string{"first", "one", "second", "two"}))
		})

		It("never lets a slow save overwrite a newer one", func() {
			store.Delays = []time.Duration{200 * time.Millisecond}
			gate := make(chan struct{})
			first := reply("a")
			first.Gate = gate
			fake.AddScript(first)
			fake.AddScript(reply("b"))
			orch = newOrch()

			_, err := orch.Send(ctx, orchestrator.QueuedMessage{Text: "A"})
			Expect(err).NotTo(HaveOccurred())
			d, err := orch.Send(ctx, orchestrator.QueuedMessage{Text: "B"})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Queued).To(BeTrue())

			close(gate)
			waitIdle()
			id := orch.SessionID()
			Expect(texts(orch.Messages())).To(Equal([]string{"A", "a", "B", "b"}))

			// Close waits for every queued save
			Expect(orch.Close()).To(Succeed())
			saved, ok, err := store.Load(ctx, id)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(texts(saved)).To(Equal([]string{"A", "a", "B", "b"}))
		})

		It("does not hold up queued turns while a save is slow", func() {
			store.Delays = []time.Duration{time.Second}
			gate := make(chan struct{})
			first := reply("a")
			first.Gate = gate
			fake.AddScript(first)
			fake.AddScript(reply("b"))
			orch = newOrch()

			_, err := orch.Send(ctx, orchestrator.QueuedMessage{Text: "A"})
			Expect(err).NotTo(HaveOccurred())
			_, err = orch.Send(ctx, orchestrator.QueuedMessage{Text: "B"})
			Expect(err).NotTo(HaveOccurred())

			close(gate)
			start := time.Now()
			waitIdle()
			Expect(time.Since(start)).To(BeNumerically("<", time.Second))
			Expect(store.Saves()).To(Equal(0))
		})

		It("loads a stored session and resumes it on the provider", func() {
			usage := content.Usage{InputTokens: 30, OutputTokens: 4}
			store.Put("old", []content.Message{
				content.NewUserMessage("earlier question"),
				content.NewAssistantMessage(content.Text{Text: "earlier answer"}).WithUsage(usage),
			}, "Earlier")
			fake.AddScript(reply("continued"))
			orch = newOrch()

			Expect(orch.LoadSession(ctx, "old")).To(Succeed())
			Expect(fake.ResumeID()).To(Equal("old"))
			Expect(orch.SessionID()).To(Equal("old"))
			Expect(orch.Tokens()).To(Equal(34))

			_, err := orch.Send(ctx, orchestrator.QueuedMessage{Text: "and now?"})
			Expect(err).NotTo(HaveOccurred())
			waitIdle()
			Expect(fake.Requests()[0].History).To(HaveLen(3))

			Eventually(store.Saved).Should(Receive(Equal("old")))
			title, err := store.Title(ctx, "old")
			Expect(err).NotTo(HaveOccurred())
			Expect(title).To(Equal("Earlier"))

			Expect(orch.NewSession()).To(Succeed())
			Expect(orch.Messages()).To(BeEmpty())
			Expect(orch.SessionID()).To(BeEmpty())
			Expect(fake.Resets()).To(Equal(1))
		})

		It("reports missing sessions and refuses to load while busy", func() {
			fake.AddScript(testutil.Script{Hold: true})
			orch = newOrch()

			Expect(orch.LoadSession(ctx, "nope")).To(MatchError(session.ErrNotFound))

			_, err := orch.Send(ctx, orchestrator.QueuedMessage{Text: "busy"})
			Expect(err).NotTo(HaveOccurred())
			Expect(orch.LoadSession(ctx, "nope")).To(MatchError(orchestrator.ErrBusy))
			Expect(orch.NewSession()).To(MatchError(orchestrator.ErrBusy))
			orch.Cancel()
		})
	})

	Describe("subscriptions", func() {
		It("delivers ordered updates ending idle", func() {
			fake.AddScript(testutil.Script{Events: []stream.Event{
				stream.TextDelta{Text: "a"},
				stream.ToolUse{ID: "r", Name: "Read", Input: map[string]any{"file_path": "a.go"}},
				stream.StreamEnd{},
			}})
			orch = newOrch()

			var mu sync.Mutex
			var updates []orchestrator.Update
			unsubscribe := orch.Subscribe(func(u orchestrator.Update) {
				mu.Lock()
				defer mu.Unlock()
				updates = append(updates, u)
			})
			DeferCleanup(unsubscribe)

			_, err := orch.Send(ctx, orchestrator.QueuedMessage{Text: "look"})
			Expect(err).NotTo(HaveOccurred())
			waitIdle()

			Eventually(func() orchestrator.Phase {
				mu.Lock()
				defer mu.Unlock()
				if len(updates) == 0 {
					return ""
				}
				return updates[len(updates)-1].Phase
			}).Should(Equal(orchestrator.PhaseIdle))

			mu.Lock()
			defer mu.Unlock()
			sawTool := false
			for i, u := range updates {
				if i > 0 {
					Expect(u.Seq).To(BeNumerically(">", updates[i-1].Seq))
				}
				if u.Streaming() && len(u.Items) == 2 {
					sawTool = true
				}
			}
			Expect(sawTool).To(BeTrue())
			last, ok := updates[len(updates)-1].Last()
			Expect(ok).To(BeTrue())
			Expect(last.ToolUses()).To(HaveLen(1))
		})
	})
})

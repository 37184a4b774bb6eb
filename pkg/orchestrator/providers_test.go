package orchestrator_test

import (
	"context"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/killallgit/relay/pkg/content"
	"github.com/killallgit/relay/pkg/orchestrator"
	"github.com/killallgit/relay/pkg/provider"
	"github.com/killallgit/relay/pkg/provider/bridge"
	"github.com/killallgit/relay/pkg/provider/langchain"
	"github.com/killallgit/relay/pkg/testutil"
	"github.com/killallgit/relay/pkg/tokens"
)

// bridgeScript answers each turn after a short pause and lingers after
// stream_end. While $HANG names a missing file, the turn creates it, streams
// a little and never ends.
const bridgeScript = `read req
if [ -n "$HANG" ] && [ ! -e "$HANG" ]; then
  touch "$HANG"
  echo '{"type":"text_delta","text":"working"}'
  exec sleep 30
fi
sleep 0.3
echo '{"type":"text_delta","text":"reply"}'
echo '{"type":"stream_end"}'
sleep 1`

func failed(msgs []content.Message) []string {
	var out []string
	for _, m := range msgs {
		if m.Failed {
			out = append(out, m.ErrorText())
		}
	}
	return out
}

var _ = Describe("Orchestrator over real providers", func() {
	var (
		ctx   context.Context
		store *testutil.MemoryStore
		run   func(p provider.Provider) *orchestrator.Orchestrator
	)

	BeforeEach(func() {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		DeferCleanup(cancel)
		store = testutil.NewMemoryStore()

		run = func(p provider.Provider) *orchestrator.Orchestrator {
			cfg := orchestrator.DefaultConfig()
			cfg.Debounce = 0
			o := orchestrator.New(p, orchestrator.WithConfig(cfg), orchestrator.WithStore(store))
			DeferCleanup(o.Close)
			return o
		}
	})

	Describe("the bridge provider", func() {
		newBridge := func(env ...string) provider.Provider {
			return bridge.New(bridge.Config{Command: "sh", Args: []string{"-c", bridgeScript}, Env: env})
		}

		It("runs a queued message while the finished process winds down", func() {
			orch := run(newBridge())

			_, err := orch.Send(ctx, orchestrator.QueuedMessage{Text: "A"})
			Expect(err).NotTo(HaveOccurred())
			d, err := orch.Send(ctx, orchestrator.QueuedMessage{Text: "B"})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Queued).To(BeTrue())

			Expect(orch.Wait(ctx)).To(Succeed())
			msgs := orch.Messages()
			Expect(failed(msgs)).To(BeEmpty())
			Expect(texts(msgs)).To(Equal([]string{"A", "reply", "B", "reply"}))
		})

		It("runs a queued message right after a cancel", func() {
			orch := run(newBridge("HANG=" + filepath.Join(GinkgoT().TempDir(), "hung")))

			_, err := orch.Send(ctx, orchestrator.QueuedMessage{Text: "hang"})
			Expect(err).NotTo(HaveOccurred())
			Eventually(func() string {
				return orch.Messages()[1].PlainText()
			}).Should(Equal("working"))
			_, err = orch.Send(ctx, orchestrator.QueuedMessage{Text: "B"})
			Expect(err).NotTo(HaveOccurred())

			Expect(orch.Cancel()).To(BeTrue())
			Expect(orch.Wait(ctx)).To(Succeed())

			msgs := orch.Messages()
			Expect(failed(msgs)).To(BeEmpty())
			Expect(texts(msgs)).To(Equal([]string{"hang", "working", "B", "reply"}))
			Expect(msgs[1].Stopped).To(BeTrue())
		})
	})

	Describe("the langchain provider", func() {
		It("runs queued messages back to back", func() {
			llm := testutil.NewFakeLLM()
			llm.AddReply(testutil.Reply{Text: "first", Delay: 100 * time.Millisecond})
			llm.AddReply(testutil.Reply{Text: "second"})
			orch := run(langchain.New(llm, langchain.WithModelName("llama3"), langchain.WithCounter(&tokens.Counter{})))

			_, err := orch.Send(ctx, orchestrator.QueuedMessage{Text: "A"})
			Expect(err).NotTo(HaveOccurred())
			d, err := orch.Send(ctx, orchestrator.QueuedMessage{Text: "B"})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Queued).To(BeTrue())

			Expect(orch.Wait(ctx)).To(Succeed())
			msgs := orch.Messages()
			Expect(failed(msgs)).To(BeEmpty())
			Expect(texts(msgs)).To(Equal([]string{"A", "first", "B", "second"}))
		})

		It("runs a queued message while a cancelled call tears down", func() {
			llm := testutil.NewFakeLLM()
			llm.AddReply(testutil.Reply{Block: true, Teardown: 50 * time.Millisecond})
			llm.AddReply(testutil.Reply{Text: "second"})
			orch := run(langchain.New(llm, langchain.WithModelName("llama3"), langchain.WithCounter(&tokens.Counter{})))

			_, err := orch.Send(ctx, orchestrator.QueuedMessage{Text: "A"})
			Expect(err).NotTo(HaveOccurred())
			Eventually(llm.CallCount).Should(Equal(1))
			_, err = orch.Send(ctx, orchestrator.QueuedMessage{Text: "B"})
			Expect(err).NotTo(HaveOccurred())

			Expect(orch.Cancel()).To(BeTrue())
			Expect(orch.Wait(ctx)).To(Succeed())

			msgs := orch.Messages()
			Expect(failed(msgs)).To(BeEmpty())
			Expect(texts(msgs)).To(Equal([]string{"A", "B", "second"}))
			Expect(llm.CallCount()).To(Equal(2))
		})
	})
})

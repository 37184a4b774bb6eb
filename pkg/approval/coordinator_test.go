package approval_test

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/killallgit/relay/pkg/approval"
	"github.com/killallgit/relay/pkg/plan"
	"github.com/killallgit/relay/pkg/tools"
)

type response struct {
	Allowed bool
	Reason  string
	Payload map[string]any
}

type recordingResponder struct {
	mu        sync.Mutex
	responses []response
	err       error
	// gate, when set, holds every response until it is closed
	gate chan struct{}
}

func (r *recordingResponder) SendPermissionResponse(_ context.Context, allowed bool, reason string) error {
	if r.gate != nil {
		<-r.gate
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, response{Allowed: allowed, Reason: reason})
	return r.err
}

func (r *recordingResponder) SendPermissionResponseWithInput(_ context.Context, allowed bool, payload map[string]any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.responses = append(r.responses, response{Allowed: allowed, Payload: payload})
	return r.err
}

func (r *recordingResponder) Responses() []response {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]response(nil), r.responses...)
}

var _ = Describe("Coordinator", func() {
	var (
		table     *tools.Table
		responder *recordingResponder
		presented chan approval.Request
		coord     *approval.Coordinator
	)

	showing := approval.PresenterFunc(func(_ context.Context, req approval.Request) error {
		presented <- req
		return nil
	})

	await := func(ctx context.Context, req approval.Request) (chan approval.Outcome, chan error) {
		outcomes := make(chan approval.Outcome, 1)
		errs := make(chan error, 1)
		go func() {
			out, err := coord.Await(ctx, req)
			outcomes <- out
			errs <- err
		}()
		return outcomes, errs
	}

	BeforeEach(func() {
		table = tools.DefaultTable()
		responder = &recordingResponder{}
		presented = make(chan approval.Request, 4)
		coord = approval.NewCoordinator(responder, showing)
	})

	Describe("tool permission", func() {
		It("sends the boolean decision once", func() {
			req := approval.NewRequest(table.Classify("Bash"), "t1", map[string]any{"command": "rm -rf build"})
			Expect(req.Kind).To(Equal(approval.KindToolPermission))
			Expect(req.Summary).To(Equal("rm -rf build"))

			outcomes, errs := await(context.Background(), req)
			Eventually(presented).Should(Receive())

			state := coord.State()
			Expect(state.Waiting).To(BeTrue())
			Expect(state.Kind).To(Equal(approval.KindToolPermission))
			Expect(responder.Responses()).To(BeEmpty())

			Expect(coord.Resolve(approval.Allow())).To(Succeed())
			Expect(<-errs).NotTo(HaveOccurred())
			Expect((<-outcomes).Allowed).To(BeTrue())

			Expect(responder.Responses()).To(Equal([]response{{Allowed: true}}))
			Expect(coord.State().Waiting).To(BeFalse())
		})

		It("sends a denial reason", func() {
			outcomes, _ := await(context.Background(), approval.NewRequest(table.Classify("Write"), "t1", nil))
			Eventually(presented).Should(Receive())
			Expect(coord.Resolve(approval.Deny("not that file"))).To(Succeed())

			out := <-outcomes
			Expect(out.Allowed).To(BeFalse())
			Expect(responder.Responses()).To(Equal([]response{{Allowed: false, Reason: "not that file"}}))
		})
	})

	Describe("questions", func() {
		input := map[string]any{
			"questions": []any{
				map[string]any{"question": "Which database?", "options": []any{"sqlite", "postgres"}},
			},
		}

		It("sends (false, User cancelled) on cancel", func() {
			req := approval.NewRequest(table.Classify("askuserquestion"), "q1", input)
			Expect(req.Kind).To(Equal(approval.KindQuestion))
			Expect(req.Questions).To(HaveLen(1))

			_, errs := await(context.Background(), req)
			Eventually(presented).Should(Receive())
			Expect(coord.Resolve(approval.Cancel())).To(Succeed())
			Expect(<-errs).NotTo(HaveOccurred())

			Expect(responder.Responses()).To(Equal([]response{{Allowed: false, Reason: "User cancelled"}}))
		})

		It("merges answers into the original input", func() {
			req := approval.NewRequest(table.Classify("AskUserQuestion"), "q1", input)
			outcomes, _ := await(context.Background(), req)
			Eventually(presented).Should(Receive())

			answers := map[string]any{"Which database?": "sqlite"}
			Expect(coord.Resolve(approval.Answer(answers))).To(Succeed())
			out := <-outcomes

			Expect(out.Allowed).To(BeTrue())
			got := responder.Responses()
			Expect(got).To(HaveLen(1))
			Expect(got[0].Allowed).To(BeTrue())
			Expect(got[0].Payload).To(HaveKeyWithValue("answers", answers))
			Expect(got[0].Payload).To(HaveKey("questions"))
			Expect(input).NotTo(HaveKey("answers"))
		})
	})

	Describe("plan approval", func() {
		planReq := func() approval.Request {
			return approval.NewPlanRequest(table.Classify("ExitPlanMode"), "p1", nil, "1. do it\n2. test it")
		}

		DescribeTable("maps plan decisions to responses",
			func(d plan.Decision, expected response, compacts bool) {
				outcomes, _ := await(context.Background(), planReq())
				Eventually(presented).Should(Receive())
				Expect(coord.Resolve(approval.PlanDecision(d, ""))).To(Succeed())

				out := <-outcomes
				Expect(out.Decision.Plan.Compacts()).To(Equal(compacts))
				Expect(responder.Responses()).To(Equal([]response{expected}))
			},
			Entry("approved", plan.Approved, response{Allowed: true}, false),
			Entry("approved and compact", plan.ApprovedCompact, response{Allowed: true}, true),
			Entry("denied", plan.Denied, response{Allowed: false, Reason: "User rejected the plan"}, false),
		)

		It("approves when the presenter fails", func() {
			coord.SetPresenter(approval.PresenterFunc(func(context.Context, approval.Request) error {
				return errors.New("window closed")
			}))

			out, err := coord.Await(context.Background(), planReq())
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Defaulted).To(BeTrue())
			Expect(out.Allowed).To(BeTrue())
			Expect(responder.Responses()).To(Equal([]response{{Allowed: true}}))
		})

		It("approves when the presenter panics", func() {
			coord.SetPresenter(approval.PresenterFunc(func(context.Context, approval.Request) error {
				panic("boom")
			}))

			out, err := coord.Await(context.Background(), planReq())
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Allowed).To(BeTrue())
		})
	})

	Describe("presenter failure for other kinds", func() {
		BeforeEach(func() {
			coord.SetPresenter(nil)
		})

		It("denies tool permissions", func() {
			out, err := coord.Await(context.Background(), approval.NewRequest(table.Classify("bash"), "t", nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(out.Allowed).To(BeFalse())
			Expect(out.Defaulted).To(BeTrue())
		})

		It("cancels questions", func() {
			_, err := coord.Await(context.Background(), approval.NewRequest(table.Classify("ask_user"), "q", nil))
			Expect(err).NotTo(HaveOccurred())
			Expect(responder.Responses()).To(Equal([]response{{Allowed: false, Reason: "User cancelled"}}))
		})
	})

	It("allows at most one outstanding suspension", func() {
		_, errs := await(context.Background(), approval.NewRequest(table.Classify("bash"), "t1", nil))
		Eventually(presented).Should(Receive())

		_, err := coord.Await(context.Background(), approval.NewRequest(table.Classify("bash"), "t2", nil))
		Expect(err).To(MatchError(approval.ErrAlreadyWaiting))

		Expect(coord.Resolve(approval.Allow())).To(Succeed())
		Expect(<-errs).NotTo(HaveOccurred())
		Expect(responder.Responses()).To(HaveLen(1))
	})

	It("rejects resolving when nothing waits", func() {
		Expect(coord.Resolve(approval.Allow())).To(MatchError(approval.ErrNoPendingApproval))
	})

	It("rejects a second resolve of the same suspension", func() {
		blocked := make(chan struct{})
		coord.SetPresenter(approval.PresenterFunc(func(context.Context, approval.Request) error {
			<-blocked
			return nil
		}))

		_, errs := await(context.Background(), approval.NewRequest(table.Classify("bash"), "t1", nil))
		Eventually(func() bool { return coord.State().Waiting }).Should(BeTrue())

		Expect(coord.Resolve(approval.Allow())).To(Succeed())
		Expect(coord.Resolve(approval.Deny("late"))).To(MatchError(approval.ErrAlreadyResolved))
		close(blocked)

		Expect(<-errs).NotTo(HaveOccurred())
		Expect(responder.Responses()).To(Equal([]response{{Allowed: true}}))
	})

	It("denies on context cancellation and still responds", func() {
		ctx, cancel := context.WithCancel(context.Background())
		outcomes, errs := await(ctx, approval.NewRequest(table.Classify("bash"), "t1", nil))
		Eventually(presented).Should(Receive())

		cancel()
		Expect(<-errs).NotTo(HaveOccurred())
		out := <-outcomes
		Expect(out.Allowed).To(BeFalse())
		Expect(out.Defaulted).To(BeTrue())
		Expect(responder.Responses()).To(Equal([]response{{Allowed: false, Reason: "Request cancelled"}}))
	})

	It("refuses decisions once the wait has timed out", func() {
		responder.gate = make(chan struct{})
		coord = approval.NewCoordinator(responder, showing, approval.WithTimeout(20*time.Millisecond))
		outcomes, errs := await(context.Background(), approval.NewRequest(table.Classify("bash"), "t1", nil))
		Eventually(presented).Should(Receive())

		// the default denial is being written; the suspension is over
		Eventually(func() bool { return coord.State().Waiting }).Should(BeFalse())
		Expect(coord.Resolve(approval.Allow())).To(MatchError(approval.ErrNoPendingApproval))

		close(responder.gate)
		Expect(<-errs).NotTo(HaveOccurred())
		out := <-outcomes
		Expect(out.Allowed).To(BeFalse())
		Expect(out.Defaulted).To(BeTrue())
		Expect(responder.Responses()).To(Equal([]response{{Allowed: false, Reason: "Approval timed out"}}))
	})

	It("denies plans on timeout", func() {
		coord = approval.NewCoordinator(responder, showing, approval.WithTimeout(20*time.Millisecond))
		out, err := coord.Await(context.Background(), approval.NewPlanRequest(table.Classify("exitplanmode"), "p", nil, "plan"))
		Expect(err).NotTo(HaveOccurred())
		Expect(out.Allowed).To(BeFalse())
		Expect(responder.Responses()).To(Equal([]response{{Allowed: false, Reason: "Approval timed out"}}))
	})

	It("wraps responder errors", func() {
		responder.err = errors.New("pipe closed")
		coord.SetPresenter(nil)
		_, err := coord.Await(context.Background(), approval.NewRequest(table.Classify("bash"), "t", nil))
		Expect(err).To(MatchError(ContainSubstring("pipe closed")))
	})
})

package cmd

import (
	"bufio"
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/killallgit/relay/pkg/approval"
	"github.com/killallgit/relay/pkg/config"
	"github.com/killallgit/relay/pkg/logger"
	"github.com/killallgit/relay/pkg/orchestrator"
	"github.com/killallgit/relay/pkg/render"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive conversation",
	Long: `Start an interactive conversation. Lines starting with / are commands;
type /help to list them. Messages sent while the assistant is busy are queued.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

const chatHelp = `/cancel        stop the running turn
/queue [clear] show or drop queued messages
/todos         show the task list
/files [diff]  show changed files
/agents        show sub-agents
/plan          show the plan awaiting approval, or the last one
/new           start a new session
/load <id>     resume a stored session
/quit          leave`

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	out := cmd.OutOrStdout()
	plain := plainOut || !isTerminal(out)
	con := newConsole(out)

	app, err := NewApp(config.Get(), AppOptions{Plain: plain})
	if err != nil {
		return err
	}
	defer app.Close()

	r := newREPL(app.Orchestrator, app.Renderer, con)
	app.Orchestrator.SetPresenter(promptPresenter(con, app.Renderer))
	unsubscribe := app.Orchestrator.Subscribe(r.transcript.Update)
	defer unsubscribe()

	if sessionID != "" {
		if err := r.load(ctx, sessionID); err != nil {
			return err
		}
	}

	con.Printf("relay %s/%s, /help for commands\n", app.Config.Provider, app.Config.ResolvedModel())
	return r.Run(ctx, cmd.InOrStdin())
}

// repl reads lines and turns them into sends, approval answers or commands
type repl struct {
	o          *orchestrator.Orchestrator
	r          *render.Renderer
	con        *console
	transcript *transcript
	log        *logger.Logger
}

func newREPL(o *orchestrator.Orchestrator, r *render.Renderer, con *console) *repl {
	return &repl{
		o:          o,
		r:          r,
		con:        con,
		transcript: newTranscript(con, r, false),
		log:        logger.WithComponent("chat"),
	}
}

// Run reads in until EOF, /quit or ctx is done, then waits for running and
// queued turns to finish
func (r *repl) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			r.o.Cancel()
			return nil
		case line, ok := <-lines:
			if !ok {
				return r.o.Wait(ctx)
			}
			quit, err := r.Handle(ctx, line)
			if err != nil {
				r.con.Println(r.r.ErrorBlock(err.Error()))
			}
			if quit {
				return nil
			}
		}
	}
}

// Handle processes one input line
func (r *repl) Handle(ctx context.Context, line string) (quit bool, err error) {
	if st := r.o.Approval(); st.Waiting && !strings.HasPrefix(line, "/") {
		return false, r.o.ResolveApproval(parseDecision(st.Request, line))
	}

	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return false, nil
	}
	if !strings.HasPrefix(trimmed, "/") {
		return false, r.send(ctx, line)
	}

	name, arg, _ := strings.Cut(trimmed[1:], " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "quit", "exit", "q":
		r.o.Cancel()
		return true, nil
	case "help":
		r.con.Println(chatHelp)
	case "cancel":
		if !r.o.Cancel() {
			r.con.Println("nothing to cancel")
		}
	case "queue":
		r.queue(arg)
	case "todos":
		r.con.Println(r.r.Todos(r.o.Snapshot().Activity.Todos))
	case "files":
		r.con.Println(r.r.Files(r.o.Snapshot().Activity.Files, arg == "diff"))
	case "agents":
		r.con.Println(r.r.Subagents(r.o.Snapshot().Activity.Subagents))
	case "plan":
		if st := r.o.Approval(); st.Waiting && st.Kind == approval.KindPlanApproval {
			r.con.Println(r.r.Approval(st.Request))
			return false, nil
		}
		if p := r.o.Snapshot().Plan; p != "" {
			r.con.Println(r.r.Plan(p))
			return false, nil
		}
		r.con.Println("no plan yet")
	case "new":
		r.transcript.Pause()
		if err := r.o.NewSession(); err != nil {
			r.transcript.Unpause()
			return false, err
		}
		r.transcript.Resume("", 0)
		r.con.Println("new session")
	case "load":
		if arg == "" {
			return false, errors.New("usage: /load <session id>")
		}
		return false, r.load(ctx, arg)
	default:
		// unknown commands go to the assistant, which may know them
		return false, r.send(ctx, line)
	}
	return false, nil
}

func (r *repl) send(ctx context.Context, text string) error {
	d, err := r.o.Send(ctx, orchestrator.QueuedMessage{Text: text})
	if err != nil {
		return err
	}
	if d.Queued {
		r.con.Printf("queued (%d pending)\n", d.Position)
	}
	return nil
}

func (r *repl) queue(arg string) {
	if arg == "clear" {
		r.con.Printf("dropped %d queued messages\n", r.o.ClearQueue())
		return
	}
	pending := r.o.Pending()
	if len(pending) == 0 {
		r.con.Println("queue is empty")
		return
	}
	for i, m := range pending {
		r.con.Printf("%d. %s\n", i+1, m.Text)
	}
}

// load resumes a session and shows its transcript
func (r *repl) load(ctx context.Context, id string) error {
	r.transcript.Pause()
	if err := r.o.LoadSession(ctx, id); err != nil {
		r.transcript.Unpause()
		return err
	}
	msgs := r.o.Messages()
	r.transcript.Resume(id, len(msgs))

	r.con.Printf("resumed session %s\n", id)
	for _, m := range msgs {
		r.con.Println(r.r.Message(m))
	}
	return nil
}

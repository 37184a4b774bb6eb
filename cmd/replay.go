package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/killallgit/relay/pkg/config"
	"github.com/killallgit/relay/pkg/orchestrator"
	"github.com/killallgit/relay/pkg/provider/bridge"
	"github.com/killallgit/relay/pkg/session"
)

var (
	replayDelay   time.Duration
	replayDeny    bool
	replaySave    bool
	replayMessage string
)

var replayCmd = &cobra.Command{
	Use:   "replay <file.ndjson>",
	Short: "Play a recorded bridge stream through the conversation loop",
	Long: `Play a recording of bridge events, one recorded turn per message, and
print the conversation as it would have appeared. Approval requests are
answered automatically.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().DurationVar(&replayDelay, "delay", 0, "pause between events")
	replayCmd.Flags().BoolVar(&replayDeny, "deny", false, "reject approval requests instead of allowing them")
	replayCmd.Flags().BoolVar(&replaySave, "save", false, "save the replayed conversation to the session store")
	replayCmd.Flags().StringVar(&replayMessage, "message", "replay turn %d", "user message sent for each turn, %d is the turn number")
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	rp, err := bridge.OpenReplay(args[0], bridge.WithDelay(replayDelay))
	if err != nil {
		return err
	}
	if rp.Turns() == 0 {
		return fmt.Errorf("%s holds no events", args[0])
	}

	opts := AppOptions{Provider: rp, Plain: plainOut || !isTerminal(cmd.OutOrStdout())}
	if !replaySave {
		opts.Store = session.NopStore{}
	}
	app, err := NewApp(config.Get(), opts)
	if err != nil {
		return err
	}
	defer app.Close()

	decide := approveAll
	if replayDeny {
		decide = denyAll
	}
	app.Orchestrator.SetPresenter(autoPresenter(app.Orchestrator.ResolveApproval, decide))

	return replayTurns(ctx, app, rp, newConsole(cmd.OutOrStdout()))
}

// replayTurns sends one message per recorded turn and prints the transcript
func replayTurns(ctx context.Context, app *App, rp *bridge.ReplayProvider, con *console) error {
	t := newTranscript(con, app.Renderer, true)
	unsubscribe := app.Orchestrator.Subscribe(t.Update)
	defer unsubscribe()

	for i := 1; rp.Remaining() > 0; i++ {
		text := replayMessage
		if strings.Contains(text, "%d") {
			text = fmt.Sprintf(text, i)
		}
		msg := orchestrator.QueuedMessage{Text: text}
		if _, err := app.Orchestrator.Send(ctx, msg); err != nil {
			return err
		}
		if err := app.Orchestrator.Wait(ctx); err != nil {
			return err
		}
	}

	// let the dispatcher print the last turn before the summary
	app.Orchestrator.Bus().Flush()
	con.Printf("replayed %d turns, %d tokens\n", rp.Turns(), app.Orchestrator.Tokens())
	return nil
}

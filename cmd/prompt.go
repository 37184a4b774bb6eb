package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/killallgit/relay/pkg/config"
	"github.com/killallgit/relay/pkg/content"
	"github.com/killallgit/relay/pkg/orchestrator"
)

var (
	promptText   string
	promptFiles  []string
	promptFormat string
)

var promptCmd = &cobra.Command{
	Use:   "prompt [text]",
	Short: "Send one message and print the reply",
	Long: `Send one message without a terminal UI and print the assistant's reply.
Approval requests cannot be answered here: tools are denied, plans proceed and
questions are dismissed, unless --permission-mode says otherwise.`,
	RunE: runPrompt,
}

func init() {
	promptCmd.Flags().StringVarP(&promptText, "prompt", "p", "", "message to send (default: the arguments)")
	promptCmd.Flags().StringSliceVarP(&promptFiles, "file", "f", nil, "file to reference in the message, repeatable")
	promptCmd.Flags().StringVarP(&promptFormat, "output", "o", "text", "output format: text or json")
}

// promptResult is the json output of a headless run
type promptResult struct {
	SessionID string            `json:"session_id"`
	Tokens    int               `json:"tokens"`
	Messages  []content.Message `json:"messages"`
}

func runPrompt(cmd *cobra.Command, args []string) error {
	text := promptText
	if text == "" {
		text = strings.Join(args, " ")
	}
	msg := orchestrator.QueuedMessage{Text: text, Files: promptFiles}
	if msg.Empty() {
		return errors.New("nothing to send: pass --prompt or arguments")
	}
	if promptFormat != "text" && promptFormat != "json" {
		return fmt.Errorf("invalid output format %q", promptFormat)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	out := cmd.OutOrStdout()
	app, err := NewApp(config.Get(), AppOptions{
		Plain:     plainOut || !isTerminal(out),
		Presenter: headlessPresenter(),
	})
	if err != nil {
		return err
	}
	defer app.Close()

	if sessionID != "" {
		if err := app.Orchestrator.LoadSession(ctx, sessionID); err != nil {
			return err
		}
	}
	return sendAndPrint(ctx, app, msg, promptFormat, out)
}

// sendAndPrint runs one message to completion and prints what it added
func sendAndPrint(ctx context.Context, app *App, msg orchestrator.QueuedMessage, format string, out io.Writer) error {
	o := app.Orchestrator
	before := len(o.Messages())

	if _, err := o.Send(ctx, msg); err != nil {
		return err
	}
	if err := o.Wait(ctx); err != nil {
		o.Cancel()
		return err
	}

	added := o.Messages()[before:]
	if format == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(promptResult{SessionID: o.SessionID(), Tokens: o.Tokens(), Messages: added})
	}

	var failed string
	for _, m := range added {
		if m.IsUser() {
			continue
		}
		fmt.Fprintln(out, app.Renderer.Message(m))
		if m.Failed {
			failed = m.ErrorText()
		}
	}
	if failed != "" {
		return errors.New(failed)
	}
	return nil
}

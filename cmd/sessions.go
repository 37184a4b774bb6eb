package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/killallgit/relay/pkg/config"
	"github.com/killallgit/relay/pkg/render"
	"github.com/killallgit/relay/pkg/session"
)

var searchLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List, show and search stored sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored sessions, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store session.Store) error {
			lister, ok := store.(session.Lister)
			if !ok {
				return fmt.Errorf("session store %q cannot list sessions", config.Get().Session.Store)
			}
			infos, err := lister.List(cmd.Context())
			if err != nil {
				return err
			}
			printSessions(cmd.OutOrStdout(), infos)
			return nil
		})
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print the transcript of a session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store session.Store) error {
			return showSession(cmd.Context(), cmd.OutOrStdout(), config.Get(), store, args[0])
		})
	},
}

var sessionsSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Find sessions by content",
	Long:  "Find sessions by content. Needs session.index enabled in the config.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(store session.Store) error {
			indexed, ok := store.(*session.IndexedStore)
			if !ok {
				return errors.New("session search needs session.index: true")
			}
			hits, err := indexed.Search(cmd.Context(), args[0], searchLimit)
			if err != nil {
				return err
			}
			printHits(cmd.OutOrStdout(), hits)
			return nil
		})
	},
}

func init() {
	sessionsSearchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 5, "maximum number of results")
	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsSearchCmd)
}

func withStore(fn func(session.Store) error) error {
	store, closer, err := NewStore(config.Get())
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}
	return fn(store)
}

func showSession(ctx context.Context, out io.Writer, cfg *config.Config, store session.Store, id string) error {
	messages, ok, err := store.Load(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", session.ErrNotFound, id)
	}

	table, err := NewTable(cfg)
	if err != nil {
		return err
	}
	r := render.New(render.Options{
		ShowThinking: cfg.ShowThinking,
		Markdown:     cfg.Markdown,
		Plain:        plainOut || !isTerminal(out),
		Table:        table,
	})

	if title, err := store.Title(ctx, id); err == nil && title != "" {
		fmt.Fprintln(out, title)
	}
	for _, m := range messages {
		fmt.Fprintln(out, r.Message(m))
	}
	return nil
}

func printSessions(w io.Writer, infos []session.Info) {
	if len(infos) == 0 {
		fmt.Fprintln(w, "no sessions")
		return
	}
	t := newTable(w, []string{"ID", "Updated", "Messages", "Tokens", "Title"})
	for _, info := range infos {
		t.Append([]string{
			info.ID,
			info.UpdatedAt.Local().Format("2006-01-02 15:04"),
			strconv.Itoa(info.Messages),
			strconv.Itoa(info.Tokens),
			info.Title,
		})
	}
	t.Render()
}

func printHits(w io.Writer, hits []session.Hit) {
	if len(hits) == 0 {
		fmt.Fprintln(w, "no matches")
		return
	}
	t := newTable(w, []string{"ID", "Score", "Title"})
	for _, h := range hits {
		t.Append([]string{h.ID, fmt.Sprintf("%.2f", h.Similarity), h.Title})
	}
	t.Render()
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	t := tablewriter.NewWriter(w)
	t.SetHeader(header)
	t.SetAutoWrapText(false)
	t.SetAutoFormatHeaders(false)
	t.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	t.SetAlignment(tablewriter.ALIGN_LEFT)
	t.SetBorder(false)
	t.SetColumnSeparator("")
	t.SetRowSeparator("")
	t.SetCenterSeparator("")
	t.SetHeaderLine(false)
	t.SetTablePadding("  ")
	t.SetNoWhiteSpace(true)
	return t
}

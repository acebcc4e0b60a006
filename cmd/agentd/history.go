package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/agentd/internal/history"
	"github.com/fyrsmithlabs/agentd/internal/orchestrator"
)

var (
	historyLimit   int
	historySession string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent recorded runs",
	Long: `Show recent runs from the history database.

History recording is off by default; enable it with history.enabled in
the config file. Only finished runs are recorded, never live transcript
state.`,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum rows to show")
	historyCmd.Flags().StringVar(&historySession, "session", "", "only show runs for this session id")
}

func runHistory(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	if a.history == nil {
		return fmt.Errorf("history recording is disabled; set history.enabled: true in the config")
	}

	var records []history.Record
	if historySession != "" {
		records, err = a.history.BySession(ctx, historySession)
	} else {
		records, err = a.history.Recent(ctx, historyLimit)
	}
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("no recorded runs")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tSESSION\tOUTCOME\tLOOPS\tTOKENS\tQUERY")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			r.CreatedAt.Format(time.DateTime),
			shorten(r.SessionID, 12),
			r.Outcome,
			r.Loops,
			r.PromptTokens+r.CompletionTokens,
			shorten(r.Query, 60))
	}
	return w.Flush()
}

func shorten(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) <= max {
		return s
	}
	return s[:max-1] + "…"
}

// historyRecord maps a finished run onto its persisted row.
func historyRecord(query string, res *orchestrator.Result) history.Record {
	return history.Record{
		RunID:            res.RunID,
		SessionID:        res.SessionID,
		Query:            query,
		FinalAnswer:      res.FinalAnswer,
		Outcome:          string(res.Outcome),
		Loops:            res.Loops,
		PromptTokens:     res.Usage.Prompt,
		CompletionTokens: res.Usage.Completion,
		Duration:         res.Duration,
	}
}

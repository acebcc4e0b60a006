package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/agentd/internal/orchestrator"
	"github.com/fyrsmithlabs/agentd/internal/transcript"
)

var (
	runSessionID string
	runDirect    bool
	runNoSummary bool
	runJSON      bool
)

var runCmd = &cobra.Command{
	Use:   "run [query]",
	Short: "Run one request through the agent",
	Long: `Run one request through the agent and stream its output to stdout.

Examples:
  # Full deep-research run
  agentd run "compare the three largest moons of Saturn"

  # Skip the staged loop and let the model call tools directly
  agentd run --direct "factorial of 12"

  # Machine-readable result
  agentd run --json "factorial of 12"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runSessionID, "session", "", "session id to run under (default: fresh session)")
	runCmd.Flags().BoolVar(&runDirect, "direct", false, "bypass the staged loop, tool-call directly")
	runCmd.Flags().BoolVar(&runNoSummary, "no-summary", false, "skip the closing summary stage")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the full result as JSON instead of streaming text")
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	query := strings.Join(args, " ")
	req := orchestrator.Request{
		SessionID: runSessionID,
		Messages:  []transcript.Message{{Role: transcript.RoleUser, Content: query}},
		Options:   runOptions(a),
	}

	var res *orchestrator.Result
	if runJSON {
		res, err = a.controller.Run(ctx, req)
	} else {
		r := newRenderer(os.Stdout)
		res, err = a.controller.RunWith(ctx, req, func(batch []transcript.Message) error {
			r.Batch(batch)
			return nil
		})
		fmt.Println()
	}
	if err != nil {
		return err
	}
	recordRun(ctx, a, query, res)

	if runJSON {
		out, err := json.MarshalIndent(res, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	fmt.Printf("\n%s loops=%d tokens=%d duration=%s\n",
		toolStyle.Render("["+string(res.Outcome)+"]"),
		res.Loops, res.Usage.Total(), res.Duration.Round(time.Millisecond))
	return nil
}

// runOptions merges the configured defaults with the run flags.
func runOptions(a *app) orchestrator.Options {
	opts := a.options()
	if runDirect {
		opts.DeepResearch = false
	}
	if runNoSummary {
		opts.Summary = false
	}
	return opts
}

func recordRun(ctx context.Context, a *app, query string, res *orchestrator.Result) {
	if a.history == nil {
		return
	}
	err := a.history.Append(ctx, historyRecord(query, res))
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: history append failed: %v\n", err)
	}
}

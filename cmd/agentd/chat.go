package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/agentd/internal/orchestrator"
	"github.com/fyrsmithlabs/agentd/internal/transcript"
)

var chatSessionID string

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive session with the agent",
	Long: `Start an interactive session. Each line is one request; the session,
its workspace, and its server connections persist across turns so the
agent keeps its context. Exit with "exit", "quit", or Ctrl-D.`,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVar(&chatSessionID, "session", "", "resume an existing session id")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(context.WithoutCancel(ctx))

	sessionID := chatSessionID
	fmt.Printf("agentd %s — model %s. Type a request, or \"exit\" to leave.\n", version, a.cfg.Model.Name)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print(promptStyle.Render("you> "))
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}

		r := newRenderer(os.Stdout)
		res, err := a.controller.RunWith(ctx, orchestrator.Request{
			SessionID: sessionID,
			Messages:  []transcript.Message{{Role: transcript.RoleUser, Content: line}},
			Options:   a.options(),
		}, func(batch []transcript.Message) error {
			r.Batch(batch)
			return nil
		})
		fmt.Println()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			fmt.Println(errorStyle.Render("error: " + err.Error()))
			continue
		}

		// Later turns reuse the session the first run created.
		sessionID = res.SessionID
		recordRun(ctx, a, line, res)
	}
}

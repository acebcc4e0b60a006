// Agentd runs a staged reasoning agent over a configurable completion
// backend and a discoverable set of tools: built-in functions,
// interpreted Go tool files, and remote MCP servers.
//
// Usage:
//
//	agentd run "find the factorial of 5"   # one request, streamed to stdout
//	agentd chat                            # interactive session
//	agentd serve                           # HTTP surface
//	agentd tools                           # registered capabilities
//	agentd history                         # recent recorded runs
//
// Configuration lives at ~/.config/agentd/config.yaml with AGENTD_*
// environment overrides; see internal/config.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "agentd",
	Short:         "Staged reasoning agent daemon",
	Long:          "agentd turns free-form requests into completed work by sequencing\nanalyze, decompose, plan, execute, observe, and summarize stages over\na completion model and a set of callable tools.",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/agentd/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level (trace|debug|info|warn|error)")
	rootCmd.SetVersionTemplate("agentd {{.Version}} (commit " + gitCommit + ", built " + buildDate + ")\n")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(toolsCmd)
	rootCmd.AddCommand(historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

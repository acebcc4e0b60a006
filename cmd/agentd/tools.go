package main

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var toolsJSON bool

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List registered capabilities",
	Long: `List every capability the agent can call: builtins, dynamic tools
loaded from the tools directory, tools discovered on configured MCP
servers, and the nested agent when multi-agent mode is on.`,
	RunE: runTools,
}

func init() {
	toolsCmd.Flags().BoolVar(&toolsJSON, "json", false, "print full descriptors as JSON")
}

func runTools(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	if toolsJSON {
		out, err := json.MarshalIndent(a.registry.List(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	list := a.registry.ListSimplified()
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tDESCRIPTION")
	for _, c := range list {
		fmt.Fprintf(w, "%s\t%s\n", c.Name, shorten(c.Description, 90))
	}
	return w.Flush()
}

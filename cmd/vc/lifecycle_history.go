package main

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/vc/internal/supervisor"
)

var lifecycleHistoryCmd = &cobra.Command{
	Use:   "history <resource-id>",
	Short: "Show the state transition history for a resource",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		id, err := supervisor.ParseResourceId(args[0])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}

		gray := color.New(color.FgHiBlack).SprintFunc()
		cyan := color.New(color.FgCyan).SprintFunc()

		transitions := manager.GetTransitionHistory(id)
		if len(transitions) == 0 {
			fmt.Printf("%s\n", gray("no recorded transitions"))
			return
		}

		for _, t := range transitions {
			fmt.Printf("%s  %s -> %s\n", t.Timestamp.Format(time.RFC3339),
				cyan(string(t.FromState.Kind)), cyan(string(t.ToState.Kind)))
			if t.Reason != "" {
				fmt.Printf("    %s\n", t.Reason)
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(lifecycleHistoryCmd)
}

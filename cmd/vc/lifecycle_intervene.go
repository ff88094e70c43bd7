package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/steveyegge/vc/internal/repl"
)

var lifecycleInterveneCmd = &cobra.Command{
	Use:   "intervene",
	Short: "Open the interactive console for resolving pending interventions",
	Run: func(cmd *cobra.Command, args []string) {
		console := repl.NewInterventionREPL(manager)
		if err := console.Run(context.Background()); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.AddCommand(lifecycleInterveneCmd)
}

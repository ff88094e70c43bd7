package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var lifecycleStuckCmd = &cobra.Command{
	Use:   "stuck",
	Short: "List resources currently in the Stuck state",
	Run: func(cmd *cobra.Command, args []string) {
		red := color.New(color.FgRed).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		stuck := manager.GetStuckResources()
		if len(stuck) == 0 {
			fmt.Printf("%s\n", gray("no stuck resources"))
			return
		}

		for _, inst := range stuck {
			fmt.Printf("%s %s\n", red("●"), inst.ID.String())
			fmt.Printf("    since: %s  recovery_attempts: %d  escalation_tier: %d\n",
				inst.State.Since.Format(time.RFC3339), inst.State.RecoveryAttempts, inst.CurrentEscalationTier)
		}
	},
}

func init() {
	rootCmd.AddCommand(lifecycleStuckCmd)
}

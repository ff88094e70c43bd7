package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/vc/internal/supervisor"
)

var lifecyclePsCmd = &cobra.Command{
	Use:   "ps",
	Short: "List tracked lifecycle resources",
	Long:  `Show every resource currently tracked by the lifecycle supervisor, followed by a count per state.`,
	Run: func(cmd *cobra.Command, args []string) {
		green := color.New(color.FgGreen).SprintFunc()
		yellow := color.New(color.FgYellow).SprintFunc()
		red := color.New(color.FgRed).SprintFunc()
		gray := color.New(color.FgHiBlack).SprintFunc()

		instances := manager.GetAllResources()
		if len(instances) == 0 {
			fmt.Printf("%s\n", gray("no tracked resources"))
			return
		}

		for _, inst := range instances {
			statusColor := gray
			switch inst.State.Kind {
			case supervisor.StateRunning:
				statusColor = green
			case supervisor.StateStuck, supervisor.StateFailed:
				statusColor = red
			case supervisor.StateRecovering:
				statusColor = yellow
			}

			fmt.Printf("%s  %-28s %s\n", statusColor("●"), inst.ID.String(), statusColor(string(inst.State.Kind)))
			fmt.Printf("    created: %s  recovery_attempts: %d\n",
				inst.CreatedAt.Format(time.RFC3339), inst.RecoveryAttempts)
		}

		stats := manager.GetStats()
		fmt.Println()
		fmt.Printf("total: %d  running: %d  stuck: %d  recovering: %d  completed: %d  failed: %d\n",
			stats.Total, stats.Running, stats.Stuck, stats.Recovering, stats.Completed, stats.Failed)
	},
}

func init() {
	rootCmd.AddCommand(lifecyclePsCmd)
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/vc/internal/supervisor"
)

var lifecycleRetryCmd = &cobra.Command{
	Use:   "retry <resource-id>",
	Short: "Retry a resource in place",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		preserveState, _ := cmd.Flags().GetBool("preserve-state")
		runRecovery(args[0], supervisor.RetryAction(preserveState))
	},
}

var lifecycleTransferCmd = &cobra.Command{
	Use:   "transfer <resource-id>",
	Short: "Transfer a resource to a fresh instance",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		preserveState, _ := cmd.Flags().GetBool("preserve-state")
		toTypeFlag, _ := cmd.Flags().GetString("to-type")

		var toType *supervisor.ResourceType
		if toTypeFlag != "" {
			parsed, err := supervisor.ParseResourceType(toTypeFlag)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			toType = &parsed
		}
		runRecovery(args[0], supervisor.TransferAction(toType, preserveState))
	},
}

var lifecycleEscalateCmd = &cobra.Command{
	Use:   "escalate <resource-id> <tier>",
	Short: "Escalate a resource to the given tier",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		var tier uint8
		if _, err := fmt.Sscanf(args[1], "%d", &tier); err != nil {
			fmt.Fprintf(os.Stderr, "Error: invalid tier %q\n", args[1])
			os.Exit(1)
		}
		runRecovery(args[0], supervisor.EscalateAction(tier))
	},
}

var lifecycleAbortCmd = &cobra.Command{
	Use:   "abort <resource-id> [reason]",
	Short: "Abort a resource",
	Args:  cobra.RangeArgs(1, 2),
	Run: func(cmd *cobra.Command, args []string) {
		reason := "aborted by operator"
		if len(args) > 1 {
			reason = args[1]
		}
		runRecovery(args[0], supervisor.AbortAction(reason))
	},
}

func runRecovery(resourceIDStr string, action supervisor.RecoveryAction) {
	id, err := supervisor.ParseResourceId(resourceIDStr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	result, err := manager.RunRecoveryAction(context.Background(), id, action)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	green := color.New(color.FgGreen).SprintFunc()
	fmt.Printf("%s %s\n", green("✓"), result.Kind)
}

func init() {
	lifecycleRetryCmd.Flags().Bool("preserve-state", true, "extract and reapply handler state across the retry")
	lifecycleTransferCmd.Flags().Bool("preserve-state", true, "extract and reapply handler state on the new instance")
	lifecycleTransferCmd.Flags().String("to-type", "", "resource type for the transfer target (defaults to the source's type)")

	rootCmd.AddCommand(lifecycleRetryCmd)
	rootCmd.AddCommand(lifecycleTransferCmd)
	rootCmd.AddCommand(lifecycleEscalateCmd)
	rootCmd.AddCommand(lifecycleAbortCmd)
}

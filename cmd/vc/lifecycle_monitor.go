package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/steveyegge/vc/internal/control"
)

var lifecycleMonitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Run the health sweep loop in the foreground",
	Long:  `Starts periodic health sweeps and blocks until interrupted, marking resources Stuck when they miss their heartbeat threshold; it does not start recovery by itself. Also opens the control socket so a control client in another process can issue ps/stuck/retry/transfer/escalate/abort against this process.`,
	Run: func(cmd *cobra.Command, args []string) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		srv, err := control.NewServer(cfg.ControlSocketPath, func(c control.Command) (map[string]interface{}, error) {
			return dispatchControlCommand(ctx, c)
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to create control socket: %v\n", err)
			os.Exit(1)
		}
		if err := srv.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to start control socket: %v\n", err)
			os.Exit(1)
		}

		manager.StartMonitoring(ctx, cfg.SweepInterval)
		fmt.Printf("%s sweeping every %s, control socket at %s (ctrl-c to stop)\n",
			color.GreenString("monitoring"), cfg.SweepInterval, cfg.ControlSocketPath)

		<-sigCh
		manager.StopMonitoring()
		_ = srv.Stop()
		fmt.Println("stopped")
	},
}

func init() {
	rootCmd.AddCommand(lifecycleMonitorCmd)
}

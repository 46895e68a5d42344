package cmd

import (
	"fmt"

	"docsync/internal/daemon"
	"docsync/internal/logger"
	"docsync/internal/scheduler"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running synchronization loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		markers := scheduler.NewMarkers(cfg)
		pid, err := markers.RunningPid()
		if err != nil {
			logger.Log.Warn("failed to read pid file", zap.Error(err))
		}

		if pid != 0 {
			if err := markers.RequestStop(pid); err != nil {
				return err
			}
			fmt.Printf("stop requested (pid=%d)\n", pid)
			return nil
		}

		if err := daemon.NewClient(cfg.DaemonPort).Stop(cmd.Context()); err != nil {
			return err
		}
		fmt.Println("stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(stopCmd)
}

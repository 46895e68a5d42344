package cmd

import (
	"fmt"

	"docsync/internal/logger"
	"docsync/internal/notify"

	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run a single synchronization pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		defer logger.Sync()

		events := notify.NewRecorder(0)
		notifier := notify.Multi{notify.LogNotifier{}, events}
		e, err := newEngine(notifier)
		if err != nil {
			return err
		}

		// one pass under the same single-instance lock as the loop
		if err := newScheduler(e, notifier, 1).Run(cmd.Context()); err != nil {
			return err
		}

		fmt.Printf("done: %d synchronized\n", len(events.OfType(notify.EventItemSynced)))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}

package cmd

import (
	"fmt"

	"docsync/internal/daemon"

	"github.com/spf13/cobra"
)

var pauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Pause synchronization after the current pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := daemon.NewClient(cfg.DaemonPort).Pause(cmd.Context()); err != nil {
			return err
		}

		fmt.Println("paused")
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a paused synchronization",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := daemon.NewClient(cfg.DaemonPort).Resume(cmd.Context()); err != nil {
			return err
		}

		fmt.Println("resumed")
		return nil
	},
}

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "View recent notifications of the running loop",
	RunE: func(cmd *cobra.Command, args []string) error {
		events, err := daemon.NewClient(cfg.DaemonPort).Events(cmd.Context())
		if err != nil {
			return err
		}

		if len(events) == 0 {
			fmt.Println("no events yet")
			return nil
		}

		for _, e := range events {
			fmt.Printf("[%s] %-15s %s %s %s\n",
				e.At.Format("2006-01-02 15:04:05"), e.Type, e.LocalFolder, e.Path, e.Message)
		}
		return nil
	},
}

var noticesN int

var noticesCmd = &cobra.Command{
	Use:   "notices",
	Short: "View server notices (maintenance, quota, conflicts, sign-in)",
	RunE: func(cmd *cobra.Command, args []string) error {
		notices, err := daemon.NewClient(cfg.DaemonPort).Notices(cmd.Context(), noticesN)
		if err != nil {
			return err
		}

		if len(notices) == 0 {
			fmt.Println("no notices")
			return nil
		}

		for _, n := range notices {
			fmt.Printf("[%s] %-11s %s %s\n",
				n.CreatedAt.Format("2006-01-02 15:04:05"), n.Kind, n.LocalFolder, n.Message)
		}
		return nil
	},
}

func init() {
	noticesCmd.Flags().IntVar(&noticesN, "n", 20, "number of notices to show")
	rootCmd.AddCommand(pauseCmd, resumeCmd, eventsCmd, noticesCmd)
}

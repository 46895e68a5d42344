package cmd

import (
	"fmt"
	"strings"
	"time"

	"docsync/internal/daemon"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "View synchronization status",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := daemon.NewClient(cfg.DaemonPort).Status(cmd.Context())
		if err != nil {
			return err
		}

		state := "running"
		if status.Paused {
			state = "paused"
		}
		fmt.Printf("pid %d %s, uptime %s, %d passes, %d synchronized\n",
			status.Pid, state,
			time.Since(status.StartedAt).Round(time.Second),
			status.Iterations, status.Synced)

		if len(status.Bindings) == 0 {
			fmt.Println("no bindings configured")
			return nil
		}

		var rows [][]string
		for _, b := range status.Bindings {
			lastSync := "-"
			if b.LastSync != nil {
				lastSync = b.LastSync.Format("2006-01-02 15:04:05")
			}

			pending := fmt.Sprint(b.Pending)
			if b.PendingMore {
				pending += "+"
			}

			rows = append(rows, []string{
				b.LocalFolder,
				bindingState(b.Online, b.NeedsSignIn, b.QuotaExceeded, string(b.Maintenance)),
				pending,
				lastSync,
				strings.Join(b.Roots, ", "),
			})
		}
		renderTable([]string{"Folder", "State", "Pending", "Last sync", "Roots"}, rows)

		return nil
	},
}

func bindingState(online, signIn, quota bool, maintenance string) string {
	switch {
	case signIn:
		return "sign-in"
	case maintenance == "on":
		return "maint"
	case !online:
		return "offline"
	case quota:
		return "quota"
	}
	return "online"
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

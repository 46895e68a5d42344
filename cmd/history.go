package cmd

import (
	"fmt"
	"path/filepath"

	"docsync/internal/daemon"

	"github.com/spf13/cobra"
)

var historyN int

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View recently synchronized files",
	RunE: func(cmd *cobra.Command, args []string) error {
		histories, err := daemon.NewClient(cfg.DaemonPort).History(cmd.Context(), historyN)
		if err != nil {
			return err
		}

		if len(histories) == 0 {
			fmt.Println("no history yet")
			return nil
		}

		rows := make([][]string, 0, len(histories))
		for _, h := range histories {
			kind := "file"
			if h.Folderish {
				kind = "dir"
			}

			rows = append(rows, []string{
				h.SyncedAt.Format("2006-01-02 15:04:05"),
				string(h.Action),
				kind,
				filepath.Join(h.LocalRoot, filepath.FromSlash(h.Path)),
			})
		}
		renderTable([]string{"Synced at", "Action", "Kind", "Path"}, rows)

		return nil
	},
}

func init() {
	historyCmd.Flags().IntVar(&historyN, "n", 20, "number of history entries to show")
	rootCmd.AddCommand(historyCmd)
}

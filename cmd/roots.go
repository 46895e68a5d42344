package cmd

import (
	"fmt"
	"path/filepath"

	"docsync/internal/daemon"
	"docsync/internal/model"
	"docsync/internal/notify"

	"github.com/spf13/cobra"
)

var rootsCmd = &cobra.Command{
	Use:   "roots",
	Short: "Manage synchronization roots",
}

var rootsAddCmd = &cobra.Command{
	Use:   "add [local-folder] [remote-folder-id]",
	Short: "Register a remote folder as a root and mirror it under the binding",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		folder, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}

		e, err := newEngine(notify.LogNotifier{})
		if err != nil {
			return err
		}
		var root *model.RootBinding
		err = applyChange(
			func() (err error) {
				root, err = e.BindRoot(cmd.Context(), folder, args[1])
				return err
			},
			func(c *daemon.Client) (err error) {
				root, err = c.BindRoot(cmd.Context(), folder, args[1])
				return err
			},
		)
		if err != nil {
			return err
		}

		fmt.Printf("root %s bound to %s\n", root.RemoteRoot, root.LocalRoot)
		return nil
	},
}

var rootsRemoveCmd = &cobra.Command{
	Use:   "remove [local-root]",
	Short: "Stop synchronizing a root. Local files are kept",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}

		e, err := newEngine(notify.LogNotifier{})
		if err != nil {
			return err
		}
		err = applyChange(
			func() error { return e.UnbindRoot(cmd.Context(), root) },
			func(c *daemon.Client) error { return c.UnbindRoot(cmd.Context(), root) },
		)
		if err != nil {
			return err
		}

		fmt.Printf("root %s removed\n", root)
		return nil
	},
}

var rootsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the bindings and their roots",
	RunE: func(cmd *cobra.Command, args []string) error {
		bindings, err := repos.Bindings.GetAll()
		if err != nil {
			return err
		}
		if len(bindings) == 0 {
			fmt.Println("no bindings configured")
			return nil
		}

		var rows [][]string
		for _, b := range bindings {
			roots, err := repos.Roots.ByFolder(b.LocalFolder)
			if err != nil {
				return err
			}
			if len(roots) == 0 {
				rows = append(rows, []string{b.LocalFolder, b.ServerURL, "-", "-"})
			}
			for _, r := range roots {
				rows = append(rows, []string{b.LocalFolder, b.ServerURL, r.LocalRoot, r.RemoteRoot})
			}
		}
		renderTable([]string{"Folder", "Server", "Local root", "Remote root"}, rows)
		return nil
	},
}

var rootsRefreshCmd = &cobra.Command{
	Use:   "refresh [local-folder]",
	Short: "Follow the roots currently registered on the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		folder, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}

		e, err := newEngine(notify.LogNotifier{})
		if err != nil {
			return err
		}
		return applyChange(
			func() error { return e.UpdateRoots(cmd.Context(), folder) },
			func(c *daemon.Client) error { return c.RefreshRoots(cmd.Context(), folder) },
		)
	},
}

func init() {
	rootsCmd.AddCommand(rootsAddCmd, rootsRemoveCmd, rootsListCmd, rootsRefreshCmd)
	rootCmd.AddCommand(rootsCmd)
}

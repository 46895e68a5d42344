package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"docsync/internal/client/gdrive"
	"docsync/internal/daemon"
	"docsync/internal/engine"
	"docsync/internal/model"
	"docsync/internal/notify"

	"github.com/spf13/cobra"
)

// authorize runs the Drive consent flow on the terminal.
func authorize(cmd *cobra.Command) (string, error) {
	oauth, err := gdrive.LoadOAuthConfig(cfg.Dir)
	if err != nil {
		return "", err
	}
	return gdrive.Authorize(cmd.Context(), oauth, os.Stdin, cmd.OutOrStdout())
}

var authCmd = &cobra.Command{
	Use:   "auth [local-folder]",
	Short: "Sign in again to Google Drive for a binding",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		folder, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}

		b, err := repos.Bindings.Get(folder)
		if err != nil {
			return err
		}
		if b == nil {
			return fmt.Errorf("%w: %s", engine.ErrNoBinding, folder)
		}

		token, err := authorize(cmd)
		if err != nil {
			return err
		}

		e, err := newEngine(notify.LogNotifier{})
		if err != nil {
			return err
		}
		err = applyChange(
			func() error { return e.SetToken(folder, token) },
			func(c *daemon.Client) error { return c.SetToken(cmd.Context(), folder, token) },
		)
		if err != nil {
			return err
		}

		fmt.Println("Authenticated with Google Drive")
		return nil
	},
}

var bindServerURL string

var bindCmd = &cobra.Command{
	Use:   "bind [local-folder]",
	Short: "Bind a local folder to a Google Drive account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		folder, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}

		token, err := authorize(cmd)
		if err != nil {
			return err
		}

		e, err := newEngine(notify.LogNotifier{})
		if err != nil {
			return err
		}

		b := &model.Binding{LocalFolder: folder, ServerURL: bindServerURL, RemoteToken: token}
		if err := e.Bind(b); err != nil {
			return err
		}

		fmt.Printf("bound %s to %s\n", folder, bindServerURL)
		return nil
	},
}

var unbindCmd = &cobra.Command{
	Use:   "unbind [local-folder]",
	Short: "Forget a binding, its roots and their state. Local files are kept",
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
		err = applyChange(
			func() error { return e.Unbind(folder) },
			func(c *daemon.Client) error { return c.Unbind(cmd.Context(), folder) },
		)
		if err != nil {
			return err
		}

		fmt.Printf("unbound %s\n", folder)
		return nil
	},
}

func init() {
	bindCmd.Flags().StringVar(&bindServerURL, "server-url", "https://www.googleapis.com/drive/v3", "remote server URL")
	rootCmd.AddCommand(authCmd, bindCmd, unbindCmd)
}

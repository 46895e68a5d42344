package cmd

import (
	"os"

	"docsync/internal/config"
	"docsync/internal/db"
	"docsync/internal/logger"
	"docsync/internal/repository"

	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

var (
	cfg       *config.Config
	gdb       *gorm.DB
	repos     *repository.Repositories
	debug     bool
	configDir string
)

// clientCmds only talk to a running loop and never open the state store.
var clientCmds = map[string]bool{
	"status": true, "pause": true, "resume": true, "stop": true,
	"history": true, "events": true, "notices": true,
}

var rootCmd = &cobra.Command{
	Use:          "docsync",
	Short:        "Two-way synchronization of local folders with a document server",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "completion" {
			return nil
		}

		var err error
		cfg, err = config.Load(configDir)
		if err != nil {
			return err
		}

		logger.Init(logger.Options{
			Debug:      debug,
			File:       cfg.LogFile,
			MaxSizeMB:  cfg.LogMaxSizeMB,
			MaxBackups: cfg.LogMaxBackups,
			MaxAgeDays: cfg.LogMaxAgeDays,
		})

		if clientCmds[cmd.Name()] {
			return nil
		}

		gdb, err = db.Open(cfg.DBPath)
		if err != nil {
			return err
		}
		repos = repository.New(gdb, cfg.RecentFiles)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		defer logger.Sync()
		if gdb == nil {
			return nil
		}
		return db.Close(gdb)
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug mode")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "Configuration directory (default $DOCSYNC_HOME or ~/.docsync)")
}

package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"docsync/internal/daemon"
	"docsync/internal/logger"
	"docsync/internal/notify"
	"docsync/internal/pipeline"
	"docsync/internal/watch"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const (
	eventBuffer = 200
	watchDelay  = 2 * time.Second
)

var runMaxLoops int

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the synchronization loop with its control API",
	RunE:  runLoop,
}

func runLoop(cmd *cobra.Command, args []string) error {
	defer logger.Sync()

	events := notify.NewRecorder(eventBuffer)
	notifier := notify.Multi{notify.LogNotifier{}, events}

	e, err := newEngine(notifier)
	if err != nil {
		return err
	}
	s := newScheduler(e, notifier, runMaxLoops)

	srv := daemon.NewServer(s, e, repos, events, cfg.DaemonPort)
	srv.Start()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			logger.Log.Warn("failed to stop daemon server", zap.Error(err))
		}
	}()

	if cfg.WatchLocal {
		w, err := watch.New(pipeline.NewIgnore(cfg.IgnoreList), watchDelay, s.Nudge)
		if err != nil {
			return err
		}
		bindings, err := repos.Bindings.GetAll()
		if err != nil {
			return err
		}
		for _, b := range bindings {
			if err := w.Watch(b.LocalFolder); err != nil {
				logger.Log.Warn("failed to watch local folder",
					zap.String("local_folder", b.LocalFolder),
					zap.Error(err))
			}
		}
		w.Start()
		defer w.Stop()
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Log.Info("docsync started",
		zap.Int("port", cfg.DaemonPort),
		zap.String("config_dir", cfg.Dir))

	return s.Run(ctx)
}

func init() {
	runCmd.Flags().IntVar(&runMaxLoops, "max-loops", 0, "stop after that many passes (0 runs until stopped)")
	rootCmd.AddCommand(runCmd)
}

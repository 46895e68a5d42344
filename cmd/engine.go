package cmd

import (
	"docsync/internal/client/gdrive"
	"docsync/internal/engine"
	"docsync/internal/notify"
	"docsync/internal/scheduler"
)

// newEngine wires the Drive adapter into a synchronization engine.
func newEngine(notifier notify.Notifier) (*engine.Engine, error) {
	oauth, err := gdrive.LoadOAuthConfig(cfg.Dir)
	if err != nil {
		return nil, err
	}

	factory := gdrive.NewFactory(oauth, gdrive.FactoryOptions{
		DigestAlgorithm: cfg.DigestAlgorithm,
		IgnoreList:      cfg.IgnoreList,
		MaxChanges:      cfg.MaxChanges,
	})

	return engine.New(engine.Deps{
		Config:   cfg,
		Repos:    repos,
		Factory:  factory,
		Rebinder: &gdrive.Rebinder{OAuth: oauth},
		Notifier: notifier,
	}), nil
}

func newScheduler(e *engine.Engine, notifier notify.Notifier, maxLoops int) *scheduler.Scheduler {
	return scheduler.New(e, scheduler.NewMarkers(cfg), notifier, scheduler.Options{
		Delay:    cfg.Delay,
		MaxLoops: maxLoops,
	})
}

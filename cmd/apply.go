package cmd

import (
	"errors"
	"fmt"

	"docsync/internal/daemon"
	"docsync/internal/scheduler"
)

var errLoopBusy = errors.New("a synchronization pass is running without a control API, retry when it ends")

// applyChange runs direct under the single-instance lock when no loop
// runs, and otherwise hands the change to the running loop so it lands
// between two passes.
func applyChange(direct func() error, viaLoop func(*daemon.Client) error) error {
	release, ok, err := scheduler.NewMarkers(cfg).TryHold()
	if err != nil {
		return err
	}
	if ok {
		defer release()
		return direct()
	}

	err = viaLoop(daemon.NewClient(cfg.DaemonPort))
	if errors.Is(err, daemon.ErrUnreachable) {
		return fmt.Errorf("%w: %w", errLoopBusy, err)
	}
	return err
}

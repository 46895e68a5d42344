// Package scheduler drives synchronization passes in a single loop per
// configuration directory.
package scheduler

import (
	"context"
	"fmt"
	"os"
	"time"

	"docsync/internal/logger"
	"docsync/internal/model"
	"docsync/internal/notify"

	"go.uber.org/zap"
)

// Engine is what the loop drives.
type Engine interface {
	SyncAll(ctx context.Context) (int, error)
	Status() ([]model.BindingStatus, error)
}

type Options struct {
	// Delay is the minimum duration of an idle iteration.
	Delay time.Duration
	// MaxLoops stops the loop after that many passes; 0 means no limit.
	MaxLoops int
}

type Scheduler struct {
	engine   Engine
	markers  *Markers
	pause    *PauseController
	notifier notify.Notifier
	opts     Options
	pid      int
	state    *RunState
	wake     chan struct{}
	// held for the duration of a pass
	pass chan struct{}
}

func New(engine Engine, markers *Markers, notifier notify.Notifier, opts Options) *Scheduler {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	pid := os.Getpid()
	return &Scheduler{
		engine:   engine,
		markers:  markers,
		pause:    NewPauseController(),
		notifier: notifier,
		opts:     opts,
		pid:      pid,
		state:    NewRunState(pid),
		wake:     make(chan struct{}, 1),
		pass:     make(chan struct{}, 1),
	}
}

// Nudge cuts the current pacing delay short. It never blocks.
func (s *Scheduler) Nudge() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Pause() {
	if s.pause.Pause() {
		logger.Log.Info("synchronization paused", zap.Int("pid", s.pid))
		s.notifier.Notify(notify.Event{Type: notify.EventPaused, At: time.Now()})
	}
}

func (s *Scheduler) Resume() {
	if s.pause.Resume() {
		logger.Log.Info("synchronization resumed", zap.Int("pid", s.pid))
		s.notifier.Notify(notify.Event{Type: notify.EventResumed, At: time.Now()})
	}
}

// Stop ends the loop after the pass in progress, if any.
func (s *Scheduler) Stop() {
	s.pause.Stop()
	s.Nudge()
}

// Exclusive runs fn between two passes, then wakes the loop so the change
// is picked up. It gives up when ctx is done before the pass in progress
// ends.
func (s *Scheduler) Exclusive(ctx context.Context, fn func(context.Context) error) error {
	select {
	case s.pass <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("waiting for the pass in progress: %w", ctx.Err())
	}
	err := fn(ctx)
	<-s.pass

	s.Nudge()
	return err
}

func (s *Scheduler) Status() (model.SchedulerStatus, error) {
	st := s.state.Snapshot(s.pause.Paused())
	bindings, err := s.engine.Status()
	if err != nil {
		return st, err
	}
	st.Bindings = bindings
	return st, nil
}

// Run loops until stopped, canceled or MaxLoops is reached. Only failures of
// the state store are returned once the loop has started.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.markers.Acquire(s.pid); err != nil {
		return err
	}
	defer func() {
		if err := s.markers.Release(s.pid); err != nil {
			logger.Log.Warn("failed to release sync lock", zap.Error(err))
		}
	}()

	logger.Log.Info("starting synchronization",
		zap.Int("pid", s.pid),
		zap.Duration("delay", s.opts.Delay),
		zap.Int("max_loops", s.opts.MaxLoops))
	s.notifier.Notify(notify.Event{Type: notify.EventStarted, At: time.Now()})
	defer s.notifier.Notify(notify.Event{Type: notify.EventStopped, At: time.Now()})

	for {
		if s.pause.Wait(ctx) {
			logger.Log.Info("stopping synchronization", zap.Int("pid", s.pid))
			return nil
		}

		stop, err := s.markers.StopRequested(s.pid)
		if err != nil {
			logger.Log.Warn("failed to check stop marker", zap.Error(err))
		}
		if stop {
			logger.Log.Info("stopping synchronization on request", zap.Int("pid", s.pid))
			return nil
		}

		started := time.Now()
		s.pass <- struct{}{}
		n, err := s.engine.SyncAll(ctx)
		<-s.pass
		s.state.RecordPass(n)
		if err != nil {
			logger.Log.Error("synchronization aborted", zap.Error(err))
			return fmt.Errorf("synchronization aborted: %w", err)
		}

		iteration := s.state.iterations()
		logger.Log.Debug("iteration done",
			zap.Int("iteration", iteration),
			zap.Int("synchronized", n),
			zap.Duration("took", time.Since(started)))

		if s.opts.MaxLoops > 0 && iteration >= s.opts.MaxLoops {
			logger.Log.Info("stopping synchronization after max loops",
				zap.Int("loops", iteration))
			return nil
		}

		// a productive pass goes straight into the next one
		if n > 0 {
			continue
		}
		s.sleep(ctx, s.opts.Delay-time.Since(started))
	}
}

func (s *Scheduler) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-s.wake:
	case <-timer.C:
	}
}

// Package watch turns local filesystem activity under the synchronized roots
// into wake-ups for the scheduler.
package watch

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"docsync/internal/logger"
	"docsync/internal/pipeline"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

type Watcher struct {
	fw     *fsnotify.Watcher
	ignore *pipeline.Ignore
	delay  time.Duration
	nudge  func()

	mu     sync.Mutex
	timer  *time.Timer
	doneCh chan struct{}
	wg     sync.WaitGroup
}

// New returns a watcher calling nudge once activity has been quiet for delay.
func New(ignore *pipeline.Ignore, delay time.Duration, nudge func()) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	return &Watcher{
		fw:     fw,
		ignore: ignore,
		delay:  delay,
		nudge:  nudge,
		doneCh: make(chan struct{}),
	}, nil
}

// Watch adds dir and every directory below it.
func (w *Watcher) Watch(dir string) error {
	absDir, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	if _, err := os.Stat(absDir); err != nil {
		return fmt.Errorf("local root not found: %w", err)
	}

	if err := w.addRecursive(absDir); err != nil {
		return err
	}

	logger.Log.Info("watching local root",
		zap.String("dir", absDir))
	return nil
}

func (w *Watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if d.IsDir() {
			if path != dir && w.ignore.Match(d.Name()) {
				return filepath.SkipDir
			}
			if err := w.fw.Add(path); err != nil {
				return fmt.Errorf("failed to watch %s: %w", path, err)
			}
		}

		return nil
	})
}

func (w *Watcher) Start() {
	w.wg.Add(1)
	go w.run()
}

func (w *Watcher) run() {
	defer w.wg.Done()

	for {
		select {
		case <-w.doneCh:
			return

		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if ev.Op == fsnotify.Chmod || w.ignore.Match(filepath.Base(ev.Name)) {
				continue
			}

			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(ev.Name); err != nil {
						logger.Log.Warn("failed to watch new directory",
							zap.String("path", ev.Name),
							zap.Error(err))
					}
				}
			}

			logger.Log.Debug("local activity",
				zap.String("path", ev.Name),
				zap.String("op", ev.Op.String()))
			w.schedule()

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}

			logger.Log.Error("watcher error",
				zap.Error(err))
		}
	}
}

// schedule restarts the quiet period; bursts collapse into one nudge.
func (w *Watcher) schedule() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.delay, w.nudge)
}

func (w *Watcher) Stop() {
	close(w.doneCh)
	_ = w.fw.Close()
	w.wg.Wait()

	w.mu.Lock()
	if w.timer != nil {
		w.timer.Stop()
	}
	w.mu.Unlock()
}

// Package engine runs synchronization passes over the bindings of one
// configuration directory. An Engine is built once per process and handed
// to whatever drives it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"docsync/internal/changes"
	"docsync/internal/client"
	"docsync/internal/config"
	"docsync/internal/executor"
	"docsync/internal/logger"
	"docsync/internal/matcher"
	"docsync/internal/model"
	"docsync/internal/notify"
	"docsync/internal/policy"
	"docsync/internal/repository"
	"docsync/internal/scanner"

	"github.com/spf13/afero"
	"go.uber.org/zap"
)

type Deps struct {
	Config   *config.Config
	Repos    *repository.Repositories
	Factory  client.Factory
	Rebinder client.Rebinder
	Notifier notify.Notifier
	FS       afero.Fs
}

type Engine struct {
	cfg      *config.Config
	repos    *repository.Repositories
	factory  client.Factory
	fs       afero.Fs
	notifier notify.Notifier

	scanner *scanner.Scanner
	exec    *executor.Executor
	changes *changes.Processor
	policy  *policy.Handler
	now     func() time.Time

	mu      sync.RWMutex
	offline map[string]bool
}

func New(d Deps) *Engine {
	notifier := d.Notifier
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	fs := d.FS
	if fs == nil {
		fs = afero.NewOsFs()
	}

	m := matcher.New(d.Repos.Pairs)
	s := scanner.New(d.Repos.Pairs, m)
	e := &Engine{
		cfg:      d.Config,
		repos:    d.Repos,
		factory:  d.Factory,
		fs:       fs,
		notifier: notifier,
		scanner:  s,
		exec:     executor.New(d.Repos.Pairs, d.Repos.History, s, m),
		changes:  changes.New(d.Repos.Pairs, s),
		now:      time.Now,
		offline:  map[string]bool{},
	}
	e.policy = policy.NewHandler(d.Repos, d.Rebinder, notifier, policy.Options{
		Cooldown:    d.Config.ErrorSkipPeriod,
		NagInterval: d.Config.NagInterval,
		Now:         func() time.Time { return e.now() },
	})
	return e
}

func (e *Engine) notify(ev notify.Event) {
	if ev.At.IsZero() {
		ev.At = e.now()
	}
	e.notifier.Notify(ev)
}

func (e *Engine) setOnline(folder string, online bool) {
	e.mu.Lock()
	was := !e.offline[folder]
	e.offline[folder] = !online
	e.mu.Unlock()

	if online && !was {
		e.notify(notify.Event{Type: notify.EventOnline, LocalFolder: folder})
	}
}

func (e *Engine) isOnline(folder string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return !e.offline[folder]
}

// SyncAll runs one pass over every binding that is not suspended. It
// returns the number of pairs synchronized; only state store failures are
// returned as errors.
func (e *Engine) SyncAll(ctx context.Context) (int, error) {
	bindings, err := e.repos.Bindings.GetAll()
	if err != nil {
		return 0, err
	}

	total := 0
	for i := range bindings {
		b := &bindings[i]
		if err := ctx.Err(); err != nil {
			return total, nil
		}

		if b.NeedsSignIn {
			logger.Log.Debug("binding needs sign-in, skipping",
				zap.String("local_folder", b.LocalFolder))
			continue
		}

		switch b.MaintenanceStatus(e.now()) {
		case model.MaintenanceOn:
			logger.Log.Debug("binding in maintenance, skipping",
				zap.String("local_folder", b.LocalFolder),
				zap.Timep("until", b.MaintenanceUntil))
			continue
		case model.MaintenanceOver:
			b.LeaveMaintenance()
			if err := e.repos.Bindings.SaveMaintenance(b); err != nil {
				if e.bindingRemoved(b, err) {
					continue
				}
				return total, err
			}
			logger.Log.Info("maintenance over",
				zap.String("local_folder", b.LocalFolder))
		}

		n, err := e.SyncBinding(ctx, b)
		total += n
		if err != nil {
			return total, err
		}
	}

	return total, nil
}

// SyncBinding runs one pass over one binding: remote changes, local scan,
// checkpoint, then a bounded batch of pending pairs.
func (e *Engine) SyncBinding(ctx context.Context, b *model.Binding) (int, error) {
	remote, err := e.factory.Remote(ctx, b)
	if err != nil {
		return 0, e.bindingFailed(ctx, b, err)
	}

	summary, remoteErr := remote.GetChanges(ctx, b.LastSyncCursor, b.LastRootDefinitions)
	if remoteErr == nil && summary.RootDefinitions != b.LastRootDefinitions {
		remoteErr = e.updateRoots(ctx, b, remote)
	}

	targets, err := e.targets(b, remote)
	if err != nil {
		return 0, err
	}
	if len(targets) == 0 {
		if remoteErr != nil {
			return 0, e.bindingFailed(ctx, b, remoteErr)
		}
		if err := e.checkpoint(b, summary); err != nil && !errors.Is(err, errBindingRemoved) {
			return 0, err
		}
		return 0, nil
	}

	if remoteErr == nil {
		remoteErr = e.syncRemote(ctx, b, targets, summary)
	}
	if remoteErr != nil {
		if err := e.bindingFailed(ctx, b, remoteErr); err != nil {
			return 0, err
		}
	}

	// the local side is scanned even when the remote pass failed
	for _, t := range targets {
		if err := e.scanner.ScanLocal(ctx, t); err != nil {
			if policy.Classify(err) == policy.KindStore {
				return 0, err
			}
			logger.Log.Error("local scan failed",
				zap.String("local_root", t.Root.LocalRoot),
				zap.Error(err))
			return 0, nil
		}
	}
	if remoteErr != nil {
		return 0, nil
	}

	if err := e.checkpoint(b, summary); err != nil {
		if errors.Is(err, errBindingRemoved) {
			return 0, nil
		}
		return 0, err
	}
	e.setOnline(b.LocalFolder, true)

	return e.runPending(ctx, b, targets)
}

var errBindingRemoved = errors.New("binding removed during pass")

// checkpoint records the pass on the stored binding. Only the checkpoint
// columns are written so credentials stored meanwhile survive.
func (e *Engine) checkpoint(b *model.Binding, summary *model.ChangeSummary) error {
	b.Checkpoint(summary.Cursor, summary.RootDefinitions)
	err := e.repos.Bindings.SaveCheckpoint(b)
	if e.bindingRemoved(b, err) {
		return errBindingRemoved
	}
	return err
}

// bindingRemoved reports an update that found the binding gone, and drops
// whatever the pass wrote for it since.
func (e *Engine) bindingRemoved(b *model.Binding, err error) bool {
	if !errors.Is(err, repository.ErrBindingGone) {
		return false
	}

	logger.Log.Info("binding removed during pass",
		zap.String("local_folder", b.LocalFolder))
	if err := e.repos.Bindings.Delete(b.LocalFolder); err != nil {
		logger.Log.Warn("failed to drop state of removed binding",
			zap.String("local_folder", b.LocalFolder),
			zap.Error(err))
	}
	return true
}

func (e *Engine) targets(b *model.Binding, remote client.RemoteClient) ([]scanner.Target, error) {
	roots, err := e.repos.Roots.ByFolder(b.LocalFolder)
	if err != nil {
		return nil, err
	}

	targets := make([]scanner.Target, 0, len(roots))
	for _, root := range roots {
		local, err := e.factory.Local(root)
		if err != nil {
			return nil, fmt.Errorf("failed to open local root %s: %w", root.LocalRoot, err)
		}
		targets = append(targets, scanner.Target{Root: root, Local: local, Remote: remote})
	}
	return targets, nil
}

func (e *Engine) bindingFailed(ctx context.Context, b *model.Binding, err error) error {
	if policy.Classify(err).BindingScoped() {
		e.setOnline(b.LocalFolder, false)
	}
	return e.policy.HandleBinding(ctx, b, err)
}

func (e *Engine) syncRemote(ctx context.Context, b *model.Binding, targets []scanner.Target, summary *model.ChangeSummary) error {
	if !changes.NeedsFullScan(b, summary) {
		return e.changes.Apply(ctx, b, targets, summary)
	}

	logger.Log.Info("full remote scan",
		zap.String("local_folder", b.LocalFolder),
		zap.Bool("first_pass", b.FirstPass()),
		zap.Bool("too_many_changes", summary.TooManyChanges))
	for _, t := range targets {
		if err := e.scanner.ScanRemote(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) runPending(ctx context.Context, b *model.Binding, targets []scanner.Target) (int, error) {
	now := e.now()
	count, more, err := e.repos.Pairs.CountPending(b.LocalFolder, e.cfg.LimitPending, e.cfg.ErrorSkipPeriod, now)
	if err != nil {
		return 0, err
	}
	msg := ""
	if more {
		msg = fmt.Sprintf("more than %d", e.cfg.LimitPending)
	}
	e.notify(notify.Event{Type: notify.EventPending, LocalFolder: b.LocalFolder, Count: count, Message: msg})
	if count == 0 {
		return 0, nil
	}

	pending, err := e.repos.Pairs.ListPending(b.LocalFolder, e.cfg.MaxSyncStep, e.cfg.ErrorSkipPeriod, now)
	if err != nil {
		return 0, err
	}

	byRoot := make(map[string]scanner.Target, len(targets))
	for _, t := range targets {
		byRoot[t.Root.LocalRoot] = t
	}

	synced := 0
	for _, stale := range pending {
		if ctx.Err() != nil {
			break
		}

		// an earlier pair of the batch may have merged or deleted this one
		pair, err := e.repos.Pairs.ByID(stale.ID)
		if err != nil {
			return synced, err
		}
		t, ok := byRoot[stale.LocalRoot]
		if pair == nil || !ok || pair.PairState == model.PairSynchronized {
			continue
		}

		res, err := e.exec.SynchronizeOne(ctx, t, pair)
		if err != nil {
			abort, fatal := e.policy.HandlePair(ctx, b, pair, err)
			if fatal != nil {
				return synced, fatal
			}
			if abort {
				if policy.Classify(err).BindingScoped() {
					e.setOnline(b.LocalFolder, false)
				}
				break
			}
			continue
		}

		synced++
		if res.Action == "" {
			continue
		}
		e.notify(notify.Event{Type: notify.EventItemSynced, LocalFolder: b.LocalFolder, Path: res.Path, Message: string(res.Action)})
		if b.QuotaExceeded && (res.Action == model.ActionUploaded || res.Action == model.ActionCreatedRemote) {
			b.ClearQuota()
			if err := e.repos.Bindings.SaveQuota(b); err != nil {
				if e.bindingRemoved(b, err) {
					return synced, nil
				}
				return synced, err
			}
		}
	}

	return synced, nil
}

// Status is a read-only snapshot of every binding. It may lag behind a
// running pass.
func (e *Engine) Status() ([]model.BindingStatus, error) {
	bindings, err := e.repos.Bindings.GetAll()
	if err != nil {
		return nil, err
	}

	now := e.now()
	out := make([]model.BindingStatus, 0, len(bindings))
	for _, b := range bindings {
		roots, err := e.repos.Roots.ByFolder(b.LocalFolder)
		if err != nil {
			return nil, err
		}
		count, more, err := e.repos.Pairs.CountPending(b.LocalFolder, e.cfg.LimitPending, e.cfg.ErrorSkipPeriod, now)
		if err != nil {
			return nil, err
		}
		stats, err := e.repos.History.GetStats(b.LocalFolder)
		if err != nil {
			return nil, err
		}

		st := model.BindingStatus{
			LocalFolder:   b.LocalFolder,
			ServerURL:     b.ServerURL,
			Online:        e.isOnline(b.LocalFolder),
			Pending:       count,
			PendingMore:   more,
			NeedsSignIn:   b.NeedsSignIn,
			QuotaExceeded: b.QuotaExceeded,
			Maintenance:   b.MaintenanceStatus(now),
			LastSync:      stats.LastSynced,
		}
		for _, r := range roots {
			st.Roots = append(st.Roots, r.LocalRoot)
		}
		out = append(out, st)
	}
	return out, nil
}

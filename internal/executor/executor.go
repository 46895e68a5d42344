// Package executor brings one pair back to the synchronized state by issuing
// the local or remote operations its state calls for.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"docsync/internal/client"
	"docsync/internal/logger"
	"docsync/internal/matcher"
	"docsync/internal/model"
	"docsync/internal/repository"
	"docsync/internal/scanner"
	"docsync/internal/util"

	"go.uber.org/zap"
)

var (
	// ErrParentNotLinked defers a pair whose parent has not reached the
	// other side yet.
	ErrParentNotLinked = errors.New("parent not linked yet")

	ErrUnhandledState = errors.New("unhandled pair state")
)

// ConflictError is a pair edited on both sides with different content.
type ConflictError struct {
	PairID       uint
	Path         string
	RemoteRef    string
	LocalDigest  string
	RemoteDigest string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s (remote %s): local digest %s, remote digest %s",
		e.Path, e.RemoteRef, e.LocalDigest, e.RemoteDigest)
}

// Result describes what one call did. A zero Action means no transfer.
type Result struct {
	Action    model.ItemAction
	Path      string
	RemoteRef string
	Folderish bool
	Deleted   bool
}

type Executor struct {
	pairs   *repository.PairRepository
	history *repository.HistoryRepository
	scanner *scanner.Scanner
	matcher *matcher.Matcher
	now     func() time.Time
}

func New(pairs *repository.PairRepository, history *repository.HistoryRepository, s *scanner.Scanner, m *matcher.Matcher) *Executor {
	return &Executor{pairs: pairs, history: history, scanner: s, matcher: m, now: time.Now}
}

// SynchronizeOne refreshes both sides of pair and runs the handler of the
// resulting state. The pair is persisted before a successful return.
func (e *Executor) SynchronizeOne(ctx context.Context, t scanner.Target, pair *model.Pair) (Result, error) {
	if pair.PairState != model.PairSynchronized {
		gone, err := e.refresh(ctx, t, pair)
		if err != nil || gone {
			return Result{Path: pair.Path, Deleted: gone}, err
		}
	}

	logger.Log.Debug("synchronizing pair",
		zap.Uint("id", pair.ID),
		zap.String("path", pair.Path),
		zap.String("remote_ref", pair.RemoteRef),
		zap.String("pair_state", string(pair.PairState)))

	var (
		res Result
		err error
	)
	switch pair.PairState {
	case model.PairSynchronized:
		return Result{Path: pair.Path}, nil
	case model.PairLocallyModified:
		res, err = e.locallyModified(ctx, t, pair)
	case model.PairRemotelyModified:
		res, err = e.remotelyModified(ctx, t, pair)
	case model.PairLocallyCreated:
		res, err = e.locallyCreated(ctx, t, pair)
	case model.PairRemotelyCreated:
		res, err = e.remotelyCreated(ctx, t, pair)
	case model.PairLocallyDeleted:
		res, err = e.locallyDeleted(ctx, t, pair)
	case model.PairRemotelyDeleted:
		res, err = e.remotelyDeleted(ctx, t, pair)
	case model.PairDeleted:
		res, err = e.deleted(pair)
	case model.PairConflicted:
		res, err = e.conflicted(pair)
	case model.PairUnknown:
		err = fmt.Errorf("%w: local=%s remote=%s", ErrUnhandledState, pair.LocalState, pair.RemoteState)
	default:
		err = fmt.Errorf("%w: %s", ErrUnhandledState, pair.PairState)
	}
	if err != nil {
		return res, err
	}

	if res.Action != "" {
		if err := e.record(t, res); err != nil {
			return res, err
		}
	}
	return res, nil
}

// refresh reads both live sides. It reports gone when the pair lost its last
// identity and was dropped.
func (e *Executor) refresh(ctx context.Context, t scanner.Target, pair *model.Pair) (bool, error) {
	if pair.Path != "" {
		info, err := t.Local.GetInfo(pair.Path)
		if err != nil {
			return false, fmt.Errorf("failed to stat %s: %w", pair.Path, err)
		}
		pair.UpdateLocal(info)
	}

	if pair.RemoteRef != "" {
		info, err := t.Remote.GetInfo(ctx, pair.RemoteRef, false)
		if err != nil {
			return false, err
		}
		if err := pair.UpdateRemote(info); err != nil {
			return false, err
		}
	}

	onlyLocal := pair.RemoteRef == "" && pair.LocalState == model.StateDeleted
	onlyRemote := pair.Path == "" && pair.RemoteState == model.StateDeleted
	if onlyLocal || onlyRemote {
		logger.Log.Debug("pair vanished before synchronization",
			zap.Uint("id", pair.ID),
			zap.String("path", pair.Path),
			zap.String("remote_ref", pair.RemoteRef))
		return true, e.pairs.DeleteWithDescendants(pair)
	}
	return false, nil
}

func (e *Executor) record(t scanner.Target, res Result) error {
	return e.history.Save(&model.History{
		LocalFolder: t.Root.LocalFolder,
		LocalRoot:   t.Root.LocalRoot,
		Path:        res.Path,
		RemoteRef:   res.RemoteRef,
		Action:      res.Action,
		Folderish:   res.Folderish,
		SyncedAt:    e.now(),
	})
}

func (e *Executor) synchronized(pair *model.Pair, action model.ItemAction) (Result, error) {
	pair.MarkSynchronized()
	if err := e.pairs.Save(pair); err != nil {
		return Result{}, err
	}
	return Result{Action: action, Path: pair.Path, RemoteRef: pair.RemoteRef, Folderish: pair.Folderish}, nil
}

func (e *Executor) locallyModified(ctx context.Context, t scanner.Target, pair *model.Pair) (Result, error) {
	if pair.RemoteRef == "" {
		return e.locallyCreated(ctx, t, pair)
	}
	if pair.Folderish || pair.LocalDigest == pair.RemoteDigest {
		return e.synchronized(pair, "")
	}

	content, err := t.Local.GetContent(pair.Path)
	if err != nil {
		return Result{}, err
	}
	defer content.Close()

	if err := t.Remote.UpdateContent(ctx, pair.RemoteRef, content); err != nil {
		return Result{}, err
	}
	if err := e.refreshRemote(ctx, t, pair); err != nil {
		return Result{}, err
	}

	logger.Log.Info("uploaded",
		zap.String("local_root", t.Root.LocalRoot),
		zap.String("path", pair.Path))
	return e.synchronized(pair, model.ActionUploaded)
}

func (e *Executor) refreshRemote(ctx context.Context, t scanner.Target, pair *model.Pair) error {
	info, err := t.Remote.GetInfo(ctx, pair.RemoteRef, true)
	if err != nil {
		return err
	}
	return pair.UpdateRemote(info)
}

func (e *Executor) refreshLocal(t scanner.Target, pair *model.Pair, path string) error {
	info, err := t.Local.GetInfo(path)
	if err != nil {
		return err
	}
	if info == nil {
		return fmt.Errorf("%s vanished after write: %w", path, client.ErrConcurrentAccess)
	}
	// our own write, the digest must be read again whatever the mtime says
	pair.LocalDigest = ""
	pair.UpdateLocal(info)
	return nil
}

func (e *Executor) remotelyModified(ctx context.Context, t scanner.Target, pair *model.Pair) (Result, error) {
	if pair.Path == "" {
		return e.remotelyCreated(ctx, t, pair)
	}

	action := model.ItemAction("")
	moved, err := e.followRemoteLocation(ctx, t, pair)
	if err != nil {
		return Result{}, err
	}
	if moved {
		action = model.ActionMovedLocal
	}

	if !pair.Folderish && pair.LocalDigest != pair.RemoteDigest {
		content, err := t.Remote.GetContent(ctx, pair.RemoteRef)
		if err != nil {
			return Result{}, err
		}
		err = t.Local.UpdateContent(pair.Path, content)
		content.Close()
		if err != nil {
			if errors.Is(err, client.ErrConcurrentAccess) {
				logger.Log.Debug("local file busy, download deferred",
					zap.String("path", pair.Path))
			}
			return Result{}, err
		}
		if err := e.refreshLocal(t, pair, pair.Path); err != nil {
			return Result{}, err
		}

		logger.Log.Info("downloaded",
			zap.String("local_root", t.Root.LocalRoot),
			zap.String("path", pair.Path))
		action = model.ActionDownloaded
	}

	return e.synchronized(pair, action)
}

// followRemoteLocation mirrors a remote parent change or rename onto the
// local entry.
func (e *Executor) followRemoteLocation(ctx context.Context, t scanner.Target, pair *model.Pair) (bool, error) {
	oldPath := pair.Path
	path := pair.Path

	parent, err := e.pairs.ByRemoteRef(t.Root.LocalRoot, pair.RemoteParentRef)
	if err != nil {
		return false, err
	}
	if parent != nil && parent.Path != "" && parent.Path != pair.LocalParentPath && pair.Path != model.RootPath {
		if path, err = t.Local.Move(path, parent.Path); err != nil {
			return false, err
		}
		pair.SetRemoteParentPath(parent)
	}

	if pair.RemoteName != "" && !matcher.NameMatch(model.BaseName(path), pair.RemoteName) {
		if path, err = t.Local.Rename(path, util.SafeFilename(pair.RemoteName)); err != nil {
			return false, err
		}
	}

	if path == oldPath {
		return false, nil
	}

	logger.Log.Info("followed remote move",
		zap.String("local_root", t.Root.LocalRoot),
		zap.String("from", oldPath),
		zap.String("to", path))
	pair.SetLocalPath(path)
	if pair.Folderish {
		if err := e.pairs.Repath(t.Root.LocalRoot, oldPath, path); err != nil {
			return false, err
		}
	}
	return true, e.refreshLocal(t, pair, path)
}

func (e *Executor) locallyCreated(ctx context.Context, t scanner.Target, pair *model.Pair) (Result, error) {
	if res, ok, err := e.detectLocalMove(ctx, t, pair); err != nil || ok {
		return res, err
	}

	if pair.RemoteRef != "" {
		// the old document is gone, recreate it
		pair.ResetRemote()
	}

	parent, err := e.pairs.ByPath(t.Root.LocalRoot, pair.LocalParentPath)
	if err != nil {
		return Result{}, err
	}
	if parent == nil || parent.RemoteRef == "" {
		return Result{}, fmt.Errorf("%w: %s", ErrParentNotLinked, pair.Path)
	}

	var (
		ref    string
		action = model.ActionCreatedRemote
	)
	if pair.Folderish {
		ref, err = t.Remote.MakeFolder(ctx, parent.RemoteRef, pair.LocalName)
	} else {
		var content io.ReadCloser
		if content, err = t.Local.GetContent(pair.Path); err != nil {
			return Result{}, err
		}
		ref, err = t.Remote.MakeFile(ctx, parent.RemoteRef, pair.LocalName, content)
		content.Close()
		action = model.ActionUploaded
	}
	if err != nil {
		return Result{}, err
	}

	pair.RemoteRef = ref
	pair.SetRemoteParent(parent)
	if err := e.refreshRemote(ctx, t, pair); err != nil {
		return Result{}, err
	}

	logger.Log.Info("created remotely",
		zap.String("local_root", t.Root.LocalRoot),
		zap.String("path", pair.Path),
		zap.String("remote_ref", ref))
	return e.synchronized(pair, action)
}

func (e *Executor) remotelyCreated(ctx context.Context, t scanner.Target, pair *model.Pair) (Result, error) {
	if pair.Path != "" {
		pair.ResetLocal()
	}

	parent, err := e.pairs.ByRemoteRef(t.Root.LocalRoot, pair.RemoteParentRef)
	if err != nil {
		return Result{}, err
	}
	if parent == nil || parent.Path == "" {
		return Result{}, fmt.Errorf("%w: %s", ErrParentNotLinked, pair.RemoteRef)
	}

	var (
		path   string
		name   = util.SafeFilename(pair.RemoteName)
		action = model.ActionCreatedLocal
	)
	if pair.Folderish {
		path, err = t.Local.MakeFolder(parent.Path, name)
	} else {
		var content io.ReadCloser
		if content, err = t.Remote.GetContent(ctx, pair.RemoteRef); err != nil {
			return Result{}, err
		}
		path, err = t.Local.MakeFile(parent.Path, name, content)
		content.Close()
		action = model.ActionDownloaded
	}
	if err != nil {
		return Result{}, err
	}

	pair.SetRemoteParentPath(parent)
	if err := e.refreshLocal(t, pair, path); err != nil {
		return Result{}, err
	}

	logger.Log.Info("created locally",
		zap.String("local_root", t.Root.LocalRoot),
		zap.String("path", path),
		zap.String("remote_ref", pair.RemoteRef))
	return e.synchronized(pair, action)
}

func (e *Executor) locallyDeleted(ctx context.Context, t scanner.Target, pair *model.Pair) (Result, error) {
	if res, ok, err := e.detectLocalMove(ctx, t, pair); err != nil || ok {
		return res, err
	}

	if pair.Folderish && pair.RemoteRef != "" {
		edited, err := e.remoteEditsUnder(t, pair)
		if err != nil {
			return Result{}, err
		}
		if edited != nil {
			// the folder comes back so the edit has somewhere to land
			logger.Log.Warn("local folder deleted while its remote content changed, restoring it",
				zap.String("local_root", t.Root.LocalRoot),
				zap.String("path", pair.Path),
				zap.String("edited_ref", edited.RemoteRef))
			return e.remotelyCreated(ctx, t, pair)
		}
	}

	if pair.RemoteRef != "" {
		if err := t.Remote.Delete(ctx, pair.RemoteRef); err != nil && !errors.Is(err, client.ErrNotFound) {
			return Result{}, err
		}
		logger.Log.Info("deleted remotely",
			zap.String("local_root", t.Root.LocalRoot),
			zap.String("path", pair.Path),
			zap.String("remote_ref", pair.RemoteRef))
	}

	if err := e.pairs.DeleteWithDescendants(pair); err != nil {
		return Result{}, err
	}
	return Result{Action: model.ActionDeletedRemote, Path: pair.Path, RemoteRef: pair.RemoteRef, Folderish: pair.Folderish, Deleted: true}, nil
}

// remoteEditsUnder returns a remote descendant of the folder whose content
// changed since the last synchronization, or nil.
func (e *Executor) remoteEditsUnder(t scanner.Target, folder *model.Pair) (*model.Pair, error) {
	queue := []string{folder.RemoteRef}
	for len(queue) > 0 {
		children, err := e.pairs.RemoteChildren(t.Root.LocalRoot, queue[0])
		if err != nil {
			return nil, err
		}
		queue = queue[1:]

		for i := range children {
			child := &children[i]
			switch child.PairState {
			case model.PairRemotelyCreated, model.PairRemotelyModified:
				return child, nil
			}
			if child.Folderish {
				queue = append(queue, child.RemoteRef)
			}
		}
	}
	return nil, nil
}

func (e *Executor) remotelyDeleted(_ context.Context, t scanner.Target, pair *model.Pair) (Result, error) {
	if pair.Path != "" && pair.Path != model.RootPath && t.Local.Exists(pair.Path) {
		if err := t.Local.Delete(pair.Path); err != nil {
			if errors.Is(err, client.ErrConcurrentAccess) {
				logger.Log.Debug("local file busy, deletion deferred",
					zap.String("path", pair.Path))
			}
			return Result{}, err
		}
		logger.Log.Info("deleted locally",
			zap.String("local_root", t.Root.LocalRoot),
			zap.String("path", pair.Path))
	}

	if err := e.pairs.DeleteWithDescendants(pair); err != nil {
		return Result{}, err
	}
	return Result{Action: model.ActionDeletedLocal, Path: pair.Path, RemoteRef: pair.RemoteRef, Folderish: pair.Folderish, Deleted: true}, nil
}

func (e *Executor) deleted(pair *model.Pair) (Result, error) {
	if err := e.pairs.DeleteWithDescendants(pair); err != nil {
		return Result{}, err
	}
	return Result{Path: pair.Path, Folderish: pair.Folderish, Deleted: true}, nil
}

func (e *Executor) conflicted(pair *model.Pair) (Result, error) {
	if pair.Folderish || (pair.LocalDigest != "" && pair.LocalDigest == pair.RemoteDigest) {
		logger.Log.Info("conflict resolved, same content on both sides",
			zap.String("path", pair.Path),
			zap.String("remote_ref", pair.RemoteRef))
		return e.synchronized(pair, model.ActionResolved)
	}

	if err := e.pairs.Save(pair); err != nil {
		return Result{}, err
	}
	return Result{Path: pair.Path}, &ConflictError{
		PairID:       pair.ID,
		Path:         pair.Path,
		RemoteRef:    pair.RemoteRef,
		LocalDigest:  pair.LocalDigest,
		RemoteDigest: pair.RemoteDigest,
	}
}

package executor

import (
	"context"
	"fmt"

	"docsync/internal/logger"
	"docsync/internal/model"
	"docsync/internal/scanner"

	"go.uber.org/zap"
)

// detectLocalMove checks whether pair is one half of a local move or rename.
// The half still linked remotely is the source, the new location the target.
func (e *Executor) detectLocalMove(ctx context.Context, t scanner.Target, pair *model.Pair) (Result, bool, error) {
	candidates, err := e.pairs.MoveCandidates(pair)
	if err != nil || len(candidates) == 0 {
		return Result{}, false, err
	}

	ranked, err := e.matcher.RankMoveCandidates(pair, candidates)
	if err != nil {
		return Result{}, false, err
	}

	for i := range ranked {
		source, target := pair, &ranked[i]
		if pair.PairState == model.PairLocallyCreated {
			source, target = target, pair
		}

		res, ok, err := e.resolveLocalMove(ctx, t, source, target)
		if err != nil || ok {
			return res, ok, err
		}
	}
	return Result{}, false, nil
}

// resolveLocalMove replays the move remotely and merges target into source.
func (e *Executor) resolveLocalMove(ctx context.Context, t scanner.Target, source, target *model.Pair) (Result, bool, error) {
	if t.Local.Exists(source.Path) || !t.Local.Exists(target.Path) {
		return Result{}, false, nil
	}

	info, err := t.Remote.GetInfo(ctx, source.RemoteRef, false)
	if err != nil {
		return Result{}, false, err
	}
	if info == nil {
		logger.Log.Debug("move source is gone remotely",
			zap.String("from", source.Path),
			zap.String("remote_ref", source.RemoteRef))
		return Result{}, false, nil
	}

	parent, err := e.pairs.ByPath(t.Root.LocalRoot, target.LocalParentPath)
	if err != nil {
		return Result{}, false, err
	}
	if parent == nil || parent.RemoteRef == "" {
		return Result{}, false, fmt.Errorf("%w: %s", ErrParentNotLinked, target.Path)
	}

	if info.ParentRef != parent.RemoteRef {
		if err := t.Remote.Move(ctx, source.RemoteRef, parent.RemoteRef); err != nil {
			return Result{}, false, err
		}
	}
	if info.Name != target.LocalName {
		if err := t.Remote.Rename(ctx, source.RemoteRef, target.LocalName); err != nil {
			return Result{}, false, err
		}
	}

	oldPath := source.Path
	if target.Folderish {
		if err := e.pairs.DeleteUnlinkedUnder(t.Root.LocalRoot, target.Path); err != nil {
			return Result{}, false, err
		}
	}
	if err := e.pairs.Delete(target); err != nil {
		return Result{}, false, err
	}

	source.SetLocalPath(target.Path)
	source.LocalDigest = target.LocalDigest
	source.LastLocalUpdated = target.LastLocalUpdated
	source.SetRemoteParent(parent)
	if err := e.refreshRemote(ctx, t, source); err != nil {
		return Result{}, false, err
	}

	res, err := e.synchronized(source, model.ActionMovedRemote)
	if err != nil {
		return Result{}, false, err
	}

	logger.Log.Info("moved remotely",
		zap.String("local_root", t.Root.LocalRoot),
		zap.String("from", oldPath),
		zap.String("to", source.Path),
		zap.String("remote_ref", source.RemoteRef))

	if source.Folderish {
		if err := e.pairs.Repath(t.Root.LocalRoot, oldPath, source.Path); err != nil {
			return Result{}, false, err
		}
		if err := e.scanner.ScanLocalFrom(ctx, t, source); err != nil {
			return Result{}, false, err
		}
		remote, err := t.Remote.GetInfo(ctx, source.RemoteRef, true)
		if err != nil {
			return Result{}, false, err
		}
		if err := e.scanner.ScanRemoteFrom(ctx, t, source, remote, true); err != nil {
			return Result{}, false, err
		}
	}
	return res, true, nil
}

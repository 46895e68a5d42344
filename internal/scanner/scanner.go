package scanner

import (
	"context"
	"fmt"

	"docsync/internal/client"
	"docsync/internal/logger"
	"docsync/internal/matcher"
	"docsync/internal/model"
	"docsync/internal/repository"

	"go.uber.org/zap"
)

// Scanner walks a live tree and aligns the stored pairs with it.
type Scanner struct {
	pairs   *repository.PairRepository
	matcher *matcher.Matcher
}

func New(pairs *repository.PairRepository, m *matcher.Matcher) *Scanner {
	return &Scanner{pairs: pairs, matcher: m}
}

// Target bundles what a scan of one root needs.
type Target struct {
	Root   model.RootBinding
	Local  client.LocalClient
	Remote client.RemoteClient
}

// RootPair returns the pair of the root folder, creating it synchronized on
// first use together with the local folder.
func (s *Scanner) RootPair(ctx context.Context, t Target) (*model.Pair, error) {
	pair, err := s.pairs.ByPath(t.Root.LocalRoot, model.RootPath)
	if err != nil || pair != nil {
		return pair, err
	}

	localInfo, err := t.Local.GetInfo(model.RootPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat local root: %w", err)
	}
	if localInfo == nil {
		return nil, fmt.Errorf("local root %s is missing", t.Root.LocalRoot)
	}

	remoteInfo, err := t.Remote.GetInfo(ctx, t.Root.RemoteRoot, true)
	if err != nil {
		return nil, fmt.Errorf("failed to get remote root: %w", err)
	}

	pair = &model.Pair{
		LocalFolder: t.Root.LocalFolder,
		LocalRoot:   t.Root.LocalRoot,
		LocalState:  model.StateUnknown,
		RemoteState: model.StateUnknown,
		PairState:   model.PairUnknown,
	}
	pair.UpdateLocal(localInfo)
	if err := pair.UpdateRemote(remoteInfo); err != nil {
		return nil, err
	}
	pair.MarkSynchronized()

	logger.Log.Info("root pair created",
		zap.String("local_root", t.Root.LocalRoot),
		zap.String("remote_ref", t.Root.RemoteRoot))

	return pair, s.pairs.Save(pair)
}

// ScanLocal aligns every pair of the root with the local filesystem.
func (s *Scanner) ScanLocal(ctx context.Context, t Target) error {
	root, err := s.RootPair(ctx, t)
	if err != nil {
		return err
	}

	info, err := t.Local.GetInfo(model.RootPath)
	if err != nil {
		return fmt.Errorf("failed to stat local root: %w", err)
	}
	if info == nil {
		logger.Log.Warn("local root disappeared, skipping scan",
			zap.String("local_root", t.Root.LocalRoot))
		return nil
	}

	return s.scanLocal(ctx, t, root, info)
}

// ScanLocalFrom rescans the local subtree of pair.
func (s *Scanner) ScanLocalFrom(ctx context.Context, t Target, pair *model.Pair) error {
	info, err := t.Local.GetInfo(pair.Path)
	if err != nil {
		return fmt.Errorf("failed to stat %s: %w", pair.Path, err)
	}
	if info == nil {
		return s.markLocalDeleted(t.Root.LocalRoot, pair)
	}
	return s.scanLocal(ctx, t, pair, info)
}

func (s *Scanner) scanLocal(ctx context.Context, t Target, pair *model.Pair, info *model.LocalInfo) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	pair.UpdateLocal(info)
	if err := s.pairs.Save(pair); err != nil {
		return err
	}
	if !info.Folderish {
		return nil
	}

	children, err := t.Local.GetChildrenInfo(info.Path)
	if err != nil {
		// the folder can vanish while we walk it
		logger.Log.Debug("failed to list local folder",
			zap.String("path", info.Path),
			zap.Error(err))
		return nil
	}

	live := make(map[string]bool, len(children))
	for _, c := range children {
		live[c.Path] = true
	}

	stored, err := s.pairs.LocalChildren(t.Root.LocalRoot, info.Path)
	if err != nil {
		return err
	}
	for i := range stored {
		if !live[stored[i].Path] {
			if err := s.markLocalDeleted(t.Root.LocalRoot, &stored[i]); err != nil {
				return err
			}
		}
	}

	for i := range children {
		child := &children[i]
		childPair, err := s.pairs.ByPath(t.Root.LocalRoot, child.Path)
		if err != nil {
			return err
		}
		if childPair == nil {
			if childPair, err = s.matcher.MatchLocal(pair, child); err != nil {
				return err
			}
		}
		if childPair == nil {
			childPair = model.NewLocalPair(t.Root.LocalFolder, t.Root.LocalRoot, child)
			logger.Log.Debug("new local entry",
				zap.String("local_root", t.Root.LocalRoot),
				zap.String("path", child.Path))
		}

		if err := s.scanLocal(ctx, t, childPair, child); err != nil {
			return err
		}
	}

	return nil
}

// markLocalDeleted marks pair and its descendants, children first. Pairs
// that never reached the remote side are dropped.
func (s *Scanner) markLocalDeleted(localRoot string, pair *model.Pair) error {
	if pair.Folderish {
		children, err := s.pairs.LocalChildren(localRoot, pair.Path)
		if err != nil {
			return err
		}
		for i := range children {
			if err := s.markLocalDeleted(localRoot, &children[i]); err != nil {
				return err
			}
		}
	}

	if pair.RemoteRef == "" {
		logger.Log.Debug("dropping unlinked local pair",
			zap.String("path", pair.Path))
		return s.pairs.Delete(pair)
	}

	pair.UpdateLocal(nil)
	return s.pairs.Save(pair)
}

// ScanRemote aligns every pair of the root with the remote tree.
func (s *Scanner) ScanRemote(ctx context.Context, t Target) error {
	root, err := s.RootPair(ctx, t)
	if err != nil {
		return err
	}

	info, err := t.Remote.GetInfo(ctx, t.Root.RemoteRoot, false)
	if err != nil {
		return err
	}
	if info == nil {
		logger.Log.Warn("remote root is gone",
			zap.String("local_root", t.Root.LocalRoot),
			zap.String("remote_ref", t.Root.RemoteRoot))
		if err := root.UpdateRemote(nil); err != nil {
			return err
		}
		return s.pairs.Save(root)
	}

	return s.ScanRemoteFrom(ctx, t, root, info, true)
}

// ScanRemoteFrom rescans the subtree of pair. Without force, recursion stops
// at folders whose pair did not change.
func (s *Scanner) ScanRemoteFrom(ctx context.Context, t Target, pair *model.Pair, info *model.RemoteInfo, force bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	before := pair.PairState
	isNew := pair.ID == 0
	if err := pair.UpdateRemote(info); err != nil {
		return err
	}
	if err := s.pairs.Save(pair); err != nil {
		return err
	}
	if !info.Folderish {
		return nil
	}
	if !force && !isNew && before == pair.PairState && pair.PairState == model.PairSynchronized {
		return nil
	}

	children, err := t.Remote.GetChildrenInfo(ctx, info.Ref)
	if err != nil {
		return err
	}

	live := make(map[string]bool, len(children))
	for _, c := range children {
		live[c.Ref] = true
	}

	stored, err := s.pairs.RemoteChildren(t.Root.LocalRoot, info.Ref)
	if err != nil {
		return err
	}
	for i := range stored {
		if !live[stored[i].RemoteRef] {
			if err := s.MarkRemoteDeleted(t.Root.LocalRoot, &stored[i]); err != nil {
				return err
			}
		}
	}

	for i := range children {
		child := &children[i]
		childPair, err := s.pairs.ByRemoteRef(t.Root.LocalRoot, child.Ref)
		if err != nil {
			return err
		}
		if childPair != nil && childPair.RemoteParentRef != child.ParentRef {
			logger.Log.Debug("remote document moved",
				zap.String("remote_ref", child.Ref),
				zap.String("from", childPair.RemoteParentRef),
				zap.String("to", child.ParentRef))
			if err := s.DetachMovedRemote(t.Root.LocalRoot, childPair, child.ParentRef); err != nil {
				return err
			}
			childPair = nil
		}
		if err := s.scanRemoteChild(ctx, t, pair, childPair, child, force); err != nil {
			return err
		}
	}

	return nil
}

// AddRemote links a document that appeared under parent and scans its
// subtree.
func (s *Scanner) AddRemote(ctx context.Context, t Target, parent *model.Pair, info *model.RemoteInfo) error {
	return s.scanRemoteChild(ctx, t, parent, nil, info, true)
}

func (s *Scanner) scanRemoteChild(ctx context.Context, t Target, parent, pair *model.Pair, info *model.RemoteInfo, force bool) error {
	var err error
	if pair == nil {
		if pair, err = s.matcher.MatchRemote(parent, info); err != nil {
			return err
		}
	}
	if pair == nil {
		pair = model.NewRemotePair(parent, info)
		logger.Log.Debug("new remote document",
			zap.String("local_root", t.Root.LocalRoot),
			zap.String("remote_ref", info.Ref),
			zap.String("name", info.Name))
	} else {
		pair.SetRemoteParentPath(parent)
	}

	return s.ScanRemoteFrom(ctx, t, pair, info, force)
}

// MarkRemoteDeleted marks pair and its descendants deleted on the remote
// side. Pairs never seen locally are dropped.
func (s *Scanner) MarkRemoteDeleted(localRoot string, pair *model.Pair) error {
	if pair.Folderish {
		children, err := s.pairs.RemoteChildren(localRoot, pair.RemoteRef)
		if err != nil {
			return err
		}
		for i := range children {
			if err := s.MarkRemoteDeleted(localRoot, &children[i]); err != nil {
				return err
			}
		}
	}

	if pair.Path == "" {
		logger.Log.Debug("dropping unlinked remote pair",
			zap.String("remote_ref", pair.RemoteRef))
		return s.pairs.Delete(pair)
	}

	if err := pair.UpdateRemote(nil); err != nil {
		return err
	}
	return s.pairs.Save(pair)
}

// DetachMovedRemote handles a document that left its known parent: the
// subtree keeps its local side but loses its remote identity, so the old
// location reads as remotely deleted. Only the moved document records
// newParentRef.
func (s *Scanner) DetachMovedRemote(localRoot string, pair *model.Pair, newParentRef string) error {
	if pair.Folderish {
		children, err := s.pairs.RemoteChildren(localRoot, pair.RemoteRef)
		if err != nil {
			return err
		}
		for i := range children {
			if err := s.DetachMovedRemote(localRoot, &children[i], ""); err != nil {
				return err
			}
		}
	}

	if pair.Path == "" {
		return s.pairs.Delete(pair)
	}

	pair.DetachRemote(newParentRef)
	return s.pairs.Save(pair)
}

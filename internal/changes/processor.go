// Package changes applies the remote change feed to the stored pairs
// without rescanning whole trees.
package changes

import (
	"context"
	"sort"

	"docsync/internal/client"
	"docsync/internal/logger"
	"docsync/internal/model"
	"docsync/internal/repository"
	"docsync/internal/scanner"

	"go.uber.org/zap"
)

type Processor struct {
	pairs   *repository.PairRepository
	scanner *scanner.Scanner
}

func New(pairs *repository.PairRepository, s *scanner.Scanner) *Processor {
	return &Processor{pairs: pairs, scanner: s}
}

// NeedsFullScan reports that the feed cannot be applied incrementally: it
// was truncated, nothing was ever checkpointed, or the set of roots changed
// out of band.
func NeedsFullScan(b *model.Binding, summary *model.ChangeSummary) bool {
	return summary.TooManyChanges || b.FirstPass() || summary.RootDefinitions != b.LastRootDefinitions
}

// Apply processes the changes of one binding, most recent first, each
// document once. Targets are the roots of the binding.
func (p *Processor) Apply(ctx context.Context, b *model.Binding, targets []scanner.Target, summary *model.ChangeSummary) error {
	if len(targets) == 0 {
		return nil
	}
	byRoot := make(map[string]scanner.Target, len(targets))
	for _, t := range targets {
		byRoot[t.Root.LocalRoot] = t
	}

	changes := append([]model.Change(nil), summary.Changes...)
	sort.SliceStable(changes, func(i, j int) bool {
		return changes[i].EventTime.After(changes[j].EventTime)
	})

	seen := map[string]bool{}
	applied := 0
	for _, c := range changes {
		if seen[c.Ref] {
			continue
		}
		seen[c.Ref] = true

		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.applyOne(ctx, b, byRoot, targets[0].Remote, c); err != nil {
			return err
		}
		applied++
	}

	logger.Log.Debug("applied remote changes",
		zap.String("local_folder", b.LocalFolder),
		zap.Int("changes", len(summary.Changes)),
		zap.Int("documents", applied))
	return nil
}

func (p *Processor) applyOne(ctx context.Context, b *model.Binding, byRoot map[string]scanner.Target, remote client.RemoteClient, c model.Change) error {
	pair, err := p.pairs.ByRemoteRefInBinding(b.LocalFolder, c.Ref)
	if err != nil {
		return err
	}

	var info *model.RemoteInfo
	if !c.Removed {
		if info, err = remote.GetInfo(ctx, c.Ref, false); err != nil {
			return err
		}
	}

	if pair != nil {
		t, ok := byRoot[pair.LocalRoot]
		if !ok {
			return nil
		}

		switch {
		case info == nil:
			logger.Log.Debug("remote document removed",
				zap.String("remote_ref", c.Ref),
				zap.String("path", pair.Path))
			return p.scanner.MarkRemoteDeleted(pair.LocalRoot, pair)

		case pair.Path != model.RootPath && info.ParentRef != pair.RemoteParentRef:
			logger.Log.Debug("remote document moved",
				zap.String("remote_ref", c.Ref),
				zap.String("from", pair.RemoteParentRef),
				zap.String("to", info.ParentRef))
			if err := p.scanner.DetachMovedRemote(pair.LocalRoot, pair, info.ParentRef); err != nil {
				return err
			}
			return p.addUnderParent(ctx, b, byRoot, info)

		default:
			if err := pair.UpdateRemote(info); err != nil {
				return err
			}
			if err := p.pairs.Save(pair); err != nil {
				return err
			}
			if info.Folderish {
				// children may have arrived with the folder
				return p.scanner.ScanRemoteFrom(ctx, t, pair, info, false)
			}
			return nil
		}
	}

	if info == nil {
		return nil
	}
	return p.addUnderParent(ctx, b, byRoot, info)
}

// addUnderParent links a document to the pair of its remote parent. Documents
// outside every root are ignored.
func (p *Processor) addUnderParent(ctx context.Context, b *model.Binding, byRoot map[string]scanner.Target, info *model.RemoteInfo) error {
	parent, err := p.pairs.ByRemoteRefInBinding(b.LocalFolder, info.ParentRef)
	if err != nil {
		return err
	}
	if parent == nil {
		logger.Log.Debug("remote document outside synchronized roots",
			zap.String("remote_ref", info.Ref),
			zap.String("parent_ref", info.ParentRef))
		return nil
	}

	t, ok := byRoot[parent.LocalRoot]
	if !ok {
		return nil
	}
	return p.scanner.AddRemote(ctx, t, parent, info)
}

package matcher

import (
	"fmt"
	"sort"

	"docsync/internal/logger"
	"docsync/internal/model"
	"docsync/internal/repository"

	"go.uber.org/zap"
)

// Matcher relinks a live item with an unlinked pair from the other side, so
// that moves and renames are not seen as delete plus create.
type Matcher struct {
	pairs *repository.PairRepository
}

func New(pairs *repository.PairRepository) *Matcher {
	return &Matcher{pairs: pairs}
}

// MatchLocal looks for a remote-only pair under parent that the new local
// entry stands for. A match is linked to info but not saved.
func (m *Matcher) MatchLocal(parent *model.Pair, info *model.LocalInfo) (*model.Pair, error) {
	if parent.RemoteRef == "" {
		return nil, nil
	}

	if !info.Folderish {
		if digest, err := info.Digest(); err == nil && digest != "" {
			candidates, err := m.pairs.UnlinkedRemote(parent.LocalRoot, parent.RemoteRef, false, digest)
			if err != nil {
				return nil, err
			}
			if match := FindFirstNameMatch(info.Name(), candidates); match != nil {
				logger.Log.Debug("matched local entry by digest",
					zap.String("path", info.Path),
					zap.String("remote_ref", match.RemoteRef))
				match.UpdateLocal(info)
				return match, nil
			}
		}
	}

	candidates, err := m.pairs.UnlinkedRemote(parent.LocalRoot, parent.RemoteRef, info.Folderish, "")
	if err != nil {
		return nil, err
	}
	if match := FindFirstNameMatch(info.Name(), candidates); match != nil {
		logger.Log.Debug("matched local entry by name",
			zap.String("path", info.Path),
			zap.String("remote_ref", match.RemoteRef))
		match.UpdateLocal(info)
		return match, nil
	}

	return nil, nil
}

// MatchRemote looks for a local-only pair under parent that the new remote
// document stands for. A match is linked to info but not saved.
func (m *Matcher) MatchRemote(parent *model.Pair, info *model.RemoteInfo) (*model.Pair, error) {
	if parent.Path == "" {
		return nil, nil
	}

	link := func(match *model.Pair, how string) (*model.Pair, error) {
		logger.Log.Debug("matched remote document by "+how,
			zap.String("remote_ref", info.Ref),
			zap.String("path", match.Path))
		match.SetRemoteParent(parent)
		if err := match.UpdateRemote(info); err != nil {
			return nil, fmt.Errorf("failed to link %s: %w", info.Ref, err)
		}
		return match, nil
	}

	if !info.Folderish && info.Digest != "" {
		candidates, err := m.pairs.UnlinkedLocal(parent.LocalRoot, parent.Path, false, info.Digest)
		if err != nil {
			return nil, err
		}
		if match := FindFirstNameMatch(info.Name, candidates); match != nil {
			return link(match, "digest")
		}
	}

	candidates, err := m.pairs.UnlinkedLocal(parent.LocalRoot, parent.Path, info.Folderish, "")
	if err != nil {
		return nil, err
	}
	if match := FindFirstNameMatch(info.Name, candidates); match != nil {
		return link(match, "name")
	}

	return nil, nil
}

// RankMoveCandidates orders the other halves of a suspected local move,
// best first. Folders are fingerprinted by their children names and
// candidates sharing none are dropped; then same name beats same parent.
func (m *Matcher) RankMoveCandidates(p *model.Pair, candidates []model.Pair) ([]model.Pair, error) {
	type ranked struct {
		ji         float64
		sameName   bool
		sameParent bool
		pair       model.Pair
	}

	var names []string
	if p.Folderish {
		var err error
		if names, err = m.childrenNames(p); err != nil {
			return nil, err
		}
	}

	var out []ranked
	for _, c := range candidates {
		ji := 1.0
		if p.Folderish {
			childNames, err := m.childrenNames(&c)
			if err != nil {
				return nil, err
			}
			ji = JaccardIndex(names, childNames)
		}
		if ji == 0 {
			continue
		}

		out = append(out, ranked{
			ji:         ji,
			sameName:   p.LocalName == c.LocalName,
			sameParent: p.LocalParentPath == c.LocalParentPath,
			pair:       c,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.ji != b.ji {
			return a.ji > b.ji
		}
		if a.sameName != b.sameName {
			return a.sameName
		}
		return a.sameParent && !b.sameParent
	})

	result := make([]model.Pair, 0, len(out))
	for _, r := range out {
		result = append(result, r.pair)
	}
	return result, nil
}

func (m *Matcher) childrenNames(p *model.Pair) ([]string, error) {
	children, err := m.pairs.LocalChildren(p.LocalRoot, p.Path)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(children))
	for _, c := range children {
		names = append(names, c.LocalName)
	}
	return names, nil
}

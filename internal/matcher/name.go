package matcher

import (
	"docsync/internal/logger"
	"docsync/internal/model"
	"docsync/internal/util"

	"go.uber.org/zap"
)

// NameMatch reports whether a local name could stand for a remote name. The
// extensions must agree; the local base may carry a de-duplication suffix.
func NameMatch(localName, remoteName string) bool {
	localBase, localExt := util.SplitExt(localName)
	remoteBase, remoteExt := util.SplitExt(util.SafeFilename(remoteName))
	if localExt != remoteExt {
		return false
	}

	return util.StripDedupSuffix(localBase) == remoteBase
}

// FindFirstNameMatch returns the first candidate, in the given order, whose
// name on its known side is compatible with name.
func FindFirstNameMatch(name string, candidates []model.Pair) *model.Pair {
	var matches []int
	for i := range candidates {
		c := &candidates[i]
		switch {
		case c.LocalName != "" && c.RemoteName != "":
			logger.Log.Warn("match candidate already linked",
				zap.Uint("id", c.ID),
				zap.String("path", c.Path),
				zap.String("remote_ref", c.RemoteRef))
		case c.LocalName != "":
			if NameMatch(c.LocalName, name) {
				matches = append(matches, i)
			}
		case c.RemoteName != "":
			if NameMatch(name, c.RemoteName) {
				matches = append(matches, i)
			}
		}
	}

	if len(matches) == 0 {
		return nil
	}
	if len(matches) > 1 {
		ids := make([]uint, 0, len(matches))
		for _, i := range matches {
			ids = append(ids, candidates[i].ID)
		}
		logger.Log.Warn("ambiguous name match, keeping the first candidate",
			zap.String("name", name),
			zap.Uints("candidates", ids))
	}

	return &candidates[matches[0]]
}

// JaccardIndex measures the overlap of two name sets. Two empty sets are
// identical.
func JaccardIndex(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}

	set := make(map[string]bool, len(a))
	for _, n := range a {
		set[n] = true
	}

	union := len(set)
	inter := 0
	seen := map[string]bool{}
	for _, n := range b {
		if seen[n] {
			continue
		}
		seen[n] = true
		if set[n] {
			inter++
		} else {
			union++
		}
	}

	return float64(inter) / float64(union)
}

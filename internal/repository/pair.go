package repository

import (
	"strings"
	"time"

	"docsync/internal/model"

	"gorm.io/gorm"
)

const pendingOrder = "path, remote_parent_path, remote_name, remote_ref"

type PairRepository struct {
	db *gorm.DB
}

func NewPairRepository(db *gorm.DB) *PairRepository {
	return &PairRepository{db: db}
}

// Save persists the pair. A pair with neither a path nor a remote ref is
// garbage and gets deleted instead.
func (r *PairRepository) Save(p *model.Pair) error {
	if p.IsGarbage() {
		return r.Delete(p)
	}

	return wrap("save pair", r.db.Save(p).Error)
}

func (r *PairRepository) Delete(p *model.Pair) error {
	if p.ID == 0 {
		return nil
	}

	return wrap("delete pair", r.db.Delete(&model.Pair{}, p.ID).Error)
}

// DeleteWithDescendants removes the pair and every pair below it on either
// side.
func (r *PairRepository) DeleteWithDescendants(p *model.Pair) error {
	return wrap("delete pair subtree", r.db.Transaction(func(tx *gorm.DB) error {
		ids := []uint{}
		queue := []model.Pair{*p}
		seen := map[uint]bool{}

		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			if cur.ID != 0 {
				if seen[cur.ID] {
					continue
				}
				seen[cur.ID] = true
				ids = append(ids, cur.ID)
			}

			var children []model.Pair
			q := tx.Where("local_root = ?", cur.LocalRoot)
			switch {
			case cur.Path != "" && cur.RemoteRef != "":
				q = q.Where("(local_parent_path = ? OR remote_parent_ref = ?)", cur.Path, cur.RemoteRef)
			case cur.Path != "":
				q = q.Where("local_parent_path = ?", cur.Path)
			case cur.RemoteRef != "":
				q = q.Where("remote_parent_ref = ?", cur.RemoteRef)
			default:
				continue
			}
			if err := q.Find(&children).Error; err != nil {
				return err
			}
			queue = append(queue, children...)
		}

		if len(ids) == 0 {
			return nil
		}
		return tx.Delete(&model.Pair{}, ids).Error
	}))
}

func (r *PairRepository) DeleteByRoot(localRoot string) error {
	return wrap("delete root pairs", r.db.Where("local_root = ?", localRoot).Delete(&model.Pair{}).Error)
}

func (r *PairRepository) ByID(id uint) (*model.Pair, error) {
	return r.first(r.db.Where("id = ?", id), "get pair")
}

func (r *PairRepository) ByPath(localRoot, path string) (*model.Pair, error) {
	return r.first(r.db.Where("local_root = ? AND path = ?", localRoot, path), "get pair by path")
}

func (r *PairRepository) ByRemoteRef(localRoot, ref string) (*model.Pair, error) {
	return r.first(r.db.Where("local_root = ? AND remote_ref = ?", localRoot, ref), "get pair by remote ref")
}

// ByRemoteRefInBinding looks a document up across every root of a binding.
func (r *PairRepository) ByRemoteRefInBinding(localFolder, ref string) (*model.Pair, error) {
	return r.first(r.db.Where("local_folder = ? AND remote_ref = ?", localFolder, ref), "get pair by remote ref")
}

func (r *PairRepository) LocalChildren(localRoot, parentPath string) ([]model.Pair, error) {
	var pairs []model.Pair
	err := r.db.
		Where("local_root = ? AND local_parent_path = ? AND path <> ''", localRoot, parentPath).
		Order("id").
		Find(&pairs).Error
	return pairs, wrap("list local children", err)
}

func (r *PairRepository) RemoteChildren(localRoot, parentRef string) ([]model.Pair, error) {
	var pairs []model.Pair
	err := r.db.
		Where("local_root = ? AND remote_parent_ref = ? AND remote_ref <> ''", localRoot, parentRef).
		Order("id").
		Find(&pairs).Error
	return pairs, wrap("list remote children", err)
}

// UnlinkedLocal lists local-only pairs under parentPath. An empty digest
// skips the digest filter.
func (r *PairRepository) UnlinkedLocal(localRoot, parentPath string, folderish bool, digest string) ([]model.Pair, error) {
	q := r.db.Where("local_root = ? AND remote_ref = '' AND path <> '' AND local_parent_path = ? AND folderish = ?",
		localRoot, parentPath, folderish)
	if digest != "" {
		q = q.Where("local_digest = ?", digest)
	}

	var pairs []model.Pair
	err := q.Order("id").Find(&pairs).Error
	return pairs, wrap("list unlinked local pairs", err)
}

// UnlinkedRemote lists remote-only pairs under parentRef.
func (r *PairRepository) UnlinkedRemote(localRoot, parentRef string, folderish bool, digest string) ([]model.Pair, error) {
	q := r.db.Where("local_root = ? AND path = '' AND remote_ref <> '' AND remote_parent_ref = ? AND folderish = ?",
		localRoot, parentRef, folderish)
	if digest != "" {
		q = q.Where("remote_digest = ?", digest)
	}

	var pairs []model.Pair
	err := q.Order("id").Find(&pairs).Error
	return pairs, wrap("list unlinked remote pairs", err)
}

// MoveCandidates lists pairs that could be the other half of a local move
// of p: the new location when p was deleted, the old one when p was created.
func (r *PairRepository) MoveCandidates(p *model.Pair) ([]model.Pair, error) {
	q := r.db.Where("local_root = ? AND id <> ? AND folderish = ? AND path <> ''", p.LocalRoot, p.ID, p.Folderish)

	switch p.PairState {
	case model.PairLocallyDeleted:
		q = q.Where("remote_ref = '' AND local_state IN ?", []model.SideState{model.StateCreated, model.StateUnknown})
	case model.PairLocallyCreated:
		q = q.Where("local_state = ? AND remote_ref <> ''", model.StateDeleted)
	default:
		return nil, nil
	}

	if p.Folderish {
		q = q.Where("(local_name = ? OR local_parent_path = ?)", p.LocalName, p.LocalParentPath)
	} else {
		if p.LocalDigest == "" {
			return nil, nil
		}
		q = q.Where("local_digest = ?", p.LocalDigest)
	}

	var pairs []model.Pair
	err := q.Order("id").Find(&pairs).Error
	return pairs, wrap("list move candidates", err)
}

func (r *PairRepository) pendingQuery(localFolder string, cooldown time.Duration, now time.Time) *gorm.DB {
	q := r.db.Model(&model.Pair{}).Where("local_folder = ? AND pair_state <> ?", localFolder, model.PairSynchronized)
	if cooldown > 0 {
		q = q.Where("(last_sync_error_at IS NULL OR last_sync_error_at <= ?)", now.Add(-cooldown).UTC())
	}
	return q
}

// ListPending returns up to limit unsynchronized pairs ordered parent first.
// Pairs that failed within the cooldown window are skipped.
func (r *PairRepository) ListPending(localFolder string, limit int, cooldown time.Duration, now time.Time) ([]model.Pair, error) {
	var pairs []model.Pair
	q := r.pendingQuery(localFolder, cooldown, now).Order(pendingOrder)
	if limit > 0 {
		q = q.Limit(limit)
	}

	err := q.Find(&pairs).Error
	return pairs, wrap("list pending pairs", err)
}

// CountPending counts pending pairs up to limit. The bool reports that there
// are more than limit.
func (r *PairRepository) CountPending(localFolder string, limit int, cooldown time.Duration, now time.Time) (int, bool, error) {
	var ids []uint
	err := r.pendingQuery(localFolder, cooldown, now).Limit(limit+1).Pluck("id", &ids).Error
	if err != nil {
		return 0, false, wrap("count pending pairs", err)
	}

	if len(ids) > limit {
		return limit, true, nil
	}
	return len(ids), false, nil
}

// MarkError stamps the cooldown timestamp on one pair.
func (r *PairRepository) MarkError(id uint, at time.Time) error {
	return wrap("mark pair error", r.db.Model(&model.Pair{}).Where("id = ?", id).Update("last_sync_error_at", at.UTC()).Error)
}

func (r *PairRepository) ByRoot(localRoot string) ([]model.Pair, error) {
	var pairs []model.Pair
	err := r.db.Where("local_root = ?", localRoot).Order("id").Find(&pairs).Error
	return pairs, wrap("list root pairs", err)
}

func (r *PairRepository) first(q *gorm.DB, op string) (*model.Pair, error) {
	var pairs []model.Pair
	if err := q.Order("id").Limit(1).Find(&pairs).Error; err != nil {
		return nil, wrap(op, err)
	}
	if len(pairs) == 0 {
		return nil, nil
	}

	return &pairs[0], nil
}

// subtree matches the pairs strictly below path on the local side.
func subtree(q *gorm.DB, localRoot, path string) *gorm.DB {
	prefix := strings.TrimSuffix(path, "/") + "/"
	// '0' sorts right after '/'
	return q.Where("local_root = ? AND path >= ? AND path < ?", localRoot, prefix, strings.TrimSuffix(prefix, "/")+"0")
}

// Repath moves every local path below from to the same place below to.
func (r *PairRepository) Repath(localRoot, from, to string) error {
	return wrap("repath pairs", r.db.Transaction(func(tx *gorm.DB) error {
		var pairs []model.Pair
		if err := subtree(tx, localRoot, from).Find(&pairs).Error; err != nil {
			return err
		}
		for i := range pairs {
			p := &pairs[i]
			p.SetLocalPath(to + strings.TrimPrefix(p.Path, from))
			p.LocallyMovedFrom, p.LocallyMovedTo = "", ""
			if err := tx.Save(p).Error; err != nil {
				return err
			}
		}
		return nil
	}))
}

// DeleteUnlinkedUnder drops the local-only pairs below path.
func (r *PairRepository) DeleteUnlinkedUnder(localRoot, path string) error {
	return wrap("delete unlinked subtree", subtree(r.db, localRoot, path).
		Where("remote_ref = ''").
		Delete(&model.Pair{}).Error)
}

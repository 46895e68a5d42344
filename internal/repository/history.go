package repository

import (
	"math"
	"time"

	"docsync/internal/model"

	"gorm.io/gorm"
)

type HistoryRepository struct {
	db   *gorm.DB
	keep int
}

// NewHistoryRepository keeps at most keep entries per binding; zero keeps all.
func NewHistoryRepository(db *gorm.DB, keep int) *HistoryRepository {
	return &HistoryRepository{db: db, keep: keep}
}

func (r *HistoryRepository) Save(h *model.History) error {
	if h.SyncedAt.IsZero() {
		h.SyncedAt = time.Now()
	}

	if err := r.db.Create(h).Error; err != nil {
		return wrap("save history", err)
	}
	if r.keep <= 0 {
		return nil
	}

	var stale []uint
	err := r.db.Model(&model.History{}).
		Where("local_folder = ?", h.LocalFolder).
		Order("synced_at desc, id desc").
		Limit(math.MaxInt32).
		Offset(r.keep).
		Pluck("id", &stale).Error
	if err != nil {
		return wrap("trim history", err)
	}
	if len(stale) == 0 {
		return nil
	}

	return wrap("trim history", r.db.Unscoped().Delete(&model.History{}, stale).Error)
}

type Stats struct {
	Total      int64
	Uploads    int64
	Downloads  int64
	LastSynced *time.Time
}

func (r *HistoryRepository) GetStats(localFolder string) (Stats, error) {
	var stats Stats
	base := func() *gorm.DB {
		return r.db.Model(&model.History{}).Where("local_folder = ?", localFolder)
	}

	if err := base().Count(&stats.Total).Error; err != nil {
		return stats, wrap("count history", err)
	}
	if err := base().Where("action = ?", model.ActionUploaded).Count(&stats.Uploads).Error; err != nil {
		return stats, wrap("count history", err)
	}
	if err := base().Where("action = ?", model.ActionDownloaded).Count(&stats.Downloads).Error; err != nil {
		return stats, wrap("count history", err)
	}

	var last []model.History
	if err := base().Order("synced_at desc").Limit(1).Find(&last).Error; err != nil {
		return stats, wrap("get last history", err)
	}
	if len(last) > 0 {
		stats.LastSynced = new(last[0].SyncedAt)
	}

	return stats, nil
}

func (r *HistoryRepository) GetRecent(limit int) ([]model.History, error) {
	var histories []model.History
	result := r.db.
		Order("synced_at desc, id desc").
		Limit(limit).
		Find(&histories)

	return histories, wrap("list history", result.Error)
}

type NoticeRepository struct {
	db *gorm.DB
}

func NewNoticeRepository(db *gorm.DB) *NoticeRepository {
	return &NoticeRepository{db: db}
}

func (r *NoticeRepository) Save(n *model.Notice) error {
	return wrap("save notice", r.db.Create(n).Error)
}

func (r *NoticeRepository) GetRecent(limit int) ([]model.Notice, error) {
	var notices []model.Notice
	return notices, wrap("list notices", r.db.Order("created_at desc, id desc").Limit(limit).Find(&notices).Error)
}

package model

import (
	"time"

	"gorm.io/gorm"
)

type ItemAction string

const (
	ActionUploaded      ItemAction = "uploaded"
	ActionDownloaded    ItemAction = "downloaded"
	ActionCreatedRemote ItemAction = "created_remote"
	ActionCreatedLocal  ItemAction = "created_local"
	ActionDeletedRemote ItemAction = "deleted_remote"
	ActionDeletedLocal  ItemAction = "deleted_local"
	ActionMovedRemote   ItemAction = "moved_remote"
	ActionMovedLocal    ItemAction = "moved_local"
	ActionResolved      ItemAction = "resolved"
)

// History is a completed per-item synchronization.
type History struct {
	gorm.Model
	LocalFolder string `gorm:"index;not null"`
	LocalRoot   string `gorm:"not null"`
	Path        string `gorm:"not null"`
	RemoteRef   string
	Action      ItemAction `gorm:"not null"`
	Folderish   bool
	SyncedAt    time.Time `gorm:"index;not null"`
}

type NoticeKind string

const (
	NoticeMaintenance NoticeKind = "maintenance"
	NoticeQuota       NoticeKind = "quota"
	NoticeConflict    NoticeKind = "conflict"
	NoticeSignIn      NoticeKind = "sign_in"
)

// Notice is a persisted server-side event shown to the user.
type Notice struct {
	gorm.Model
	LocalFolder string     `gorm:"index;not null"`
	Kind        NoticeKind `gorm:"not null"`
	Message     string
	Until       *time.Time
}

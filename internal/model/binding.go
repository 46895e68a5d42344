package model

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

var (
	ErrCredentials     = errors.New("exactly one of password or token must be set")
	ErrRootOutsideBind = errors.New("local root must be inside the binding folder")
)

type MaintenanceState string

const (
	MaintenanceOff  MaintenanceState = "off"
	MaintenanceOn   MaintenanceState = "on"
	MaintenanceOver MaintenanceState = "over"
)

// Binding associates a remote account with a local folder.
type Binding struct {
	LocalFolder    string `gorm:"primaryKey" json:"local_folder"`
	ServerURL      string `gorm:"not null" json:"server_url"`
	RemoteUser     string `json:"remote_user"`
	RemotePassword string `json:"-"`
	RemoteToken    string `json:"-"`

	LastSyncCursor      string `json:"last_sync_cursor"`
	LastRootDefinitions string `json:"last_root_definitions"`

	NeedsSignIn        bool       `json:"needs_sign_in"`
	QuotaExceeded      bool       `json:"quota_exceeded"`
	MaintenanceUntil   *time.Time `json:"maintenance_until"`
	NextMaintenanceNag *time.Time `json:"next_maintenance_nag"`
	NextQuotaNag       *time.Time `json:"next_quota_nag"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (b *Binding) Validate() error {
	if b.LocalFolder == "" {
		return errors.New("local folder is required")
	}
	if (b.RemotePassword == "") == (b.RemoteToken == "") {
		return ErrCredentials
	}

	return nil
}

// InvalidateCredentials clears the credential but keeps the binding.
func (b *Binding) InvalidateCredentials() {
	b.RemotePassword = ""
	b.RemoteToken = ""
}

func (b *Binding) HasInvalidCredentials() bool {
	return b.RemotePassword == "" && b.RemoteToken == ""
}

// SetToken stores a fresh token credential and clears the sign-in flag.
func (b *Binding) SetToken(token string) {
	b.RemotePassword = ""
	b.RemoteToken = token
	b.NeedsSignIn = false
}

// FirstPass reports that no checkpoint was ever recorded.
func (b *Binding) FirstPass() bool {
	return b.LastSyncCursor == ""
}

func (b *Binding) Checkpoint(cursor, roots string) {
	b.LastSyncCursor = cursor
	b.LastRootDefinitions = roots
}

func (b *Binding) MaintenanceStatus(now time.Time) MaintenanceState {
	switch {
	case b.MaintenanceUntil == nil:
		return MaintenanceOff
	case now.Before(*b.MaintenanceUntil):
		return MaintenanceOn
	default:
		return MaintenanceOver
	}
}

// EnterMaintenance suspends the binding for retryAfter. It returns true when
// the caller should notify, at most once per nag interval.
func (b *Binding) EnterMaintenance(retryAfter, nagInterval time.Duration, now time.Time) bool {
	b.MaintenanceUntil = new(now.Add(retryAfter))
	if b.NextMaintenanceNag != nil && now.Before(*b.NextMaintenanceNag) {
		return false
	}

	b.NextMaintenanceNag = new(now.Add(nagInterval))
	return true
}

func (b *Binding) LeaveMaintenance() {
	b.MaintenanceUntil = nil
	b.NextMaintenanceNag = nil
}

// MarkQuotaExceeded records the condition and returns true when the caller
// should notify.
func (b *Binding) MarkQuotaExceeded(nagInterval time.Duration, now time.Time) bool {
	b.QuotaExceeded = true
	if b.NextQuotaNag != nil && now.Before(*b.NextQuotaNag) {
		return false
	}

	b.NextQuotaNag = new(now.Add(nagInterval))
	return true
}

func (b *Binding) ClearQuota() {
	b.QuotaExceeded = false
	b.NextQuotaNag = nil
}

// RootBinding is one synchronized subtree of a binding.
type RootBinding struct {
	LocalRoot   string `gorm:"primaryKey" json:"local_root"`
	LocalFolder string `gorm:"index;not null" json:"local_folder"`
	RemoteRepo  string `json:"remote_repo"`
	RemoteRoot  string `gorm:"not null" json:"remote_root"`
}

func (r *RootBinding) Validate() error {
	rel, err := filepath.Rel(r.LocalFolder, r.LocalRoot)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrRootOutsideBind, r.LocalRoot)
	}
	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("%w: %s", ErrRootOutsideBind, r.LocalRoot)
	}
	if r.RemoteRoot == "" {
		return errors.New("remote root is required")
	}

	return nil
}

// SyncFolder caches one node of the remote folder hierarchy for root
// selection.
type SyncFolder struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	RemoteID    string `gorm:"index;not null" json:"remote_id"`
	Name        string `json:"name"`
	ParentID    string `gorm:"index" json:"parent_id"`
	Repo        string `json:"repo"`
	LocalFolder string `gorm:"index;not null" json:"local_folder"`
	Checked     bool   `json:"checked"`
	BoundAsRoot bool   `json:"bound_as_root"`
}

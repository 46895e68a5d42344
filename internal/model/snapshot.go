package model

import "time"

type BindingStatus struct {
	LocalFolder   string           `json:"local_folder"`
	ServerURL     string           `json:"server_url"`
	Roots         []string         `json:"roots"`
	Online        bool             `json:"online"`
	Pending       int              `json:"pending"`
	PendingMore   bool             `json:"pending_more"`
	NeedsSignIn   bool             `json:"needs_sign_in"`
	QuotaExceeded bool             `json:"quota_exceeded"`
	Maintenance   MaintenanceState `json:"maintenance"`
	LastSync      *time.Time       `json:"last_sync"`
}

type SchedulerStatus struct {
	Pid        int             `json:"pid"`
	Paused     bool            `json:"paused"`
	StartedAt  time.Time       `json:"started_at"`
	Iterations int             `json:"iterations"`
	Synced     int             `json:"synced"`
	LastPass   *time.Time      `json:"last_pass"`
	Bindings   []BindingStatus `json:"bindings"`
}

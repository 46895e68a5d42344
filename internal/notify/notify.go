// Package notify carries the events a front end shows to the user.
package notify

import (
	"slices"
	"sync"
	"time"

	"docsync/internal/logger"

	"go.uber.org/zap"
)

type EventType string

const (
	EventStarted      EventType = "started"
	EventStopped      EventType = "stopped"
	EventPaused       EventType = "paused"
	EventResumed      EventType = "resumed"
	EventOnline       EventType = "online"
	EventOffline      EventType = "offline"
	EventPending      EventType = "pending"
	EventItemSynced   EventType = "item_synced"
	EventMaintenance  EventType = "maintenance"
	EventQuota        EventType = "quota_exceeded"
	EventConflict     EventType = "conflict"
	EventSignInNeeded EventType = "sign_in_needed"
)

type Event struct {
	Type        EventType `json:"type"`
	LocalFolder string    `json:"local_folder,omitempty"`
	Path        string    `json:"path,omitempty"`
	Message     string    `json:"message,omitempty"`
	Count       int       `json:"count,omitempty"`
	At          time.Time `json:"at"`
}

type Notifier interface {
	Notify(e Event)
}

// LogNotifier writes events to the process log.
type LogNotifier struct{}

func (LogNotifier) Notify(e Event) {
	fields := []zap.Field{zap.String("event", string(e.Type))}
	if e.LocalFolder != "" {
		fields = append(fields, zap.String("local_folder", e.LocalFolder))
	}
	if e.Path != "" {
		fields = append(fields, zap.String("path", e.Path))
	}
	if e.Message != "" {
		fields = append(fields, zap.String("message", e.Message))
	}
	if e.Type == EventPending || e.Count != 0 {
		fields = append(fields, zap.Int("count", e.Count))
	}

	switch e.Type {
	case EventItemSynced, EventPending:
		logger.Log.Debug("notification", fields...)
	case EventConflict, EventQuota, EventSignInNeeded, EventMaintenance:
		logger.Log.Warn("notification", fields...)
	default:
		logger.Log.Info("notification", fields...)
	}
}

// Recorder keeps the last events in memory.
type Recorder struct {
	mu     sync.RWMutex
	events []Event
	max    int
}

func NewRecorder(size int) *Recorder {
	return &Recorder{max: size}
}

func (r *Recorder) Notify(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	if r.max > 0 && len(r.events) > r.max {
		r.events = slices.Delete(r.events, 0, len(r.events)-r.max)
	}
}

// Events returns the recorded events, oldest first.
func (r *Recorder) Events() []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.events)
}

// OfType returns the recorded events of one type.
func (r *Recorder) OfType(t EventType) []Event {
	var out []Event
	for _, e := range r.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// Multi fans an event out to several notifiers.
type Multi []Notifier

func (m Multi) Notify(e Event) {
	if e.At.IsZero() {
		e.At = time.Now()
	}
	for _, n := range m {
		n.Notify(e)
	}
}

package scheduler

import (
	"sync"
	"time"

	"docsync/internal/model"
)

type RunState struct {
	mu         sync.RWMutex
	Pid        int
	StartedAt  time.Time
	Iterations int
	Synced     int
	LastPass   *time.Time
}

func NewRunState(pid int) *RunState {
	return &RunState{
		Pid:       pid,
		StartedAt: time.Now(),
	}
}

func (s *RunState) RecordPass(synced int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.LastPass = new(time.Now())
	s.Iterations++
	s.Synced += synced
}

func (s *RunState) iterations() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Iterations
}

func (s *RunState) Snapshot(paused bool) model.SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return model.SchedulerStatus{
		Pid:        s.Pid,
		Paused:     paused,
		StartedAt:  s.StartedAt,
		Iterations: s.Iterations,
		Synced:     s.Synced,
		LastPass:   s.LastPass,
	}
}

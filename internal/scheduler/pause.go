package scheduler

import (
	"context"
	"sync"
)

// PauseController parks the loop between passes. Stop and context
// cancellation both release a parked loop.
type PauseController struct {
	mu      sync.Mutex
	cond    *sync.Cond
	paused  bool
	stopped bool
}

func NewPauseController() *PauseController {
	p := &PauseController{}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// Pause returns false when already paused.
func (p *PauseController) Pause() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		return false
	}
	p.paused = true
	return true
}

// Resume returns false when not paused.
func (p *PauseController) Resume() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.paused {
		return false
	}
	p.paused = false
	p.cond.Broadcast()
	return true
}

func (p *PauseController) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stopped = true
	p.cond.Broadcast()
}

func (p *PauseController) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

func (p *PauseController) Stopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// Wait blocks while paused. It returns true when the loop must exit.
func (p *PauseController) Wait(ctx context.Context) bool {
	release := context.AfterFunc(ctx, func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		p.cond.Broadcast()
	})
	defer release()

	p.mu.Lock()
	defer p.mu.Unlock()
	for p.paused && !p.stopped && ctx.Err() == nil {
		p.cond.Wait()
	}
	return p.stopped || ctx.Err() != nil
}

package scheduler

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"docsync/internal/config"
	"docsync/internal/model"
	"docsync/internal/notify"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEngine struct {
	mu     sync.Mutex
	count  int
	synced int
	err    error
	onPass func(n int)
	passes chan int
}

func newStubEngine() *stubEngine {
	return &stubEngine{passes: make(chan int, 100)}
}

func (e *stubEngine) SyncAll(_ context.Context) (int, error) {
	e.mu.Lock()
	e.count++
	n := e.count
	hook := e.onPass
	e.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	e.passes <- n
	return e.synced, e.err
}

func (e *stubEngine) Status() ([]model.BindingStatus, error) {
	return []model.BindingStatus{{LocalFolder: "/home/u/Docs", Online: true}}, nil
}

func (e *stubEngine) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.count
}

func newScheduler(t *testing.T, engine Engine, opts Options) (*Scheduler, *Markers, *notify.Recorder) {
	t.Helper()
	cfg := &config.Config{Dir: t.TempDir()}
	markers := NewMarkers(cfg)
	events := notify.NewRecorder(0)
	return New(engine, markers, events, opts), markers, events
}

func runAsync(ctx context.Context, s *Scheduler) <-chan error {
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("scheduler did not stop")
		return nil
	}
}

func waitPass(t *testing.T, e *stubEngine) int {
	t.Helper()
	select {
	case n := <-e.passes:
		return n
	case <-time.After(5 * time.Second):
		t.Fatal("no synchronization pass")
		return 0
	}
}

func TestRunStopsAfterMaxLoops(t *testing.T) {
	engine := newStubEngine()
	s, markers, events := newScheduler(t, engine, Options{Delay: time.Millisecond, MaxLoops: 3})

	require.NoError(t, s.Run(t.Context()))

	assert.Equal(t, 3, engine.Count())
	assert.Len(t, events.OfType(notify.EventStarted), 1)
	assert.Len(t, events.OfType(notify.EventStopped), 1)

	pid, err := markers.RunningPid()
	require.NoError(t, err)
	assert.Zero(t, pid)
	_, err = os.Stat(markers.cfg.PidFile())
	assert.True(t, os.IsNotExist(err))
}

func TestSecondInstanceIsRefused(t *testing.T) {
	engine := newStubEngine()
	s, markers, _ := newScheduler(t, engine, Options{Delay: time.Millisecond, MaxLoops: 1})

	other := NewMarkers(markers.cfg)
	require.NoError(t, other.Acquire(4242))
	t.Cleanup(func() { _ = other.Release(4242) })

	err := s.Run(t.Context())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Contains(t, err.Error(), "pid=4242")
	assert.Zero(t, engine.Count())
}

func TestRunningPidWhileLooping(t *testing.T) {
	engine := newStubEngine()
	s, markers, _ := newScheduler(t, engine, Options{Delay: time.Millisecond, MaxLoops: 1})

	var seen int
	engine.onPass = func(int) {
		seen, _ = markers.RunningPid()
	}
	require.NoError(t, s.Run(t.Context()))
	assert.Equal(t, os.Getpid(), seen)
}

func TestStopMarkerEndsLoop(t *testing.T) {
	engine := newStubEngine()
	s, markers, _ := newScheduler(t, engine, Options{Delay: time.Millisecond})
	engine.onPass = func(n int) {
		if n == 2 {
			assert.NoError(t, markers.RequestStop(os.Getpid()))
		}
	}

	require.NoError(t, waitDone(t, runAsync(t.Context(), s)))

	assert.Equal(t, 2, engine.Count())
	_, err := os.Stat(markers.cfg.StopMarker(os.Getpid()))
	assert.True(t, os.IsNotExist(err), "stop marker is consumed")
}

func TestPauseParksBetweenPasses(t *testing.T) {
	engine := newStubEngine()
	s, _, events := newScheduler(t, engine, Options{Delay: time.Hour})

	s.Pause()
	done := runAsync(t.Context(), s)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, engine.Count(), "a paused loop does not synchronize")

	status, err := s.Status()
	require.NoError(t, err)
	assert.True(t, status.Paused)
	assert.Len(t, status.Bindings, 1)

	s.Resume()
	assert.Equal(t, 1, waitPass(t, engine))

	s.Stop()
	require.NoError(t, waitDone(t, done))
	assert.Len(t, events.OfType(notify.EventPaused), 1)
	assert.Len(t, events.OfType(notify.EventResumed), 1)
}

func TestStopWhilePausedTerminates(t *testing.T) {
	engine := newStubEngine()
	s, _, _ := newScheduler(t, engine, Options{Delay: time.Hour})

	s.Pause()
	done := runAsync(t.Context(), s)
	time.Sleep(20 * time.Millisecond)
	s.Stop()

	require.NoError(t, waitDone(t, done))
	assert.Zero(t, engine.Count())
}

func TestCancelWakesPausedLoop(t *testing.T) {
	engine := newStubEngine()
	s, _, _ := newScheduler(t, engine, Options{Delay: time.Hour})

	ctx, cancel := context.WithCancel(t.Context())
	s.Pause()
	done := runAsync(ctx, s)
	time.Sleep(20 * time.Millisecond)
	cancel()

	require.NoError(t, waitDone(t, done))
}

func TestNudgeCutsDelayShort(t *testing.T) {
	engine := newStubEngine()
	s, _, _ := newScheduler(t, engine, Options{Delay: time.Hour})

	done := runAsync(t.Context(), s)
	assert.Equal(t, 1, waitPass(t, engine))

	s.Nudge()
	assert.Equal(t, 2, waitPass(t, engine))

	s.Stop()
	require.NoError(t, waitDone(t, done))
}

func TestProductivePassSkipsDelay(t *testing.T) {
	engine := newStubEngine()
	engine.synced = 3
	s, _, _ := newScheduler(t, engine, Options{Delay: time.Hour, MaxLoops: 4})

	require.NoError(t, waitDone(t, runAsync(t.Context(), s)))
	assert.Equal(t, 4, engine.Count())

	status, err := s.Status()
	require.NoError(t, err)
	assert.Equal(t, 4, status.Iterations)
	assert.Equal(t, 12, status.Synced)
	assert.NotNil(t, status.LastPass)
}

func TestFatalErrorAbortsLoop(t *testing.T) {
	engine := newStubEngine()
	engine.err = errors.New("database is locked")
	s, markers, _ := newScheduler(t, engine, Options{Delay: time.Millisecond})

	err := waitDone(t, runAsync(t.Context(), s))
	assert.ErrorIs(t, err, engine.err)
	assert.Equal(t, 1, engine.Count())

	pid, err := markers.RunningPid()
	require.NoError(t, err)
	assert.Zero(t, pid, "lock released on abort")
}

func TestPauseControllerWait(t *testing.T) {
	p := NewPauseController()
	assert.False(t, p.Wait(t.Context()), "not paused")

	assert.True(t, p.Pause())
	assert.False(t, p.Pause())

	released := make(chan bool, 1)
	go func() { released <- p.Wait(t.Context()) }()

	time.Sleep(20 * time.Millisecond)
	assert.True(t, p.Resume())
	select {
	case stop := <-released:
		assert.False(t, stop)
	case <-time.After(5 * time.Second):
		t.Fatal("resume did not release the waiter")
	}
	assert.False(t, p.Resume())
}

func TestExclusiveRunsBetweenPasses(t *testing.T) {
	engine := newStubEngine()
	s, _, _ := newScheduler(t, engine, Options{Delay: time.Hour})

	inPass := make(chan struct{})
	release := make(chan struct{})
	engine.onPass = func(n int) {
		if n == 1 {
			close(inPass)
			<-release
		}
	}
	done := runAsync(t.Context(), s)
	<-inPass

	applied := make(chan int, 1)
	go func() {
		_ = s.Exclusive(t.Context(), func(context.Context) error {
			applied <- engine.Count()
			return nil
		})
	}()

	select {
	case <-applied:
		t.Fatal("change applied while a pass was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	assert.Equal(t, 1, <-applied)
	assert.Equal(t, 1, waitPass(t, engine))
	assert.Equal(t, 2, waitPass(t, engine), "the loop is woken after the change")

	s.Stop()
	require.NoError(t, waitDone(t, done))
}

func TestExclusiveGivesUpOnLongPass(t *testing.T) {
	engine := newStubEngine()
	s, _, _ := newScheduler(t, engine, Options{Delay: time.Hour})

	inPass := make(chan struct{})
	release := make(chan struct{})
	engine.onPass = func(n int) {
		if n == 1 {
			close(inPass)
			<-release
		}
	}
	done := runAsync(t.Context(), s)
	<-inPass

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()
	called := false
	err := s.Exclusive(ctx, func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, called)

	close(release)
	s.Stop()
	require.NoError(t, waitDone(t, done))

	wantErr := errors.New("rejected")
	assert.ErrorIs(t, s.Exclusive(t.Context(), func(context.Context) error { return wantErr }), wantErr)
}

func TestTryHoldExcludesLoop(t *testing.T) {
	cfg := &config.Config{Dir: t.TempDir()}
	markers := NewMarkers(cfg)

	release, ok, err := markers.TryHold()
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, NewMarkers(cfg).Acquire(4242), ErrAlreadyRunning)
	_, ok, err = NewMarkers(cfg).TryHold()
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	loop := NewMarkers(cfg)
	require.NoError(t, loop.Acquire(4242))
	t.Cleanup(func() { _ = loop.Release(4242) })

	_, ok, err = markers.TryHold()
	require.NoError(t, err)
	assert.False(t, ok, "a running loop holds the lock")
}

package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"docsync/internal/db"
	"docsync/internal/engine"
	"docsync/internal/model"
	"docsync/internal/notify"
	"docsync/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubController struct {
	mu        sync.Mutex
	paused    bool
	stopped   bool
	exclusive int
}

func (c *stubController) Status() (model.SchedulerStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.SchedulerStatus{
		Pid:        42,
		Paused:     c.paused,
		Iterations: 3,
		Bindings:   []model.BindingStatus{{LocalFolder: "/home/u/Docs", Online: true, Pending: 2}},
	}, nil
}

func (c *stubController) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = true
}

func (c *stubController) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paused = false
}

func (c *stubController) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
}

// Exclusive counts the changes applied between passes.
func (c *stubController) Exclusive(ctx context.Context, fn func(context.Context) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exclusive++
	return fn(ctx)
}

type stubOperator struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (o *stubOperator) record(call string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls = append(o.calls, call)
	return o.err
}

func (o *stubOperator) fail(err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.err = err
}

func (o *stubOperator) recorded() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.calls...)
}

func (o *stubOperator) SetToken(localFolder, token string) error {
	return o.record("token " + localFolder + " " + token)
}

func (o *stubOperator) Unbind(localFolder string) error {
	return o.record("unbind " + localFolder)
}

func (o *stubOperator) BindRoot(_ context.Context, localFolder, remoteRef string) (*model.RootBinding, error) {
	if err := o.record("bind-root " + localFolder + " " + remoteRef); err != nil {
		return nil, err
	}
	return &model.RootBinding{LocalFolder: localFolder, LocalRoot: localFolder + "/Work", RemoteRoot: remoteRef}, nil
}

func (o *stubOperator) UnbindRoot(_ context.Context, localRoot string) error {
	return o.record("unbind-root " + localRoot)
}

func (o *stubOperator) UpdateRoots(_ context.Context, localFolder string) error {
	return o.record("refresh " + localFolder)
}

type fixture struct {
	ctrl   *stubController
	ops    *stubOperator
	repos  *repository.Repositories
	events *notify.Recorder
	client *Client
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	gdb, err := db.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gdb) })

	f := &fixture{
		ctrl:   &stubController{},
		ops:    &stubOperator{},
		repos:  repository.New(gdb, 20),
		events: notify.NewRecorder(10),
	}
	srv := httptest.NewServer(NewServer(f.ctrl, f.ops, f.repos, f.events, 0).Handler())
	t.Cleanup(srv.Close)

	f.client = &Client{BaseURL: srv.URL, HTTP: srv.Client()}
	return f
}

func TestStatusAndPauseResume(t *testing.T) {
	f := newFixture(t)

	status, err := f.client.Status(t.Context())
	require.NoError(t, err)
	assert.Equal(t, 42, status.Pid)
	assert.False(t, status.Paused)
	require.Len(t, status.Bindings, 1)
	assert.Equal(t, 2, status.Bindings[0].Pending)

	require.NoError(t, f.client.Pause(t.Context()))
	status, err = f.client.Status(t.Context())
	require.NoError(t, err)
	assert.True(t, status.Paused)

	require.NoError(t, f.client.Resume(t.Context()))
	status, err = f.client.Status(t.Context())
	require.NoError(t, err)
	assert.False(t, status.Paused)

	require.NoError(t, f.client.Stop(t.Context()))
	f.ctrl.mu.Lock()
	defer f.ctrl.mu.Unlock()
	assert.True(t, f.ctrl.stopped)
}

func TestHistoryLimit(t *testing.T) {
	f := newFixture(t)
	base := time.Now().Add(-time.Hour)
	for i, name := range []string{"a.txt", "b.txt", "c.txt"} {
		require.NoError(t, f.repos.History.Save(&model.History{
			LocalFolder: "/home/u/Docs",
			LocalRoot:   "/home/u/Docs/Work",
			Path:        "/" + name,
			Action:      model.ActionUploaded,
			SyncedAt:    base.Add(time.Duration(i) * time.Minute),
		}))
	}

	histories, err := f.client.History(t.Context(), 2)
	require.NoError(t, err)
	require.Len(t, histories, 2)
	assert.Equal(t, "/c.txt", histories[0].Path)
	assert.Equal(t, "/b.txt", histories[1].Path)

	histories, err = f.client.History(t.Context(), 0)
	require.NoError(t, err)
	assert.Len(t, histories, 3, "invalid n falls back to the default")
}

func TestNotices(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.repos.Notices.Save(&model.Notice{
		LocalFolder: "/home/u/Docs",
		Kind:        model.NoticeQuota,
		Message:     "storage quota exceeded",
	}))

	notices, err := f.client.Notices(t.Context(), 5)
	require.NoError(t, err)
	require.Len(t, notices, 1)
	assert.Equal(t, model.NoticeQuota, notices[0].Kind)
}

func TestEvents(t *testing.T) {
	f := newFixture(t)

	events, err := f.client.Events(t.Context())
	require.NoError(t, err)
	assert.Empty(t, events)

	f.events.Notify(notify.Event{Type: notify.EventStarted})
	f.events.Notify(notify.Event{Type: notify.EventItemSynced, Path: "/a.txt"})

	events, err = f.client.Events(t.Context())
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, notify.EventItemSynced, events[1].Type)
	assert.Equal(t, "/a.txt", events[1].Path)
}

func TestEventsFilteredByType(t *testing.T) {
	f := newFixture(t)
	f.events.Notify(notify.Event{Type: notify.EventStarted})
	f.events.Notify(notify.Event{Type: notify.EventOffline, LocalFolder: "/home/u/Docs"})

	srvURL := f.client.BaseURL + "/events?type=offline"
	resp, err := f.client.HTTP.Get(srvURL)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var events []notify.Event
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&events))
	require.Len(t, events, 1)
	assert.Equal(t, "/home/u/Docs", events[0].LocalFolder)
}

func TestClientWithoutDaemon(t *testing.T) {
	c := NewClient(1)
	_, err := c.Status(t.Context())
	assert.ErrorIs(t, err, ErrUnreachable)
}

func TestChangesRunBetweenPasses(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	require.NoError(t, f.client.SetToken(ctx, "/home/u/Docs", "fresh"))
	root, err := f.client.BindRoot(ctx, "/home/u/Docs", "r1")
	require.NoError(t, err)
	assert.Equal(t, "/home/u/Docs/Work", root.LocalRoot)
	require.NoError(t, f.client.RefreshRoots(ctx, "/home/u/Docs"))
	require.NoError(t, f.client.UnbindRoot(ctx, "/home/u/Docs/My Work"))
	require.NoError(t, f.client.Unbind(ctx, "/home/u/Docs"))

	assert.Equal(t, []string{
		"token /home/u/Docs fresh",
		"bind-root /home/u/Docs r1",
		"refresh /home/u/Docs",
		"unbind-root /home/u/Docs/My Work",
		"unbind /home/u/Docs",
	}, f.ops.recorded())

	f.ctrl.mu.Lock()
	defer f.ctrl.mu.Unlock()
	assert.Equal(t, 5, f.ctrl.exclusive)
}

func TestChangeFailures(t *testing.T) {
	f := newFixture(t)
	ctx := t.Context()

	err := f.client.SetToken(ctx, "/home/u/Docs", "")
	assert.ErrorContains(t, err, "400")
	assert.Empty(t, f.ops.recorded())

	f.ops.fail(fmt.Errorf("%w: /home/u/Other", engine.ErrNoBinding))
	err = f.client.Unbind(ctx, "/home/u/Other")
	assert.ErrorContains(t, err, "404")
	_, err = f.client.BindRoot(ctx, "/home/u/Other", "r1")
	assert.ErrorContains(t, err, "404")

	f.ops.fail(context.DeadlineExceeded)
	err = f.client.RefreshRoots(ctx, "/home/u/Docs")
	assert.ErrorContains(t, err, "503")
}

package executor

import (
	"errors"
	"io"
	"testing"

	"docsync/internal/client"
	"docsync/internal/client/fake"
	"docsync/internal/matcher"
	"docsync/internal/model"
	"docsync/internal/scanner"
	"docsync/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	*testutil.Env
	scanner *scanner.Scanner
	exec    *Executor
	target  scanner.Target
}

func newHarness(t *testing.T) *harness {
	env := testutil.NewEnv(t)
	m := matcher.New(env.Repos.Pairs)
	s := scanner.New(env.Repos.Pairs, m)
	return &harness{
		Env:     env,
		scanner: s,
		exec:    New(env.Repos.Pairs, env.Repos.History, s, m),
		target:  scanner.Target{Root: env.Root, Local: env.Local, Remote: env.Remote},
	}
}

func (h *harness) scan() {
	h.T.Helper()
	require.NoError(h.T, h.scanner.ScanLocal(h.T.Context(), h.target))
	require.NoError(h.T, h.scanner.ScanRemote(h.T.Context(), h.target))
}

// drain runs every pending pair until nothing is left, the way one
// scheduler pass would.
func (h *harness) drain() {
	h.T.Helper()
	for range 10 {
		pending, err := h.Repos.Pairs.ListPending(testutil.Folder, 0, 0, h.exec.now())
		require.NoError(h.T, err)
		if len(pending) == 0 {
			return
		}
		for _, p := range pending {
			fresh, err := h.Repos.Pairs.ByID(p.ID)
			require.NoError(h.T, err)
			if fresh == nil {
				continue
			}
			_, err = h.exec.SynchronizeOne(h.T.Context(), h.target, fresh)
			require.NoError(h.T, err, "pair %s", p.Path)
		}
	}
	h.T.Fatal("pending pairs did not converge")
}

func (h *harness) synchronize(path string) (Result, error) {
	h.T.Helper()
	p := h.Pair(path)
	require.NotNil(h.T, p, path)
	return h.exec.SynchronizeOne(h.T.Context(), h.target, p)
}

func TestLocallyCreatedReachesRemote(t *testing.T) {
	h := newHarness(t)
	h.WriteFile("/a/report.txt", "H1")
	require.NoError(t, h.scanner.ScanLocal(t.Context(), h.target))

	p := h.Pair("/a/report.txt")
	require.NotNil(t, p)
	assert.Equal(t, model.StateCreated, p.LocalState)
	assert.Equal(t, model.StateUnknown, p.RemoteState)
	assert.Equal(t, model.PairLocallyCreated, p.PairState)

	h.drain()

	p = h.Pair("/a/report.txt")
	require.NotNil(t, p)
	assert.Equal(t, model.PairSynchronized, p.PairState)
	require.NotEmpty(t, p.RemoteRef)
	assert.Equal(t, "H1", h.Remote.Content(p.RemoteRef))

	folder, ok := h.Remote.Lookup(h.Root.RemoteRoot, "a")
	require.True(t, ok)
	assert.Equal(t, folder.Ref, p.RemoteParentRef)

	// round trip: the remote scan sees the same digest
	require.NoError(t, h.scanner.ScanRemote(t.Context(), h.target))
	p = h.Pair("/a/report.txt")
	assert.Equal(t, model.PairSynchronized, p.PairState)
	assert.Equal(t, fake.Digest("H1"), p.RemoteDigest)
	assert.Equal(t, p.LocalDigest, p.RemoteDigest)
	assert.Len(t, h.Pairs(), 3)

	recent, err := h.Repos.History.GetRecent(10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, model.ActionUploaded, recent[0].Action)
	assert.Equal(t, "/a/report.txt", recent[0].Path)
}

func TestSynchronizedPairIsIdempotent(t *testing.T) {
	h := newHarness(t)
	h.WriteFile("/x.txt", "x")
	h.scan()
	h.drain()

	before := h.Pair("/x.txt")
	require.Equal(t, model.PairSynchronized, before.PairState)
	h.Remote.ResetCalls()

	for range 2 {
		res, err := h.synchronize("/x.txt")
		require.NoError(t, err)
		assert.Empty(t, res.Action)
	}

	assert.Empty(t, h.Remote.Calls())
	assert.Equal(t, before, h.Pair("/x.txt"))
}

func TestRemotelyCreatedIsDownloaded(t *testing.T) {
	h := newHarness(t)
	plans := h.Remote.AddFolder(h.Root.RemoteRoot, "Plans")
	h.Remote.AddFile(plans, "q1.txt", "quarter one")
	h.Remote.AddFile(plans, "a/b.txt", "slash")

	h.scan()
	h.drain()

	assert.Equal(t, "quarter one", h.ReadFile("/Plans/q1.txt"))
	assert.Equal(t, "slash", h.ReadFile("/Plans/a-b.txt"))
	for _, p := range h.Pairs() {
		assert.Equal(t, model.PairSynchronized, p.PairState, p.Path)
	}
}

func TestLocalRenameIsRemoteRename(t *testing.T) {
	h := newHarness(t)
	h.WriteFile("/docs/old.txt", "same content")
	h.scan()
	h.drain()
	ref := h.Pair("/docs/old.txt").RemoteRef

	h.Remote.ResetCalls()
	h.Rename("/docs/old.txt", "/docs/new.txt")
	require.NoError(t, h.scanner.ScanLocal(t.Context(), h.target))
	h.drain()

	assert.Len(t, h.Remote.CallsOf("Rename"), 1)
	assert.Empty(t, h.Remote.CallsOf("Delete"))
	assert.Empty(t, h.Remote.CallsOf("MakeFile"))
	assert.Empty(t, h.Remote.CallsOf("Move"))

	assert.Nil(t, h.Pair("/docs/old.txt"))
	p := h.Pair("/docs/new.txt")
	require.NotNil(t, p)
	assert.Equal(t, ref, p.RemoteRef)
	assert.Equal(t, model.PairSynchronized, p.PairState)
	assert.Equal(t, "/docs/old.txt", p.LocallyMovedFrom)
	assert.Len(t, h.Pairs(), 3)

	info, ok := h.Remote.Lookup(p.RemoteParentRef, "new.txt")
	require.True(t, ok)
	assert.Equal(t, ref, info.Ref)
}

func TestLocalFolderMoveKeepsChildren(t *testing.T) {
	h := newHarness(t)
	h.WriteFile("/src/a.txt", "a")
	h.WriteFile("/src/b.txt", "b")
	h.Mkdir("/dst")
	h.scan()
	h.drain()
	refs := map[string]string{
		"a.txt": h.Pair("/src/a.txt").RemoteRef,
		"b.txt": h.Pair("/src/b.txt").RemoteRef,
	}

	h.Remote.ResetCalls()
	h.Rename("/src", "/dst/src")
	require.NoError(t, h.scanner.ScanLocal(t.Context(), h.target))
	h.drain()

	assert.Len(t, h.Remote.CallsOf("Move"), 1)
	assert.Empty(t, h.Remote.CallsOf("Delete"))
	assert.Empty(t, h.Remote.CallsOf("MakeFile"))

	for name, ref := range refs {
		p := h.Pair("/dst/src/" + name)
		require.NotNil(t, p, name)
		assert.Equal(t, ref, p.RemoteRef, name)
		assert.Equal(t, model.PairSynchronized, p.PairState, name)
	}
	assert.Nil(t, h.Pair("/src"))
}

func TestConflictResolution(t *testing.T) {
	h := newHarness(t)
	h.WriteFile("/same.txt", "v1")
	h.WriteFile("/diff.txt", "v1")
	h.scan()
	h.drain()

	same := h.Pair("/same.txt").RemoteRef
	diff := h.Pair("/diff.txt").RemoteRef
	h.WriteFile("/same.txt", "v2")
	h.WriteFile("/diff.txt", "local v2")
	h.Remote.SetContent(same, "v2")
	h.Remote.SetContent(diff, "remote v2")
	h.scan()

	require.Equal(t, model.PairConflicted, h.Pair("/same.txt").PairState)
	require.Equal(t, model.PairConflicted, h.Pair("/diff.txt").PairState)

	res, err := h.synchronize("/same.txt")
	require.NoError(t, err)
	assert.Equal(t, model.ActionResolved, res.Action)
	assert.Equal(t, model.PairSynchronized, h.Pair("/same.txt").PairState)

	_, err = h.synchronize("/diff.txt")
	conflict, ok := errors.AsType[*ConflictError](err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, "/diff.txt", conflict.Path)
	assert.Equal(t, model.PairConflicted, h.Pair("/diff.txt").PairState)
	assert.Equal(t, "local v2", h.ReadFile("/diff.txt"))
	assert.Equal(t, "remote v2", h.Remote.Content(diff))
}

func TestParentNotLinked(t *testing.T) {
	h := newHarness(t)
	h.WriteFile("/x/y.txt", "y")
	require.NoError(t, h.scanner.ScanLocal(t.Context(), h.target))

	_, err := h.synchronize("/x/y.txt")
	assert.ErrorIs(t, err, ErrParentNotLinked)
	assert.Equal(t, model.PairLocallyCreated, h.Pair("/x/y.txt").PairState)
	assert.Empty(t, h.Remote.CallsOf("MakeFile"))
}

func TestLocalDeletionDeletesRemote(t *testing.T) {
	h := newHarness(t)
	h.WriteFile("/d/e.txt", "e")
	h.WriteFile("/d/f/g.txt", "g")
	h.scan()
	h.drain()
	ref := h.Pair("/d").RemoteRef

	h.Remote.ResetCalls()
	h.Remove("/d")
	require.NoError(t, h.scanner.ScanLocal(t.Context(), h.target))
	h.drain()

	assert.Equal(t, []string{"Delete " + ref}, h.Remote.CallsOf("Delete"))
	assert.Equal(t, 1, h.Remote.Len(), "only the root folder is left")
	assert.Len(t, h.Pairs(), 1)
}

func TestRemoteDeletionDeletesLocal(t *testing.T) {
	h := newHarness(t)
	h.WriteFile("/d/e.txt", "e")
	h.scan()
	h.drain()

	h.Remote.RemoveDoc(h.Pair("/d").RemoteRef)
	require.NoError(t, h.scanner.ScanRemote(t.Context(), h.target))
	assert.Equal(t, model.PairRemotelyDeleted, h.Pair("/d/e.txt").PairState)
	h.drain()

	assert.False(t, h.Exists("/d"))
	assert.Len(t, h.Pairs(), 1)
}

func TestRemoteRenameFollowedLocally(t *testing.T) {
	h := newHarness(t)
	h.WriteFile("/old.txt", "body")
	h.scan()
	h.drain()

	ref := h.Pair("/old.txt").RemoteRef
	require.NoError(t, h.Remote.Rename(t.Context(), ref, "new.txt"))
	h.Remote.ResetCalls()
	require.NoError(t, h.scanner.ScanRemote(t.Context(), h.target))
	assert.Equal(t, model.PairRemotelyModified, h.Pair("/old.txt").PairState)
	h.drain()

	assert.False(t, h.Exists("/old.txt"))
	assert.Equal(t, "body", h.ReadFile("/new.txt"))
	assert.Empty(t, h.Remote.CallsOf("GetContent"))
	p := h.PairByRef(ref)
	assert.Equal(t, "/new.txt", p.Path)
	assert.Equal(t, model.PairSynchronized, p.PairState)
}

func TestRemoteEditDownloads(t *testing.T) {
	h := newHarness(t)
	h.WriteFile("/n.txt", "one")
	h.scan()
	h.drain()

	h.Remote.SetContent(h.Pair("/n.txt").RemoteRef, "two")
	require.NoError(t, h.scanner.ScanRemote(t.Context(), h.target))
	h.drain()
	assert.Equal(t, "two", h.ReadFile("/n.txt"))
}

type busyLocal struct {
	client.LocalClient
}

func (busyLocal) UpdateContent(string, io.Reader) error {
	return client.ErrConcurrentAccess
}

func TestBusyLocalFileDefersDownload(t *testing.T) {
	h := newHarness(t)
	h.WriteFile("/n.txt", "one")
	h.scan()
	h.drain()

	h.Remote.SetContent(h.Pair("/n.txt").RemoteRef, "two")
	require.NoError(t, h.scanner.ScanRemote(t.Context(), h.target))

	h.target.Local = busyLocal{h.Local}
	_, err := h.synchronize("/n.txt")
	assert.ErrorIs(t, err, client.ErrConcurrentAccess)
	assert.Equal(t, model.PairRemotelyModified, h.Pair("/n.txt").PairState)
	assert.Equal(t, "one", h.ReadFile("/n.txt"))
}

func TestUnclassifiableStateIsReported(t *testing.T) {
	h := newHarness(t)
	h.WriteFile("/u.txt", "u")
	require.NoError(t, h.scanner.ScanLocal(t.Context(), h.target))

	p := h.Pair("/u.txt")
	p.UpdateState(model.StateSynchronized, model.StateCreated)
	require.Equal(t, model.PairUnknown, p.PairState)
	require.NoError(t, h.Repos.Pairs.Save(p))
	h.Remote.ResetCalls()

	_, err := h.exec.SynchronizeOne(t.Context(), h.target, p)
	assert.ErrorIs(t, err, ErrUnhandledState)
	assert.Empty(t, h.Remote.Calls())
}

func TestRemoteFailureLeavesPairPending(t *testing.T) {
	h := newHarness(t)
	h.WriteFile("/f.txt", "f")
	require.NoError(t, h.scanner.ScanLocal(t.Context(), h.target))

	boom := &client.ServerError{Code: 500, Err: errors.New("boom")}
	h.Remote.FailNext("MakeFile", boom)
	_, err := h.synchronize("/f.txt")
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, model.PairLocallyCreated, h.Pair("/f.txt").PairState)

	h.drain()
	assert.Equal(t, model.PairSynchronized, h.Pair("/f.txt").PairState)
}

func TestLocalFolderDeletionKeepsRemoteEdit(t *testing.T) {
	h := newHarness(t)
	h.WriteFile("/f/x.txt", "v1")
	h.WriteFile("/f/y.txt", "y")
	h.scan()
	h.drain()
	folderRef := h.Pair("/f").RemoteRef
	editedRef := h.Pair("/f/x.txt").RemoteRef
	untouchedRef := h.Pair("/f/y.txt").RemoteRef

	h.Remote.SetContent(editedRef, "v2 edited remotely")
	h.Remove("/f")
	h.scan()
	assert.Equal(t, model.PairLocallyDeleted, h.PairByRef(folderRef).PairState)
	assert.Equal(t, model.PairRemotelyCreated, h.PairByRef(editedRef).PairState)

	h.Remote.ResetCalls()
	h.drain()

	assert.Equal(t, "v2 edited remotely", h.Remote.Content(editedRef))
	assert.Equal(t, "v2 edited remotely", h.ReadFile("/f/x.txt"))
	assert.Equal(t, []string{"Delete " + untouchedRef}, h.Remote.CallsOf("Delete"),
		"only the untouched file follows the local deletion")
	assert.False(t, h.Exists("/f/y.txt"))

	folder := h.PairByRef(folderRef)
	require.NotNil(t, folder)
	assert.Equal(t, "/f", folder.Path)
	assert.Equal(t, model.PairSynchronized, folder.PairState)
	assert.Equal(t, model.PairSynchronized, h.PairByRef(editedRef).PairState)
}

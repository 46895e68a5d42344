// Package testutil wires a state store, an in-memory remote and an
// in-memory local filesystem for package tests.
package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"docsync/internal/client"
	"docsync/internal/client/fake"
	"docsync/internal/db"
	"docsync/internal/model"
	"docsync/internal/repository"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"
)

const (
	Folder = "/home/u/Docs"
	Root   = "/home/u/Docs/Work"
)

type Env struct {
	T       *testing.T
	Repos   *repository.Repositories
	Factory *fake.Factory
	Remote  *fake.Remote
	FS      afero.Fs
	Local   client.LocalClient
	Binding *model.Binding
	Root    model.RootBinding

	// ahead of wall time so test writes always look newer than client writes
	clock time.Time
}

func NewEnv(t *testing.T) *Env {
	t.Helper()

	gdb, err := db.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close(gdb) })

	factory := fake.NewFactory()
	remoteRoot := factory.Server.AddFolder(fake.RootRef, "Work")
	require.NoError(t, factory.Server.RegisterAsRoot(t.Context(), remoteRoot))
	factory.Server.ResetCalls()

	e := &Env{
		T:       t,
		Repos:   repository.New(gdb, 20),
		Factory: factory,
		Remote:  factory.Server,
		FS:      factory.FS,
		Binding: &model.Binding{LocalFolder: Folder, ServerURL: "https://drive.example", RemoteToken: "tok"},
		Root:    model.RootBinding{LocalFolder: Folder, LocalRoot: Root, RemoteRepo: "default", RemoteRoot: remoteRoot},
		clock:   time.Now().Add(time.Hour).Truncate(time.Second),
	}
	require.NoError(t, e.FS.MkdirAll(Root, 0755))
	require.NoError(t, e.Repos.Bindings.Save(e.Binding))
	require.NoError(t, e.Repos.Roots.Save(&e.Root))

	e.Local, err = factory.Local(e.Root)
	require.NoError(t, err)
	return e
}

func (e *Env) abs(path string) string {
	return filepath.Join(Root, filepath.FromSlash(path))
}

func (e *Env) tick() time.Time {
	e.clock = e.clock.Add(time.Second)
	return e.clock
}

// WriteFile writes a root-relative file with a strictly increasing mtime.
func (e *Env) WriteFile(path, content string) {
	e.T.Helper()
	abs := e.abs(path)
	require.NoError(e.T, e.FS.MkdirAll(filepath.Dir(abs), 0755))
	require.NoError(e.T, afero.WriteFile(e.FS, abs, []byte(content), 0644))
	now := e.tick()
	require.NoError(e.T, e.FS.Chtimes(abs, now, now))
}

func (e *Env) Mkdir(path string) {
	e.T.Helper()
	require.NoError(e.T, e.FS.MkdirAll(e.abs(path), 0755))
}

func (e *Env) Rename(from, to string) {
	e.T.Helper()
	require.NoError(e.T, e.FS.Rename(e.abs(from), e.abs(to)))
}

func (e *Env) Remove(path string) {
	e.T.Helper()
	require.NoError(e.T, e.FS.RemoveAll(e.abs(path)))
}

func (e *Env) ReadFile(path string) string {
	e.T.Helper()
	data, err := afero.ReadFile(e.FS, e.abs(path))
	require.NoError(e.T, err)
	return string(data)
}

func (e *Env) Exists(path string) bool {
	ok, err := afero.Exists(e.FS, e.abs(path))
	require.NoError(e.T, err)
	return ok
}

// Pair loads the pair stored at a local path.
func (e *Env) Pair(path string) *model.Pair {
	e.T.Helper()
	p, err := e.Repos.Pairs.ByPath(Root, path)
	require.NoError(e.T, err)
	return p
}

// PairByRef loads the pair linked to a remote document.
func (e *Env) PairByRef(ref string) *model.Pair {
	e.T.Helper()
	p, err := e.Repos.Pairs.ByRemoteRef(Root, ref)
	require.NoError(e.T, err)
	return p
}

func (e *Env) Pairs() []model.Pair {
	e.T.Helper()
	pairs, err := e.Repos.Pairs.ByRoot(Root)
	require.NoError(e.T, err)
	return pairs
}

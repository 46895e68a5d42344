package db

import (
	"path/filepath"
	"testing"

	"docsync/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMigrates(t *testing.T) {
	gdb, err := Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = Close(gdb) })

	for _, m := range []any{&model.Binding{}, &model.RootBinding{}, &model.SyncFolder{}, &model.Pair{}, &model.History{}, &model.Notice{}} {
		assert.True(t, gdb.Migrator().HasTable(m))
	}
}

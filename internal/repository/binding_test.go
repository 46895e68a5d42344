package repository

import (
	"testing"
	"time"

	"docsync/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func savedBinding(t *testing.T, repos *Repositories, token string) *model.Binding {
	t.Helper()
	b := &model.Binding{LocalFolder: folder, ServerURL: "https://drive.example", RemoteToken: token}
	require.NoError(t, repos.Bindings.Save(b))
	return b
}

func TestCheckpointKeepsExternalCredentials(t *testing.T) {
	repos := newRepos(t)
	inFlight := savedBinding(t, repos, "old")

	external, err := repos.Bindings.Get(folder)
	require.NoError(t, err)
	external.SetToken("fresh")
	require.NoError(t, repos.Bindings.SaveCredentials(external))

	inFlight.Checkpoint("c1", "r1")
	require.NoError(t, repos.Bindings.SaveCheckpoint(inFlight))
	inFlight.MarkQuotaExceeded(time.Hour, time.Now())
	require.NoError(t, repos.Bindings.SaveQuota(inFlight))
	inFlight.EnterMaintenance(time.Minute, time.Hour, time.Now())
	require.NoError(t, repos.Bindings.SaveMaintenance(inFlight))

	got, err := repos.Bindings.Get(folder)
	require.NoError(t, err)
	assert.Equal(t, "fresh", got.RemoteToken)
	assert.Equal(t, "c1", got.LastSyncCursor)
	assert.Equal(t, "r1", got.LastRootDefinitions)
	assert.True(t, got.QuotaExceeded)
	require.NotNil(t, got.MaintenanceUntil)

	inFlight.LeaveMaintenance()
	require.NoError(t, repos.Bindings.SaveMaintenance(inFlight))
	got, err = repos.Bindings.Get(folder)
	require.NoError(t, err)
	assert.Nil(t, got.MaintenanceUntil)
	assert.Nil(t, got.NextMaintenanceNag)
}

func TestUpdatesOnRemovedBinding(t *testing.T) {
	repos := newRepos(t)
	inFlight := savedBinding(t, repos, "tok")
	require.NoError(t, repos.Bindings.Delete(folder))

	inFlight.Checkpoint("c1", "r1")
	assert.ErrorIs(t, repos.Bindings.SaveCheckpoint(inFlight), ErrBindingGone)
	assert.ErrorIs(t, repos.Bindings.SaveQuota(inFlight), ErrBindingGone)
	assert.ErrorIs(t, repos.Bindings.SaveMaintenance(inFlight), ErrBindingGone)

	got, err := repos.Bindings.Get(folder)
	require.NoError(t, err)
	assert.Nil(t, got, "binding must not come back")
}

func TestReplaceCredentials(t *testing.T) {
	repos := newRepos(t)
	b := savedBinding(t, repos, "tok")
	previous := *b

	b.SetToken("renewed")
	require.NoError(t, repos.Bindings.ReplaceCredentials(&previous, b))

	// a second replacement based on the stale token loses
	stale := *b
	stale.SetToken("other")
	err := repos.Bindings.ReplaceCredentials(&previous, &stale)
	assert.ErrorIs(t, err, ErrCredentialsChanged)

	got, err := repos.Bindings.Get(folder)
	require.NoError(t, err)
	assert.Equal(t, "renewed", got.RemoteToken)

	require.NoError(t, repos.Bindings.Delete(folder))
	assert.ErrorIs(t, repos.Bindings.ReplaceCredentials(b, &stale), ErrBindingGone)
}

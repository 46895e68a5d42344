package util

import (
	"bytes"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeFilename(t *testing.T) {
	assert.Equal(t, "a-b-c", SafeFilename("a/b:c"))
	assert.Equal(t, "Q1- plan-", SafeFilename("Q1| plan?"))
	assert.Equal(t, "plain.txt", SafeFilename("plain.txt"))
}

func TestDedup(t *testing.T) {
	assert.Equal(t, "report (2).txt", DedupName("report.txt", 2))
	assert.Equal(t, ".bashrc (1)", DedupName(".bashrc", 1))
	assert.Equal(t, "report", StripDedupSuffix("report (3)"))
	assert.Equal(t, "report", StripDedupSuffix("report__3"))
	assert.Equal(t, "report (draft)", StripDedupSuffix("report (draft)"))
}

func TestAtomicWrite(t *testing.T) {
	fsys := afero.NewMemMapFs()
	require.NoError(t, AtomicWrite(fsys, "/root/a/b.txt", bytes.NewBufferString("hello")))

	data, err := afero.ReadFile(fsys, "/root/a/b.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	exists, err := afero.Exists(fsys, "/root/a/b.txt"+TempSuffix)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, RemoveIfExists(fsys, "/root/a"))
	require.NoError(t, RemoveIfExists(fsys, "/root/a"))
}

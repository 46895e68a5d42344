package model

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyTable(t *testing.T) {
	tests := []struct {
		local, remote SideState
		want          PairState
	}{
		{StateUnknown, StateUnknown, PairUnknown},
		{StateSynchronized, StateSynchronized, PairSynchronized},
		{StateDeleted, StateDeleted, PairDeleted},
		{StateCreated, StateUnknown, PairLocallyCreated},
		{StateUnknown, StateCreated, PairRemotelyCreated},
		{StateModified, StateSynchronized, PairLocallyModified},
		{StateModified, StateUnknown, PairLocallyModified},
		{StateSynchronized, StateModified, PairRemotelyModified},
		{StateUnknown, StateModified, PairRemotelyModified},
		{StateDeleted, StateSynchronized, PairLocallyDeleted},
		{StateSynchronized, StateDeleted, PairRemotelyDeleted},
		{StateCreated, StateDeleted, PairLocallyCreated},
		{StateDeleted, StateCreated, PairRemotelyCreated},
		{StateModified, StateDeleted, PairLocallyCreated},
		{StateDeleted, StateModified, PairRemotelyCreated},
		{StateModified, StateModified, PairConflicted},
		{StateCreated, StateCreated, PairConflicted},
	}

	for _, tt := range tests {
		t.Run(string(tt.local)+"/"+string(tt.remote), func(t *testing.T) {
			got, err := Classify(tt.local, tt.remote)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestClassifyIsTotal(t *testing.T) {
	listed := 0
	for _, l := range SideStates {
		for _, r := range SideStates {
			got, err := Classify(l, r)
			again, _ := Classify(l, r)
			assert.Equal(t, got, again, "classify must be pure")

			if err != nil {
				assert.True(t, errors.Is(err, ErrUnclassifiable))
				assert.Equal(t, PairUnknown, got)
				continue
			}
			listed++
		}
	}

	assert.Equal(t, len(pairStates), listed)
}

func TestClassifyFlagsUnlisted(t *testing.T) {
	got, err := Classify(StateSynchronized, StateCreated)
	assert.ErrorIs(t, err, ErrUnclassifiable)
	assert.Equal(t, PairUnknown, got)
}

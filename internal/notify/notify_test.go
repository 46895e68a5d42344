package notify

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderKeepsLastEvents(t *testing.T) {
	r := NewRecorder(2)
	r.Notify(Event{Type: EventStarted})
	r.Notify(Event{Type: EventPending, Count: 3})
	r.Notify(Event{Type: EventConflict, Path: "/a.txt"})

	events := r.Events()
	require.Len(t, events, 2)
	assert.Equal(t, EventPending, events[0].Type)
	assert.Equal(t, EventConflict, events[1].Type)
	assert.False(t, events[1].At.IsZero())
	assert.Len(t, r.OfType(EventConflict), 1)
}

func TestMultiFansOut(t *testing.T) {
	a, b := NewRecorder(0), NewRecorder(0)
	Multi{a, b, LogNotifier{}}.Notify(Event{Type: EventOffline, LocalFolder: "/docs"})

	assert.Len(t, a.Events(), 1)
	assert.Len(t, b.Events(), 1)
	assert.Equal(t, a.Events()[0].At, b.Events()[0].At)
}

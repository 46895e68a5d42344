package model

import (
	"errors"
	"fmt"
)

// SideState is what one side of a pair observed since the last convergence.
type SideState string

const (
	StateUnknown      SideState = "unknown"
	StateCreated      SideState = "created"
	StateModified     SideState = "modified"
	StateSynchronized SideState = "synchronized"
	StateDeleted      SideState = "deleted"
)

var SideStates = []SideState{
	StateUnknown, StateCreated, StateModified, StateSynchronized, StateDeleted,
}

type PairState string

const (
	PairUnknown          PairState = "unknown"
	PairSynchronized     PairState = "synchronized"
	PairLocallyCreated   PairState = "locally_created"
	PairRemotelyCreated  PairState = "remotely_created"
	PairLocallyModified  PairState = "locally_modified"
	PairRemotelyModified PairState = "remotely_modified"
	PairLocallyDeleted   PairState = "locally_deleted"
	PairRemotelyDeleted  PairState = "remotely_deleted"
	PairDeleted          PairState = "deleted"
	PairConflicted       PairState = "conflicted"
)

var ErrUnclassifiable = errors.New("unclassifiable pair state")

type sides struct {
	local, remote SideState
}

var pairStates = map[sides]PairState{
	{StateUnknown, StateUnknown}:           PairUnknown,
	{StateSynchronized, StateSynchronized}: PairSynchronized,
	{StateDeleted, StateDeleted}:           PairDeleted,

	{StateCreated, StateUnknown}:       PairLocallyCreated,
	{StateUnknown, StateCreated}:       PairRemotelyCreated,
	{StateModified, StateSynchronized}: PairLocallyModified,
	{StateModified, StateUnknown}:      PairLocallyModified,
	{StateSynchronized, StateModified}: PairRemotelyModified,
	{StateUnknown, StateModified}:      PairRemotelyModified,
	{StateDeleted, StateSynchronized}:  PairLocallyDeleted,
	{StateSynchronized, StateDeleted}:  PairRemotelyDeleted,

	// a delete racing an edit keeps the content
	{StateCreated, StateDeleted}:  PairLocallyCreated,
	{StateDeleted, StateCreated}:  PairRemotelyCreated,
	{StateModified, StateDeleted}: PairLocallyCreated,
	{StateDeleted, StateModified}: PairRemotelyCreated,

	{StateModified, StateModified}: PairConflicted,
	{StateCreated, StateCreated}:   PairConflicted,
}

// Classify maps the two side states to a pair state. Combinations outside the
// table return PairUnknown together with ErrUnclassifiable.
func Classify(local, remote SideState) (PairState, error) {
	if state, ok := pairStates[sides{local, remote}]; ok {
		return state, nil
	}

	return PairUnknown, fmt.Errorf("%w: local=%s remote=%s", ErrUnclassifiable, local, remote)
}

// Pending reports whether pairs in this state still need work.
func (s PairState) Pending() bool {
	return s != PairSynchronized
}

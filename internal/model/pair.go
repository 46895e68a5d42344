package model

import (
	"errors"
	"fmt"
	"time"

	"docsync/internal/logger"

	"go.uber.org/zap"
)

var ErrRemoteRefMismatch = errors.New("remote ref mismatch")

// Pair is the joint state of one local entry and its remote counterpart.
// Empty Path or RemoteRef means that side is not linked. Parents are
// referenced by key (LocalParentPath, RemoteParentRef), never by pointer.
type Pair struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	LocalFolder string `gorm:"index;not null" json:"local_folder"`
	LocalRoot   string `gorm:"index;not null" json:"local_root"`

	Path            string `gorm:"index" json:"path"`
	LocalParentPath string `gorm:"index" json:"local_parent_path"`
	LocalName       string `json:"local_name"`

	RemoteRef        string `gorm:"index" json:"remote_ref"`
	RemoteParentRef  string `gorm:"index" json:"remote_parent_ref"`
	RemoteParentPath string `json:"remote_parent_path"`
	RemoteName       string `json:"remote_name"`

	LocalDigest  string `json:"local_digest"`
	RemoteDigest string `json:"remote_digest"`

	LastLocalUpdated  *time.Time `json:"last_local_updated"`
	LastRemoteUpdated *time.Time `json:"last_remote_updated"`

	LocalState  SideState `gorm:"not null" json:"local_state"`
	RemoteState SideState `gorm:"not null" json:"remote_state"`
	PairState   PairState `gorm:"index;not null" json:"pair_state"`
	Folderish   bool      `json:"folderish"`

	LocallyMovedFrom  string `json:"locally_moved_from,omitempty"`
	LocallyMovedTo    string `json:"locally_moved_to,omitempty"`
	RemotelyMovedFrom string `json:"remotely_moved_from,omitempty"`
	RemotelyMovedTo   string `json:"remotely_moved_to,omitempty"`

	LastSyncErrorAt *time.Time `gorm:"index" json:"last_sync_error_at"`
}

// NewLocalPair builds an unlinked pair for a freshly discovered local entry.
func NewLocalPair(folder, root string, info *LocalInfo) *Pair {
	p := &Pair{
		LocalFolder: folder,
		LocalRoot:   root,
		LocalState:  StateUnknown,
		RemoteState: StateUnknown,
		PairState:   PairUnknown,
	}
	p.UpdateLocal(info)
	return p
}

// NewRemotePair builds an unlinked pair for a freshly discovered remote
// document under parent.
func NewRemotePair(parent *Pair, info *RemoteInfo) *Pair {
	p := &Pair{
		LocalFolder: parent.LocalFolder,
		LocalRoot:   parent.LocalRoot,
		LocalState:  StateUnknown,
		RemoteState: StateUnknown,
		PairState:   PairUnknown,
	}
	p.SetRemoteParent(parent)
	if err := p.UpdateRemote(info); err != nil {
		// unreachable: a new pair has no remote ref yet
		logger.Log.Error("failed to initialize remote pair", zap.Error(err))
	}
	return p
}

func (p *Pair) Linked() bool {
	return p.Path != "" && p.RemoteRef != ""
}

// IsGarbage reports a record with no identity on either side.
func (p *Pair) IsGarbage() bool {
	return p.Path == "" && p.RemoteRef == ""
}

func (p *Pair) Name() string {
	if p.LocalName != "" {
		return p.LocalName
	}
	return p.RemoteName
}

// UpdateState sets the given side states (empty leaves a side unchanged) and
// recomputes PairState. This is the only place PairState is assigned.
func (p *Pair) UpdateState(local, remote SideState) {
	if local != "" {
		p.LocalState = local
	}
	if remote != "" {
		p.RemoteState = remote
	}

	if p.Linked() && fresh(p.LocalState) && fresh(p.RemoteState) {
		if p.Folderish || (p.LocalDigest != "" && p.LocalDigest == p.RemoteDigest) {
			p.LocalState = StateSynchronized
			p.RemoteState = StateSynchronized
		}
	}

	state, err := Classify(p.LocalState, p.RemoteState)
	if err != nil {
		logger.Log.Warn("pair state fallback to unknown",
			zap.Uint("id", p.ID),
			zap.String("path", p.Path),
			zap.String("remote_ref", p.RemoteRef),
			zap.Error(err))
	}
	p.PairState = state
}

// fresh side states come from a first observation and carry no history.
func fresh(s SideState) bool {
	return s == StateUnknown || s == StateCreated
}

// UpdateLocal refreshes the local side from a live entry. A nil info means
// the entry is gone.
func (p *Pair) UpdateLocal(info *LocalInfo) {
	if info == nil {
		p.LocalState = StateDeleted
		p.UpdateState("", "")
		return
	}

	if p.Path != info.Path {
		p.setPath(info.Path)
	}

	firstSeen := p.LastLocalUpdated == nil
	reappeared := p.LocalState == StateDeleted
	changed := firstSeen || info.ModTime.After(*p.LastLocalUpdated)
	p.Folderish = info.Folderish

	switch {
	case info.Folderish:
		if changed {
			p.LastLocalUpdated = new(info.ModTime)
		}
		if reappeared {
			p.LocalState = StateSynchronized
		}

	case changed || p.LocalDigest == "" || reappeared:
		digest, err := info.Digest()
		if err != nil {
			// retried on the next scan since the timestamp is not advanced
			logger.Log.Debug("postponing local digest",
				zap.String("local_root", p.LocalRoot),
				zap.String("path", info.Path),
				zap.Error(err))
			break
		}

		if p.LocalDigest != "" && digest != p.LocalDigest {
			switch p.LocalState {
			case StateSynchronized, StateUnknown, StateDeleted:
				p.LocalState = StateModified
			}
		} else if reappeared {
			p.LocalState = StateSynchronized
		}

		p.LocalDigest = digest
		p.LastLocalUpdated = new(info.ModTime)
	}

	if firstSeen && p.LocalState == StateUnknown {
		p.LocalState = StateCreated
	}

	p.UpdateState("", "")
}

// UpdateRemote refreshes the remote side from a live document. A nil info
// means the document is gone.
func (p *Pair) UpdateRemote(info *RemoteInfo) error {
	if info == nil {
		p.RemoteState = StateDeleted
		p.UpdateState("", "")
		return nil
	}

	if p.RemoteRef == "" {
		p.RemoteRef = info.Ref
	} else if p.RemoteRef != info.Ref {
		return fmt.Errorf("%w: pair %d has %s, got %s", ErrRemoteRefMismatch, p.ID, p.RemoteRef, info.Ref)
	}

	firstSeen := p.LastRemoteUpdated == nil
	parentChanged := !firstSeen && p.RemoteParentRef != info.ParentRef

	switch {
	case firstSeen:
		p.LastRemoteUpdated = new(info.ModTime)
		if p.RemoteState == StateUnknown {
			p.RemoteState = StateCreated
		}

	case info.ModTime.After(*p.LastRemoteUpdated) || parentChanged || p.RemoteState == StateDeleted:
		p.LastRemoteUpdated = new(info.ModTime)
		switch p.RemoteState {
		case StateSynchronized, StateUnknown, StateDeleted:
			p.RemoteState = StateModified
		}
	}

	p.RemoteDigest = info.Digest
	p.RemoteName = info.Name
	p.RemoteParentRef = info.ParentRef
	p.Folderish = info.Folderish

	p.UpdateState("", "")
	return nil
}

// SetRemoteParent records the parent linkage used for pending ordering.
func (p *Pair) SetRemoteParent(parent *Pair) {
	p.RemoteParentRef = parent.RemoteRef
	p.RemoteParentPath = parent.RemoteParentPath + "/" + parent.RemoteRef
}

// SetRemoteParentPath refreshes the ordering key only.
func (p *Pair) SetRemoteParentPath(parent *Pair) {
	p.RemoteParentPath = parent.RemoteParentPath + "/" + parent.RemoteRef
}

// DetachRemote forgets the remote identity after the document moved
// elsewhere. The remote side reads as deleted from now on. An empty movedTo
// detaches a document carried along by a moved ancestor; no move is
// recorded on it.
func (p *Pair) DetachRemote(movedTo string) {
	if movedTo != "" {
		p.RemotelyMovedFrom = p.RemoteParentRef
		p.RemotelyMovedTo = movedTo
	}
	p.RemoteRef = ""
	p.RemoteParentRef = ""
	p.RemoteDigest = ""
	p.LastRemoteUpdated = nil
	p.RemoteState = StateDeleted
	p.UpdateState("", "")
}

// ResetRemote drops a dead remote identity so the local side can be
// recreated remotely.
func (p *Pair) ResetRemote() {
	p.RemoteRef = ""
	p.RemoteDigest = ""
	p.LastRemoteUpdated = nil
	p.RemoteState = StateUnknown
}

// ResetLocal drops a local location that no longer exists so the remote
// side can be recreated locally.
func (p *Pair) ResetLocal() {
	p.Path = ""
	p.LocalParentPath = ""
	p.LocalName = ""
	p.LocalDigest = ""
	p.LastLocalUpdated = nil
	p.LocalState = StateUnknown
}

func (p *Pair) MarkSynchronized() {
	p.LastSyncErrorAt = nil
	p.UpdateState(StateSynchronized, StateSynchronized)
}

func (p *Pair) setPath(path string) {
	if p.Path != "" && p.Path != path {
		p.LocallyMovedFrom = p.Path
		p.LocallyMovedTo = path
	}
	p.Path = path
	p.LocalName = BaseName(path)
	p.LocalParentPath = ParentPath(path)
}

// SetLocalPath relinks the pair to a new local location.
func (p *Pair) SetLocalPath(path string) {
	p.setPath(path)
}

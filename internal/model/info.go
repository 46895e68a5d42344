package model

import (
	"errors"
	"time"
)

var ErrDigestUnavailable = errors.New("digest unavailable")

// LocalInfo describes a live local entry. Path is relative to the local root.
type LocalInfo struct {
	Path      string
	Folderish bool
	ModTime   time.Time
	Size      int64

	// DigestFunc is evaluated lazily since hashing reads the whole file.
	DigestFunc func() (string, error)
}

func (i *LocalInfo) Name() string {
	return BaseName(i.Path)
}

func (i *LocalInfo) Digest() (string, error) {
	if i.Folderish {
		return "", nil
	}
	if i.DigestFunc == nil {
		return "", ErrDigestUnavailable
	}

	return i.DigestFunc()
}

// RemoteInfo describes a live remote document.
type RemoteInfo struct {
	Ref       string
	ParentRef string
	Name      string
	Folderish bool
	Digest    string
	ModTime   time.Time
	Repo      string
}

// ChangeSummary is one page of the remote change feed.
type ChangeSummary struct {
	Changes         []Change
	Cursor          string
	RootDefinitions string
	TooManyChanges  bool
}

type Change struct {
	Ref       string
	EventTime time.Time
	EventID   string
	Removed   bool
}

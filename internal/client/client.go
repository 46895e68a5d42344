package client

import (
	"context"
	"io"

	"docsync/internal/model"
)

// LocalClient operates on one local root. Paths are root-relative and
// slash-separated. A missing entry is reported as nil info, not an error.
type LocalClient interface {
	GetInfo(path string) (*model.LocalInfo, error)
	GetChildrenInfo(path string) ([]model.LocalInfo, error)
	GetContent(path string) (io.ReadCloser, error)
	UpdateContent(path string, r io.Reader) error
	MakeFile(parentPath, name string, r io.Reader) (string, error)
	MakeFolder(parentPath, name string) (string, error)
	Delete(path string) error
	Move(path, newParentPath string) (string, error)
	Rename(path, newName string) (string, error)
	Exists(path string) bool
}

// RemoteClient operates on one remote account.
type RemoteClient interface {
	GetInfo(ctx context.Context, ref string, raiseIfMissing bool) (*model.RemoteInfo, error)
	GetChildrenInfo(ctx context.Context, ref string) ([]model.RemoteInfo, error)
	GetContent(ctx context.Context, ref string) (io.ReadCloser, error)
	UpdateContent(ctx context.Context, ref string, r io.Reader) error
	MakeFile(ctx context.Context, parentRef, name string, r io.Reader) (string, error)
	MakeFolder(ctx context.Context, parentRef, name string) (string, error)
	Delete(ctx context.Context, ref string) error
	Move(ctx context.Context, ref, newParentRef string) error
	Rename(ctx context.Context, ref, newName string) error
	GetChanges(ctx context.Context, cursor string, roots string) (*model.ChangeSummary, error)
	GetRoots(ctx context.Context) ([]model.RemoteInfo, error)
	RegisterAsRoot(ctx context.Context, ref string) error
	UnregisterAsRoot(ctx context.Context, ref string) error
}

// Rebinder re-acquires credentials for a binding whose credential was
// rejected. It returns the new token.
type Rebinder interface {
	Rebind(ctx context.Context, b *model.Binding) (string, error)
}

// Factory builds capability clients for bindings and roots.
type Factory interface {
	Local(root model.RootBinding) (LocalClient, error)
	Remote(ctx context.Context, b *model.Binding) (RemoteClient, error)
}

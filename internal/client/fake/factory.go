package fake

import (
	"context"

	"docsync/internal/client"
	"docsync/internal/client/local"
	"docsync/internal/model"

	"github.com/spf13/afero"
)

// Factory hands out one shared Remote and afero-backed local clients.
type Factory struct {
	Server *Remote
	FS     afero.Fs
}

func NewFactory() *Factory {
	return &Factory{Server: NewRemote(), FS: afero.NewMemMapFs()}
}

func (f *Factory) Local(root model.RootBinding) (client.LocalClient, error) {
	return local.New(f.FS, root.LocalRoot, local.WithDigestAlgorithm("md5")), nil
}

func (f *Factory) Remote(_ context.Context, _ *model.Binding) (client.RemoteClient, error) {
	return f.Server, nil
}

// Rebinder hands out a fixed token or fails with Err.
type Rebinder struct {
	Token string
	Err   error
	Calls int
}

func (r *Rebinder) Rebind(_ context.Context, _ *model.Binding) (string, error) {
	r.Calls++
	if r.Err != nil {
		return "", r.Err
	}
	return r.Token, nil
}

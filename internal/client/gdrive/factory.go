package gdrive

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"docsync/internal/client"
	"docsync/internal/client/local"
	"docsync/internal/model"

	"github.com/spf13/afero"
	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

type FactoryOptions struct {
	FS              afero.Fs
	DigestAlgorithm string
	IgnoreList      []string
	MaxChanges      int
}

// Factory builds Drive remote clients from binding tokens and afero local
// clients for roots. Remote clients are reused while the token is unchanged.
type Factory struct {
	oauth *oauth2.Config
	opts  FactoryOptions

	mu      sync.Mutex
	remotes map[string]cachedRemote
}

type cachedRemote struct {
	token  string
	remote *Remote
}

func NewFactory(oauth *oauth2.Config, opts FactoryOptions) *Factory {
	if opts.FS == nil {
		opts.FS = afero.NewOsFs()
	}
	return &Factory{oauth: oauth, opts: opts, remotes: map[string]cachedRemote{}}
}

func (f *Factory) Local(root model.RootBinding) (client.LocalClient, error) {
	return local.New(f.opts.FS, root.LocalRoot,
		local.WithDigestAlgorithm(f.opts.DigestAlgorithm),
		local.WithIgnoreList(f.opts.IgnoreList)), nil
}

func (f *Factory) Remote(ctx context.Context, b *model.Binding) (client.RemoteClient, error) {
	if b.RemoteToken == "" {
		return nil, &client.AuthError{Code: http.StatusUnauthorized, Err: errors.New("no oauth token on binding")}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.remotes[b.LocalFolder]; ok && c.token == b.RemoteToken {
		return c.remote, nil
	}

	token, err := DecodeToken(b.RemoteToken)
	if err != nil {
		return nil, &client.AuthError{Code: http.StatusUnauthorized, Err: err}
	}

	// the service outlives the pass that created it
	base := context.WithoutCancel(ctx)
	svc, err := drive.NewService(base, option.WithTokenSource(f.oauth.TokenSource(base, token)))
	if err != nil {
		return nil, fmt.Errorf("failed to create gdrive service: %w", err)
	}

	remote := NewRemote(svc, f.opts.MaxChanges)
	f.remotes[b.LocalFolder] = cachedRemote{token: b.RemoteToken, remote: remote}
	return remote, nil
}

var _ client.Factory = (*Factory)(nil)

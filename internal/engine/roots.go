package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"docsync/internal/client"
	"docsync/internal/logger"
	"docsync/internal/model"
	"docsync/internal/scanner"
	"docsync/internal/util"

	"go.uber.org/zap"
)

var (
	ErrNoBinding  = errors.New("no such binding")
	ErrNoRoot     = errors.New("no such root")
	ErrNotAFolder = errors.New("remote document is not a folder")
)

// Bind registers a remote account on a local folder. Roots are picked up on
// the next pass from the server's root definitions.
func (e *Engine) Bind(b *model.Binding) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if err := e.fs.MkdirAll(b.LocalFolder, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", b.LocalFolder, err)
	}
	if err := e.repos.Bindings.Save(b); err != nil {
		return err
	}

	logger.Log.Info("binding created",
		zap.String("local_folder", b.LocalFolder),
		zap.String("server_url", b.ServerURL))
	return nil
}

// Unbind forgets a binding with every root and pair under it. Local files
// are left in place.
func (e *Engine) Unbind(localFolder string) error {
	b, err := e.repos.Bindings.Get(localFolder)
	if err != nil {
		return err
	}
	if b == nil {
		return fmt.Errorf("%w: %s", ErrNoBinding, localFolder)
	}

	if err := e.repos.Bindings.Delete(localFolder); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.offline, localFolder)
	e.mu.Unlock()

	logger.Log.Info("binding removed", zap.String("local_folder", localFolder))
	return nil
}

// SetToken stores a token obtained by signing in again and lifts the
// sign-in flag. Only the credential columns are written.
func (e *Engine) SetToken(localFolder, token string) error {
	b, err := e.repos.Bindings.Get(localFolder)
	if err != nil {
		return err
	}
	if b == nil {
		return fmt.Errorf("%w: %s", ErrNoBinding, localFolder)
	}

	b.SetToken(token)
	if err := e.repos.Bindings.SaveCredentials(b); err != nil {
		return err
	}
	logger.Log.Info("credentials updated", zap.String("local_folder", localFolder))
	return nil
}

// BindRoot registers a remote folder as a synchronization root of the
// binding and creates its local folder.
func (e *Engine) BindRoot(ctx context.Context, localFolder, remoteRef string) (*model.RootBinding, error) {
	b, remote, err := e.open(ctx, localFolder)
	if err != nil {
		return nil, err
	}
	info, err := remote.GetInfo(ctx, remoteRef, true)
	if err != nil {
		return nil, err
	}
	if !info.Folderish {
		return nil, fmt.Errorf("%w: %s", ErrNotAFolder, info.Ref)
	}
	if err := remote.RegisterAsRoot(ctx, remoteRef); err != nil {
		return nil, err
	}
	return e.bindRootLocally(ctx, b, remote, info)
}

func (e *Engine) bindRootLocally(ctx context.Context, b *model.Binding, remote client.RemoteClient, info *model.RemoteInfo) (*model.RootBinding, error) {
	if !info.Folderish {
		return nil, fmt.Errorf("%w: %s", ErrNotAFolder, info.Ref)
	}

	root := &model.RootBinding{
		LocalFolder: b.LocalFolder,
		LocalRoot:   filepath.Join(b.LocalFolder, util.SafeFilename(info.Name)),
		RemoteRepo:  info.Repo,
		RemoteRoot:  info.Ref,
	}
	if err := root.Validate(); err != nil {
		return nil, err
	}
	if err := e.fs.MkdirAll(root.LocalRoot, 0755); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", root.LocalRoot, err)
	}
	if err := e.repos.Roots.Save(root); err != nil {
		return nil, err
	}
	if err := e.repos.Folders.Upsert(&model.SyncFolder{
		RemoteID:    info.Ref,
		Name:        info.Name,
		ParentID:    info.ParentRef,
		Repo:        info.Repo,
		LocalFolder: b.LocalFolder,
		Checked:     true,
		BoundAsRoot: true,
	}); err != nil {
		return nil, err
	}

	local, err := e.factory.Local(*root)
	if err != nil {
		return nil, err
	}
	if _, err := e.scanner.RootPair(ctx, scanner.Target{Root: *root, Local: local, Remote: remote}); err != nil {
		return nil, err
	}

	logger.Log.Info("root bound",
		zap.String("local_root", root.LocalRoot),
		zap.String("remote_ref", root.RemoteRoot))
	return root, nil
}

// UnbindRoot stops synchronizing one root. Its pairs are dropped; local
// files are left in place.
func (e *Engine) UnbindRoot(ctx context.Context, localRoot string) error {
	root, err := e.repos.Roots.Get(localRoot)
	if err != nil {
		return err
	}
	if root == nil {
		return fmt.Errorf("%w: %s", ErrNoRoot, localRoot)
	}

	_, remote, err := e.open(ctx, root.LocalFolder)
	if err != nil {
		return err
	}
	if err := remote.UnregisterAsRoot(ctx, root.RemoteRoot); err != nil && !errors.Is(err, client.ErrNotFound) {
		return err
	}
	return e.unbindRootLocally(root)
}

func (e *Engine) unbindRootLocally(root *model.RootBinding) error {
	if err := e.repos.Roots.Delete(root.LocalRoot); err != nil {
		return err
	}
	logger.Log.Info("root unbound",
		zap.String("local_root", root.LocalRoot),
		zap.String("remote_ref", root.RemoteRoot))
	return nil
}

// UpdateRoots aligns the local roots of a binding with the roots registered
// on the server.
func (e *Engine) UpdateRoots(ctx context.Context, localFolder string) error {
	b, remote, err := e.open(ctx, localFolder)
	if err != nil {
		return err
	}
	return e.updateRoots(ctx, b, remote)
}

func (e *Engine) updateRoots(ctx context.Context, b *model.Binding, remote client.RemoteClient) error {
	serverRoots, err := remote.GetRoots(ctx)
	if err != nil {
		return err
	}
	localRoots, err := e.repos.Roots.ByFolder(b.LocalFolder)
	if err != nil {
		return err
	}

	bound := make(map[string]model.RootBinding, len(localRoots))
	for _, r := range localRoots {
		bound[r.RemoteRoot] = r
	}

	refs := make([]string, 0, len(serverRoots))
	for i := range serverRoots {
		info := &serverRoots[i]
		refs = append(refs, info.Ref)
		if _, ok := bound[info.Ref]; ok {
			delete(bound, info.Ref)
			continue
		}
		if _, err := e.bindRootLocally(ctx, b, remote, info); err != nil {
			if errors.Is(err, model.ErrRootOutsideBind) || errors.Is(err, ErrNotAFolder) {
				logger.Log.Warn("cannot bind server root",
					zap.String("remote_ref", info.Ref),
					zap.String("name", info.Name),
					zap.Error(err))
				continue
			}
			return err
		}
	}

	// whatever is left was unregistered on the server
	for _, r := range bound {
		if err := e.unbindRootLocally(&r); err != nil {
			return err
		}
	}

	return e.repos.Folders.SetBound(b.LocalFolder, refs)
}

func (e *Engine) open(ctx context.Context, localFolder string) (*model.Binding, client.RemoteClient, error) {
	b, err := e.repos.Bindings.Get(localFolder)
	if err != nil {
		return nil, nil, err
	}
	if b == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrNoBinding, localFolder)
	}

	remote, err := e.factory.Remote(ctx, b)
	if err != nil {
		return nil, nil, err
	}
	return b, remote, nil
}

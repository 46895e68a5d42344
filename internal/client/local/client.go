package local

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"docsync/internal/client"
	"docsync/internal/model"
	"docsync/internal/pipeline"
	"docsync/internal/util"

	"github.com/spf13/afero"
)

const maxDedup = 100

// Client is a LocalClient over one root directory of an afero filesystem.
type Client struct {
	fs      afero.Fs
	base    string
	ignore  *pipeline.Ignore
	newHash func() hash.Hash
}

type Option func(*Client)

func WithIgnoreList(patterns []string) Option {
	return func(c *Client) {
		c.ignore = pipeline.NewIgnore(append([]string{"*" + util.TempSuffix}, patterns...))
	}
}

func WithDigestAlgorithm(name string) Option {
	return func(c *Client) {
		if name == "sha256" {
			c.newHash = sha256.New
		} else {
			c.newHash = md5.New
		}
	}
}

func New(fsys afero.Fs, base string, opts ...Option) *Client {
	c := &Client{
		fs:      fsys,
		base:    base,
		ignore:  pipeline.NewIgnore([]string{"*" + util.TempSuffix}),
		newHash: md5.New,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) abs(path string) string {
	return filepath.Join(c.base, filepath.FromSlash(path))
}

func (c *Client) GetInfo(path string) (*model.LocalInfo, error) {
	fi, err := c.fs.Stat(c.abs(path))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, mapErr("stat "+path, err)
	}

	return c.info(path, fi), nil
}

func (c *Client) info(path string, fi os.FileInfo) *model.LocalInfo {
	info := &model.LocalInfo{
		Path:      path,
		Folderish: fi.IsDir(),
		ModTime:   fi.ModTime(),
		Size:      fi.Size(),
	}
	if !fi.IsDir() {
		abs := c.abs(path)
		info.DigestFunc = func() (string, error) { return c.digest(abs) }
	}
	return info
}

func (c *Client) GetChildrenInfo(path string) ([]model.LocalInfo, error) {
	entries, err := afero.ReadDir(c.fs, c.abs(path))
	if err != nil {
		return nil, mapErr("list "+path, err)
	}

	children := make([]model.LocalInfo, 0, len(entries))
	for _, fi := range entries {
		if fi.Mode()&os.ModeSymlink != 0 {
			continue
		}

		childPath := model.JoinPath(path, fi.Name())
		if c.ignore.Match(childPath) {
			continue
		}
		children = append(children, *c.info(childPath, fi))
	}

	return children, nil
}

func (c *Client) digest(abs string) (string, error) {
	f, err := c.fs.Open(abs)
	if err != nil {
		return "", mapErr("open "+abs, err)
	}

	defer func(f afero.File) {
		_ = f.Close()
	}(f)

	h := c.newHash()
	if _, err := io.Copy(h, f); err != nil {
		return "", mapErr("read "+abs, err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

func (c *Client) GetContent(path string) (io.ReadCloser, error) {
	f, err := c.fs.Open(c.abs(path))
	if err != nil {
		return nil, mapErr("open "+path, err)
	}

	return f, nil
}

func (c *Client) UpdateContent(path string, r io.Reader) error {
	return mapErr("write "+path, util.AtomicWrite(c.fs, c.abs(path), r))
}

func (c *Client) MakeFile(parentPath, name string, r io.Reader) (string, error) {
	path, err := c.freePath(parentPath, name)
	if err != nil {
		return "", err
	}

	if err := util.AtomicWrite(c.fs, c.abs(path), r); err != nil {
		return "", mapErr("create "+path, err)
	}

	return path, nil
}

func (c *Client) MakeFolder(parentPath, name string) (string, error) {
	path, err := c.freePath(parentPath, name)
	if err != nil {
		return "", err
	}

	if err := c.fs.Mkdir(c.abs(path), 0755); err != nil {
		return "", mapErr("mkdir "+path, err)
	}

	return path, nil
}

func (c *Client) Delete(path string) error {
	return mapErr("delete "+path, util.RemoveIfExists(c.fs, c.abs(path)))
}

func (c *Client) Move(path, newParentPath string) (string, error) {
	target, err := c.freePath(newParentPath, model.BaseName(path))
	if err != nil {
		return "", err
	}

	return c.rename(path, target)
}

func (c *Client) Rename(path, newName string) (string, error) {
	target, err := c.freePath(model.ParentPath(path), newName)
	if err != nil {
		return "", err
	}

	return c.rename(path, target)
}

func (c *Client) rename(path, target string) (string, error) {
	if err := c.fs.Rename(c.abs(path), c.abs(target)); err != nil {
		return "", mapErr("rename "+path, err)
	}

	return target, nil
}

func (c *Client) Exists(path string) bool {
	ok, err := afero.Exists(c.fs, c.abs(path))
	return err == nil && ok
}

// freePath returns parent/name, or the first "name (n)" that is not taken.
func (c *Client) freePath(parentPath, name string) (string, error) {
	name = util.SafeFilename(filepath.Base(filepath.FromSlash(name)))
	if name == "" || name == "." {
		return "", fmt.Errorf("invalid file name %q", name)
	}

	candidate := model.JoinPath(parentPath, name)
	for n := 1; c.Exists(candidate); n++ {
		if n > maxDedup {
			return "", fmt.Errorf("no free name for %s in %s", name, parentPath)
		}
		candidate = model.JoinPath(parentPath, util.DedupName(name, n))
	}

	return candidate, nil
}

func mapErr(op string, err error) error {
	if err == nil {
		return nil
	}

	// a permission error is not transient and stays unexpected
	if errors.Is(err, syscall.EBUSY) || errors.Is(err, syscall.ETXTBSY) ||
		strings.Contains(err.Error(), "being used by another process") {
		return fmt.Errorf("failed to %s: %w: %v", op, client.ErrConcurrentAccess, err)
	}

	return fmt.Errorf("failed to %s: %w", op, err)
}

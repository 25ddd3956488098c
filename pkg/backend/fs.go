package backend

import (
	"context"
	"errors"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/fluxcd/pkg/lockedfile"
)

// FSBackend stores objects as files below a root directory.
type FSBackend struct {
	root string
}

func NewFSBackend(root string) *FSBackend {
	return &FSBackend{root: root}
}

func (b *FSBackend) Kind() Kind { return Filesystem }

func (b *FSBackend) Root() string {
	return b.root
}

// localPath resolves p inside the root, following symlinks without ever
// leaving it.
func (b *FSBackend) localPath(p string) (string, error) {
	return securejoin.SecureJoin(b.root, filepath.FromSlash(p))
}

func (b *FSBackend) Exists(ctx context.Context, p string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	abs, err := b.localPath(p)
	if err != nil {
		return false, err
	}
	_, err = os.Stat(abs)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, err
}

func (b *FSBackend) Open(ctx context.Context, p string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	abs, err := b.localPath(p)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

// Upload writes data through a temp file and a rename so readers never see a
// partial object. The filesystem has nowhere to keep contentType; List infers
// it from the extension instead.
func (b *FSBackend) Upload(ctx context.Context, p string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	absPath, err := b.localPath(p)
	if err != nil {
		return err
	}
	dir := filepath.Dir(absPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-chartrepo-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	renamed := false
	defer func() {
		if !renamed {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return err
	}
	if err := tmp.Sync(); err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmpName, absPath); err != nil {
		return err
	}
	renamed = true
	return nil
}

func (b *FSBackend) Delete(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	abs, err := b.localPath(p)
	if err != nil {
		return err
	}
	err = os.Remove(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// List returns the direct children of the directory at prefix. A missing
// directory lists as empty.
func (b *FSBackend) List(ctx context.Context, prefix string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	abs, err := b.localPath(prefix)
	if err != nil {
		return nil, err
	}
	dirEntries, err := os.ReadDir(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() {
			out = append(out, Entry{Name: de.Name(), Dir: true})
			continue
		}
		// Skip in-flight uploads.
		if matched, _ := path.Match(".tmp-chartrepo-*", de.Name()); matched {
			continue
		}
		info, err := de.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return nil, err
		}
		out = append(out, Entry{
			Name:        de.Name(),
			Size:        info.Size(),
			ContentType: contentTypeByName(de.Name()),
		})
	}
	return out, nil
}

func (b *FSBackend) MkdirAll(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	abs, err := b.localPath(p)
	if err != nil {
		return err
	}
	return os.MkdirAll(abs, 0o755)
}

// Lock takes an exclusive cross-process lock on "<path>.lock".
func (b *FSBackend) Lock(ctx context.Context, p string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	abs, err := b.localPath(p + ".lock")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, err
	}
	return lockedfile.MutexAt(abs).Lock()
}

func contentTypeByName(name string) string {
	switch path.Ext(name) {
	case ".tgz":
		return "application/gzip"
	case ".yaml", ".yml":
		return "application/yaml; charset=utf-8"
	}
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

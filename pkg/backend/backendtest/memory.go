// Package backendtest provides an in-memory backend.Backend for tests. It can
// imitate either backend kind so code that branches on backend.Kind is
// exercised both ways.
package backendtest

import (
	"context"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/e2llm/chartrepo/pkg/backend"
	"github.com/e2llm/chartrepo/pkg/errcode"
)

type object struct {
	data        []byte
	contentType string
	etag        string
}

// Memory is a map-backed store. Directories are implicit: on a Filesystem
// kind, any prefix with objects below it exists and lists as a directory.
type Memory struct {
	kind backend.Kind

	mu      sync.Mutex
	objects map[string]object
	version int
	locks   map[string]*sync.Mutex

	// Uploads counts successful Upload and UploadIfMatch calls.
	Uploads int
	// Deleted records every path passed to Delete.
	Deleted []string
	// FailUpload, when set, is returned by Upload for matching paths.
	FailUpload func(path string) error
}

func New(kind backend.Kind) *Memory {
	return &Memory{
		kind:    kind,
		objects: make(map[string]object),
		locks:   make(map[string]*sync.Mutex),
	}
}

func (m *Memory) Kind() backend.Kind { return m.kind }
func (m *Memory) Root() string       { return "mem://" + m.kind.String() }

// Put stores data without going through Upload.
func (m *Memory) Put(path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store(path, data, "")
}

// Paths returns the stored object paths in order.
func (m *Memory) Paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.objects))
	for k := range m.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (m *Memory) store(path string, data []byte, contentType string) {
	m.version++
	m.objects[path] = object{
		data:        append([]byte(nil), data...),
		contentType: contentType,
		etag:        strconv.Itoa(m.version),
	}
}

func (m *Memory) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[path]; ok {
		return true, nil
	}
	if m.kind == backend.ObjectStore {
		return false, nil
	}
	dir := strings.TrimSuffix(path, "/") + "/"
	for k := range m.objects {
		if strings.HasPrefix(k, dir) {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) Open(ctx context.Context, path string) ([]byte, error) {
	data, _, err := m.OpenWithETag(ctx, path)
	return data, err
}

func (m *Memory) OpenWithETag(ctx context.Context, path string) ([]byte, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[path]
	if !ok {
		return nil, "", fmt.Errorf("%s: %w", path, fs.ErrNotExist)
	}
	return append([]byte(nil), obj.data...), obj.etag, nil
}

func (m *Memory) Upload(ctx context.Context, path string, data []byte, contentType string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.FailUpload != nil {
		if err := m.FailUpload(path); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.store(path, data, contentType)
	m.Uploads++
	return nil
}

func (m *Memory) UploadIfMatch(ctx context.Context, path string, data []byte, contentType, etag string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.objects[path]
	switch {
	case etag == "" && ok:
		return errcode.New(errcode.Conflict, "%s already exists", path)
	case etag != "" && (!ok || cur.etag != etag):
		return errcode.New(errcode.Conflict, "%s changed since read", path)
	}
	m.store(path, data, contentType)
	m.Uploads++
	return nil
}

func (m *Memory) Delete(ctx context.Context, path string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, path)
	m.Deleted = append(m.Deleted, path)
	return nil
}

// List mirrors the listing shape of the configured kind: base names plus
// directory entries for Filesystem, full keys for ObjectStore.
func (m *Memory) List(ctx context.Context, prefix string) ([]backend.Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	dir := strings.TrimSuffix(prefix, "/") + "/"
	if prefix == "" {
		dir = ""
	}
	var out []backend.Entry
	seenDirs := make(map[string]bool)
	for k, obj := range m.objects {
		if !strings.HasPrefix(k, dir) {
			continue
		}
		rest := strings.TrimPrefix(k, dir)
		if m.kind == backend.ObjectStore {
			out = append(out, backend.Entry{Name: k, Size: int64(len(obj.data)), ContentType: obj.contentType})
			continue
		}
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			name := rest[:i]
			if !seenDirs[name] {
				seenDirs[name] = true
				out = append(out, backend.Entry{Name: name, Dir: true})
			}
			continue
		}
		out = append(out, backend.Entry{Name: rest, Size: int64(len(obj.data)), ContentType: obj.contentType})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Lock serializes callers on the same path within this process.
func (m *Memory) Lock(ctx context.Context, path string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	l, ok := m.locks[path]
	if !ok {
		l = &sync.Mutex{}
		m.locks[path] = l
	}
	m.mu.Unlock()
	l.Lock()
	return l.Unlock, nil
}

// ContentType returns the content type recorded for path.
func (m *Memory) ContentType(path string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.objects[path].contentType
}

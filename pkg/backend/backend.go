package backend

import (
	"context"
	"fmt"
)

// Kind tags a backend with the storage semantics callers must branch on.
type Kind int

const (
	// Filesystem backends report base names when listing and can reliably
	// answer Exists for directories.
	Filesystem Kind = iota
	// ObjectStore backends report full keys when listing and cannot tell an
	// absent prefix from an empty one.
	ObjectStore
)

func (k Kind) String() string {
	switch k {
	case Filesystem:
		return "filesystem"
	case ObjectStore:
		return "object-store"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Entry is one item returned by List.
type Entry struct {
	// Name is the base name on Filesystem backends and the full key on
	// ObjectStore backends.
	Name        string
	Size        int64
	ContentType string
	Dir         bool
}

// Backend abstracts a byte store keyed by slash-separated paths relative to
// the store root (e.g. "metadata/alice/index.yaml").
//
// Open returns an error matching fs.ErrNotExist for absent objects. Delete of
// an absent object succeeds.
type Backend interface {
	Kind() Kind
	Exists(ctx context.Context, path string) (bool, error)
	Open(ctx context.Context, path string) ([]byte, error)
	Upload(ctx context.Context, path string, data []byte, contentType string) error
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, prefix string) ([]Entry, error)
	Root() string
}

// DirMaker is implemented by backends that need directories created ahead of
// writes.
type DirMaker interface {
	MkdirAll(ctx context.Context, path string) error
}

// Locker is implemented by backends that can hold a cross-process lock
// keyed by path.
type Locker interface {
	Lock(ctx context.Context, path string) (unlock func(), err error)
}

// ConditionalWriter is implemented by backends that support optimistic
// concurrency on single objects. An empty etag on UploadIfMatch means the
// object must not exist yet. A lost race is reported as errcode.Conflict.
type ConditionalWriter interface {
	OpenWithETag(ctx context.Context, path string) (data []byte, etag string, err error)
	UploadIfMatch(ctx context.Context, path string, data []byte, contentType, etag string) error
}

package backend

import (
	"context"
	"strings"

	"github.com/e2llm/chartrepo/pkg/errcode"
)

const (
	MetadataDir     = "metadata"
	RepositoriesDir = "repositories"
)

// Namespace scopes a Backend under a fixed path prefix. Every path handed to
// a Namespace is resolved below the prefix; paths that could escape it are
// rejected before reaching the backend.
type Namespace struct {
	backend Backend
	prefix  string
}

// NewNamespace builds a Namespace from prefix segments. Each segment must be a
// single non-empty path element.
func NewNamespace(b Backend, segments ...string) (Namespace, error) {
	for _, s := range segments {
		if err := checkSegment(s); err != nil {
			return Namespace{}, err
		}
		if strings.Contains(s, "/") {
			return Namespace{}, errcode.New(errcode.InvalidInput, "namespace segment %q contains a separator", s)
		}
	}
	return Namespace{backend: b, prefix: strings.Join(segments, "/")}, nil
}

// MetadataNamespace is metadata/{owner}.
func MetadataNamespace(b Backend, owner string) (Namespace, error) {
	return NewNamespace(b, MetadataDir, owner)
}

// RepositoryNamespace is repositories/{owner}/{repo}.
func RepositoryNamespace(b Backend, owner, repo string) (Namespace, error) {
	return NewNamespace(b, RepositoriesDir, owner, repo)
}

func (n Namespace) Backend() Backend { return n.backend }
func (n Namespace) Kind() Kind       { return n.backend.Kind() }
func (n Namespace) Prefix() string   { return n.prefix }

// Path resolves p below the namespace prefix. An empty p yields the prefix.
func (n Namespace) Path(p string) (string, error) {
	if p == "" {
		return n.prefix, nil
	}
	if strings.HasPrefix(p, "/") {
		return "", errcode.New(errcode.InvalidInput, "absolute path %q", p)
	}
	for _, s := range strings.Split(strings.TrimSuffix(p, "/"), "/") {
		if err := checkSegment(s); err != nil {
			return "", err
		}
	}
	if n.prefix == "" {
		return p, nil
	}
	return n.prefix + "/" + p, nil
}

func (n Namespace) Exists(ctx context.Context, p string) (bool, error) {
	full, err := n.Path(p)
	if err != nil {
		return false, err
	}
	return n.backend.Exists(ctx, full)
}

func (n Namespace) Open(ctx context.Context, p string) ([]byte, error) {
	full, err := n.Path(p)
	if err != nil {
		return nil, err
	}
	return n.backend.Open(ctx, full)
}

func (n Namespace) Upload(ctx context.Context, p string, data []byte, contentType string) error {
	full, err := n.Path(p)
	if err != nil {
		return err
	}
	return n.backend.Upload(ctx, full, data, contentType)
}

func (n Namespace) Delete(ctx context.Context, p string) error {
	full, err := n.Path(p)
	if err != nil {
		return err
	}
	return n.backend.Delete(ctx, full)
}

func (n Namespace) List(ctx context.Context, p string) ([]Entry, error) {
	full, err := n.Path(p)
	if err != nil {
		return nil, err
	}
	return n.backend.List(ctx, full)
}

// MkdirAll creates p below the prefix when the backend needs directories.
func (n Namespace) MkdirAll(ctx context.Context, p string) error {
	dm, ok := n.backend.(DirMaker)
	if !ok {
		return nil
	}
	full, err := n.Path(p)
	if err != nil {
		return err
	}
	return dm.MkdirAll(ctx, full)
}

func checkSegment(s string) error {
	switch s {
	case "":
		return errcode.New(errcode.InvalidInput, "empty path segment")
	case ".", "..":
		return errcode.New(errcode.InvalidInput, "path segment %q is not allowed", s)
	}
	if strings.ContainsRune(s, '\\') || strings.ContainsRune(s, 0) {
		return errcode.New(errcode.InvalidInput, "path segment %q contains an invalid character", s)
	}
	return nil
}

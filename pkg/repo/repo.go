// Package repo is the chart registry facade. It ties storage namespaces, the
// per-owner index, version resolution, archive validation and permission
// checks into the operations a server or CLI exposes.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/e2llm/chartrepo/pkg/archive"
	"github.com/e2llm/chartrepo/pkg/backend"
	"github.com/e2llm/chartrepo/pkg/errcode"
	"github.com/e2llm/chartrepo/pkg/metadata"
	"github.com/e2llm/chartrepo/pkg/scopes"
	"github.com/e2llm/chartrepo/pkg/versions"
)

type Repo struct {
	backend backend.Backend
	regs    *scopes.Registries
	log     zerolog.Logger
	now     func() time.Time

	index     *metadata.Manager
	resolver  *versions.Resolver
	validator *archive.Validator

	maxUploadSize int64
	// baseURL prefixes the tarball URLs written to index entries.
	baseURL string
	// replaceExisting lets Publish overwrite a version that already exists.
	replaceExisting bool
}

type Option func(*Repo)

// WithLogger sets the logger shared by the repo and its components.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Repo) { r.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(r *Repo) { r.now = now }
}

func WithMaxUploadSize(n int64) Option {
	return func(r *Repo) { r.maxUploadSize = n }
}

func WithBaseURL(u string) Option {
	return func(r *Repo) { r.baseURL = u }
}

func WithReplaceExisting(replace bool) Option {
	return func(r *Repo) { r.replaceExisting = replace }
}

// New builds a Repo over b. regs is the registry set permission checks are
// evaluated against.
func New(b backend.Backend, regs *scopes.Registries, opts ...Option) *Repo {
	r := &Repo{
		backend: b,
		regs:    regs,
		log:     zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if b != nil {
		r.log = r.log.With().Str("backend", b.Kind().String()).Logger()
	}
	r.index = metadata.NewManager(b, metadata.WithLogger(r.log), metadata.WithClock(r.now))
	r.resolver = versions.NewResolver(r.log)
	r.validator = archive.NewValidator(archive.WithLogger(r.log), archive.WithMaxSize(r.maxUploadSize))
	return r
}

func (r *Repo) Registries() *scopes.Registries { return r.regs }

// Init creates the top-level layout. Object stores have no directories, so
// this is a no-op there.
func (r *Repo) Init(ctx context.Context) error {
	if r.backend == nil {
		return errors.New("backend is required")
	}
	for _, dir := range []string{backend.MetadataDir, backend.RepositoriesDir} {
		ns, err := backend.NewNamespace(r.backend, dir)
		if err != nil {
			return err
		}
		if err := ns.MkdirAll(ctx, ""); err != nil {
			return errcode.Storage(err, "mkdir", dir)
		}
	}
	r.log.Info().Str("root", r.backend.Root()).Msg("initialized registry layout")
	return nil
}

func (r *Repo) namespace(target Repository) (backend.Namespace, error) {
	if r.backend == nil {
		return backend.Namespace{}, errors.New("backend is required")
	}
	return backend.RepositoryNamespace(r.backend, target.Owner, target.Name)
}

func (r *Repo) logFor(target Repository) zerolog.Logger {
	return r.log.With().Str("owner", target.Owner).Str("repo", target.Name).Logger()
}

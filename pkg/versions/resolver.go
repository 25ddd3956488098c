package versions

import (
	"context"
	"errors"
	"io/fs"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/rs/zerolog"

	"github.com/e2llm/chartrepo/pkg/backend"
	"github.com/e2llm/chartrepo/pkg/errcode"
)

// Chart is a resolved tarball or provenance file.
type Chart struct {
	Version *semver.Version
	Path    string
	Data    []byte
}

type Resolver struct {
	log zerolog.Logger
}

func NewResolver(log zerolog.Logger) *Resolver {
	return &Resolver{log: log}
}

// Sort lists the chart versions stored under tarballs/ in ns, newest first.
// Entries that are not semver-named tarballs are skipped with a warning.
func (r *Resolver) Sort(ctx context.Context, ns backend.Namespace, allowPrereleases bool) ([]*semver.Version, error) {
	if ns.Kind() == backend.Filesystem {
		exists, err := ns.Exists(ctx, "")
		if err != nil {
			return nil, errcode.Storage(err, "stat", ns.Prefix())
		}
		if !exists {
			return nil, nil
		}
	}

	entries, err := ns.List(ctx, TarballsDir)
	if err != nil {
		r.log.Error().Err(err).Str("path", ns.Prefix()).Msg("list tarballs")
		return nil, errcode.Storage(err, "list", ns.Prefix()+"/"+TarballsDir)
	}

	out := make([]*semver.Version, 0, len(entries))
	for _, e := range entries {
		if e.Dir {
			continue
		}
		name := e.Name
		if ns.Kind() == backend.ObjectStore {
			if i := strings.LastIndexByte(name, '/'); i >= 0 {
				name = name[i+1:]
			}
		}
		if strings.HasSuffix(name, ProvenanceSuffix) {
			r.log.Debug().Str("path", ns.Prefix()).Str("name", e.Name).Msg("skipping provenance file")
			continue
		}
		base, ok := strings.CutSuffix(name, ChartSuffix)
		if !ok {
			r.log.Warn().Str("path", ns.Prefix()).Str("name", e.Name).Msg("skipping non-tarball entry")
			continue
		}
		v, err := semver.StrictNewVersion(base)
		if err != nil {
			r.log.Warn().Err(err).Str("path", ns.Prefix()).Str("name", e.Name).Msg("skipping tarball with invalid version")
			continue
		}
		if v.Prerelease() != "" && !allowPrereleases {
			continue
		}
		out = append(out, v)
	}

	slices.SortFunc(out, func(a, b *semver.Version) int { return Compare(b, a) })
	return out, nil
}

// Resolve returns the chart tarball selected by selector, which is either an
// explicit version or "latest"/"current".
func (r *Resolver) Resolve(ctx context.Context, ns backend.Namespace, selector string, allowPrereleases bool) (*Chart, error) {
	v, err := r.Select(ctx, ns, selector, allowPrereleases)
	if err != nil {
		return nil, err
	}
	return r.fetch(ctx, ns, v, TarballPath(v))
}

// ResolveProvenance is Resolve for the provenance file of the selected
// version.
func (r *Resolver) ResolveProvenance(ctx context.Context, ns backend.Namespace, selector string, allowPrereleases bool) (*Chart, error) {
	v, err := r.Select(ctx, ns, selector, allowPrereleases)
	if err != nil {
		return nil, err
	}
	return r.fetch(ctx, ns, v, ProvenancePath(v))
}

// Select turns selector into a concrete version. "latest" and "current" pick
// the head of Sort; anything else must parse as a version.
func (r *Resolver) Select(ctx context.Context, ns backend.Namespace, selector string, allowPrereleases bool) (*semver.Version, error) {
	if !IsLatest(selector) {
		return Parse(selector, allowPrereleases)
	}
	sorted, err := r.Sort(ctx, ns, allowPrereleases)
	if err != nil {
		return nil, err
	}
	if len(sorted) == 0 {
		return nil, errcode.New(errcode.EntityNotFound, "no versions in %s", ns.Prefix())
	}
	return sorted[0], nil
}

func (r *Resolver) fetch(ctx context.Context, ns backend.Namespace, v *semver.Version, p string) (*Chart, error) {
	data, err := ns.Open(ctx, p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errcode.Wrap(errcode.EntityNotFound, err, "%s/%s", ns.Prefix(), p)
	}
	if err != nil {
		r.log.Error().Err(err).Str("path", ns.Prefix()).Str("version", v.String()).Msg("open chart")
		return nil, errcode.Storage(err, "open", ns.Prefix()+"/"+p)
	}
	return &Chart{Version: v, Path: p, Data: data}, nil
}

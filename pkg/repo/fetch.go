package repo

import (
	"context"

	"github.com/Masterminds/semver/v3"

	"github.com/e2llm/chartrepo/pkg/versions"
)

// Versions lists the stored versions of target, newest first.
func (r *Repo) Versions(ctx context.Context, p Principal, target Repository, allowPrereleases bool) ([]*semver.Version, error) {
	if err := authorizeRead(p, target); err != nil {
		return nil, err
	}
	ns, err := r.namespace(target)
	if err != nil {
		return nil, err
	}
	return r.resolver.Sort(ctx, ns, allowPrereleases)
}

// Fetch returns the tarball picked by selector, an explicit version or
// "latest"/"current".
func (r *Repo) Fetch(ctx context.Context, p Principal, target Repository, selector string, allowPrereleases bool) (*versions.Chart, error) {
	if err := authorizeRead(p, target); err != nil {
		return nil, err
	}
	ns, err := r.namespace(target)
	if err != nil {
		return nil, err
	}
	return r.resolver.Resolve(ctx, ns, selector, allowPrereleases)
}

// FetchProvenance is Fetch for the provenance file.
func (r *Repo) FetchProvenance(ctx context.Context, p Principal, target Repository, selector string, allowPrereleases bool) (*versions.Chart, error) {
	if err := authorizeRead(p, target); err != nil {
		return nil, err
	}
	ns, err := r.namespace(target)
	if err != nil {
		return nil, err
	}
	return r.resolver.ResolveProvenance(ctx, ns, selector, allowPrereleases)
}

package repo

import (
	"context"
	"net/url"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/e2llm/chartrepo/pkg/backend"
	"github.com/e2llm/chartrepo/pkg/metadata"
	"github.com/e2llm/chartrepo/pkg/versions"
)

// CreateIndex writes an empty index for a newly registered owner. Callers
// registering users should log a failure here and retry; the owner record
// itself is not rolled back.
func (r *Repo) CreateIndex(ctx context.Context, owner string) (*metadata.ChartIndex, error) {
	idx, err := r.index.Create(ctx, owner)
	if err != nil {
		r.log.Error().Err(err).Str("owner", owner).Msg("create index")
		return nil, err
	}
	r.log.Info().Str("owner", owner).Msg("created index")
	return idx, nil
}

// Index returns the owner's index.
func (r *Repo) Index(ctx context.Context, owner string) (*metadata.ChartIndex, error) {
	return r.index.Get(ctx, owner)
}

// DeleteIndex removes the owner's index. Missing indexes are ignored.
func (r *Repo) DeleteIndex(ctx context.Context, owner string) error {
	if err := r.index.Delete(ctx, owner); err != nil {
		r.log.Error().Err(err).Str("owner", owner).Msg("delete index")
		return err
	}
	r.log.Info().Str("owner", owner).Msg("deleted index")
	return nil
}

// chartURL is where clients download version of target. Without a base URL
// the path is relative to the registry root.
func (r *Repo) chartURL(target Repository, v *semver.Version) string {
	rel := strings.Join([]string{
		backend.RepositoriesDir,
		url.PathEscape(target.Owner),
		url.PathEscape(target.Name),
		versions.TarballPath(v),
	}, "/")
	if r.baseURL == "" {
		return rel
	}
	return strings.TrimSuffix(r.baseURL, "/") + "/" + rel
}

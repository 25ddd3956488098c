package repo

import (
	"context"

	helmrepo "helm.sh/helm/v3/pkg/repo"

	"github.com/e2llm/chartrepo/pkg/metadata"
	"github.com/e2llm/chartrepo/pkg/scopes"
	"github.com/e2llm/chartrepo/pkg/versions"
)

// Delete removes version of target: its tarball, its provenance file and its
// index entry. Deleting a version that does not exist succeeds.
func (r *Repo) Delete(ctx context.Context, p Principal, target Repository, version string) error {
	if err := authorize(p, target, scopes.RepoReleasesDelete, scopes.MetadataDelete); err != nil {
		return err
	}
	ns, err := r.namespace(target)
	if err != nil {
		return err
	}
	v, err := versions.Parse(version, true)
	if err != nil {
		return err
	}

	if err := r.validator.DeleteChart(ctx, ns, v); err != nil {
		return err
	}
	if err := r.validator.DeleteChartProvenance(ctx, ns, v); err != nil {
		return err
	}

	removed := 0
	if _, err := r.index.Update(ctx, target.Owner, func(idx *metadata.ChartIndex) error {
		removed = idx.RemoveFunc(func(cv *helmrepo.ChartVersion) bool {
			return cv.Name == target.Name && cv.Version == v.String()
		})
		if removed == 0 {
			return metadata.ErrUnchanged
		}
		return nil
	}); err != nil {
		return err
	}
	log := r.logFor(target)
	log.Info().Str("version", v.String()).Int("index_entries", removed).Msg("deleted chart")
	return nil
}

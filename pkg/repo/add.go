package repo

import (
	"context"
	"mime/multipart"

	"github.com/Masterminds/semver/v3"
	helmrepo "helm.sh/helm/v3/pkg/repo"

	"github.com/e2llm/chartrepo/pkg/errcode"
	"github.com/e2llm/chartrepo/pkg/inspector"
	"github.com/e2llm/chartrepo/pkg/metadata"
	"github.com/e2llm/chartrepo/pkg/scopes"
	"github.com/e2llm/chartrepo/pkg/versions"
)

// Publish validates the chart archive in the first field of mr, stores it as
// version of target and records it in the owner's index.
//
// Chart.yaml must name the repository and carry the same version. An existing
// version is a Conflict unless the repo was built WithReplaceExisting.
func (r *Repo) Publish(ctx context.Context, p Principal, target Repository, version string, mr *multipart.Reader) (*helmrepo.ChartVersion, error) {
	if err := authorize(p, target, scopes.RepoReleasesCreate, scopes.MetadataUpdate); err != nil {
		return nil, err
	}
	ns, err := r.namespace(target)
	if err != nil {
		return nil, err
	}
	v, err := versions.Parse(version, true)
	if err != nil {
		return nil, err
	}
	log := r.logFor(target).With().Str("version", v.String()).Logger()

	payload, err := r.validator.Read(mr)
	if err != nil {
		return nil, err
	}
	if err := r.validator.Validate(payload.Data); err != nil {
		return nil, err
	}
	cv, err := inspector.InspectChart(payload.Data, r.now(), r.chartURL(target, v))
	if err != nil {
		return nil, err
	}
	if err := matchChart(cv, target, v); err != nil {
		return nil, err
	}

	exists, err := ns.Exists(ctx, versions.TarballPath(v))
	if err != nil {
		return nil, errcode.Storage(err, "exists", ns.Prefix()+"/"+versions.TarballPath(v))
	}
	if exists && !r.replaceExisting {
		return nil, errcode.New(errcode.Conflict, "%s %s already exists", target, v)
	}

	if err := r.validator.Store(ctx, ns, versions.TarballPath(v), payload); err != nil {
		return nil, err
	}
	if _, err := r.index.Update(ctx, target.Owner, func(idx *metadata.ChartIndex) error {
		idx.Add(cv)
		return nil
	}); err != nil {
		log.Error().Err(err).Msg("tarball stored but index update failed")
		return nil, err
	}
	log.Info().Str("digest", cv.Digest).Bool("replaced", exists).Msg("published chart")
	return cv, nil
}

// PublishProvenance stores the provenance file for an already published
// version.
func (r *Repo) PublishProvenance(ctx context.Context, p Principal, target Repository, version string, mr *multipart.Reader) error {
	if err := authorize(p, target, scopes.RepoReleasesCreate, scopes.MetadataUpdate); err != nil {
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
	exists, err := ns.Exists(ctx, versions.TarballPath(v))
	if err != nil {
		return errcode.Storage(err, "exists", ns.Prefix()+"/"+versions.TarballPath(v))
	}
	if !exists {
		return errcode.New(errcode.EntityNotFound, "%s %s has not been published", target, v)
	}
	if _, err := r.validator.UploadProvenance(ctx, ns, v, mr); err != nil {
		return err
	}
	log := r.logFor(target)
	log.Info().Str("version", v.String()).Msg("published provenance")
	return nil
}

func matchChart(cv *helmrepo.ChartVersion, target Repository, v *semver.Version) error {
	if cv.Name != target.Name {
		return errcode.New(errcode.InvalidInput, "chart %q does not match repository %q", cv.Name, target.Name)
	}
	if cv.Version != v.String() {
		return errcode.New(errcode.InvalidInput, "chart version %q does not match %q", cv.Version, v.String())
	}
	return nil
}

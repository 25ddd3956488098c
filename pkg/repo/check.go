package repo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/Masterminds/semver/v3"

	"github.com/e2llm/chartrepo/pkg/inspector"
	"github.com/e2llm/chartrepo/pkg/versions"
)

// CheckResult captures warnings and an optional terminal error.
type CheckResult struct {
	Warnings []string `json:"warnings"`
	Err      error    `json:"-"`
}

// CheckDetailed performs checks and returns warnings/errors without logging.
func (r *Repo) CheckDetailed(ctx context.Context, target Repository) CheckResult {
	warnings, err := r.checkCollect(ctx, target)
	return CheckResult{Warnings: warnings, Err: err}
}

// Check verifies that the owner's index and the stored tarballs of target
// agree: every indexed version has a tarball with the recorded digest, and
// every stored tarball is indexed.
func (r *Repo) Check(ctx context.Context, target Repository) error {
	warnings, err := r.checkCollect(ctx, target)
	log := r.logFor(target)
	for _, w := range warnings {
		log.Warn().Msg(w)
	}
	return err
}

func (r *Repo) checkCollect(ctx context.Context, target Repository) ([]string, error) {
	ns, err := r.namespace(target)
	if err != nil {
		return nil, err
	}
	idx, err := r.index.Get(ctx, target.Owner)
	if err != nil {
		return nil, fmt.Errorf("load index: %w", err)
	}

	var (
		errs     []error
		warnings []string
		indexed  = make(map[string]struct{})
	)
	for _, cv := range idx.Entries[target.Name] {
		v, err := semver.StrictNewVersion(cv.Version)
		if err != nil {
			errs = append(errs, fmt.Errorf("index entry %s %q: %w", target.Name, cv.Version, err))
			continue
		}
		indexed[v.String()] = struct{}{}
		if want := r.chartURL(target, v); len(cv.URLs) == 0 || cv.URLs[0] != want {
			warnings = append(warnings, fmt.Sprintf("index entry %s %s points at %v, expected %s", target.Name, v, cv.URLs, want))
		}

		data, err := ns.Open(ctx, versions.TarballPath(v))
		if errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, fmt.Errorf("tarball missing for %s %s", target.Name, v))
			continue
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("open %s: %w", versions.TarballPath(v), err))
			continue
		}
		if cv.Digest == "" {
			warnings = append(warnings, fmt.Sprintf("index entry %s %s has no digest", target.Name, v))
		} else if got := inspector.Digest(data); got != cv.Digest {
			errs = append(errs, fmt.Errorf("digest mismatch for %s %s: index=%s actual=%s", target.Name, v, cv.Digest, got))
		}
	}

	stored, err := r.resolver.Sort(ctx, ns, true)
	if err != nil {
		errs = append(errs, fmt.Errorf("list tarballs: %w", err))
	}
	for _, v := range stored {
		if _, ok := indexed[v.String()]; !ok {
			errs = append(errs, fmt.Errorf("tarball present but not indexed: %s", versions.TarballPath(v)))
		}
	}

	return warnings, errors.Join(errs...)
}

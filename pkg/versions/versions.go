// Package versions lists the chart versions stored in a repository namespace
// and resolves version selectors to stored tarballs.
package versions

import (
	"strconv"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/e2llm/chartrepo/pkg/errcode"
)

const (
	TarballsDir      = "tarballs"
	ChartSuffix      = ".tgz"
	ProvenanceSuffix = ".prov.tgz"

	SelectorLatest  = "latest"
	SelectorCurrent = "current"
)

// TarballPath is the namespace-relative path of a chart tarball.
func TarballPath(v *semver.Version) string {
	return TarballsDir + "/" + v.String() + ChartSuffix
}

// ProvenancePath is the namespace-relative path of a chart provenance file.
func ProvenancePath(v *semver.Version) string {
	return TarballsDir + "/" + v.String() + ProvenanceSuffix
}

// IsLatest reports whether selector names the newest stored version.
func IsLatest(selector string) bool {
	return selector == SelectorLatest || selector == SelectorCurrent
}

// Parse parses an explicit SemVer 2 version. Prereleases are refused unless
// allowPrereleases is set.
func Parse(s string, allowPrereleases bool) (*semver.Version, error) {
	v, err := semver.StrictNewVersion(s)
	if err != nil {
		return nil, errcode.Wrap(errcode.InvalidInput, err, "invalid version %q", s)
	}
	if v.Prerelease() != "" && !allowPrereleases {
		return nil, errcode.New(errcode.InvalidInput, "version %s is a prerelease and prereleases are not allowed", s)
	}
	return v, nil
}

// Compare orders versions by semver precedence and then by build metadata,
// so distinct versions never compare equal. Versions without build metadata
// sort below those with it; build identifiers compare like prerelease ones.
func Compare(a, b *semver.Version) int {
	if c := a.Compare(b); c != 0 {
		return c
	}
	return compareBuild(a.Metadata(), b.Metadata())
}

func compareBuild(a, b string) int {
	switch {
	case a == b:
		return 0
	case a == "":
		return -1
	case b == "":
		return 1
	}
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if c := compareIdentifier(as[i], bs[i]); c != 0 {
			return c
		}
	}
	switch {
	case len(as) < len(bs):
		return -1
	case len(as) > len(bs):
		return 1
	}
	return 0
}

func compareIdentifier(a, b string) int {
	an, aErr := strconv.ParseUint(a, 10, 64)
	bn, bErr := strconv.ParseUint(b, 10, 64)
	switch {
	case aErr == nil && bErr == nil:
		switch {
		case an < bn:
			return -1
		case an > bn:
			return 1
		}
		return 0
	case aErr == nil:
		return -1
	case bErr == nil:
		return 1
	}
	return strings.Compare(a, b)
}

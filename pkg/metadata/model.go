package metadata

import (
	"sort"
	"time"

	"helm.sh/helm/v3/pkg/repo"
)

// APIVersionV1 is the only index document version written or accepted.
const APIVersionV1 = "v1"

// IndexFile is the object name of an owner's index within metadata/{owner}.
const IndexFile = "index.yaml"

// IndexContentType is stored alongside index.yaml on backends that keep one.
const IndexContentType = "application/yaml; charset=utf-8"

// ChartIndex is the Helm repository index of one owner. Entries are keyed by
// chart name and kept newest first.
type ChartIndex struct {
	APIVersion string                        `json:"apiVersion"`
	Generated  time.Time                     `json:"generated"`
	Entries    map[string]repo.ChartVersions `json:"entries"`
}

// NewChartIndex returns an empty index stamped with now.
func NewChartIndex(now time.Time) *ChartIndex {
	return &ChartIndex{
		APIVersion: APIVersionV1,
		Generated:  now.UTC(),
		Entries:    map[string]repo.ChartVersions{},
	}
}

// Get returns the entry for name at version.
func (i *ChartIndex) Get(name, version string) (*repo.ChartVersion, bool) {
	for _, cv := range i.Entries[name] {
		if cv.Metadata != nil && cv.Version == version {
			return cv, true
		}
	}
	return nil, false
}

// Add inserts cv, replacing any entry with the same name and version.
func (i *ChartIndex) Add(cv *repo.ChartVersion) {
	if i.Entries == nil {
		i.Entries = map[string]repo.ChartVersions{}
	}
	name := cv.Name
	versions := i.Entries[name]
	for n, existing := range versions {
		if existing.Metadata != nil && existing.Version == cv.Version {
			versions[n] = cv
			i.sortEntry(name)
			return
		}
	}
	i.Entries[name] = append(versions, cv)
	i.sortEntry(name)
}

// RemoveFunc drops every entry for which match returns true and returns how
// many were dropped. Charts left without versions are removed entirely.
func (i *ChartIndex) RemoveFunc(match func(*repo.ChartVersion) bool) int {
	removed := 0
	for name, versions := range i.Entries {
		kept := versions[:0]
		for _, cv := range versions {
			if match(cv) {
				removed++
				continue
			}
			kept = append(kept, cv)
		}
		if len(kept) == 0 {
			delete(i.Entries, name)
			continue
		}
		i.Entries[name] = kept
	}
	return removed
}

// Len counts entries across all charts.
func (i *ChartIndex) Len() int {
	n := 0
	for _, versions := range i.Entries {
		n += len(versions)
	}
	return n
}

func (i *ChartIndex) sortEntry(name string) {
	sort.Sort(sort.Reverse(i.Entries[name]))
}

// SortEntries orders every chart's versions newest first.
func (i *ChartIndex) SortEntries() {
	for name := range i.Entries {
		i.sortEntry(name)
	}
}

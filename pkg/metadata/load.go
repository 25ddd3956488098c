package metadata

import (
	"fmt"

	"helm.sh/helm/v3/pkg/repo"
	"sigs.k8s.io/yaml"
)

// ParseChartIndex unmarshals an index document. Unknown apiVersions are
// rejected so a foreign document is never silently rewritten.
func ParseChartIndex(data []byte) (*ChartIndex, error) {
	var idx ChartIndex
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return nil, err
	}
	if idx.APIVersion != APIVersionV1 {
		return nil, fmt.Errorf("unsupported index apiVersion %q", idx.APIVersion)
	}
	if idx.Entries == nil {
		idx.Entries = map[string]repo.ChartVersions{}
	}
	for name, versions := range idx.Entries {
		for n, cv := range versions {
			if cv == nil || cv.Metadata == nil {
				return nil, fmt.Errorf("entry %s[%d] has no chart metadata", name, n)
			}
		}
	}
	idx.SortEntries()
	return &idx, nil
}

// MarshalChartIndex renders idx as YAML.
func MarshalChartIndex(idx *ChartIndex) ([]byte, error) {
	return yaml.Marshal(idx)
}

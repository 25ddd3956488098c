package inspector

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e2llm/chartrepo/pkg/archive/archivetest"
	"github.com/e2llm/chartrepo/pkg/errcode"
)

func TestInspectChart(t *testing.T) {
	data := archivetest.Tarball(t,
		archivetest.File("web/Chart.yaml", archivetest.ChartYAML("web", "1.2.3")),
		archivetest.File("web/values.yaml", "replicas: 1\n"),
	)
	created := time.Date(2024, 3, 24, 12, 0, 0, 0, time.FixedZone("x", 3600))

	cv, err := InspectChart(data, created, "https://charts.example.com/web-1.2.3.tgz")
	require.NoError(t, err)
	assert.Equal(t, "web", cv.Name)
	assert.Equal(t, "1.2.3", cv.Version)
	assert.Equal(t, "v2", cv.APIVersion)
	assert.Equal(t, "test chart", cv.Description)
	assert.Equal(t, []string{"https://charts.example.com/web-1.2.3.tgz"}, cv.URLs)
	assert.Equal(t, created.UTC(), cv.Created)
	assert.Len(t, cv.Digest, 64)
	assert.Equal(t, Digest(data), cv.Digest)
}

func TestReadMetadataPicksTopLevelChart(t *testing.T) {
	data := archivetest.Tarball(t,
		archivetest.File("web/charts/db/Chart.yaml", archivetest.ChartYAML("db", "9.9.9")),
		archivetest.File("web/Chart.yaml", archivetest.ChartYAML("web", "1.0.0")),
	)
	md, err := ReadMetadata(data)
	require.NoError(t, err)
	assert.Equal(t, "web", md.Name)
}

func TestReadMetadataRootChart(t *testing.T) {
	data := archivetest.Tarball(t, archivetest.File("Chart.yaml", archivetest.ChartYAML("api", "0.1.0")))
	md, err := ReadMetadata(data)
	require.NoError(t, err)
	assert.Equal(t, "api", md.Name)
}

func TestReadMetadataErrors(t *testing.T) {
	tests := []struct {
		name string
		data func(t *testing.T) []byte
	}{
		{"not gzip", func(t *testing.T) []byte { return []byte("nope") }},
		{"no chart file", func(t *testing.T) []byte {
			return archivetest.Tarball(t, archivetest.File("web/values.yaml", "a: 1\n"))
		}},
		{"subchart only", func(t *testing.T) []byte {
			return archivetest.Tarball(t, archivetest.File("charts/db/Chart.yaml", archivetest.ChartYAML("db", "1.0.0")))
		}},
		{"bad yaml", func(t *testing.T) []byte {
			return archivetest.Tarball(t, archivetest.File("Chart.yaml", "name: [unterminated\n"))
		}},
		{"missing version", func(t *testing.T) []byte {
			return archivetest.Tarball(t, archivetest.File("Chart.yaml", "apiVersion: v2\nname: web\n"))
		}},
		{"invalid version", func(t *testing.T) []byte {
			return archivetest.Tarball(t, archivetest.File("Chart.yaml", "apiVersion: v2\nname: web\nversion: one\n"))
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadMetadata(tt.data(t))
			assert.True(t, errcode.Has(err, errcode.InvalidInput), "got %v", err)
		})
	}
}

func TestIsChartFile(t *testing.T) {
	for name, want := range map[string]bool{
		"Chart.yaml":                 true,
		"./Chart.yaml":               true,
		"web/Chart.yaml":             true,
		"web/charts/db/Chart.yaml":   false,
		"charts/Chart.yaml":          false,
		"templates/Chart.yaml":       false,
		"web/values.yaml":            false,
		"web/templates/x/Chart.yaml": false,
	} {
		assert.Equal(t, want, isChartFile(name), name)
	}
}

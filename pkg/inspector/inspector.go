// Package inspector reads chart metadata out of a validated archive and
// turns it into an index entry.
package inspector

import (
	"archive/tar"
	"bytes"
	"errors"
	"io"
	"path"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/opencontainers/go-digest"
	"helm.sh/helm/v3/pkg/chart"
	helmrepo "helm.sh/helm/v3/pkg/repo"
	"sigs.k8s.io/yaml"

	"github.com/e2llm/chartrepo/pkg/errcode"
)

// ChartFile is the metadata file every chart archive carries.
const ChartFile = "Chart.yaml"

// maxChartFileSize bounds how much of Chart.yaml is read.
const maxChartFileSize = 1 << 20

// InspectChart parses data as a chart archive and builds the index entry
// describing it.
func InspectChart(data []byte, created time.Time, urls ...string) (*helmrepo.ChartVersion, error) {
	md, err := ReadMetadata(data)
	if err != nil {
		return nil, err
	}
	return &helmrepo.ChartVersion{
		Metadata: md,
		URLs:     urls,
		Created:  created.UTC(),
		Digest:   Digest(data),
	}, nil
}

// ReadMetadata extracts and validates the chart's own Chart.yaml. Files of
// subcharts under charts/ are ignored.
func ReadMetadata(data []byte) (*chart.Metadata, error) {
	raw, name, err := findChartFile(data)
	if err != nil {
		return nil, err
	}
	md := new(chart.Metadata)
	if err := yaml.Unmarshal(raw, md); err != nil {
		return nil, errcode.Wrap(errcode.InvalidInput, err, "parse %s", name)
	}
	if err := md.Validate(); err != nil {
		return nil, errcode.Wrap(errcode.InvalidInput, err, "invalid %s", name)
	}
	return md, nil
}

// Digest is the hex sha256 of data, as recorded in index entries.
func Digest(data []byte) string {
	return digest.FromBytes(data).Encoded()
}

func findChartFile(data []byte) ([]byte, string, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, "", errcode.Wrap(errcode.InvalidInput, err, "archive is not gzip")
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil, "", errcode.New(errcode.InvalidInput, "archive has no %s", ChartFile)
		}
		if err != nil {
			return nil, "", errcode.Wrap(errcode.InvalidInput, err, "read archive")
		}
		if hdr.Typeflag != tar.TypeReg || !isChartFile(hdr.Name) {
			continue
		}
		raw, err := io.ReadAll(io.LimitReader(tr, maxChartFileSize+1))
		if err != nil {
			return nil, "", errcode.Wrap(errcode.InvalidInput, err, "read %s", hdr.Name)
		}
		if len(raw) > maxChartFileSize {
			return nil, "", errcode.New(errcode.EntityTooLarge, "%s exceeds %d bytes", hdr.Name, maxChartFileSize)
		}
		return raw, hdr.Name, nil
	}
}

// isChartFile matches Chart.yaml at the archive root or one directory down,
// which is where helm package puts it.
func isChartFile(name string) bool {
	name = path.Clean(strings.TrimPrefix(name, "./"))
	if path.Base(name) != ChartFile {
		return false
	}
	dir := path.Dir(name)
	return dir == "." || (!strings.Contains(dir, "/") && dir != "charts" && dir != "templates")
}

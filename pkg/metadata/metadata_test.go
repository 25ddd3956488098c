package metadata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"helm.sh/helm/v3/pkg/chart"
	"helm.sh/helm/v3/pkg/repo"

	"github.com/e2llm/chartrepo/pkg/backend"
	"github.com/e2llm/chartrepo/pkg/backend/backendtest"
	"github.com/e2llm/chartrepo/pkg/errcode"
)

var fixedNow = time.Date(2024, 3, 24, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func chartVersion(name, version string) *repo.ChartVersion {
	return &repo.ChartVersion{
		Metadata: &chart.Metadata{
			APIVersion: chart.APIVersionV2,
			Name:       name,
			Version:    version,
		},
		URLs:   []string{"charts/" + name + "-" + version + ".tgz"},
		Digest: "abc",
	}
}

func kinds() map[string]backend.Kind {
	return map[string]backend.Kind{"filesystem": backend.Filesystem, "object-store": backend.ObjectStore}
}

func TestCreateThenGet(t *testing.T) {
	for name, kind := range kinds() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			mem := backendtest.New(kind)
			m := NewManager(mem, WithClock(clock))

			_, err := m.Create(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, IndexContentType, mem.ContentType("metadata/alice/index.yaml"))

			idx, err := m.Get(ctx, "alice")
			require.NoError(t, err)
			assert.Equal(t, APIVersionV1, idx.APIVersion)
			assert.NotNil(t, idx.Entries)
			assert.Empty(t, idx.Entries)
			assert.True(t, idx.Generated.Equal(fixedNow))
		})
	}
}

func TestCreateOnDisk(t *testing.T) {
	ctx := context.Background()
	m := NewManager(backend.NewFSBackend(t.TempDir()), WithClock(clock))

	_, err := m.Create(ctx, "alice")
	require.NoError(t, err)

	idx, err := m.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())
}

func TestCreateOverwrites(t *testing.T) {
	ctx := context.Background()
	mem := backendtest.New(backend.Filesystem)
	m := NewManager(mem, WithClock(clock))

	_, err := m.Update(ctx, "alice", func(idx *ChartIndex) error {
		idx.Add(chartVersion("web", "1.0.0"))
		return nil
	})
	require.NoError(t, err)

	_, err = m.Create(ctx, "alice")
	require.NoError(t, err)

	idx, err := m.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())
}

func TestGetMissing(t *testing.T) {
	m := NewManager(backendtest.New(backend.ObjectStore))

	_, err := m.Get(context.Background(), "nobody")
	assert.True(t, errcode.IsNotFound(err))
}

func TestGetCorrupt(t *testing.T) {
	mem := backendtest.New(backend.Filesystem)
	mem.Put("metadata/alice/index.yaml", []byte("entries: [not: a: map"))
	m := NewManager(mem)

	_, err := m.Get(context.Background(), "alice")
	assert.True(t, errcode.Has(err, errcode.ParseError))
}

func TestGetWrongAPIVersion(t *testing.T) {
	mem := backendtest.New(backend.Filesystem)
	mem.Put("metadata/alice/index.yaml", []byte("apiVersion: v2\nentries: {}\n"))
	m := NewManager(mem)

	_, err := m.Get(context.Background(), "alice")
	assert.True(t, errcode.Has(err, errcode.ParseError))
}

func TestDeleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mem := backendtest.New(backend.Filesystem)
	m := NewManager(mem)

	require.NoError(t, m.Delete(ctx, "ghost"))
	_, err := m.Get(ctx, "ghost")
	assert.True(t, errcode.IsNotFound(err))

	_, err = m.Create(ctx, "alice")
	require.NoError(t, err)
	require.NoError(t, m.Delete(ctx, "alice"))
	require.NoError(t, m.Delete(ctx, "alice"))
	_, err = m.Get(ctx, "alice")
	assert.True(t, errcode.IsNotFound(err))
}

func TestOwnerTraversalRejected(t *testing.T) {
	m := NewManager(backendtest.New(backend.Filesystem))

	_, err := m.Create(context.Background(), "..")
	assert.True(t, errcode.Has(err, errcode.InvalidInput))
}

func TestUpdateStartsFromEmpty(t *testing.T) {
	for name, kind := range kinds() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			m := NewManager(backendtest.New(kind), WithClock(clock))

			idx, err := m.Update(ctx, "alice", func(idx *ChartIndex) error {
				idx.Add(chartVersion("web", "0.1.0"))
				idx.Add(chartVersion("web", "1.2.0"))
				idx.Add(chartVersion("web", "1.0.0"))
				return nil
			})
			require.NoError(t, err)
			require.Len(t, idx.Entries["web"], 3)

			got, err := m.Get(ctx, "alice")
			require.NoError(t, err)
			versions := []string{}
			for _, cv := range got.Entries["web"] {
				versions = append(versions, cv.Version)
			}
			assert.Equal(t, []string{"1.2.0", "1.0.0", "0.1.0"}, versions)
		})
	}
}

func TestUpdateCallbackErrorWritesNothing(t *testing.T) {
	ctx := context.Background()
	mem := backendtest.New(backend.ObjectStore)
	m := NewManager(mem)
	boom := errors.New("boom")

	_, err := m.Update(ctx, "alice", func(*ChartIndex) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, mem.Uploads)
}

func TestUpdateUnchangedWritesNothing(t *testing.T) {
	for name, kind := range kinds() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			mem := backendtest.New(kind)
			m := NewManager(mem, WithClock(clock))

			idx, err := m.Update(ctx, "ghost", func(*ChartIndex) error { return ErrUnchanged })
			require.NoError(t, err)
			assert.Equal(t, 0, idx.Len())
			assert.Equal(t, 0, mem.Uploads)
			assert.Empty(t, mem.Paths())

			_, err = m.Create(ctx, "alice")
			require.NoError(t, err)
			uploads := mem.Uploads
			_, err = m.Update(ctx, "alice", func(*ChartIndex) error { return ErrUnchanged })
			require.NoError(t, err)
			assert.Equal(t, uploads, mem.Uploads)
		})
	}
}

func TestUpdateConcurrentWritersKeepAllEntries(t *testing.T) {
	ctx := context.Background()
	mem := backendtest.New(backend.Filesystem)
	m := NewManager(mem)

	versions := []string{"1.0.0", "1.1.0", "1.2.0", "1.3.0", "1.4.0"}
	var wg sync.WaitGroup
	for _, v := range versions {
		wg.Add(1)
		go func(v string) {
			defer wg.Done()
			_, err := m.Update(ctx, "alice", func(idx *ChartIndex) error {
				idx.Add(chartVersion("web", v))
				return nil
			})
			assert.NoError(t, err)
		}(v)
	}
	wg.Wait()

	idx, err := m.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, idx.Entries["web"], len(versions))
}

// racingStore changes the index between read and conditional write a fixed
// number of times.
type racingStore struct {
	*backendtest.Memory
	races int
}

func (r *racingStore) UploadIfMatch(ctx context.Context, path string, data []byte, contentType, etag string) error {
	if r.races > 0 {
		r.races--
		r.Memory.Put(path, []byte("apiVersion: v1\nentries: {}\n"))
	}
	return r.Memory.UploadIfMatch(ctx, path, data, contentType, etag)
}

func TestUpdateRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	store := &racingStore{Memory: backendtest.New(backend.ObjectStore), races: 2}
	m := NewManager(store)

	_, err := m.Update(ctx, "alice", func(idx *ChartIndex) error {
		idx.Add(chartVersion("web", "1.0.0"))
		return nil
	})
	require.NoError(t, err)

	idx, err := m.Get(ctx, "alice")
	require.NoError(t, err)
	_, ok := idx.Get("web", "1.0.0")
	assert.True(t, ok)
}

func TestUpdateGivesUpAfterRepeatedConflicts(t *testing.T) {
	store := &racingStore{Memory: backendtest.New(backend.ObjectStore), races: maxUpdateAttempts}
	m := NewManager(store)

	_, err := m.Update(context.Background(), "alice", func(idx *ChartIndex) error {
		idx.Add(chartVersion("web", "1.0.0"))
		return nil
	})
	assert.True(t, errcode.Has(err, errcode.Conflict))
}

func TestChartIndexAddReplacesAndRemove(t *testing.T) {
	idx := NewChartIndex(fixedNow)
	idx.Add(chartVersion("web", "1.0.0"))
	replacement := chartVersion("web", "1.0.0")
	replacement.Digest = "def"
	idx.Add(replacement)
	idx.Add(chartVersion("api", "2.0.0"))

	cv, ok := idx.Get("web", "1.0.0")
	require.True(t, ok)
	assert.Equal(t, "def", cv.Digest)
	assert.Equal(t, 2, idx.Len())

	n := idx.RemoveFunc(func(cv *repo.ChartVersion) bool { return cv.Name == "web" })
	assert.Equal(t, 1, n)
	assert.NotContains(t, idx.Entries, "web")
	assert.Contains(t, idx.Entries, "api")
}

func TestMarshalParseKeepsKeys(t *testing.T) {
	idx := NewChartIndex(fixedNow)
	idx.Add(chartVersion("web", "1.0.0"))

	data, err := MarshalChartIndex(idx)
	require.NoError(t, err)
	assert.Contains(t, string(data), "apiVersion: v1")
	assert.Contains(t, string(data), "2024-03-24T12:00:00Z")

	parsed, err := ParseChartIndex(data)
	require.NoError(t, err)
	cv, ok := parsed.Get("web", "1.0.0")
	require.True(t, ok)
	assert.Equal(t, []string{"charts/web-1.0.0.tgz"}, cv.URLs)
}

package metadata

import (
	"context"
	"errors"
	"io/fs"
	"time"

	"github.com/rs/zerolog"

	"github.com/e2llm/chartrepo/pkg/backend"
	"github.com/e2llm/chartrepo/pkg/errcode"
)

// maxUpdateAttempts bounds compare-and-swap retries in Update.
const maxUpdateAttempts = 3

// ErrUnchanged may be returned by an Update callback to leave the stored
// index untouched. Update then returns the index it read and a nil error.
var ErrUnchanged = errors.New("index unchanged")

// Manager owns the per-owner index.yaml documents under metadata/{owner}.
type Manager struct {
	backend backend.Backend
	log     zerolog.Logger
	now     func() time.Time
}

type Option func(*Manager)

func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithClock overrides the time source used for index timestamps.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(b backend.Backend, opts ...Option) *Manager {
	m := &Manager{
		backend: b,
		log:     zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Create writes an empty index for owner, overwriting any existing one.
func (m *Manager) Create(ctx context.Context, owner string) (*ChartIndex, error) {
	ns, err := backend.MetadataNamespace(m.backend, owner)
	if err != nil {
		return nil, err
	}
	if ns.Kind() == backend.Filesystem {
		if err := ns.MkdirAll(ctx, ""); err != nil {
			return nil, errcode.Storage(err, "create", ns.Prefix())
		}
	}
	idx := NewChartIndex(m.now())
	if err := m.write(ctx, ns, idx); err != nil {
		return nil, err
	}
	m.log.Debug().Str("owner", owner).Msg("created chart index")
	return idx, nil
}

// Get loads owner's index. A missing document is EntityNotFound and an
// unreadable one is ParseError.
func (m *Manager) Get(ctx context.Context, owner string) (*ChartIndex, error) {
	ns, err := backend.MetadataNamespace(m.backend, owner)
	if err != nil {
		return nil, err
	}
	data, err := ns.Open(ctx, IndexFile)
	if err != nil {
		return nil, m.openError(err, ns, owner)
	}
	return m.parse(data, owner)
}

// Delete removes owner's index. Deleting a missing index is not an error.
func (m *Manager) Delete(ctx context.Context, owner string) error {
	ns, err := backend.MetadataNamespace(m.backend, owner)
	if err != nil {
		return err
	}
	if err := ns.Delete(ctx, IndexFile); err != nil {
		m.log.Error().Err(err).Str("owner", owner).Msg("delete chart index")
		return errcode.Storage(err, "delete", ns.Prefix()+"/"+IndexFile)
	}
	m.log.Debug().Str("owner", owner).Msg("deleted chart index")
	return nil
}

// Update applies fn to owner's index and writes the result back. Writers are
// serialized with a file lock on filesystem backends and with an ETag
// compare-and-swap on object stores that support it. A missing index is
// started from empty.
func (m *Manager) Update(ctx context.Context, owner string, fn func(*ChartIndex) error) (*ChartIndex, error) {
	ns, err := backend.MetadataNamespace(m.backend, owner)
	if err != nil {
		return nil, err
	}
	switch ns.Kind() {
	case backend.Filesystem:
		if locker, ok := m.backend.(backend.Locker); ok {
			path, _ := ns.Path(IndexFile)
			unlock, err := locker.Lock(ctx, path)
			if err != nil {
				return nil, errcode.Storage(err, "lock", path)
			}
			defer unlock()
		}
	case backend.ObjectStore:
		if cw, ok := m.backend.(backend.ConditionalWriter); ok {
			return m.updateCAS(ctx, ns, cw, owner, fn)
		}
	}

	idx, err := m.Get(ctx, owner)
	if errcode.IsNotFound(err) {
		idx, err = NewChartIndex(m.now()), nil
	}
	if err != nil {
		return nil, err
	}
	if err := fn(idx); errors.Is(err, ErrUnchanged) {
		return idx, nil
	} else if err != nil {
		return nil, err
	}
	idx.Generated = m.now().UTC()
	if err := m.write(ctx, ns, idx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (m *Manager) updateCAS(ctx context.Context, ns backend.Namespace, cw backend.ConditionalWriter, owner string, fn func(*ChartIndex) error) (*ChartIndex, error) {
	path, _ := ns.Path(IndexFile)
	var lastErr error
	for attempt := 1; attempt <= maxUpdateAttempts; attempt++ {
		var idx *ChartIndex
		data, etag, err := cw.OpenWithETag(ctx, path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			idx, etag = NewChartIndex(m.now()), ""
		case err != nil:
			return nil, m.openError(err, ns, owner)
		default:
			if idx, err = m.parse(data, owner); err != nil {
				return nil, err
			}
		}
		if err := fn(idx); errors.Is(err, ErrUnchanged) {
			return idx, nil
		} else if err != nil {
			return nil, err
		}
		idx.Generated = m.now().UTC()
		out, err := MarshalChartIndex(idx)
		if err != nil {
			return nil, errcode.Wrap(errcode.ParseError, err, "marshal index for %s", owner)
		}
		err = cw.UploadIfMatch(ctx, path, out, IndexContentType, etag)
		if err == nil {
			return idx, nil
		}
		if !errcode.Has(err, errcode.Conflict) {
			m.log.Error().Err(err).Str("owner", owner).Msg("write chart index")
			return nil, errcode.Storage(err, "upload", path)
		}
		lastErr = err
		m.log.Warn().Str("owner", owner).Int("attempt", attempt).Msg("chart index changed concurrently, retrying")
	}
	return nil, lastErr
}

func (m *Manager) write(ctx context.Context, ns backend.Namespace, idx *ChartIndex) error {
	data, err := MarshalChartIndex(idx)
	if err != nil {
		return errcode.Wrap(errcode.ParseError, err, "marshal index")
	}
	if err := ns.Upload(ctx, IndexFile, data, IndexContentType); err != nil {
		m.log.Error().Err(err).Str("path", ns.Prefix()).Msg("write chart index")
		return errcode.Storage(err, "upload", ns.Prefix()+"/"+IndexFile)
	}
	return nil
}

func (m *Manager) parse(data []byte, owner string) (*ChartIndex, error) {
	idx, err := ParseChartIndex(data)
	if err != nil {
		m.log.Error().Err(err).Str("owner", owner).Msg("parse chart index")
		return nil, errcode.Wrap(errcode.ParseError, err, "index for %s", owner)
	}
	return idx, nil
}

func (m *Manager) openError(err error, ns backend.Namespace, owner string) error {
	if errors.Is(err, fs.ErrNotExist) {
		return errcode.Wrap(errcode.EntityNotFound, err, "index for %s", owner)
	}
	m.log.Error().Err(err).Str("owner", owner).Msg("open chart index")
	return errcode.Storage(err, "open", ns.Prefix()+"/"+IndexFile)
}

// Package archive ingests uploaded chart tarballs. An upload is read from the
// first multipart field, validated end to end, and only then written to the
// repository namespace.
package archive

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"path"
	"slices"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"

	"github.com/e2llm/chartrepo/pkg/backend"
	"github.com/e2llm/chartrepo/pkg/errcode"
	"github.com/e2llm/chartrepo/pkg/versions"
)

// DefaultMaxSize bounds a buffered upload when no limit is configured.
const DefaultMaxSize int64 = 10 << 20

// DefaultUnpackRatio bounds the decompressed size of an archive as a
// multiple of the upload limit.
const DefaultUnpackRatio = 8

var (
	// AcceptableContentTypes are the media types accepted on the upload field.
	AcceptableContentTypes = []string{"application/gzip", "application/tar+gzip"}

	// AllowedFiles are the only file names a chart archive may contain.
	AllowedFiles = []string{"README.md", "LICENSE", "values.yaml", "Chart.yaml", "Chart.lock", "values.schema.json"}

	// AllowedDirs are the only directory entries a chart archive may contain.
	AllowedDirs = []string{"charts", "templates"}
)

// Payload is a buffered upload field.
type Payload struct {
	Data        []byte
	ContentType string
}

type Validator struct {
	log         zerolog.Logger
	maxSize     int64
	maxUnpacked int64
}

type Option func(*Validator)

func WithLogger(l zerolog.Logger) Option {
	return func(v *Validator) { v.log = l }
}

// WithMaxSize sets the largest field Read will buffer. Values <= 0 keep the
// default.
func WithMaxSize(n int64) Option {
	return func(v *Validator) {
		if n > 0 {
			v.maxSize = n
		}
	}
}

// WithMaxUnpackedSize sets how many decompressed bytes Validate reads before
// giving up. Values <= 0 keep DefaultUnpackRatio times the upload limit.
func WithMaxUnpackedSize(n int64) Option {
	return func(v *Validator) {
		if n > 0 {
			v.maxUnpacked = n
		}
	}
}

func NewValidator(opts ...Option) *Validator {
	v := &Validator{log: zerolog.Nop(), maxSize: DefaultMaxSize}
	for _, opt := range opts {
		opt(v)
	}
	if v.maxUnpacked == 0 {
		v.maxUnpacked = v.maxSize * DefaultUnpackRatio
	}
	return v
}

func (v *Validator) MaxSize() int64         { return v.maxSize }
func (v *Validator) MaxUnpackedSize() int64 { return v.maxUnpacked }

// Upload validates the first field of mr as a chart archive and writes it to
// tarballs/{version}.tgz in ns, replacing any existing tarball.
func (v *Validator) Upload(ctx context.Context, ns backend.Namespace, version *semver.Version, mr *multipart.Reader) (*Payload, error) {
	p, err := v.Read(mr)
	if err != nil {
		return nil, err
	}
	if err := v.Validate(p.Data); err != nil {
		return nil, err
	}
	if err := v.Store(ctx, ns, versions.TarballPath(version), p); err != nil {
		return nil, err
	}
	return p, nil
}

// UploadProvenance writes the first field of mr to
// tarballs/{version}.prov.tgz. Its contents are opaque; only the gzip framing
// is checked.
func (v *Validator) UploadProvenance(ctx context.Context, ns backend.Namespace, version *semver.Version, mr *multipart.Reader) (*Payload, error) {
	p, err := v.Read(mr)
	if err != nil {
		return nil, err
	}
	if err := v.ValidateProvenance(p.Data); err != nil {
		return nil, err
	}
	if err := v.Store(ctx, ns, versions.ProvenancePath(version), p); err != nil {
		return nil, err
	}
	return p, nil
}

// Read buffers the first field of mr after checking its content type.
func (v *Validator) Read(mr *multipart.Reader) (*Payload, error) {
	part, err := mr.NextPart()
	if errors.Is(err, io.EOF) {
		return nil, errcode.New(errcode.MissingMultipartField, "expected a multipart field")
	}
	if err != nil {
		return nil, errcode.Wrap(errcode.MissingMultipartField, err, "read multipart field")
	}
	defer part.Close()

	raw := part.Header.Get("Content-Type")
	if raw == "" {
		return nil, errcode.New(errcode.MissingContentType, "multipart field %q has no content type", part.FormName())
	}
	mediaType, _, err := mime.ParseMediaType(raw)
	if err != nil || !slices.Contains(AcceptableContentTypes, mediaType) {
		return nil, errcode.New(errcode.InvalidContentType, "content type %q is not one of %s", raw, strings.Join(AcceptableContentTypes, ", "))
	}

	data, err := io.ReadAll(io.LimitReader(part, v.maxSize+1))
	if err != nil {
		return nil, errcode.Wrap(errcode.InvalidInput, err, "read multipart field")
	}
	if int64(len(data)) > v.maxSize {
		return nil, errcode.New(errcode.EntityTooLarge, "upload exceeds %d bytes", v.maxSize)
	}
	return &Payload{Data: data, ContentType: raw}, nil
}

// Validate walks every entry of a gzip-compressed tar archive and rejects
// anything but the allowed directories and files.
func (v *Validator) Validate(data []byte) error {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return errcode.Wrap(errcode.InvalidInput, err, "archive is not gzip")
	}
	defer zr.Close()

	lr := &limitedReader{r: zr, n: v.maxUnpacked}
	tr := tar.NewReader(lr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			// Trailing bytes after the end-of-archive marker must still form a
			// valid gzip stream.
			if _, err := io.Copy(io.Discard, lr); err != nil {
				return readError(err)
			}
			return nil
		}
		if err != nil {
			return readError(err)
		}
		if err := checkEntry(hdr); err != nil {
			v.log.Debug().Err(err).Str("entry", hdr.Name).Msg("rejected archive entry")
			return err
		}
	}
}

// ValidateProvenance checks that data is a complete gzip stream.
func (v *Validator) ValidateProvenance(data []byte) error {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return errcode.Wrap(errcode.InvalidInput, err, "provenance is not gzip")
	}
	defer zr.Close()
	if _, err := io.Copy(io.Discard, &limitedReader{r: zr, n: v.maxUnpacked}); err != nil {
		if errors.Is(err, errUnpackLimit) {
			return errcode.Wrap(errcode.EntityTooLarge, err, "read provenance")
		}
		return errcode.Wrap(errcode.InvalidInput, err, "read provenance")
	}
	return nil
}

// errUnpackLimit is returned by limitedReader once its budget is spent.
var errUnpackLimit = errors.New("decompressed archive exceeds limit")

// limitedReader fails instead of reporting EOF when n runs out, so a
// truncated walk is never mistaken for a complete archive.
type limitedReader struct {
	r io.Reader
	n int64
}

func (l *limitedReader) Read(p []byte) (int, error) {
	if l.n <= 0 {
		return 0, errUnpackLimit
	}
	if int64(len(p)) > l.n {
		p = p[:l.n]
	}
	n, err := l.r.Read(p)
	l.n -= int64(n)
	return n, err
}

func readError(err error) error {
	if errors.Is(err, errUnpackLimit) {
		return errcode.Wrap(errcode.EntityTooLarge, err, "read archive")
	}
	return errcode.Wrap(errcode.InvalidInput, err, "read archive")
}

func checkEntry(hdr *tar.Header) error {
	// A pax global header only carries archive-wide attributes.
	if hdr.Typeflag == tar.TypeXGlobalHeader {
		return nil
	}

	name := strings.TrimSuffix(hdr.Name, "/")
	if name == "" || strings.HasPrefix(name, "/") {
		return errcode.New(errcode.InvalidInput, "archive entry %q has an invalid path", hdr.Name)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return errcode.New(errcode.InvalidInput, "archive entry %q escapes the archive root", hdr.Name)
		}
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		if !slices.Contains(AllowedDirs, path.Clean(name)) {
			return errcode.New(errcode.InvalidInput, "directory %q is not allowed", hdr.Name)
		}
		return nil
	case tar.TypeReg:
		if !slices.Contains(AllowedFiles, path.Base(name)) {
			return errcode.New(errcode.AccessNotPermitted, "file %q is not allowed", hdr.Name)
		}
		return nil
	}
	return errcode.New(errcode.InvalidInput, "entry %q has unsupported type %q", hdr.Name, string(hdr.Typeflag))
}

// Store writes the payload verbatim to p within ns, keeping the content type
// it was uploaded with.
func (v *Validator) Store(ctx context.Context, ns backend.Namespace, p string, payload *Payload) error {
	if err := ns.Upload(ctx, p, payload.Data, payload.ContentType); err != nil {
		v.log.Error().Err(err).Str("path", ns.Prefix()+"/"+p).Msg("store upload")
		return errcode.Storage(err, "upload", ns.Prefix()+"/"+p)
	}
	v.log.Debug().Str("path", ns.Prefix()+"/"+p).Int("bytes", len(payload.Data)).Msg("stored upload")
	return nil
}

// DeleteChart removes the tarball for version. Missing tarballs are ignored.
func (v *Validator) DeleteChart(ctx context.Context, ns backend.Namespace, version *semver.Version) error {
	return v.delete(ctx, ns, versions.TarballPath(version))
}

// DeleteChartProvenance removes the provenance file for version. Missing
// files are ignored.
func (v *Validator) DeleteChartProvenance(ctx context.Context, ns backend.Namespace, version *semver.Version) error {
	return v.delete(ctx, ns, versions.ProvenancePath(version))
}

func (v *Validator) delete(ctx context.Context, ns backend.Namespace, p string) error {
	if err := ns.Delete(ctx, p); err != nil {
		v.log.Error().Err(err).Str("path", ns.Prefix()+"/"+p).Msg("delete object")
		return errcode.Storage(err, "delete", ns.Prefix()+"/"+p)
	}
	return nil
}

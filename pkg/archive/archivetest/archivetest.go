// Package archivetest builds chart archives and multipart upload bodies for
// tests.
package archivetest

import (
	"archive/tar"
	"bytes"
	"mime/multipart"
	"net/textproto"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
)

// Entry is one archive member. Dir entries carry no body; Link entries are
// written as symlinks to Body. Global entries are pax global headers.
type Entry struct {
	Name   string
	Body   string
	Dir    bool
	Link   bool
	Global map[string]string
}

// File is a regular file entry.
func File(name, body string) Entry { return Entry{Name: name, Body: body} }

// Dir is a directory entry.
func Dir(name string) Entry { return Entry{Name: name, Dir: true} }

// Symlink is a symbolic link entry pointing at target.
func Symlink(name, target string) Entry { return Entry{Name: name, Body: target, Link: true} }

// GlobalHeader is a pax global header record, as written by git archive.
func GlobalHeader(records map[string]string) Entry {
	return Entry{Name: "pax_global_header", Global: records}
}

// ChartYAML is a minimal valid Chart.yaml.
func ChartYAML(name, version string) string {
	return "apiVersion: v2\nname: " + name + "\nversion: " + version + "\ndescription: test chart\n"
}

// Tarball builds a gzip-compressed tar archive.
func Tarball(t testing.TB, entries ...Entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(zw)
	mtime := time.Unix(1711238400, 0)
	for _, e := range entries {
		hdr := &tar.Header{Name: e.Name, Mode: 0o644, ModTime: mtime}
		switch {
		case e.Global != nil:
			hdr.Typeflag = tar.TypeXGlobalHeader
			hdr.Mode = 0
			hdr.ModTime = time.Time{}
			hdr.PAXRecords = e.Global
			hdr.Format = tar.FormatPAX
		case e.Dir:
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0o755
		case e.Link:
			hdr.Typeflag = tar.TypeSymlink
			hdr.Linkname = e.Body
		default:
			hdr.Typeflag = tar.TypeReg
			hdr.Size = int64(len(e.Body))
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header %s: %v", e.Name, err)
		}
		if hdr.Typeflag == tar.TypeReg {
			if _, err := tw.Write([]byte(e.Body)); err != nil {
				t.Fatalf("write body %s: %v", e.Name, err)
			}
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}

// Gzip compresses data as a single gzip member.
func Gzip(t testing.TB, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

// Field is one multipart field. An empty ContentType omits the header.
type Field struct {
	Name        string
	ContentType string
	Body        []byte
}

// Multipart encodes fields and returns a reader over them.
func Multipart(t testing.TB, fields ...Field) *multipart.Reader {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for _, f := range fields {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+f.Name+`"; filename="`+f.Name+`.tgz"`)
		if f.ContentType != "" {
			h.Set("Content-Type", f.ContentType)
		}
		pw, err := w.CreatePart(h)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		if _, err := pw.Write(f.Body); err != nil {
			t.Fatalf("write part: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return multipart.NewReader(&buf, w.Boundary())
}

// Upload is a single-field multipart body carrying data as application/gzip.
func Upload(t testing.TB, data []byte) *multipart.Reader {
	t.Helper()
	return Multipart(t, Field{Name: "chart", ContentType: "application/gzip", Body: data})
}

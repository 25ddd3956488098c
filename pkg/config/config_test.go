package config

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e2llm/chartrepo/pkg/archive"
	"github.com/e2llm/chartrepo/pkg/backend"
)

func TestLoadDefaults(t *testing.T) {
	v := New()
	v.Set(KeyRoot, t.TempDir())
	cfg, err := Load(v, "")
	require.NoError(t, err)
	assert.Equal(t, BackendFS, cfg.Backend)
	assert.Equal(t, archive.DefaultMaxSize, cfg.MaxUploadSize)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.False(t, cfg.ReplaceExisting)
}

func TestLoadPrecedence(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "chartrepo.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
root: /from/file
base_url: https://file.example.com
max_upload_size: 1024
log_level: debug
`), 0o644))

	t.Setenv("CHARTREPO_BASE_URL", "https://env.example.com")
	t.Setenv("CHARTREPO_LOG_LEVEL", "warn")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("repo-root", "", "")
	fs.String("log-level", "", "")
	fs.Bool("replace-existing", false, "")
	fs.String("unrelated", "", "")
	require.NoError(t, fs.Parse([]string{"--log-level=error", "--replace-existing"}))

	v := New()
	require.NoError(t, BindFlags(v, fs))
	cfg, err := Load(v, file)
	require.NoError(t, err)

	assert.Equal(t, "/from/file", cfg.Root)
	assert.Equal(t, int64(1024), cfg.MaxUploadSize)
	assert.Equal(t, "https://env.example.com", cfg.BaseURL)
	assert.Equal(t, "error", cfg.LogLevel)
	assert.True(t, cfg.ReplaceExisting)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(New(), filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "read config")
}

func TestValidate(t *testing.T) {
	valid := Config{Backend: BackendFS, Root: "/srv/charts", MaxUploadSize: 1, LogLevel: "info"}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"unknown backend", func(c *Config) { c.Backend = "gcs" }, "not implemented"},
		{"missing root", func(c *Config) { c.Root = "" }, "root is required"},
		{"s3 without uri", func(c *Config) { c.Backend = BackendS3 }, "s3:// URI"},
		{"zero upload size", func(c *Config) { c.MaxUploadSize = 0 }, "must be positive"},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, "unknown log level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid
			tt.mutate(&c)
			assert.ErrorContains(t, c.Validate(), tt.want)
		})
	}

	s3 := Config{Backend: BackendS3, Root: "s3://bucket/charts", MaxUploadSize: 1, LogLevel: "info"}
	assert.NoError(t, s3.Validate())
}

func TestOpenBackendFS(t *testing.T) {
	dir := t.TempDir()
	cfg := Config{Backend: BackendFS, Root: dir}
	b, err := cfg.OpenBackend(context.Background())
	require.NoError(t, err)
	assert.Equal(t, backend.Filesystem, b.Kind())
	assert.Equal(t, dir, b.Root())

	_, err = (&Config{Backend: "ftp"}).OpenBackend(context.Background())
	assert.Error(t, err)
}

func TestLogger(t *testing.T) {
	var buf bytes.Buffer
	log := (&Config{LogLevel: "warn"}).Logger(&buf)
	log.Info().Msg("hidden")
	log.Warn().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestRepoOptions(t *testing.T) {
	cfg := Config{MaxUploadSize: 10, BaseURL: "https://x", ReplaceExisting: true}
	var buf bytes.Buffer
	assert.Len(t, cfg.RepoOptions((&Config{}).Logger(&buf)), 4)
}

package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notesync/notesync/config"
	"github.com/notesync/notesync/errors"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "notesync.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultsWhenNoFile(t *testing.T) {
	cfg, err := config.Load("", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, config.Defaults(), cfg)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
profiles_path: /tmp/profiles.yaml
log:
  level: debug
  format: json
watch:
  enabled: false
  debounce: 150ms
s3:
  concurrency: 2
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, config.Config{
		ProfilesPath: "/tmp/profiles.yaml",
		Log:          config.LogConfig{Level: "debug", Format: "json"},
		Watch:        config.WatchConfig{Enabled: false, Debounce: 150 * time.Millisecond},
		S3:           config.S3Config{Concurrency: 2},
	}, cfg)
}

func TestSearchDirs(t *testing.T) {
	path := writeConfig(t, "log:\n  level: warn\n")

	cfg, err := config.Load("", t.TempDir(), filepath.Dir(path))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
}

func TestEnvironmentOverrides(t *testing.T) {
	path := writeConfig(t, "log:\n  level: debug\n")
	t.Setenv("NOTESYNC_LOG_LEVEL", "error")
	t.Setenv("NOTESYNC_WATCH_DEBOUNCE", "1s")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, time.Second, cfg.Watch.Debounce)
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		path    func(t *testing.T) string
		wantErr errors.ErrorCode
	}{
		{
			name:    "explicit file missing",
			path:    func(t *testing.T) string { return filepath.Join(t.TempDir(), "missing.yaml") },
			wantErr: errors.CodeFSNotFound,
		},
		{
			name:    "malformed yaml",
			path:    func(t *testing.T) string { return writeConfig(t, "log: [") },
			wantErr: errors.CodeValidation,
		},
		{
			name:    "unknown level",
			path:    func(t *testing.T) string { return writeConfig(t, "log:\n  level: loud\n") },
			wantErr: errors.CodeValidation,
		},
		{
			name:    "unknown format",
			path:    func(t *testing.T) string { return writeConfig(t, "log:\n  format: xml\n") },
			wantErr: errors.CodeValidation,
		},
		{
			name:    "zero concurrency",
			path:    func(t *testing.T) string { return writeConfig(t, "s3:\n  concurrency: 0\n") },
			wantErr: errors.CodeValidation,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := config.Load(tt.path(t))
			require.Error(t, err)
			assert.Equal(t, tt.wantErr, errors.CodeOf(err))
		})
	}
}

func TestTemplateMatchesDefaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, config.DefaultTemplate()))
	require.NoError(t, err)
	assert.Equal(t, config.Defaults(), cfg)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"":        slog.LevelInfo,
		"INFO":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := config.ParseLevel(in)
		require.NoError(t, err)
		assert.Equal(t, want, got, in)
	}
}

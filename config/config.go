// Package config loads the application settings that are not part of a
// profile: logging, where profiles are kept and watcher/transfer tuning.
//
// Values come from notesync.yaml (by default under the XDG config home),
// overridden by NOTESYNC_* environment variables.
package config

import (
	stderrors "errors"
	iofs "io/fs"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/notesync/notesync/errors"
)

const (
	// FileName is the config file name without extension.
	FileName = "notesync"

	// EnvPrefix prefixes every environment override, e.g. NOTESYNC_LOG_LEVEL.
	EnvPrefix = "NOTESYNC"
)

// Config holds all application settings.
type Config struct {
	// ProfilesPath is the profile store file. Empty means the XDG default.
	ProfilesPath string      `mapstructure:"profiles_path"`
	Log          LogConfig   `mapstructure:"log"`
	Watch        WatchConfig `mapstructure:"watch"`
	S3           S3Config    `mapstructure:"s3"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

// WatchConfig tunes the working-copy watcher.
type WatchConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Debounce time.Duration `mapstructure:"debounce"`
}

// S3Config tunes S3 transfers.
type S3Config struct {
	Concurrency int `mapstructure:"concurrency"`
}

// Defaults returns a Config with default values.
func Defaults() Config {
	return Config{
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Watch: WatchConfig{
			Enabled:  true,
			Debounce: 300 * time.Millisecond,
		},
		S3: S3Config{
			Concurrency: 8,
		},
	}
}

// DefaultDir is the directory searched for notesync.yaml when no file is
// given.
func DefaultDir() string {
	return filepath.Join(xdg.ConfigHome, "notesync")
}

// Load reads the config. With a non-empty path that file must exist;
// otherwise notesync.yaml is looked up in dirs (DefaultDir when none are
// given) and a missing file leaves the defaults in place.
func Load(path string, dirs ...string) (Config, error) {
	const op = "config.load"

	v := viper.New()
	setDefaults(v, Defaults())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		if len(dirs) == 0 {
			dirs = []string{DefaultDir()}
		}
		v.SetConfigName(FileName)
		v.SetConfigType("yaml")
		for _, dir := range dirs {
			v.AddConfigPath(dir)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case stderrors.Is(err, iofs.ErrNotExist):
			return Config{}, errors.FromFS(op, err)
		case path != "" || !stderrors.As(err, &notFound):
			return Config{}, errors.Wrap(errors.CodeValidation, op, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errors.New(errors.CodeValidation, op, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("profiles_path", d.ProfilesPath)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("watch.enabled", d.Watch.Enabled)
	v.SetDefault("watch.debounce", d.Watch.Debounce)
	v.SetDefault("s3.concurrency", d.S3.Concurrency)
}

// Validate checks enumerations and ranges.
func (c Config) Validate() error {
	const op = "config.validate"

	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		return errors.Newf(errors.CodeValidation, op, "log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Watch.Debounce < 0 {
		return errors.Newf(errors.CodeValidation, op, "watch.debounce must not be negative")
	}
	if c.S3.Concurrency < 1 {
		return errors.Newf(errors.CodeValidation, op, "s3.concurrency must be at least 1, got %d", c.S3.Concurrency)
	}
	return nil
}

// ParseLevel maps a level name to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, errors.Newf(errors.CodeValidation, "config.validate", "unknown log level %q", s)
	}
}

// DefaultTemplate returns a commented notesync.yaml with the default values.
func DefaultTemplate() string {
	return `# notesync configuration

# Profile store (default: $XDG_CONFIG_HOME/notesync/profiles.yaml)
# profiles_path: /path/to/profiles.yaml

log:
  level: info   # debug, info, warn, error
  format: text  # text, json

# Publish status when files change outside notesync
watch:
  enabled: true
  debounce: 300ms

s3:
  concurrency: 8  # parallel uploads and downloads
`
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/notesync/notesync/config"
	"github.com/notesync/notesync/profile"
	"github.com/notesync/notesync/repo"
	"github.com/notesync/notesync/secrets"
	"github.com/notesync/notesync/session"
)

var (
	// Set by the release build
	version = "dev"
	commit  = "none"
	date    = "unknown"

	// Global flags
	cfgFile    string
	logLevel   string
	logFormat  string
	profileRef string
	jsonOutput bool
	traceSpans bool

	// Logs go to stderr so that command output on stdout stays parseable.
	logOutput io.Writer = os.Stderr
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "notesync",
	Short: "Synchronize a notes folder with Git, S3 or nothing at all",
	Long: `notesync keeps a local tree of notes in sync with a remote: a Git repository,
an S3 bucket prefix with versioning enabled, or no remote for a plain folder.

Each profile names one working copy and its remote. Commands act on the active
profile unless --profile is given.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "notesync %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", commit)
		fmt.Fprintf(out, "  built:  %s\n", date)
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print a commented default configuration file",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), config.DefaultTemplate())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/notesync/notesync.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error); overrides the config file")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (text, json); overrides the config file")
	rootCmd.PersistentFlags().StringVarP(&profileRef, "profile", "p", "", "profile name or ID to activate (default is the active profile)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print results as JSON")
	rootCmd.PersistentFlags().BoolVar(&traceSpans, "trace", false, "write sync trace spans to the log output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

// app is what every command needs before it can touch a profile.
type app struct {
	cfg    config.Config
	logger *slog.Logger
	store  *profile.Store
}

func setup() (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	logger := setupLogger(cfg.Log)

	path := cfg.ProfilesPath
	if path == "" {
		if path, err = profile.DefaultPath(); err != nil {
			return nil, fmt.Errorf("failed to locate profile store: %w", err)
		}
	}
	logger.Debug("configuration loaded", "profiles", path, "watch", cfg.Watch.Enabled)

	return &app{
		cfg:    cfg,
		logger: logger,
		store:  profile.Open(path, profile.WithLogger(logger)),
	}, nil
}

func setupLogger(cfg config.LogConfig) *slog.Logger {
	level, err := config.ParseLevel(cfg.Level)
	if err != nil {
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(logOutput, opts)
	} else {
		handler = slog.NewTextHandler(logOutput, opts)
	}

	return slog.New(handler)
}

// open activates the selected profile and opens its working copy. The caller
// closes the returned manager.
func (a *app) open(ctx context.Context, watch bool) (*session.Manager, *session.Session, repo.OpenResult, error) {
	sessionOpts := []session.Option{}
	if watch && a.cfg.Watch.Enabled {
		sessionOpts = append(sessionOpts, session.WithWatch(a.cfg.Watch.Debounce))
	}

	resolver := secrets.NewResolver(
		secrets.WithLogger(a.logger),
		secrets.WithBackend(secrets.NewAWSBackend(secrets.WithAWSLogger(a.logger))),
	)
	m := session.NewManager(a.store,
		session.WithFactory(session.DefaultFactory(a.logger, a.cfg.S3.Concurrency, resolver)),
		session.WithManagerLogger(a.logger),
		session.WithSessionOptions(sessionOpts...),
	)

	var (
		s   *session.Session
		err error
	)
	if profileRef != "" {
		p, ferr := a.store.Find(profileRef)
		if ferr != nil {
			return nil, nil, repo.OpenResult{}, ferr
		}
		s, err = m.Activate(ctx, p.ID)
	} else {
		s, err = m.Resume(ctx)
	}
	if err != nil {
		return nil, nil, repo.OpenResult{}, err
	}

	res, err := s.OpenOrClone(ctx)
	if err != nil {
		_ = m.Close()
		return nil, nil, repo.OpenResult{}, err
	}
	return m, s, res, nil
}

// withSession runs fn against the opened active session.
func withSession(watch bool, fn func(ctx context.Context, s *session.Session) error) error {
	ctx, cancel := setupSignalHandler()
	defer cancel()

	a, err := setup()
	if err != nil {
		return err
	}
	if traceSpans {
		shutdown, err := setupTracing(logOutput)
		if err != nil {
			return err
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				a.logger.Warn("failed to flush traces", "error", err)
			}
		}()
	}

	m, s, _, err := a.open(ctx, watch)
	if err != nil {
		return err
	}
	defer func() {
		if err := m.Close(); err != nil {
			a.logger.Warn("failed to close session", "error", err)
		}
	}()

	return fn(ctx, s)
}

// setupTracing installs a global tracer provider that prints every span to w.
func setupTracing(w io.Writer) (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithWriter(w))
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setupSignalHandler() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		select {
		case <-sigCh:
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()

	return ctx, cancel
}

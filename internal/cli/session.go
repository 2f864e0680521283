package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"slices"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/rsq/internal/access"
	"github.com/roach88/rsq/internal/config"
	"github.com/roach88/rsq/internal/metrics"
	"github.com/roach88/rsq/internal/store"
)

// session is the per-invocation wiring every data command shares.
type session struct {
	cfg      config.Config
	store    *store.Store
	client   *access.Client
	users    *store.Users
	registry *prometheus.Registry
}

// resolveConfig layers defaults, the config file, .env files and the
// environment, then flags that were set explicitly.
func resolveConfig(cmd *cobra.Command, opts *RootOptions) (config.Config, error) {
	cfg := config.Default()
	if opts.ConfigPath != "" {
		loaded, err := config.Load(opts.ConfigPath)
		if err != nil {
			return config.Config{}, err
		}
		cfg = loaded
	}
	if err := config.ApplyEnv(&cfg, opts.EnvFiles...); err != nil {
		return config.Config{}, err
	}

	flags := cmd.Flags()
	if flags.Changed("driver") {
		cfg.Database.Driver = opts.Driver
	}
	if flags.Changed("db") {
		cfg.Database.DSN = opts.Database
	}
	if flags.Changed("page-size") {
		cfg.PageSize = opts.PageSize
	}
	if flags.Changed("max-attempts") {
		cfg.Retry.MaxAttempts = opts.MaxAttempts
	}
	if flags.Changed("retry-delay") {
		cfg.Retry.Delay = config.Duration(opts.RetryDelay)
	}
	if flags.Changed("concurrency") {
		cfg.ConcurrencyLimit = opts.Concurrency
	}
	if opts.NoCache {
		cfg.CacheEnabled = false
	}

	if err := config.Validate(cfg); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// openSession resolves the configuration and opens the store. Failures
// here are command errors (exit 2).
func openSession(cmd *cobra.Command, opts *RootOptions) (*session, error) {
	cfg, err := resolveConfig(cmd, opts)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "configuration error", err)
	}
	if cfg.LogQueries && !opts.Verbose {
		setupLogging(true)
	}

	st, err := store.Open(cfg.StoreConfig())
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	reg := prometheus.NewRegistry()
	collector, err := metrics.New(reg)
	if err != nil {
		st.Close()
		return nil, WrapExitError(ExitCommandError, "failed to register metrics", err)
	}

	clientOpts := append(cfg.ClientOptions(),
		access.WithDialect(st.Dialect()),
		access.WithObserver(collector),
	)
	if cfg.LogQueries {
		clientOpts = append(clientOpts, access.WithQueryLogger(slog.Default()))
	}
	client := access.New(st, clientOpts...)

	slog.Debug("session opened",
		"driver", cfg.Database.Driver,
		"page_size", cfg.PageSize,
		"cache", cfg.CacheEnabled,
		"max_attempts", cfg.Retry.MaxAttempts)

	return &session{
		cfg:      cfg,
		store:    st,
		client:   client,
		users:    store.NewUsers(client),
		registry: reg,
	}, nil
}

// close reports metrics when verbose and closes the store.
func (s *session) close(f *OutputFormatter) {
	if f.Verbose {
		s.writeMetrics(f.GetErrWriter())
	}
	if err := s.store.Close(); err != nil {
		slog.Warn("failed to close store", "error", err)
	}
}

func (s *session) writeMetrics(w io.Writer) {
	snap, err := metrics.Snapshot(s.registry)
	if err != nil {
		slog.Warn("failed to gather metrics", "error", err)
		return
	}
	fmt.Fprintln(w, "Metrics:")
	for _, name := range slices.Sorted(maps.Keys(snap)) {
		fmt.Fprintf(w, "  %s %g\n", name, snap[name])
	}
}

// newFormatter builds the formatter for cmd's output streams.
func newFormatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// runWithSession opens a session, runs fn and maps its error to ExitFailure.
func runWithSession(cmd *cobra.Command, opts *RootOptions, fn func(ctx context.Context, s *session, f *OutputFormatter) error) error {
	f := newFormatter(cmd, opts)
	s, err := openSession(cmd, opts)
	if err != nil {
		return err
	}
	defer s.close(f)

	if err := fn(cmd.Context(), s, f); err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			return err
		}
		return WrapExitError(ExitFailure, cmd.Name()+" failed", err)
	}
	return nil
}

package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// ConfigPath is an optional YAML file loaded over the defaults.
	ConfigPath string

	// EnvFiles are .env files read for database settings.
	EnvFiles []string

	Database    string
	Driver      string
	PageSize    int
	MaxAttempts int
	RetryDelay  time.Duration
	Concurrency int
	NoCache     bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the rsq CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "rsq",
		Short: "rsq - resilient store queries",
		Long: "Run scoped, retried and cached queries against the user_data table.\n" +
			"Database settings come from --config, then .env / environment\n" +
			"(DB_USER, DB_PASSWORD, DB_HOST, DB_NAME or RSQ_DB_DRIVER, RSQ_DB_DSN),\n" +
			"then command-line flags.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			setupLogging(opts.Verbose)
			return nil
		},
	}

	// Global flags
	pf := cmd.PersistentFlags()
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	pf.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "path to a YAML config file")
	pf.StringSliceVar(&opts.EnvFiles, "env-file", []string{".env"}, "dotenv files with database settings")
	pf.StringVar(&opts.Database, "db", "", "database DSN (a file path for sqlite3)")
	pf.StringVar(&opts.Driver, "driver", "", "database driver (sqlite3|mysql|postgres)")
	pf.IntVar(&opts.PageSize, "page-size", 0, "default page size")
	pf.IntVar(&opts.MaxAttempts, "max-attempts", 0, "attempts per operation, including the first")
	pf.DurationVar(&opts.RetryDelay, "retry-delay", 0, "pause between attempts")
	pf.IntVar(&opts.Concurrency, "concurrency", 0, "max concurrent fetch tasks (0 keeps the configured value)")
	pf.BoolVar(&opts.NoCache, "no-cache", false, "disable the result cache")

	cmd.AddCommand(NewSeedCommand(opts))
	cmd.AddCommand(NewStreamCommand(opts))
	cmd.AddCommand(NewPagesCommand(opts))
	cmd.AddCommand(NewAverageAgeCommand(opts))
	cmd.AddCommand(NewGatherCommand(opts))
	cmd.AddCommand(NewGetCommand(opts))
	cmd.AddCommand(NewUpdateEmailCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}

// Execute runs the CLI with args and returns the process exit code.
// Errors are rendered in the selected format: JSON errors go to stdout
// next to JSON results, text errors to stderr.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cmd := NewRootCommand()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	// Errors cobra raises itself (unknown command, wrong arg count, bad
	// flag values) are command errors.
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		err = WrapExitError(ExitCommandError, "invalid command", err)
	}

	format, _ := cmd.PersistentFlags().GetString("format")
	f := &OutputFormatter{Format: "text", Writer: stderr, ErrWriter: stderr}
	if format == "json" {
		f.Format = "json"
		f.Writer = stdout
	}
	return ReportError(f, err)
}

// setupLogging installs the default slog handler on stderr.
func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

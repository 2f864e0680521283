package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/rsq/internal/access"
	"github.com/roach88/rsq/internal/store"
)

// SeedOptions holds flags for the seed command.
type SeedOptions struct {
	*RootOptions
}

// NewSeedCommand creates the seed command.
func NewSeedCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SeedOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "seed <file.csv>",
		Short: "Load users from a CSV file",
		Long: `Insert users from a CSV file with a name,email,age header.

Every row gets a fresh UUID. Rows whose email already exists are skipped,
so seeding the same file twice is harmless. The whole file is inserted in
one transaction.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeed(opts, args[0], cmd)
		},
	}
	return cmd
}

func runSeed(opts *SeedOptions, path string, cmd *cobra.Command) error {
	file, err := os.Open(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open seed file", err)
	}
	defer file.Close()

	return runWithSession(cmd, opts.RootOptions, func(ctx context.Context, s *session, f *OutputFormatter) error {
		res, err := s.users.Seed(ctx, file)
		if err != nil {
			return err
		}
		if f.Format == "json" {
			return f.Success(res)
		}
		return f.Success(fmt.Sprintf("Seeded %d user(s), skipped %d existing", res.Inserted, res.Skipped))
	})
}

// StreamOptions holds flags for the stream command.
type StreamOptions struct {
	*RootOptions
	Limit int
}

// NewStreamCommand creates the stream command.
func NewStreamCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StreamOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream every user one row at a time",
		Long: `Stream users ordered by name over a single held connection.
Only the current row is kept in memory.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "stop after this many rows (0 = all)")
	return cmd
}

func runStream(opts *StreamOptions, cmd *cobra.Command) error {
	return runWithSession(cmd, opts.RootOptions, func(ctx context.Context, s *session, f *OutputFormatter) error {
		stream, err := s.users.Stream(ctx)
		if err != nil {
			return err
		}

		var collected []store.User
		count := 0
		for u, err := range stream.All() {
			if err != nil {
				return err
			}
			if f.Format == "json" {
				collected = append(collected, u)
			} else {
				fmt.Fprintln(f.Writer, formatUser(u))
			}
			count++
			if opts.Limit > 0 && count >= opts.Limit {
				break
			}
		}

		if f.Format == "json" {
			if collected == nil {
				collected = []store.User{}
			}
			return f.Success(collected)
		}
		f.VerboseLog("Streamed %d user(s)", count)
		return nil
	})
}

// PagesOptions holds flags for the pages command.
type PagesOptions struct {
	*RootOptions
	Size      int
	MaxPages  int
	OlderThan float64
}

// NewPagesCommand creates the pages command.
func NewPagesCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PagesOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "pages",
		Short: "List users page by page",
		Long: `Fetch users in pages of --size rows using LIMIT/OFFSET.
Each page is its own retried query on a fresh connection. With --older-than
only users strictly older than the given age are listed.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPages(opts, cmd)
		},
	}

	cmd.Flags().IntVar(&opts.Size, "size", 0, "rows per page (0 = configured page size)")
	cmd.Flags().IntVar(&opts.MaxPages, "max", 0, "stop after this many pages (0 = all)")
	cmd.Flags().Float64Var(&opts.OlderThan, "older-than", -1, "only users older than this age")
	return cmd
}

// pageOutput is the JSON form of one page.
type pageOutput struct {
	Number int          `json:"number"`
	Offset int          `json:"offset"`
	Users  []store.User `json:"users"`
}

func runPages(opts *PagesOptions, cmd *cobra.Command) error {
	return runWithSession(cmd, opts.RootOptions, func(ctx context.Context, s *session, f *OutputFormatter) error {
		size := opts.Size
		if size == 0 {
			size = s.client.PageSize()
		}

		var (
			pager *access.Paginator[store.User]
			err   error
		)
		if opts.OlderThan >= 0 {
			pager, err = s.users.BatchesOlderThan(opts.OlderThan, size)
		} else {
			pager, err = s.users.Pages(size)
		}
		if err != nil {
			return WrapExitError(ExitCommandError, "invalid page size", err)
		}
		defer pager.Close()

		pages := []pageOutput{}
		for page, err := range pager.All(ctx) {
			if err != nil {
				return err
			}
			if f.Format == "json" {
				pages = append(pages, pageOutput{Number: page.Number, Offset: page.Offset, Users: page.Rows})
			} else {
				fmt.Fprintf(f.Writer, "Page #%d (offset %d, %d row(s))\n", page.Number, page.Offset, len(page.Rows))
				for _, u := range page.Rows {
					fmt.Fprintf(f.Writer, "  %s\n", formatUser(u))
				}
			}
			if opts.MaxPages > 0 && page.Number >= opts.MaxPages {
				break
			}
		}

		if f.Format == "json" {
			return f.Success(pages)
		}
		return nil
	})
}

// NewAverageAgeCommand creates the average-age command.
func NewAverageAgeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "average-age",
		Short:         "Compute the average age by streaming ages",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithSession(cmd, rootOpts, func(ctx context.Context, s *session, f *OutputFormatter) error {
				avg, err := s.users.AverageAge(ctx)
				if err != nil {
					return err
				}
				if f.Format == "json" {
					return f.Success(map[string]float64{"average_age": avg})
				}
				return f.Success(fmt.Sprintf("Average age of users: %.2f", avg))
			})
		},
	}
}

// GatherOptions holds flags for the gather command.
type GatherOptions struct {
	*RootOptions
	Age float64
}

// NewGatherCommand creates the gather command.
func NewGatherCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &GatherOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "gather",
		Short: "Fetch all users and older users concurrently",
		Long: `Run two independent reads in parallel, each on its own connection
with its own retry policy. If either fails the command fails and reports
every failed read.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGather(opts, cmd)
		},
	}

	cmd.Flags().Float64Var(&opts.Age, "age", 40, "age threshold for the second read")
	return cmd
}

func runGather(opts *GatherOptions, cmd *cobra.Command) error {
	return runWithSession(cmd, opts.RootOptions, func(ctx context.Context, s *session, f *OutputFormatter) error {
		snap, err := s.users.FetchConcurrently(ctx, opts.Age)
		if err != nil {
			return err
		}
		if f.Format == "json" {
			return f.Success(snap)
		}
		fmt.Fprintf(f.Writer, "All users (%d):\n", len(snap.All))
		for _, u := range snap.All {
			fmt.Fprintf(f.Writer, "  %s\n", formatUser(u))
		}
		fmt.Fprintf(f.Writer, "Users older than %g (%d):\n", opts.Age, len(snap.Older))
		for _, u := range snap.Older {
			fmt.Fprintf(f.Writer, "  %s\n", formatUser(u))
		}
		return nil
	})
}

// NewGetCommand creates the get command.
func NewGetCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "get <user-id>",
		Short:         "Look up one user by id",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithSession(cmd, rootOpts, func(ctx context.Context, s *session, f *OutputFormatter) error {
				u, err := s.users.ByID(ctx, args[0])
				if err != nil {
					return notFoundToExit(err)
				}
				if f.Format == "json" {
					return f.Success(u)
				}
				return f.Success(formatUser(u))
			})
		},
	}
}

// NewUpdateEmailCommand creates the update-email command.
func NewUpdateEmailCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "update-email <user-id> <email>",
		Short:         "Change a user's email in one transaction",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			id, email := args[0], strings.TrimSpace(args[1])
			if email == "" {
				return NewExitError(ExitCommandError, "email must not be empty")
			}
			return runWithSession(cmd, rootOpts, func(ctx context.Context, s *session, f *OutputFormatter) error {
				if err := s.users.UpdateEmail(ctx, id, email); err != nil {
					return notFoundToExit(err)
				}
				if f.Format == "json" {
					return f.Success(map[string]string{"user_id": id, "email": email})
				}
				return f.Success(fmt.Sprintf("Updated email of %s", id))
			})
		},
	}
}

// NewConfigCommand creates the config command.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "config",
		Short:         "Print the resolved configuration",
		Long:          "Print the configuration after file, environment and flags are applied. Passwords are masked.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := resolveConfig(cmd, rootOpts)
			if err != nil {
				return WrapExitError(ExitCommandError, "configuration error", err)
			}
			f := newFormatter(cmd, rootOpts)
			_, err = io.WriteString(f.Writer, cfg.String())
			return err
		},
	}
}

func notFoundToExit(err error) error {
	if errors.Is(err, store.ErrUserNotFound) {
		return WrapExitError(ExitFailure, "user not found", err)
	}
	return err
}

func formatUser(u store.User) string {
	return fmt.Sprintf("%-36s  %-16s  %-28s  %6.2f", u.ID, u.Name, u.Email, u.Age)
}

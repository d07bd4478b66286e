package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

// withSpinner shows a spinner on stderr while fn runs
func withSpinner(label string, fn func() error) error {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
	s.Suffix = " " + label
	s.Start()
	defer s.Stop()
	return fn()
}

func statsCommand() *cli.Command {
	var (
		cfg     config
		owner   string
		subject string
	)

	flags := ownerFlags(&owner, &subject)
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:  "stats",
		Usage: "Show the collection statistics of an owner",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			a, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			stats, err := a.uc.Stats(ctx, owner)
			if err != nil {
				return goerr.Wrap(err, "failed to get stats")
			}
			return printJSON(c.Root().Writer, stats)
		},
	}
}

func reindexCommand() *cli.Command {
	var (
		cfg     config
		owner   string
		subject string
	)

	flags := ownerFlags(&owner, &subject)
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:  "reindex",
		Usage: "Rebuild the collection of an owner from the message store",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			a, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			var n int
			if err := withSpinner("reindexing "+owner, func() error {
				n, err = a.uc.Reindex(ctx, owner)
				return err
			}); err != nil {
				return goerr.Wrap(err, "failed to reindex")
			}

			fmt.Fprintf(c.Root().Writer, "reindexed %d messages\n", n)
			return nil
		},
	}
}

func compactCommand() *cli.Command {
	var (
		cfg     config
		owner   string
		subject string
	)

	flags := ownerFlags(&owner, &subject)
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:  "compact",
		Usage: "Reclaim the slots of deleted records in a collection",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			a, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			var n int
			if err := withSpinner("compacting "+owner, func() error {
				n, err = a.uc.Compact(ctx, owner)
				return err
			}); err != nil {
				return goerr.Wrap(err, "failed to compact")
			}

			fmt.Fprintf(c.Root().Writer, "reclaimed %d slots\n", n)
			return nil
		},
	}
}

func clearCommand() *cli.Command {
	var (
		cfg     config
		owner   string
		subject string
	)

	flags := ownerFlags(&owner, &subject)
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:  "clear",
		Usage: "Forget the vector memories of an owner. Stored messages are kept for reindex",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			a, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			if err := a.uc.ClearMemories(ctx, owner); err != nil {
				return err
			}
			fmt.Fprintf(c.Root().Writer, "cleared memories of %s\n", owner)
			return nil
		},
	}
}

package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/m-mizutani/kioku/pkg/usecase/memory"
	"github.com/urfave/cli/v3"
)

func retrieveCommand() *cli.Command {
	var (
		cfg       config
		owner     string
		subject   string
		maxChunks int64
		budget    int64
		asJSON    bool
	)

	flags := ownerFlags(&owner, &subject)
	flags = append(flags,
		&cli.IntFlag{
			Name:        "max-chunks",
			Aliases:     []string{"n"},
			Usage:       "Maximum number of memories. Zero uses the configured value",
			Destination: &maxChunks,
		},
		&cli.IntFlag{
			Name:        "budget",
			Usage:       "Prompt budget in tokens. Zero uses the configured value",
			Destination: &budget,
		},
		&cli.BoolFlag{
			Name:        "json",
			Usage:       "Print the full result as JSON",
			Destination: &asJSON,
		},
	)
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:      "retrieve",
		Usage:     "Retrieve memories related to a query as a prompt block",
		ArgsUsage: "[query...]",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			query, err := textArg(c, os.Stdin)
			if err != nil {
				return err
			}

			a, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			opts := memory.RetrieveOptions{TokenBudget: int(budget)}
			if maxChunks > 0 {
				rc := a.file.Retrieval
				rc.MaxChunks = int(maxChunks)
				opts.Config = &rc
			}

			res := a.uc.RetrieveContext(ctx, owner, subject, query, opts)
			if asJSON {
				return printJSON(c.Root().Writer, res)
			}

			fmt.Fprintln(c.Root().Writer, res.Prompt)
			return nil
		},
	}
}

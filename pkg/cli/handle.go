package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/m-mizutani/kioku/pkg/usecase/memory"
	"github.com/urfave/cli/v3"
)

func handleFlags(hc *handleConfig) []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "max-memories",
			Usage:       "Maximum number of memories",
			Value:       5,
			Destination: &hc.maxMemories,
		},
		&cli.FloatFlag{
			Name:        "min-score",
			Usage:       "Minimum fused score",
			Value:       0.5,
			Destination: &hc.minScore,
		},
		&cli.IntFlag{
			Name:        "query-budget",
			Usage:       "Prompt budget in tokens for memory queries",
			Value:       1000,
			Destination: &hc.budget,
		},
	}
}

type handleConfig struct {
	maxMemories int64
	minScore    float64
	budget      int64
}

func (hc *handleConfig) memoryConfig() memory.HandleConfig {
	return memory.HandleConfig{
		MaxMemories: int(hc.maxMemories),
		MinScore:    hc.minScore,
		TokenBudget: int(hc.budget),
	}
}

func handleCommand() *cli.Command {
	var (
		cfg     config
		hc      handleConfig
		owner   string
		subject string
		asJSON  bool
	)

	flags := ownerFlags(&owner, &subject)
	flags = append(flags, handleFlags(&hc)...)
	flags = append(flags, &cli.BoolFlag{
		Name:        "json",
		Usage:       "Print the full result as JSON",
		Destination: &asJSON,
	})
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:      "handle",
		Usage:     "Answer a question about the past with the memories that match it",
		ArgsUsage: "[message...]",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			message, err := textArg(c, os.Stdin)
			if err != nil {
				return err
			}

			a, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			res := a.uc.HandleMemoryQuery(ctx, message, owner, subject, hc.memoryConfig())
			if asJSON {
				return printJSON(c.Root().Writer, res)
			}

			w := c.Root().Writer
			if !res.Detected {
				fmt.Fprintf(w, "not a memory query (confidence %.2f)\n", res.Detection.Confidence)
				return nil
			}
			fmt.Fprintf(w, "%s query, %d memories in %s\n\n",
				res.Detection.QueryType, res.Metadata.MemoriesFound, res.Metadata.SearchTime)
			fmt.Fprintln(w, res.ContextPrompt)
			return nil
		},
	}
}

package cli

import (
	"context"
	"os"

	"github.com/m-mizutani/kioku/pkg/classifier"
	"github.com/urfave/cli/v3"
)

func detectCommand() *cli.Command {
	var cfg config

	return &cli.Command{
		Name:      "detect",
		Usage:     "Classify whether a message asks about the past",
		ArgsUsage: "[message...]",
		Flags:     globalFlags(&cfg),
		Action: func(ctx context.Context, c *cli.Command) error {
			cfg.setupLogger(ctx)

			message, err := textArg(c, os.Stdin)
			if err != nil {
				return err
			}
			return printJSON(c.Root().Writer, classifier.Classify(message))
		},
	}
}

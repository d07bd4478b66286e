package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/usecase/memory"
	"github.com/urfave/cli/v3"
)

func storeCommand() *cli.Command {
	var (
		cfg     config
		owner   string
		subject string
		role    string
	)

	flags := ownerFlags(&owner, &subject)
	flags = append(flags, &cli.StringFlag{
		Name:        "role",
		Aliases:     []string{"r"},
		Usage:       "Message role (user, assistant, system)",
		Value:       model.RoleUser,
		Destination: &role,
	})
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:      "store",
		Usage:     "Remember a message. Reads stdin when no text is given",
		ArgsUsage: "[text...]",
		Flags:     flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			content, err := textArg(c, os.Stdin)
			if err != nil {
				return err
			}

			a, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			res := a.uc.StoreMessage(ctx, owner, subject, memory.StoreInput{
				Content: content,
				Role:    role,
			})
			if res.Skipped != "" {
				return goerr.New("message not stored",
					goerr.V("reason", res.Skipped),
					goerr.V("details", res.Reasons))
			}

			fmt.Fprintf(c.Root().Writer, "stored message %s (%d chunks)\n", res.MessageID, len(res.RecordIDs))
			return nil
		},
	}
}

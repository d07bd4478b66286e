package cli

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/urfave/cli/v3"
)

type Error struct {
	Code    int
	Message string
}

func Run(ctx context.Context, argv []string) *Error {
	cmd := &cli.Command{
		Name:  "kioku",
		Usage: "Semantic memory retrieval engine for conversational agents",
		Commands: []*cli.Command{
			storeCommand(),
			retrieveCommand(),
			detectCommand(),
			handleCommand(),
			replCommand(),
			importCommand(),
			statsCommand(),
			reindexCommand(),
			compactCommand(),
			clearCommand(),
			serveCommand(),
		},
	}

	if err := cmd.Run(ctx, argv); err != nil {
		return &Error{
			Code:    1,
			Message: err.Error(),
		}
	}

	return nil
}

// ownerFlags returns the flags selecting whose memory a command works on
func ownerFlags(owner, subject *string) []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "owner",
			Aliases:     []string{"o"},
			Usage:       "Owner of the memory, usually the agent ID",
			Sources:     cli.EnvVars("KIOKU_OWNER_ID"),
			Destination: owner,
			Required:    true,
		},
		&cli.StringFlag{
			Name:        "subject",
			Aliases:     []string{"s"},
			Usage:       "User the memories are about",
			Sources:     cli.EnvVars("KIOKU_SUBJECT_ID"),
			Destination: subject,
		},
	}
}

// textArg joins the positional arguments, or reads r when there are none
func textArg(c *cli.Command, r io.Reader) (string, error) {
	if c.Args().Len() > 0 {
		return strings.Join(c.Args().Slice(), " "), nil
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", goerr.Wrap(err, "failed to read input")
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "", goerr.New("input text is required")
	}
	return text, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return goerr.Wrap(err, "failed to encode output")
	}
	return nil
}

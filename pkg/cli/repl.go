package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/usecase/memory"
	"github.com/urfave/cli/v3"
)

const replHelp = `Every line is checked for a question about the past, then remembered.
  /assistant <text>  remember a reply of the assistant
  /retrieve <text>   show the memories related to text
  /stats             show the collection size
  /exit              quit`

func replCommand() *cli.Command {
	var (
		cfg     config
		hc      handleConfig
		owner   string
		subject string
	)

	flags := ownerFlags(&owner, &subject)
	flags = append(flags, handleFlags(&hc)...)
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:  "repl",
		Usage: "Talk to the memory engine interactively",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			a, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			rl, err := readline.NewEx(&readline.Config{
				Prompt:          "> ",
				HistoryFile:     filepath.Join(os.TempDir(), "kioku_history"),
				InterruptPrompt: "^C",
				EOFPrompt:       "/exit",
			})
			if err != nil {
				return goerr.Wrap(err, "failed to start line editor")
			}
			defer rl.Close()

			w := rl.Stdout()
			fmt.Fprintf(w, "Memory session for %s started. Type /help for commands.\n", owner)

			for {
				line, err := rl.Readline()
				if errors.Is(err, readline.ErrInterrupt) {
					if line == "" {
						return nil
					}
					continue
				}
				if errors.Is(err, io.EOF) {
					return nil
				}
				if err != nil {
					return goerr.Wrap(err, "failed to read line")
				}

				line = strings.TrimSpace(line)
				if line == "" {
					continue
				}
				if !runReplLine(ctx, w, a.uc, owner, subject, &hc, line) {
					return nil
				}
			}
		},
	}
}

// runReplLine handles one line and reports whether the session goes on
func runReplLine(ctx context.Context, w io.Writer, uc *memory.UseCase, owner, subject string, hc *handleConfig, line string) bool {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/exit", "/quit":
		return false

	case "/help":
		fmt.Fprintln(w, replHelp)

	case "/stats":
		stats, err := uc.Stats(ctx, owner)
		if err != nil {
			fmt.Fprintf(w, "error: %v\n", err)
			break
		}
		fmt.Fprintf(w, "%d memories, %d tombstones, capacity %d, dimension %d\n",
			stats.Size, stats.Tombstones, stats.Capacity, stats.Dimension)

	case "/retrieve":
		res := uc.RetrieveContext(ctx, owner, subject, arg, memory.RetrieveOptions{})
		fmt.Fprintln(w, res.Summary)

	case "/assistant":
		res := uc.StoreMessage(ctx, owner, subject, memory.StoreInput{Content: arg, Role: model.RoleAssistant})
		if res.Skipped != "" {
			fmt.Fprintf(w, "(not remembered: %s)\n", res.Skipped)
		}

	default:
		res := uc.HandleMemoryQuery(ctx, line, owner, subject, hc.memoryConfig())
		if res.Detected {
			fmt.Fprintf(w, "[%s query, confidence %.2f]\n%s\n",
				res.Detection.QueryType, res.Detection.Confidence, res.ContextPrompt)
		}

		stored := uc.StoreMessage(ctx, owner, subject, memory.StoreInput{Content: line, Role: model.RoleUser})
		if stored.Skipped != "" {
			fmt.Fprintf(w, "(not remembered: %s)\n", stored.Skipped)
		}
	}
	return true
}

package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/model"
	"github.com/m-mizutani/kioku/pkg/usecase/memory"
	"github.com/m-mizutani/kioku/pkg/utils/logging"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// fixture is the YAML document read by the import command
type fixture struct {
	OwnerID   string `yaml:"owner_id"`
	SubjectID string `yaml:"subject_id"`
	Messages  []struct {
		Role      string         `yaml:"role"`
		Content   string         `yaml:"content"`
		CreatedAt time.Time      `yaml:"created_at"`
		Metadata  map[string]any `yaml:"metadata"`
	} `yaml:"messages"`
	Events []*model.EpisodicEvent `yaml:"events"`
	Facts  []*model.Fact          `yaml:"facts"`
}

type importSummary struct {
	Messages int `json:"messages"`
	Skipped  int `json:"skipped"`
	Events   int `json:"events"`
	Facts    int `json:"facts"`
}

func loadFixture(path string) (*fixture, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read fixture", goerr.V("path", path))
	}
	var fx fixture
	if err := yaml.Unmarshal(raw, &fx); err != nil {
		return nil, goerr.Wrap(err, "failed to parse fixture", goerr.V("path", path))
	}
	if fx.OwnerID == "" {
		return nil, goerr.New("owner_id is required in fixture", goerr.V("path", path))
	}
	return &fx, nil
}

// importFixture stores the messages of fx through the memory pipeline and
// saves its events and facts in the repository
func importFixture(ctx context.Context, uc *memory.UseCase, fx *fixture) (*importSummary, error) {
	var sum importSummary

	for _, m := range fx.Messages {
		res := uc.StoreMessage(ctx, fx.OwnerID, fx.SubjectID, memory.StoreInput{
			Content:   m.Content,
			Role:      m.Role,
			Metadata:  m.Metadata,
			Timestamp: m.CreatedAt,
		})
		if res.Skipped != "" {
			logging.From(ctx).Info("fixture message skipped", "reason", res.Skipped, "details", res.Reasons)
			sum.Skipped++
			continue
		}
		sum.Messages++
	}

	for _, ev := range fx.Events {
		ev.OwnerID = fx.OwnerID
		if ev.SubjectID == "" {
			ev.SubjectID = fx.SubjectID
		}
		if err := uc.ImportEvent(ctx, ev); err != nil {
			return &sum, goerr.Wrap(err, "failed to import event", goerr.V("summary", ev.Summary))
		}
		sum.Events++
	}

	for _, f := range fx.Facts {
		f.OwnerID = fx.OwnerID
		if f.SubjectID == "" {
			f.SubjectID = fx.SubjectID
		}
		if err := uc.ImportFact(ctx, f); err != nil {
			return &sum, goerr.Wrap(err, "failed to import fact", goerr.V("key", f.Key))
		}
		sum.Facts++
	}

	return &sum, nil
}

func importCommand() *cli.Command {
	var (
		cfg   config
		input string
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "Path to YAML fixture with messages, events and facts",
			Destination: &input,
			Required:    true,
		},
	}
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:  "import",
		Usage: "Load memories from a YAML fixture",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)

			fx, err := loadFixture(input)
			if err != nil {
				return err
			}

			a, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			sum, err := importFixture(ctx, a.uc, fx)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.Root().Writer, "imported %d messages (%d skipped), %d events, %d facts\n",
				sum.Messages, sum.Skipped, sum.Events, sum.Facts)
			return nil
		},
	}
}

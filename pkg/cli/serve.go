package cli

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/kioku/pkg/service/mcp"
	"github.com/m-mizutani/kioku/pkg/utils/logging"
	"github.com/urfave/cli/v3"
)

func serveCommand() *cli.Command {
	var (
		cfg             config
		addr            string
		persistInterval time.Duration
	)

	flags := []cli.Flag{
		&cli.StringFlag{
			Name:        "addr",
			Usage:       "Listen address for streamable HTTP. Empty serves over stdio",
			Sources:     cli.EnvVars("KIOKU_ADDR"),
			Destination: &addr,
		},
		&cli.DurationFlag{
			Name:        "persist-interval",
			Usage:       "Interval of collection persistence. Zero uses the configured value",
			Sources:     cli.EnvVars("KIOKU_PERSIST_INTERVAL"),
			Destination: &persistInterval,
		},
	}
	flags = append(flags, allFlags(&cfg)...)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the memory API as MCP tools",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			ctx = cfg.setupLogger(ctx)
			logger := logging.From(ctx)

			a, err := cfg.newUseCase(ctx)
			if err != nil {
				return err
			}
			defer a.Close(context.WithoutCancel(ctx))

			interval := persistInterval
			if interval <= 0 {
				interval = a.file.PersistInterval
			}
			a.registry.Start(ctx, interval)

			server := mcp.NewServer(a.uc)
			if addr == "" {
				logger.Info("serving MCP over stdio")
				return server.Run(ctx)
			}

			httpServer := &http.Server{
				Addr:              addr,
				Handler:           server.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				_ = httpServer.Shutdown(shutdownCtx)
			}()

			logger.Info("serving MCP over HTTP", "addr", addr)
			if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return goerr.Wrap(err, "HTTP server failed", goerr.V("addr", addr))
			}
			return nil
		},
	}
}

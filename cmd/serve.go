package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/orderguardian/internal/api"
	"github.com/orderguardian/internal/config"
	"github.com/orderguardian/internal/logging"
)

// ServeCommand returns the CLI command for starting the API server
func ServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the OrderGuardian API server",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port for the API server (overrides api.port)",
			},
		},
		Action: runServe,
	}
}

// loadConfig loads and validates the configuration and sets up logging.
func loadConfig(c *cli.Context) (*config.Config, io.Closer, error) {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if c.Bool("verbose") {
		cfg.General.Logging.Level = "debug"
	}
	if err := config.Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	closer, err := logging.Setup(cfg.General.Logging)
	if err != nil {
		return nil, nil, err
	}
	return cfg, closer, nil
}

func runServe(c *cli.Context) error {
	cfg, logCloser, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer logCloser.Close()

	if port := c.Int("port"); port != 0 {
		cfg.API.Port = port
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := NewApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()

	server := api.NewServer(app.Orchestrator, app.Manager, app.Checker, app.Registry, cfg.API)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	if app.Checker != nil {
		g.Go(func() error { return app.Checker.Run(gctx) })
	}
	if app.Queue != nil {
		// Stopped explicitly below so running handoff jobs can finish.
		if err := app.Queue.Start(context.WithoutCancel(gctx)); err != nil {
			return fmt.Errorf("failed to start handoff queue: %w", err)
		}
		g.Go(func() error {
			<-gctx.Done()
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
			defer cancel()
			return app.Queue.Stop(stopCtx)
		})
	}

	err = g.Wait()
	log.Info().Msg("OrderGuardian stopped")
	return err
}

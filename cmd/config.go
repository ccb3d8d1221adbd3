package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/orderguardian/internal/api/auth"
	"github.com/orderguardian/internal/config"
)

// ConfigCommand returns the config command
func ConfigCommand() *cli.Command {
	return &cli.Command{
		Name:  "config",
		Usage: "Manage configuration",
		Subcommands: []*cli.Command{
			{
				Name:  "init",
				Usage: "Initialize a new configuration file",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path",
						Value:   "orderguardian.toml",
					},
				},
				Action: runConfigInit,
			},
			{
				Name:   "validate",
				Usage:  "Validate the configuration file",
				Action: runConfigValidate,
			},
			{
				Name:   "env",
				Usage:  "Show the ORDERGUARDIAN_ environment overrides in effect",
				Action: runConfigEnv,
			},
			{
				Name:      "hash-admin-key",
				Usage:     "Print the bcrypt hash to use as api.admin_key_hash",
				ArgsUsage: "KEY",
				Action:    runHashAdminKey,
			},
			{
				Name:  "token",
				Usage: "Issue a bearer token signed with api.jwt_secret",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "subject", Usage: "Token subject", Value: "chat-frontend"},
					&cli.StringFlag{Name: "customer", Usage: "Bind the token to a customer id"},
					&cli.StringFlag{Name: "role", Value: "customer"},
					&cli.DurationFlag{Name: "ttl", Value: 24 * time.Hour},
				},
				Action: runIssueToken,
			},
		},
	}
}

func runConfigInit(c *cli.Context) error {
	outputPath := c.String("output")

	if err := config.InitConfig(outputPath); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Fprintf(c.App.Writer, "Created configuration file at %s\n", outputPath)
	return nil
}

func runConfigValidate(c *cli.Context) error {
	configPath := c.String("config")

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	fmt.Fprintln(c.App.Writer, "Configuration is valid")
	return nil
}

func runConfigEnv(c *cli.Context) error {
	PrintEnvCheck(c.App.Writer, CheckEnvironment())
	return nil
}

func runHashAdminKey(c *cli.Context) error {
	if c.NArg() < 1 {
		return errors.New("missing required argument: KEY")
	}
	hash, err := auth.HashAdminKey(c.Args().Get(0))
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, hash)
	return nil
}

func runIssueToken(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.API.JWTSecret == "" {
		return errors.New("api.jwt_secret is not set")
	}
	ts := auth.NewTokenService(cfg.API.JWTSecret, cfg.API.JWTIssuer)
	token, err := ts.Issue(c.String("subject"), c.String("customer"), c.String("role"), c.Duration("ttl"), time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, token)
	return nil
}

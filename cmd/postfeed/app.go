package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v2"

	"postfeed/internal/config"
	"postfeed/internal/database"
)

func newApp() *cli.App {
	return &cli.App{
		Name:  "postfeed",
		Usage: "A social posts feed with live updates",
		Description: `Serves the postfeed JSON API: accounts, a category-filtered
		posts feed with image uploads, and a websocket that pushes the feed
		whenever a post changes anywhere.

		Configuration comes from the environment, optionally preloaded from
		a .env file (see --env-file).`,
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "env-file",
				Value:   cli.NewStringSlice(".env"),
				Usage:   "dotenv files to load before reading configuration",
				EnvVars: []string{"POSTFEED_ENV_FILE"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "info",
				Usage:   "debug, info, warn or error",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.BoolFlag{
				Name:    "log-json",
				Usage:   "write logs as JSON instead of text",
				EnvVars: []string{"LOG_JSON"},
			},
		},
		Before: func(ctx *cli.Context) error {
			if err := setupLogger(ctx.String("log-level"), ctx.Bool("log-json")); err != nil {
				return err
			}
			return config.LoadDotEnv(ctx.StringSlice("env-file")...)
		},
		Commands: []*cli.Command{
			serveCmd(),
			migrateCmd(),
			rollbackCmd(),
			seedCmd(),
		},
		Action: func(ctx *cli.Context) error {
			return serve(ctx.Context)
		},
	}
}

// setupLogger installs the process-wide structured logger.
func setupLogger(level string, asJSON bool) error {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("log level %q: %w", level, err)
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var h slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if asJSON {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(h))
	return nil
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the HTTP server (default)",
		Action: func(ctx *cli.Context) error {
			return serve(ctx.Context)
		},
	}
}

func migrateCmd() *cli.Command {
	return &cli.Command{
		Name:  "migrate",
		Usage: "Apply pending database migrations",
		Action: func(ctx *cli.Context) error {
			return withDB(database.Migrate)
		},
	}
}

func rollbackCmd() *cli.Command {
	return &cli.Command{
		Name:  "rollback",
		Usage: "Revert the most recent database migration",
		Action: func(ctx *cli.Context) error {
			return withDB(database.Rollback)
		},
	}
}

func seedCmd() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Create the demo account and welcome post on an empty database",
		Action: func(ctx *cli.Context) error {
			return withDB(database.Seed)
		},
	}
}

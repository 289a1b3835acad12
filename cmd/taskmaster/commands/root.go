package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/taskmaster-dev/taskmaster/internal/app"
	"github.com/taskmaster-dev/taskmaster/internal/observability"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	cmd := &cli.Command{
		Name:  "taskmaster",
		Usage: "Task management with local or hosted storage",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
		},
		Commands: []*cli.Command{
			authCommand(),
			contextCommand(),
			storageCommand(),
		},
		After: func(ctx context.Context, cmd *cli.Command) error {
			// A flush failure must not fail the command.
			if err := observability.Shutdown(ctx); err != nil {
				slog.WarnContext(ctx, "log export flush failed", "error", err)
			}
			return nil
		},
	}

	return cmd.Run(ctx, args)
}

// setupApp loads configuration, installs the logging pipeline, and wires the
// application. Every action starts here.
func setupApp(cmd *cli.Command) (*app.App, *app.Config, error) {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if err := observability.Instrument(cfg.LogLevel, string(cfg.LogFormat), string(cfg.LogExport)); err != nil {
		return nil, nil, fmt.Errorf("failed to set up observability layer: %w", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create app: %w", err)
	}

	return application, cfg, nil
}

package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/taskmaster-dev/taskmaster/internal/auth"
	"github.com/taskmaster-dev/taskmaster/internal/storage"
)

func storageCommand() *cli.Command {
	return &cli.Command{
		Name:  "storage",
		Usage: "Inspect task storage resolution",
		Commands: []*cli.Command{
			storageStatusCommand(),
		},
	}
}

func storageStatusCommand() *cli.Command {
	return &cli.Command{
		Name:   "status",
		Usage:  "Show where task reads and writes go",
		Action: storageStatusAction,
	}
}

func storageStatusAction(ctx context.Context, cmd *cli.Command) error {
	application, cfg, err := setupApp(cmd)
	if err != nil {
		return err
	}
	defer application.Close()

	res, err := application.Resolver.Resolve(ctx)
	if err != nil {
		return err
	}

	uc, err := application.Auth.UserContext(ctx)
	if err != nil {
		return err
	}

	info := auth.StorageDisplayInfo(res.Type, uc)
	fmt.Printf("Storage: %s\n", info.Description)
	switch res.Type {
	case storage.TypeAPI:
		fmt.Printf("Endpoint: %s\n", res.Endpoint)
	default:
		fmt.Printf("Task file: %s\n", storage.NewFileBackend(cfg.Storage.Dir).Path())
	}

	fmt.Println("Dependency commands:")
	for _, name := range auth.DependencyCommands() {
		guard := auth.GuardCommand(name, res.Type, uc)
		if guard.Blocked {
			fmt.Printf("  %s: blocked (%s)\n", name, guard.Reason)
		} else {
			fmt.Printf("  %s: available\n", name)
		}
	}
	return nil
}

package main

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/clinicore/scheduling/libs/config"
	"github.com/clinicore/scheduling/libs/db"
	"github.com/clinicore/scheduling/services/scheduling-service/migrations"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			url, err := databaseURL()
			if err != nil {
				return err
			}
			if err := migrateUp(url); err != nil {
				return err
			}
			cmd.Println("migrations applied")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations, one step unless told otherwise",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps := 1
			if len(args) == 1 {
				n, err := strconv.Atoi(args[0])
				if err != nil || n < 1 {
					return fmt.Errorf("steps must be a positive integer, got %q", args[0])
				}
				steps = n
			}
			return withMigrator(func(mg *db.Migrator) error {
				if err := mg.Down(steps); err != nil {
					return err
				}
				cmd.Printf("rolled back %d migration(s)\n", steps)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(func(mg *db.Migrator) error {
				v, dirty, err := mg.Version()
				if err != nil {
					return err
				}
				cmd.Printf("version %d dirty=%t\n", v, dirty)
				return nil
			})
		},
	})
	return cmd
}

func databaseURL() (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", err
	}
	if cfg.DatabaseURL == "" {
		return "", errors.New("DATABASE_URL is required")
	}
	return cfg.DatabaseURL, nil
}

func withMigrator(fn func(*db.Migrator) error) error {
	url, err := databaseURL()
	if err != nil {
		return err
	}
	mg, err := db.NewMigrator(url, migrations.FS)
	if err != nil {
		return err
	}
	defer func() { _ = mg.Close() }()
	return fn(mg)
}

func migrateUp(url string) error {
	mg, err := db.NewMigrator(url, migrations.FS)
	if err != nil {
		return err
	}
	defer func() { _ = mg.Close() }()
	if err := mg.Up(); err != nil {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

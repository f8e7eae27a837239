package main

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"

	"github.com/tendant/simple-vstore/pkg/vstore"
	"github.com/tendant/simple-vstore/pkg/vstore/api"
	"github.com/tendant/simple-vstore/pkg/vstore/config"
	"github.com/tendant/simple-vstore/pkg/vstore/reaper"
	"github.com/tendant/simple-vstore/pkg/vstore/repo/migrations"
)

func NewMigrateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrationDB(cmd, func(db *sql.DB, d migrations.Dialect) error {
				if err := migrations.Up(cmd.Context(), db, d); err != nil {
					return err
				}
				return printVersion(cmd, db, d)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "down",
		Short: "Roll back the most recent migration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrationDB(cmd, func(db *sql.DB, d migrations.Dialect) error {
				if err := migrations.Down(cmd.Context(), db, d); err != nil {
					return err
				}
				return printVersion(cmd, db, d)
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrationDB(cmd, func(db *sql.DB, d migrations.Dialect) error {
				return printVersion(cmd, db, d)
			})
		},
	})

	return cmd
}

func printVersion(cmd *cobra.Command, db *sql.DB, d migrations.Dialect) error {
	v, err := migrations.Version(cmd.Context(), db, d)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "schema version: %d\n", v)
	return nil
}

// withMigrationDB opens a database/sql handle on the configured database.
func withMigrationDB(cmd *cobra.Command, fn func(*sql.DB, migrations.Dialect) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	switch cfg.DatabaseType {
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open sqlite database: %w", err)
		}
		defer db.Close()
		return fn(db, migrations.SQLite)
	case "postgres":
		pool, err := cfg.OpenPostgres(cmd.Context())
		if err != nil {
			return err
		}
		defer pool.Close()
		db := stdlib.OpenDBFromPool(pool)
		defer db.Close()
		return fn(db, migrations.Postgres)
	default:
		return fmt.Errorf("database type %q has no schema to migrate", cfg.DatabaseType)
	}
}

func NewSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete expired upload sessions now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			repo, closeRepo, err := cfg.BuildRepository(cmd.Context())
			if err != nil {
				return err
			}
			defer closeRepo()

			n, err := reaper.New(repo).Sweep(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d expired sessions\n", n)
			return nil
		},
	}
}

func NewEnqueueSweepCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "enqueue-sweep",
		Short: "Queue a session sweep for the worker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			client := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
			defer client.Close()

			if err := reaper.EnqueueSweep(cmd.Context(), client); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "sweep queued")
			return nil
		},
	}
}

func NewTemplateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "template",
		Short: "Manage templates",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.json>",
		Short: "Create a template from a JSON descriptor",
		Long: `Create a template from a JSON file in the same shape as the body of
POST /templates. A non-zero "id" creates the template under that id.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read template file: %w", err)
			}
			var body api.TemplateRequest
			if err := json.Unmarshal(data, &body); err != nil {
				return fmt.Errorf("parse template file: %w", err)
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			stack, err := cfg.Build(cmd.Context())
			if err != nil {
				return err
			}
			defer stack.Close()

			tmpl, err := stack.Service.CreateTemplate(cmd.Context(), vstore.CreateTemplateRequest{
				ID:         body.ID,
				Author:     body.Author,
				Properties: body.Properties,
				Elements:   body.Elements,
				IsRetired:  body.IsRetired,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "template %d created, version %s\n", tmpl.ID, tmpl.VersionID)
			return nil
		},
	})
	return cmd
}

func NewEnvCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "List the environment variables vstore reads",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			usage, err := config.EnvUsage()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), usage)
			return nil
		},
	}
}

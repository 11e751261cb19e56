package main

import (
	"context"
	"errors"
	"log/slog"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"qazna.org/authcore/internal/migrate"
	"qazna.org/authcore/internal/obs"
	"qazna.org/authcore/internal/store/pg"
)

// NewMigrateCmd creates the migrate command group.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long:  `Apply, roll back or inspect the embedded PostgreSQL migrations and seeds.`,
	}
	cmd.AddCommand(
		migrateAction("up", "Apply all pending migrations", func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
			applied, err := m.Up(ctx)
			for _, name := range applied {
				cmd.Println("applied", name)
			}
			if err == nil && len(applied) == 0 {
				cmd.Println("schema is up to date")
			}
			return err
		}),
		migrateAction("down", "Roll back the latest migration", func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
			name, err := m.Down(ctx)
			if errors.Is(err, migrate.ErrNothingToRollback) {
				cmd.Println("nothing to roll back")
				return nil
			}
			if err == nil {
				cmd.Println("rolled back", name)
			}
			return err
		}),
		migrateAction("status", "List applied migrations", func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
			history, err := m.Status(ctx)
			for _, name := range history {
				cmd.Println(name)
			}
			return err
		}),
		migrateAction("seed", "Apply seed data (default roles and permissions)", func(ctx context.Context, cmd *cobra.Command, m *migrate.Manager) error {
			applied, err := m.Seed(ctx)
			for _, name := range applied {
				cmd.Println("seeded", name)
			}
			return err
		}),
	)
	return cmd
}

func migrateAction(use, short string, run func(context.Context, *cobra.Command, *migrate.Manager) error) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPostgres(cmd, func(ctx context.Context, store *pg.Store, _ *slog.Logger) error {
				if err := run(ctx, cmd, migrate.NewManager(store.DB(), nil)); err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "migrate "+use).Wrap(err)
				}
				return nil
			})
		},
	}
}

// withPostgres loads configuration, connects and runs fn.
func withPostgres(cmd *cobra.Command, fn func(context.Context, *pg.Store, *slog.Logger) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}
	logger := obs.NewLogger(cmd.ErrOrStderr(), cfg.Log.Level)
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := openPostgres(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(ctx, store, logger)
}

package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"qazna.org/authcore/internal/store/pg"
)

// NewSessionsCmd creates the sessions command group.
func NewSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Maintain refresh sessions",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "purge",
		Short: "Delete refresh sessions whose expiry has passed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPostgres(cmd, func(ctx context.Context, store *pg.Store, logger *slog.Logger) error {
				n, err := store.RefreshSessions(ctx).PurgeExpired(ctx, time.Now().UTC())
				if err != nil {
					return err
				}
				logger.Info("expired sessions purged", "count", n)
				cmd.Printf("purged %d expired sessions\n", n)
				return nil
			})
		},
	})
	return cmd
}

// NewRolesCmd creates the roles command group.
func NewRolesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "roles",
		Short: "Manage roles",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "define <role> [permission...]",
			Short: "Create a role (if missing) and attach permissions to it",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withPostgres(cmd, func(ctx context.Context, store *pg.Store, _ *slog.Logger) error {
					if err := store.DefineRole(ctx, args[0], args[1:]...); err != nil {
						return err
					}
					cmd.Printf("role %s defined\n", args[0])
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "assign <email> <role>",
			Short: "Grant a role to an identity",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withPostgres(cmd, func(ctx context.Context, store *pg.Store, _ *slog.Logger) error {
					id, err := identityByEmail(ctx, store, args[0])
					if err != nil {
						return err
					}
					if err := store.AssignRole(ctx, id, args[1]); err != nil {
						return err
					}
					cmd.Printf("role %s assigned to %s\n", args[1], args[0])
					return nil
				})
			},
		},
	)
	return cmd
}

// NewPermissionsCmd creates the permissions command group.
func NewPermissionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "permissions",
		Short: "Manage direct permission grants",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "grant <email> <permission>",
		Short: "Grant a permission directly to an identity",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPostgres(cmd, func(ctx context.Context, store *pg.Store, _ *slog.Logger) error {
				id, err := identityByEmail(ctx, store, args[0])
				if err != nil {
					return err
				}
				if err := store.GrantPermission(ctx, id, args[1]); err != nil {
					return err
				}
				cmd.Printf("permission %s granted to %s\n", args[1], args[0])
				return nil
			})
		},
	})
	return cmd
}

func identityByEmail(ctx context.Context, store *pg.Store, email string) (string, error) {
	identity, err := store.Identities(ctx).FindByEmail(ctx, email)
	if err != nil {
		return "", oops.Code("IDENTITY_LOOKUP_FAILED").With("email", email).Wrap(err)
	}
	return identity.ID, nil
}

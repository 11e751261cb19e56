package main

import (
	"github.com/spf13/cobra"

	"qazna.org/authcore/internal/config"
)

// Global flag available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the authd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "authd",
		Short: "authd - authentication and authorization service",
		Long: `authd issues and verifies access, refresh and password reset tokens,
rotates refresh sessions and embeds role and permission claims.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (YAML)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewSessionsCmd())
	cmd.AddCommand(NewRolesCmd())
	cmd.AddCommand(NewPermissionsCmd())

	return cmd
}

// loadConfig reads the configuration for cmd, honoring flags set on it or its parents.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	return config.FromEnv(configFile, cmd.Flags())
}

// Command dbctrl creates a status database including its users.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/simonepigazzini/dynamic-automation/internal/config"
	"github.com/simonepigazzini/dynamic-automation/internal/provision"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		dbName      string
		usersConfig string
	)

	cmd := &cobra.Command{
		Use:           "dbctrl",
		Short:         "Create a new status database including users",
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer logger.Sync()

			users, err := provision.LoadUsers(usersConfig)
			if err != nil {
				return err
			}

			p, err := provision.New(config.FromEnv(), logger)
			if err != nil {
				return err
			}
			defer p.Close()

			return p.Setup(cmd.Context(), dbName, users)
		},
	}

	cmd.Flags().StringVar(&dbName, "db", "", "database name")
	cmd.Flags().StringVar(&usersConfig, "users-config", "", "path to the users configuration json file")
	cmd.MarkFlagRequired("db")
	cmd.MarkFlagRequired("users-config")

	return cmd
}

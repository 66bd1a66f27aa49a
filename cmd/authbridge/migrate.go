package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/upb/auth-bridge/config"
	"github.com/upb/auth-bridge/internal/observability"
	"github.com/upb/auth-bridge/repositories/sqlstore"
	"go.uber.org/zap"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the users and auth events tables for the configured columns",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			logger, err := observability.NewLogger(cfg.Observability)
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			defer func() { _ = logger.Sync() }()

			return migrate(cmd.Context(), cmd.OutOrStdout(), cfg, logger)
		},
	}
}

func migrate(ctx context.Context, out io.Writer, cfg *config.Config, logger *zap.Logger) error {
	factory, err := sqlstore.NewRepositoryFactory(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer factory.Close()

	if err := factory.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}

	fmt.Fprintf(out, "schema ready: %s (%s)\n", cfg.Users.Table, cfg.Database.Driver)
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/upb/auth-bridge/config"
	"github.com/upb/auth-bridge/internal/observability"
	"github.com/upb/auth-bridge/models"
	"github.com/upb/auth-bridge/services/providers"
)

func introspectCmd() *cobra.Command {
	var (
		token     string
		accountID string
		appKey    string
	)

	cmd := &cobra.Command{
		Use:   "introspect",
		Short: "Authenticate a token with the configured provider and print the identity payload",
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				return fmt.Errorf("--token is required")
			}

			cfg, err := config.New(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			authCtx := models.AuthContext{}
			if accountID != "" {
				authCtx[cfg.AuthBridge.Headers.Account] = accountID
			}
			if appKey != "" {
				authCtx[cfg.AuthBridge.Headers.App] = appKey
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), checkTimeout)
			defer cancel()

			payload, err := introspect(ctx, cfg, token, authCtx)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			enc.SetEscapeHTML(false)
			return enc.Encode(payload)
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "Token to authenticate")
	cmd.Flags().StringVar(&accountID, "account", "", "Account scoping header value")
	cmd.Flags().StringVar(&appKey, "app", "", "App scoping header value")

	return cmd
}

func introspect(ctx context.Context, cfg *config.Config, token string, authCtx models.AuthContext) (models.IdentityPayload, error) {
	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	provider, err := providers.New(cfg.AuthBridge, providers.Options{}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build provider: %w", err)
	}

	payload, err := provider.Authenticate(ctx, token, authCtx)
	if err != nil {
		return nil, fmt.Errorf("%s provider rejected the token: %w", provider.Name(), err)
	}
	return payload, nil
}

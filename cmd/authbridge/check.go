package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/upb/auth-bridge/services/authapi"
	"github.com/upb/auth-bridge/utils"
	"go.uber.org/zap"
)

const checkTimeout = 10 * time.Second

type checkOptions struct {
	authBase     string
	token        string
	userEndpoint string
}

func checkCmd() *cobra.Command {
	opts := checkOptions{}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Check connectivity to the identity API",
		Long: `Calls <auth-base>/health and, when a token is given, <auth-base>/<user-endpoint>
with that bearer token. Any non-2xx answer fails the check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.token == "" {
				opts.token = os.Getenv("AUTH_BRIDGE_CHECK_TOKEN")
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), checkTimeout)
			defer cancel()
			return runCheck(ctx, cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.authBase, "auth-base", os.Getenv("AUTH_BRIDGE_BASE_URL"), "Identity API base URL (env: AUTH_BRIDGE_BASE_URL)")
	cmd.Flags().StringVar(&opts.token, "token", "", "Bearer token to introspect (env: AUTH_BRIDGE_CHECK_TOKEN)")
	cmd.Flags().StringVar(&opts.userEndpoint, "user-endpoint", envOr("AUTH_BRIDGE_USER_ENDPOINT", "/user"), "Introspection path under the base URL")

	return cmd
}

func runCheck(ctx context.Context, cmd *cobra.Command, opts checkOptions) error {
	base := strings.TrimRight(opts.authBase, "/")
	if base == "" {
		return fmt.Errorf("--auth-base or AUTH_BRIDGE_BASE_URL is required")
	}

	client := authapi.NewClient(authapi.Config{
		BaseURL:      base,
		UserEndpoint: opts.userEndpoint,
		HTTPClient:   utils.NewHTTPClient(checkTimeout, 3*time.Second),
	}, zap.NewNop())

	out := cmd.OutOrStdout()

	if err := client.Health(ctx); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	fmt.Fprintf(out, "health:  ok (%s/health)\n", base)

	if opts.token == "" {
		fmt.Fprintln(out, "user:    skipped (no token)")
		return nil
	}

	payload, err := client.FetchUser(ctx, opts.token, nil)
	if err != nil {
		return fmt.Errorf("user check failed: %w", err)
	}
	id, _ := payload.ExternalID()
	fmt.Fprintf(out, "user:    ok (id %s)\n", id)
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

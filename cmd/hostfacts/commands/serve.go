package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/hostfacts/pkg/policy"
	"github.com/openfroyo/hostfacts/pkg/server"
)

func newServeCommand() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve facts over HTTP",
		Long: `Run the HTTP query API.

The server resolves facts on start, then again every server.refresh_interval
and whenever a file in an external facts directory changes. Queries are
answered from the last completed pass.

Endpoints:
  GET  /healthz
  GET  /v1/facts
  GET  /v1/facts/{path}
  GET  /v1/subtree/{prefix}
  POST /v1/resolve
  GET  /v1/check
  GET  /metrics         (when telemetry.metrics_enabled is set)`,
		Example: `  # Serve on the configured address
  hostfacts serve

  # Serve facts of a remote host
  hostfacts serve --host web1 --listen 127.0.0.1:9000`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd)
			if err != nil {
				return err
			}
			defer a.close()

			ctx := cmd.Context()
			if listen != "" {
				a.cfg.Server.Listen = listen
			}

			policies, err := policy.NewEngine(a.logger.With().Str("component", "policy").Logger())
			if err != nil {
				return fmt.Errorf("failed to create policy engine: %w", err)
			}
			if len(a.cfg.Policy.Paths) > 0 {
				if err := policies.LoadPolicies(ctx, a.cfg.Policy.Paths); err != nil {
					return err
				}
			}

			opts := []server.Option{
				server.WithPolicyEngine(policies),
				server.WithLogger(a.logger.With().Str("component", "server").Logger()),
			}
			if a.cfg.Telemetry.MetricsEnabled {
				opts = append(opts, server.WithMetrics(a.tel.Metrics))
			}

			srv := server.New(server.Config{
				Listen:          a.cfg.Server.Listen,
				RefreshInterval: a.cfg.Server.RefreshInterval.Std(),
				WatchDirs:       a.cfg.Facts.ExternalDirs,
				PolicyPaths:     a.cfg.Policy.Paths,
			}, a.resolve, opts...)

			a.logger.Info().
				Str("listen", a.cfg.Server.Listen).
				Str("host", a.host()).
				Msg("Starting fact server")

			return srv.Run(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "address to listen on (overrides server.listen)")

	return cmd
}

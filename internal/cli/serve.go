package cli

import (
	"net/http"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the recognition API",
		Long: `Starts the HTTP API. Storage, cache and inference backends are chosen
from the environment (DATABASE_DRIVER, CACHE_BACKEND, INFERENCE_BACKEND).`,
		Example: `  # Listen on the address from HTTP_ADDR (default :8080)
  weaponid serve

  # Override the listen address
  weaponid serve --addr 127.0.0.1:9000`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := newApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			router, err := a.buildRouter(ctx)
			if err != nil {
				a.logger.Error("failed to build request pipeline", zap.Error(err))
				return err
			}

			if addr == "" {
				addr = a.cfg.HTTPAddr
			}
			server := &http.Server{
				Addr:              addr,
				Handler:           router,
				ReadHeaderTimeout: readHeaderTimeout,
			}

			a.logger.Info("weapon recognition API listening", zap.String("addr", addr))
			if err := serveHTTP(ctx, server, shutdownTimeout, a.logger, nil); err != nil {
				a.logger.Error("server failed", zap.Error(err))
				return err
			}
			a.logger.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Address to listen on (overrides HTTP_ADDR)")

	return cmd
}

package cmd

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/helios-gateway/internal/gateway"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Starts the gateway HTTP server",
		Long: `Builds every gateway service from configuration, starts them in parallel
and serves HTTP until SIGINT or SIGTERM. Any service that fails to start
aborts the process.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := runtimeFrom(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			g, err := gateway.New(ctx, rt.cfg, rt.logger)
			if err != nil {
				return err
			}
			if err := g.Run(ctx); err != nil {
				return err
			}
			rt.logger.Info("shutdown complete")
			return nil
		},
	}
}

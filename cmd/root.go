// Package cmd defines the CLI commands of the helios-gateway executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/helios-gateway/internal/config"
	"github.com/JakeFAU/helios-gateway/internal/logging"
)

type ctxKey struct{}

// runtime is what PersistentPreRunE hands to subcommands.
type runtime struct {
	cfg    config.Config
	logger *zap.Logger
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "helios-gateway",
		Short: "HTTP gateway for streaming processing jobs and their templates.",
		Long: `helios-gateway serves the job, template and workspace API in front of the
processing engine. Jobs stream their records to the caller as NDJSON and are
tracked for exactly as long as the stream lasts.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				File: logging.FileOptions{
					Enabled:    cfg.Logging.File.Enabled,
					Path:       cfg.Logging.File.Path,
					MaxSizeMB:  cfg.Logging.File.MaxSizeMB,
					MaxAgeDays: cfg.Logging.File.MaxAgeDays,
					Compress:   cfg.Logging.File.Compress,
				},
			})
			if err != nil {
				return fmt.Errorf("logger init failed: %w", err)
			}
			zap.ReplaceGlobals(logger)
			cmd.SetContext(context.WithValue(cmd.Context(), ctxKey{}, &runtime{cfg: cfg, logger: logger}))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if rt, ok := cmd.Context().Value(ctxKey{}).(*runtime); ok {
				_ = rt.logger.Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); HELIOS_* environment variables override it")
	cmd.AddCommand(newServeCmd())
	return cmd
}

func runtimeFrom(ctx context.Context) (*runtime, error) {
	rt, ok := ctx.Value(ctxKey{}).(*runtime)
	if !ok || rt == nil {
		return nil, errors.New("gateway runtime not initialized")
	}
	return rt, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-msh/internal/config"
	"github.com/sirosfoundation/go-msh/internal/runtime"
)

func newRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the MSH agents",
		Long:  "Opens storage, loads the P-Modes and runs every configured agent until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMSH(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "msh.yaml", "path to MSH config file")
	return cmd
}

func runMSH(cmd *cobra.Command, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := newLogger(cmd.ErrOrStderr(), cfg.Logging)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rt, err := runtime.New(ctx, cfg, nil, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := rt.Close(context.Background()); err != nil {
			logger.Error("closing runtime", "error", err)
		}
	}()

	logger.Info("msh started", "id", cfg.ID, "version", Version, "agents", strings.Join(rt.Agents(), ","))
	if err := rt.Run(ctx); err != nil {
		return err
	}
	logger.Info("msh stopped")
	return nil
}

// newLogger builds the process logger from the logging section
func newLogger(w io.Writer, cfg config.LoggingConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("logging.level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

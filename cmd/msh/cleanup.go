package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-msh/internal/cleanup"
	"github.com/sirosfoundation/go-msh/internal/config"
	"github.com/sirosfoundation/go-msh/internal/entities"
	"github.com/sirosfoundation/go-msh/internal/runtime"
)

func newCleanupCmd() *cobra.Command {
	var configPath string
	var retentionDays int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete expired messages once",
		Long:  "Runs the clean-up agent a single time: records in a terminal operation older than the retention period are deleted with their bodies.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanup(cmd, configPath, retentionDays)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "msh.yaml", "path to MSH config file")
	cmd.Flags().IntVar(&retentionDays, "retention-days", 0, "override retentionDays of the config file")
	return cmd
}

func runCleanup(cmd *cobra.Command, configPath string, retentionDays int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if retentionDays > 0 {
		cfg.RetentionDays = retentionDays
	}
	logger, err := newLogger(cmd.ErrOrStderr(), cfg.Logging)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	repo, bodies, err := runtime.OpenStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer repo.Close(ctx)

	agent, err := cleanup.New(repo, bodies, cleanup.Config{
		Schedule:      cfg.Cleanup.Schedule,
		RetentionDays: cfg.RetentionDays,
	}, logger)
	if err != nil {
		return err
	}
	res, err := agent.RunOnce(ctx)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	tables := make([]entities.Table, 0, len(res.Deleted))
	for t := range res.Deleted {
		tables = append(tables, t)
	}
	sort.Slice(tables, func(i, j int) bool { return tables[i] < tables[j] })
	for _, t := range tables {
		fmt.Fprintf(out, "%-22s %d\n", t, res.Deleted[t])
	}
	fmt.Fprintf(out, "Deleted %d records older than %d days\n", res.Total(), cfg.RetentionDays)
	return nil
}

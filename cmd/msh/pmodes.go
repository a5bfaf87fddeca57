package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sirosfoundation/go-msh/internal/config"
	"github.com/sirosfoundation/go-msh/pkg/pmode"
)

func newValidatePModesCmd() *cobra.Command {
	var configPath, sendingDir, receivingDir string

	cmd := &cobra.Command{
		Use:   "validate-pmodes",
		Short: "Validate the P-Mode directories",
		Long:  "Loads every sending and receiving P-Mode and reports the first invalid file. Directories default to those of the config file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath != "" {
				cfg, err := config.Load(configPath)
				if err != nil {
					return fmt.Errorf("load config: %w", err)
				}
				if sendingDir == "" {
					sendingDir = cfg.PModes.Sending
				}
				if receivingDir == "" {
					receivingDir = cfg.PModes.Receiving
				}
			}
			return validatePModes(cmd, sendingDir, receivingDir)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to MSH config file")
	cmd.Flags().StringVar(&sendingDir, "sending", "", "directory of sending P-Modes")
	cmd.Flags().StringVar(&receivingDir, "receiving", "", "directory of receiving P-Modes")
	return cmd
}

func validatePModes(cmd *cobra.Command, sendingDir, receivingDir string) error {
	if sendingDir == "" && receivingDir == "" {
		return fmt.Errorf("no pmode directory given")
	}
	src, err := pmode.LoadDirectories(sendingDir, receivingDir)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, pm := range src.SendingPModes() {
		fmt.Fprintf(out, "sending   %-30s %s\n", pm.ID, pm.Binding())
	}
	for _, pm := range src.ReceivingPModes() {
		fmt.Fprintf(out, "receiving %-30s %s\n", pm.ID, pm.Replies())
	}
	fmt.Fprintf(out, "%d sending and %d receiving P-Modes are valid\n", len(src.SendingPModes()), len(src.ReceivingPModes()))
	return nil
}

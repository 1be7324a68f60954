package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/inference-sim/netsim/sim"
)

// validateCmd checks configurations without running them. Building the
// simulation catches topology and policy errors that plain validation cannot.
var validateCmd = &cobra.Command{
	Use:   "validate <config.yaml>...",
	Short: "Check configuration files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, path := range args {
			cfg, err := sim.LoadConfig(path)
			if err != nil {
				return err
			}
			if _, err := sim.NewSimulation(cfg); err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%s)\n", path, cfg.Hash())
		}
		return nil
	},
}

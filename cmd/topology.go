package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/inference-sim/netsim/sim"
	"github.com/inference-sim/netsim/sim/topology"
)

var topologyCmd = &cobra.Command{
	Use:   "topology <config.yaml>",
	Short: "Describe the network of a configuration",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := sim.LoadConfig(args[0])
		if err != nil {
			return err
		}
		t, err := topology.New(cfg.Topology)
		if err != nil {
			return err
		}
		return describeTopology(cmd.OutOrStdout(), t)
	},
}

func describeTopology(w io.Writer, t topology.Topology) error {
	minDegree, maxDegree := -1, 0
	for r := 0; r < t.NumRouters(); r++ {
		d := t.Degree(r)
		if minDegree < 0 || d < minDegree {
			minDegree = d
		}
		maxDegree = max(maxDegree, d)
	}
	_, err := fmt.Fprintf(w, "%s\ndegree: min=%d max=%d\ndistance histogram: %v\n",
		topology.Describe(t), minDegree, maxDegree, topology.DistanceHistogram(t))
	return err
}

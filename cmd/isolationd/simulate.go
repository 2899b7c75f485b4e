package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/StricklySoft/stricklysoft-isolation/pkg/degradation"
	sserr "github.com/StricklySoft/stricklysoft-isolation/pkg/errors"
)

// simulation is what simulate prints.
type simulation struct {
	Reports  []degradation.Report    `json:"reports"`
	Statuses []degradation.Status    `json:"statuses"`
	Risk     degradation.CascadeRisk `json:"risk"`
}

func buildSimulateCmd() *cobra.Command {
	var (
		topologyPath string
		fail         []string
		restore      []string
	)
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Fail and recover services against a topology and print the reports",
		Long: `Build a coordinator from a topology file, apply every --fail in order,
then every --recover in order, and print the resulting reports, the final
capability statuses and the cascade risk as JSON.`,
		Example: `  isolationd simulate --topology topology.yaml --fail llm
  isolationd simulate -t topology.yaml --fail llm --fail db --recover llm`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			topo, err := degradation.LoadTopology(topologyPath, envPrefix)
			if err != nil {
				return err
			}
			return runSimulate(cmd.Context(), cmd.OutOrStdout(), topo, fail, restore)
		},
	}
	cmd.Flags().StringVarP(&topologyPath, "topology", "t", "topology.yaml", "Path to the topology file")
	cmd.Flags().StringSliceVar(&fail, "fail", nil, "Service to fail (repeatable)")
	cmd.Flags().StringSliceVar(&restore, "recover", nil, "Service to recover after the failures (repeatable)")
	return cmd
}

func runSimulate(ctx context.Context, out io.Writer, topo *degradation.Topology, fail, restore []string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	coord, err := topo.Build(degradation.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	if err != nil {
		return err
	}
	known := make(map[string]bool)
	for _, s := range coord.Services() {
		known[s] = true
	}
	for _, s := range append(append([]string(nil), fail...), restore...) {
		if !known[s] {
			return sserr.ServiceNotFound(s)
		}
	}

	var sim simulation
	for _, s := range fail {
		sim.Reports = append(sim.Reports, coord.HandleServiceFailure(ctx, s))
	}
	for _, s := range restore {
		sim.Reports = append(sim.Reports, coord.HandleServiceRecovery(ctx, s))
	}
	sim.Statuses = coord.Statuses()
	sim.Risk = coord.CheckCascadeFailureRisk()

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(sim)
}

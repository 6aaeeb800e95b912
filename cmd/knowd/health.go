package main

import (
	"fmt"
	"sort"
	"text/tabwriter"

	httpserver "github.com/fyrsmithlabs/knowd/internal/http"
	"github.com/spf13/cobra"
)

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Show daemon health and partition statistics",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp httpserver.HealthResponse
		if err := call(cmd.Context(), "GET", "/health", nil, &resp); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if outputJSON {
			return printJSON(out, resp)
		}

		fmt.Fprintf(out, "status:  %s\n", resp.Status)
		fmt.Fprintf(out, "version: %s\n", resp.Version)
		h := resp.Engine
		if h == nil {
			return nil
		}
		fmt.Fprintf(out, "cache:   %d entries\n", h.CacheSize)
		fmt.Fprintf(out, "average effectiveness: %.3f\n", h.AverageEffectiveness)
		if h.Persistence != nil {
			fmt.Fprintf(out, "persistence: %s\n", h.Persistence.Backend)
		}

		tiers := make([]string, 0, len(h.DocumentCounts))
		for tier := range h.DocumentCounts {
			tiers = append(tiers, tier)
		}
		sort.Strings(tiers)
		w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "TIER\tPARTITIONS\tDOCUMENTS")
		for _, tier := range tiers {
			fmt.Fprintf(w, "%s\t%d\t%d\n", tier, h.PartitionCounts[tier], h.DocumentCounts[tier])
		}
		return w.Flush()
	},
}

package main

import (
	"fmt"
	"net/url"

	"github.com/fyrsmithlabs/knowd/internal/engine"
	httpserver "github.com/fyrsmithlabs/knowd/internal/http"
	"github.com/spf13/cobra"
)

var (
	tDomains   []string
	tNoWelcome bool
)

func init() {
	tenantCmd.AddCommand(tenantInitCmd)
	tenantCmd.AddCommand(tenantTeardownCmd)

	tenantInitCmd.Flags().StringSliceVar(&tDomains, "domain", nil, "Domain to create a partition for (repeatable, required)")
	tenantInitCmd.Flags().BoolVar(&tNoWelcome, "no-welcome", false, "Do not add a welcome document")
	_ = tenantInitCmd.MarkFlagRequired("domain")
}

var tenantCmd = &cobra.Command{
	Use:   "tenant",
	Short: "Manage tenants",
	Long: `Create or remove a tenant's knowledge partitions.

Examples:
  knowd tenant init acme --domain insurance --domain resort
  knowd tenant teardown acme`,
}

var tenantInitCmd = &cobra.Command{
	Use:   "init <tenant>",
	Short: "Create tenant partitions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		welcome := !tNoWelcome
		req := httpserver.TenantRequest{Domains: tDomains, Welcome: &welcome}
		var resp httpserver.TenantResponse
		if err := call(cmd.Context(), "POST", "/api/v1/tenants/"+url.PathEscape(args[0]), req, &resp); err != nil {
			return err
		}
		if outputJSON {
			return printJSON(cmd.OutOrStdout(), resp)
		}
		if len(resp.Partitions) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "tenant %s already initialized\n", args[0])
			return nil
		}
		for _, p := range resp.Partitions {
			fmt.Fprintf(cmd.OutOrStdout(), "created %s\n", p)
		}
		return nil
	},
}

var tenantTeardownCmd = &cobra.Command{
	Use:   "teardown <tenant>",
	Short: "Delete tenant partitions, cache entries and snapshot",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var report engine.TeardownReport
		if err := call(cmd.Context(), "DELETE", "/api/v1/tenants/"+url.PathEscape(args[0]), nil, &report); err != nil {
			return err
		}
		if outputJSON {
			return printJSON(cmd.OutOrStdout(), report)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "removed %d partitions and %d cached results\n", len(report.Partitions), report.CacheEntries)
		if report.SnapshotError != "" {
			fmt.Fprintf(cmd.OutOrStdout(), "warning: snapshot not deleted: %s\n", report.SnapshotError)
		}
		return nil
	},
}

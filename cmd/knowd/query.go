package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	httpserver "github.com/fyrsmithlabs/knowd/internal/http"
	"github.com/fyrsmithlabs/knowd/internal/knowledge"
	"github.com/spf13/cobra"
)

var (
	qTenantID  string
	qDomain    string
	qStage     string
	qSegment   string
	qInterests []string
	qUrgency   string
	qSeason    string
	qLocation  string
)

func init() {
	queryCmd.Flags().StringVar(&qTenantID, "tenant", "", "Tenant identifier (required)")
	queryCmd.Flags().StringVar(&qDomain, "domain", "", "Business domain (required)")
	queryCmd.Flags().StringVar(&qStage, "stage", "", "Conversation stage, e.g. quote or claims")
	queryCmd.Flags().StringVar(&qSegment, "segment", "", "Customer segment")
	queryCmd.Flags().StringSliceVar(&qInterests, "interest", nil, "Customer interest (repeatable)")
	queryCmd.Flags().StringVar(&qUrgency, "urgency", "", "Urgency: low, medium, high or critical")
	queryCmd.Flags().StringVar(&qSeason, "season", "", "Season")
	queryCmd.Flags().StringVar(&qLocation, "location", "", "Location")
	_ = queryCmd.MarkFlagRequired("tenant")
	_ = queryCmd.MarkFlagRequired("domain")
}

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Query knowledge as a tenant",
	Long: `Query the tenant, domain and global knowledge bases and print the
ranked documents.

Examples:
  knowd query --tenant acme --domain insurance "how do I file a claim?"
  knowd query --tenant acme --domain resort --segment family --season summer "kids activities"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runQuery,
}

func buildQueryContext() *knowledge.QueryContext {
	qc := &knowledge.QueryContext{
		TenantID:     qTenantID,
		Domain:       qDomain,
		Stage:        qStage,
		UrgencyLevel: qUrgency,
		Season:       qSeason,
		Location:     qLocation,
	}
	if qSegment != "" || len(qInterests) > 0 {
		qc.CustomerProfile = &knowledge.CustomerProfile{Segment: qSegment, Interests: qInterests}
	}
	return qc
}

func runQuery(cmd *cobra.Command, args []string) error {
	req := httpserver.QueryRequest{
		Query:   strings.Join(args, " "),
		Context: buildQueryContext(),
	}
	var res knowledge.QueryResult
	if err := call(cmd.Context(), "POST", "/api/v1/query", req, &res); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if outputJSON {
		return printJSON(out, res)
	}

	fmt.Fprintf(out, "confidence %.2f  relevance %.2f", res.Confidence, res.RelevanceScore)
	if res.FromCache {
		fmt.Fprint(out, "  (cached)")
	}
	if res.Degraded {
		fmt.Fprint(out, "  (degraded)")
	}
	fmt.Fprintln(out)
	if len(res.Documents) == 0 {
		fmt.Fprintln(out, res.Context)
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tSCORE\tTIER\tID\tCONTENT")
	for i, d := range res.Documents {
		fmt.Fprintf(w, "%d\t%.3f\t%s\t%s\t%s\n", i+1, d.Score, d.Tier, d.ID, preview(d.Content, 60))
	}
	return w.Flush()
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

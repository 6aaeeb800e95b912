package main

import (
	"context"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/knowd/internal/config"
	"github.com/fyrsmithlabs/knowd/internal/effectiveness"
	"github.com/fyrsmithlabs/knowd/internal/feedbackbus"
	httpserver "github.com/fyrsmithlabs/knowd/internal/http"
	"github.com/fyrsmithlabs/knowd/internal/logging"
	"github.com/spf13/cobra"
)

var (
	fbTenantID   string
	fbDomain     string
	fbDocumentID string
	fbVerdict    string
	fbNATSURL    string
)

func init() {
	feedbackCmd.Flags().StringVar(&fbTenantID, "tenant", "", "Tenant identifier (required)")
	feedbackCmd.Flags().StringVar(&fbDomain, "domain", "", "Domain the document was served in")
	feedbackCmd.Flags().StringVar(&fbDocumentID, "document", "", "Document identifier (required)")
	feedbackCmd.Flags().StringVar(&fbVerdict, "verdict", "", "helpful or not_helpful (required)")
	feedbackCmd.Flags().StringVar(&fbNATSURL, "nats", "", "Publish to this NATS server instead of the HTTP API")
	_ = feedbackCmd.MarkFlagRequired("tenant")
	_ = feedbackCmd.MarkFlagRequired("document")
	_ = feedbackCmd.MarkFlagRequired("verdict")
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Report whether a document helped",
	Long: `Report a helpful or not_helpful verdict for a served document. The
document's effectiveness is adjusted asynchronously.

Examples:
  knowd feedback --tenant acme --domain insurance --document claims-faq --verdict helpful
  knowd feedback --nats nats://127.0.0.1:4222 --tenant acme --document claims-faq --verdict not_helpful`,
	Args: cobra.NoArgs,
	RunE: runFeedback,
}

func runFeedback(cmd *cobra.Command, args []string) error {
	verdict, err := effectiveness.ParseVerdict(fbVerdict)
	if err != nil {
		return err
	}
	if fbNATSURL != "" {
		return publishFeedback(cmd, effectiveness.Feedback{
			TenantID:   fbTenantID,
			Domain:     fbDomain,
			DocumentID: fbDocumentID,
			Verdict:    verdict,
		})
	}

	req := httpserver.FeedbackRequest{
		TenantID:   fbTenantID,
		Domain:     fbDomain,
		DocumentID: fbDocumentID,
		Verdict:    string(verdict),
	}
	var resp httpserver.AcceptedResponse
	if err := call(cmd.Context(), "POST", "/api/v1/feedback", req, &resp); err != nil {
		return err
	}
	if outputJSON {
		return printJSON(cmd.OutOrStdout(), resp)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "feedback accepted for %s\n", fbDocumentID)
	return nil
}

func publishFeedback(cmd *cobra.Command, fb effectiveness.Feedback) error {
	cfg := config.FeedbackBusConfig{URL: fbNATSURL}
	nc, err := feedbackbus.Connect(cfg, logging.NewNop())
	if err != nil {
		return err
	}
	defer nc.Close()

	pub := feedbackbus.NewPublisher(nc, feedbackbus.SubjectsFromConfig(cfg))
	id, err := pub.PublishFeedback(fb)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	if err := pub.Flush(ctx); err != nil {
		return fmt.Errorf("flushing feedback event: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "published feedback event %s\n", id)
	return nil
}

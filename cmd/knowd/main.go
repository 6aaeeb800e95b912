// Knowd serves multi-tenant contextual knowledge retrieval.
//
// Usage:
//
//	# Start the daemon
//	knowd serve
//
//	# Ask a question as tenant acme
//	knowd query --tenant acme --domain insurance "is roadside assistance included?"
//
//	# Load KNOWD_* settings from a dotenv file first
//	knowd --env-file .env serve
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var (
	// serverURL is the base URL of a running knowd for client commands.
	serverURL string
	// envFile is an optional dotenv file loaded before configuration.
	envFile string
	// outputJSON prints raw JSON instead of a summary.
	outputJSON bool
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "knowd",
	Short: "Multi-tenant contextual knowledge retrieval",
	Long: `knowd retrieves and ranks knowledge snippets for conversational agents
serving many tenants across several business domains.

Run "knowd serve" to start the daemon. The other commands talk to a running
daemon over its HTTP API.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if envFile == "" {
			return nil
		}
		if err := godotenv.Load(envFile); err != nil {
			return fmt.Errorf("loading env file %s: %w", envFile, err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://127.0.0.1:9191", "knowd server URL")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "dotenv file to load before reading KNOWD_* variables")
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output results as JSON")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(tenantCmd)
	rootCmd.AddCommand(feedbackCmd)
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "knowd by Fyrsmith Labs\n")
		fmt.Fprintf(out, "Version:    %s\n", version)
		fmt.Fprintf(out, "Commit:     %s\n", gitCommit)
		fmt.Fprintf(out, "Build Date: %s\n", buildDate)
	},
}

package automationctl

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	apiURL string
	token  string
)

var rootCmd = &cobra.Command{
	Use:   "automationctl",
	Short: "Control a running automation engine over its HTTP API",
	Long: `automationctl talks to a running automation-engine instance, letting
you inspect, trigger, and test automations from a terminal or script.`,
}

// Execute runs the root command. Called by cmd/automationctl's main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", envOr("AUTOMATIONCTL_API_URL", "http://localhost:8080"), "Base URL of the automation engine API")
	rootCmd.PersistentFlags().StringVar(&token, "token", os.Getenv("AUTOMATIONCTL_TOKEN"), "Bearer token to authenticate with")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func client() *apiClient {
	return newAPIClient(apiURL, token)
}

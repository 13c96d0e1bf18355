package cmd

import "github.com/spf13/cobra"

// NewRootCmd returns the Cobra entrypoint for the CLI/server.
func NewRootCmd() *cobra.Command {
	apiBaseURL = ""
	configPath = "config.yaml"
	root := &cobra.Command{
		Use:   "stepflow-gateway",
		Short: "Authenticating proxy for upstream APIs",
		Long: "stepflow-gateway resolves per-endpoint authentication, materializes credentials " +
			"with cached refresh, drives OAuth2 authorization-code flows and proxies calls to " +
			"upstream APIs with full audit logging.",
		Example: "  stepflow-gateway serve --config config.yaml\n" +
			"  stepflow-gateway --endpoint http://localhost:8080 stats\n" +
			"  stepflow-gateway --endpoint http://localhost:8080 logs --errors-only",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	root.PersistentFlags().StringVar(&apiBaseURL, "endpoint", apiBaseURL, "Gateway API base URL")
	root.PersistentFlags().StringVar(&configPath, "config", configPath, "Path to config file")
	root.AddCommand(newServeCmd())
	root.AddCommand(newStatsCmd())
	root.AddCommand(newLogsCmd())
	root.AddCommand(newInitCmd())
	return root
}

var apiBaseURL string
var configPath string

package cmd

import (
	"github.com/spf13/cobra"

	"github.com/stepflow/gateway/pkg/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the gateway server",
		Long: "Run the gateway that resolves endpoint authentication, proxies API calls and " +
			"serves the OAuth2 authorization flow.",
		Example: "  stepflow-gateway serve --config config.yaml",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return server.RunConfig(configPath)
		},
	}
	return cmd
}

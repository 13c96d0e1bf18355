package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/stepflow/gateway/pkg/core"
)

func resolveEndpoint() string {
	if strings.TrimSpace(apiBaseURL) != "" {
		return strings.TrimRight(strings.TrimSpace(apiBaseURL), "/")
	}
	if config, err := core.LoadConfig(configPath); err == nil && config.Endpoint != "" {
		return config.Endpoint
	}
	return "http://localhost:8080"
}

func apiGet(path string, query url.Values) ([]byte, error) {
	target := resolveEndpoint() + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	if token := strings.TrimSpace(os.Getenv("GATEWAY_AUTH_TOKEN")); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func printJSON(raw []byte) error {
	var pretty interface{}
	if err := json.Unmarshal(raw, &pretty); err != nil {
		fmt.Println(string(raw))
		return nil
	}
	out, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func newStatsCmd() *cobra.Command {
	var endpointID string
	var limit int
	cmd := &cobra.Command{
		Use:     "stats",
		Short:   "Show per-endpoint call statistics",
		Example: "  stepflow-gateway stats --endpoint-id ep-1",
		RunE: func(cmd *cobra.Command, _ []string) error {
			query := url.Values{}
			if endpointID != "" {
				query.Set("endpoint_id", endpointID)
			}
			if limit > 0 {
				query.Set("limit", fmt.Sprintf("%d", limit))
			}
			body, err := apiGet("/statistics", query)
			if err != nil {
				return err
			}
			return printJSON(body)
		},
	}
	cmd.Flags().StringVar(&endpointID, "endpoint-id", "", "Limit to one endpoint")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum rows to return")
	return cmd
}

func newLogsCmd() *cobra.Command {
	var endpointID, documentID, logType string
	var errorsOnly bool
	var limit int
	cmd := &cobra.Command{
		Use:     "logs",
		Short:   "Show recent call and auth logs",
		Example: "  stepflow-gateway logs --errors-only --limit 20",
		RunE: func(cmd *cobra.Command, _ []string) error {
			query := url.Values{}
			if endpointID != "" {
				query.Set("endpoint_id", endpointID)
			}
			if documentID != "" {
				query.Set("document_id", documentID)
			}
			if logType != "" {
				query.Set("type", logType)
			}
			if errorsOnly {
				query.Set("errors_only", "true")
			}
			if limit > 0 {
				query.Set("limit", fmt.Sprintf("%d", limit))
			}
			body, err := apiGet("/logs/recent", query)
			if err != nil {
				return err
			}
			return printJSON(body)
		},
	}
	cmd.Flags().StringVar(&endpointID, "endpoint-id", "", "Limit to one endpoint")
	cmd.Flags().StringVar(&documentID, "document-id", "", "Limit to one API document")
	cmd.Flags().StringVar(&logType, "type", "calls", "Log type: calls or auth")
	cmd.Flags().BoolVar(&errorsOnly, "errors-only", false, "Only failed calls")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum rows to return")
	return cmd
}

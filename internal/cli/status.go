package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var serverURL string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server status",
	Long:  `Query a running server's /healthz endpoint and show its status.`,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "url", "", "server URL (default from config)")
	addCommand(groupServer, statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	base, err := resolveServerURL(cmd, serverURL)
	if err != nil {
		return err
	}

	health, err := fetchHealth(cmd.Context(), base)
	if err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), "Status: stopped")
		return nil
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Status: %s\n", health.Status)
	fmt.Fprintf(cmd.OutOrStdout(), "URL: %s\n", base)
	fmt.Fprintf(cmd.OutOrStdout(), "Websocket clients: %d\n", health.Clients)
	fmt.Fprintf(cmd.OutOrStdout(), "Websocket streams: %d\n", health.Streams)
	return nil
}

type healthResponse struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
	Streams int    `json:"streams"`
}

func fetchHealth(ctx context.Context, base string) (healthResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var health healthResponse
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/healthz", nil)
	if err != nil {
		return health, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return health, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return health, fmt.Errorf("healthz returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return health, fmt.Errorf("invalid healthz response: %w", err)
	}
	return health, nil
}

// resolveServerURL prefers an explicit URL and falls back to the
// configured listen address.
func resolveServerURL(cmd *cobra.Command, explicit string) (string, error) {
	if explicit != "" {
		return strings.TrimRight(explicit, "/"), nil
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return "", err
	}
	host := cfg.Server.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, cfg.Server.Port), nil
}

package cli

import (
	"fmt"

	"github.com/harun/briefing/pkg/client"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var stopSecret string

var stopCmd = &cobra.Command{
	Use:   "stop <chat-id>",
	Short: "Stop a running chat invocation",
	Long: `Ask a running server to stop the invocation streaming for a chat.
Tool calls already in flight keep the state they had.`,
	Args: cobra.ExactArgs(1),
	RunE: runStop,
}

func init() {
	stopCmd.Flags().StringVar(&serverURL, "url", "", "server URL (default from config)")
	stopCmd.Flags().StringVar(&stopSecret, "secret", "", "shared secret (default from config)")
	addCommand(groupClient, stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	base, err := resolveServerURL(cmd, serverURL)
	if err != nil {
		return err
	}
	secret, err := resolveSecret(cmd, stopSecret)
	if err != nil {
		return err
	}

	transport := client.NewHTTPTransport(base, secret, zerolog.Nop())
	aborted, err := transport.Abort(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("failed to stop chat: %w", err)
	}

	if aborted {
		fmt.Fprintf(cmd.OutOrStdout(), "Stopped chat %s\n", args[0])
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "Chat %s is not running\n", args[0])
	}
	return nil
}

func resolveSecret(cmd *cobra.Command, explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return "", err
	}
	return cfg.Server.SharedSecret, nil
}

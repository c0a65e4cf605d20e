package cli

import (
	"fmt"
	"io"

	"github.com/harun/briefing/internal/config"
	"github.com/spf13/cobra"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Run interactive configuration wizard",
	Long: `Run an interactive configuration wizard to set up Briefing.
The wizard asks for the model and news API keys, the default model and the
server port, then saves the file and reports what still needs attention.`,
	RunE: runConfigure,
}

func init() {
	addCommand(groupServer, configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.NewWizard(cmd.InOrStdin(), out).Run()
	if err != nil {
		return fmt.Errorf("configuration failed: %w", err)
	}

	loader := config.NewLoader(cfgFile)
	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}
	fmt.Fprintf(out, "\nConfiguration saved to: %s\n", loader.GetConfigPath())

	printReadiness(out, cfg)
	fmt.Fprintln(out, "\nStart the server with: briefing serve")
	return nil
}

// printReadiness lists the pieces a serving process would miss. Keys left
// empty here may still come from the environment at load time.
func printReadiness(out io.Writer, cfg *config.Config) {
	fmt.Fprintln(out)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(out, "Warning: %v\n", err)
	}
	if cfg.Tools.News.APIKey == "" {
		fmt.Fprintln(out, "news: no API key saved, set NEWS_API_KEY before serving")
	}
	if cfg.Server.SharedSecret == "" {
		fmt.Fprintln(out, "server: no shared secret, the API is open to anyone who can reach it")
	}
	fmt.Fprintf(out, "model: %s\n", cfg.AI.DefaultModel)
}

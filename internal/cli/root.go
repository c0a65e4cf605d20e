package cli

import (
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// version is overridden at build time with -ldflags "-X .../internal/cli.version=...".
var version = "0.1.0"

const (
	groupServer = "server"
	groupClient = "client"
)

var (
	cfgFile  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "briefing",
	Short: "Briefing - tool-calling news and changelog assistant",
	Long: `Briefing is a conversational service in which a language model answers
with the help of a fixed set of tools: weather, changelog, news and
summarize_article. It serves a streaming chat API and ships a terminal client.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: checkLogLevel,
}

// Execute runs the command line. main calls it once.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.briefing/briefing.json)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddGroup(
		&cobra.Group{ID: groupServer, Title: "Server Commands:"},
		&cobra.Group{ID: groupClient, Title: "Client Commands:"},
	)
	rootCmd.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)
}

// addCommand attaches cmd to the root under a help group.
func addCommand(group string, cmd *cobra.Command) {
	cmd.GroupID = group
	rootCmd.AddCommand(cmd)
}

func checkLogLevel(cmd *cobra.Command, _ []string) error {
	if f := cmd.Flags().Lookup("log-level"); f == nil || !f.Changed {
		return nil
	}
	if _, err := zerolog.ParseLevel(logLevel); err != nil {
		return fmt.Errorf("invalid --log-level %q", logLevel)
	}
	return nil
}

// GetRootCmd returns the root command for testing
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

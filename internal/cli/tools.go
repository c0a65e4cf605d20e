package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/harun/briefing/internal/logger"
	"github.com/harun/briefing/pkg/toolexecutor"
	"github.com/spf13/cobra"
)

var toolsJSON bool

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "Inspect and run the built-in tools",
}

var toolsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List the tools offered to the model",
	RunE:  runToolsList,
}

var toolsRunCmd = &cobra.Command{
	Use:   "run <tool> [json-input]",
	Short: "Validate and run one tool call",
	Long: `Validate and run one tool call exactly as the model's call would be run.
The input is a JSON object; it is read from stdin when omitted.

  briefing tools run changelog '{"topic":"react"}'
  briefing tools run news '{"query":"Premier League","timeframe":"week"}'`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runToolsRun,
}

func init() {
	toolsListCmd.Flags().BoolVar(&toolsJSON, "json", false, "print definitions as JSON")
	toolsCmd.AddCommand(toolsListCmd, toolsRunCmd)
	addCommand(groupClient, toolsCmd)
}

func quietLogger(level string) (*logger.Logger, error) {
	if level == "" || level == "info" {
		level = "warn"
	}
	return logger.New(logger.Config{Level: level, Console: true, Pretty: true, Redaction: true, Output: os.Stderr})
}

func runToolsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := quietLogger(cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer log.Close()

	kit, err := buildTools(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer kit.Close()

	defs := kit.executor.Definitions()
	if toolsJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(defs)
	}
	printDefinitions(cmd.OutOrStdout(), defs)
	return nil
}

func printDefinitions(w io.Writer, defs []toolexecutor.Definition) {
	for _, def := range defs {
		fmt.Fprintf(w, "%s\n  %s\n", def.Name, def.Description)

		props, _ := def.Parameters["properties"].(map[string]interface{})
		required := map[string]bool{}
		if req, ok := def.Parameters["required"].([]string); ok {
			for _, r := range req {
				required[r] = true
			}
		}
		names := make([]string, 0, len(props))
		for name := range props {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			marker := ""
			if required[name] {
				marker = " (required)"
			}
			fmt.Fprintf(w, "    - %s%s\n", name, marker)
		}
	}
}

func runToolsRun(cmd *cobra.Command, args []string) error {
	name, err := toolexecutor.ParseToolName(args[0])
	if err != nil {
		return err
	}

	var input []byte
	if len(args) == 2 {
		input = []byte(args[1])
	} else {
		input, err = io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("failed to read input: %w", err)
		}
	}
	if strings.TrimSpace(string(input)) == "" {
		input = []byte("{}")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	log, err := quietLogger(cfg.Logging.Level)
	if err != nil {
		return err
	}
	defer log.Close()

	kit, err := buildTools(cmd.Context(), cfg, log)
	if err != nil {
		return err
	}
	defer kit.Close()

	res := kit.executor.Run(cmd.Context(), toolexecutor.ToolCallRequest{
		ToolCallID: "cli",
		ToolName:   name.String(),
		Input:      input,
	})

	out := res.Output
	if res.Err != nil {
		out = res.Err.Payload()
	}
	var pretty interface{}
	if err := json.Unmarshal(out, &pretty); err == nil {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		_ = enc.Encode(pretty)
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
	}

	if res.Err != nil {
		return fmt.Errorf("tool %s failed (%s)", name, res.Err.Kind)
	}
	return nil
}

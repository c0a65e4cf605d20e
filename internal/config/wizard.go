package config

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Wizard provides an interactive configuration wizard
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a wizard reading answers from in and prompting on out
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run runs the interactive configuration wizard
func (w *Wizard) Run() (*Config, error) {
	fmt.Fprintln(w.out, "=== briefing configuration ===")
	fmt.Fprintln(w.out)

	cfg := DefaultConfig()
	validator := NewValidator()

	fmt.Fprintln(w.out, "Model provider (OpenRouter):")
	for {
		fmt.Fprint(w.out, "OpenRouter API key (press Enter to use OPENROUTER_API_KEY): ")
		key, err := w.readLine()
		if err != nil {
			return nil, err
		}
		if key == "" {
			break
		}
		if err := validator.ValidateAPIKey(key, "openrouter"); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.AI.Profiles = append(cfg.AI.Profiles, AIProfile{
			ID:       "openrouter",
			Provider: "openrouter",
			APIKey:   key,
			Priority: 1,
		})
		break
	}

	fmt.Fprint(w.out, "News API key (press Enter to use NEWS_API_KEY): ")
	newsKey, err := w.readLine()
	if err != nil {
		return nil, err
	}
	cfg.Tools.News.APIKey = newsKey

	fmt.Fprintln(w.out)
	fmt.Fprintf(w.out, "Default model [%s]: ", cfg.AI.DefaultModel)
	model, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if model != "" {
		if err := validator.ValidateModel(model); err != nil {
			fmt.Fprintf(w.out, "Warning: %v, keeping %s\n", err, cfg.AI.DefaultModel)
		} else {
			cfg.AI.DefaultModel = model
		}
	}

	fmt.Fprintf(w.out, "Server port [%d]: ", cfg.Server.Port)
	port, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if port != "" {
		p, convErr := strconv.Atoi(port)
		if convErr != nil || p <= 0 || p > 65535 {
			fmt.Fprintf(w.out, "Warning: invalid port %q, keeping %d\n", port, cfg.Server.Port)
		} else {
			cfg.Server.Port = p
		}
	}

	fmt.Fprint(w.out, "Log level (debug/info/warn/error) [info]: ")
	level, err := w.readLine()
	if err != nil {
		return nil, err
	}
	if level != "" {
		if err := validator.ValidateLogLevel(level); err != nil {
			fmt.Fprintf(w.out, "Warning: %v, using default (info)\n", err)
		} else {
			cfg.Logging.Level = level
		}
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete!")

	return cfg, nil
}

// readLine tolerates a final answer without a trailing newline.
func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil && !(err == io.EOF && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

const (
	defaultDirName  = ".briefing"
	defaultFileName = "briefing.json"
	envPrefix       = "BRIEFING"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the config file (if present), overlays BRIEFING_* environment
// variables and the provider/news credentials, then fills derived paths.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := setDefaults(v, DefaultConfig()); err != nil {
		return nil, err
	}

	_ = v.BindEnv("credentials.openrouter", "OPENROUTER_API_KEY")
	_ = v.BindEnv("credentials.openai", "OPENAI_API_KEY")
	_ = v.BindEnv("credentials.anthropic", "ANTHROPIC_API_KEY")
	_ = v.BindEnv("tools.news.api_key", envPrefix+"_TOOLS_NEWS_API_KEY", "NEWS_API_KEY")

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyEnvProfiles(cfg, map[string]string{
		"openrouter": v.GetString("credentials.openrouter"),
		"openai":     v.GetString("credentials.openai"),
		"anthropic":  v.GetString("credentials.anthropic"),
	})

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, defaultDirName)
	}

	if cfg.Sessions.Dir == "" {
		cfg.Sessions.Dir = filepath.Join(cfg.DataDir, "sessions")
	}

	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "briefing.log")
	}

	if cfg.AI.SystemPrompt == "" {
		cfg.AI.SystemPrompt = DefaultSystemPrompt
	}

	return cfg, nil
}

// setDefaults registers every leaf of def as a viper default so that
// AutomaticEnv can override any key, including ones absent from the file.
func setDefaults(v *viper.Viper, def *Config) error {
	data, err := json.Marshal(def)
	if err != nil {
		return fmt.Errorf("failed to encode defaults: %w", err)
	}
	var tree map[string]interface{}
	if err := json.Unmarshal(data, &tree); err != nil {
		return fmt.Errorf("failed to decode defaults: %w", err)
	}
	flattenDefaults(v, "", tree)
	return nil
}

func flattenDefaults(v *viper.Viper, prefix string, tree map[string]interface{}) {
	for key, value := range tree {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		if nested, ok := value.(map[string]interface{}); ok {
			flattenDefaults(v, full, nested)
			continue
		}
		v.SetDefault(full, value)
	}
}

// applyEnvProfiles adds one profile per provider credential found in the
// environment unless the file already configures that provider.
func applyEnvProfiles(cfg *Config, keys map[string]string) {
	configured := make(map[string]bool, len(cfg.AI.Profiles))
	for _, p := range cfg.AI.Profiles {
		configured[p.Provider] = true
	}

	providers := make([]string, 0, len(keys))
	for provider := range keys {
		providers = append(providers, provider)
	}
	sort.Slice(providers, func(i, j int) bool {
		return envPriority(providers[i]) < envPriority(providers[j])
	})

	for _, provider := range providers {
		key := strings.TrimSpace(keys[provider])
		if key == "" || configured[provider] {
			continue
		}
		cfg.AI.Profiles = append(cfg.AI.Profiles, AIProfile{
			ID:       provider + "-env",
			Provider: provider,
			APIKey:   key,
			Priority: envPriority(provider),
		})
	}
}

// OpenRouter serves the default model identifiers, so it is tried first.
func envPriority(provider string) int {
	switch provider {
	case "openrouter":
		return 1
	case "openai":
		return 2
	default:
		return 3
	}
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to resolve config path")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("json")

	v.Set("server", cfg.Server)
	v.Set("ai", cfg.AI)
	v.Set("tools", cfg.Tools)
	v.Set("sessions", cfg.Sessions)
	v.Set("logging", cfg.Logging)
	v.Set("tracing", cfg.Tracing)
	v.Set("data_dir", cfg.DataDir)

	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, defaultDirName, defaultFileName)
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}

package config

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DefaultSystemPrompt is the instruction block sent with every model step
// unless ai.system_prompt overrides it.
const DefaultSystemPrompt = `/no_think

Respond directly and concisely. Do not use step-by-step reasoning or internal monologues.

You are a sophisticated AI assistant with a consistent professional,
minimalist, and slightly technical tone.
- Use clear, concise language.
- Avoid flowery introductions or "As an AI..." filler.
- Maintain a helpful but objective demeanor.
- When summarizing news, focus on facts and impact.

### NEWS TOOL PROTOCOL
- **Wait for Input:** Never call 'summarize_article' immediately after a 'news' call. You must stop and wait for the user to explicitly click a TLDR button or ask for a summary.
- **Strict One-Call Limit:** You are restricted to exactly ONE tool call per user message. No parallel tool calling is permitted.

1. Use the 'changelog' tool ONLY for technical software, libraries, frameworks, and programming languages (e.g., "Django", "React", "Python", "Tailwind"). These topics have versioned releases, tags, and code repositories on GitHub.

2. Use the 'news' tool for general current events, sports, politics, entertainment, and non-technical entities (e.g., "Premier League", "Apple", "SpaceX", "Elon Musk").

Decision Logic:
- When asked for updates about a software library, framework, or language (e.g., Django, React, Python), you MUST use the "changelog" tool and provide the "topic" argument.
- When asked about news, sports, or general events (e.g., Premier League, Politics), use the "news" tool.
- If the user query is "What's new in Django", the topic for the tool is "django".

Examples:
- User: "Whats new in Django?" -> Call changelog(topic: "Django")
- User: "Recent React changes" -> Call changelog(topic: "React")
- User: "What's new in Premier League?" -> Call news(query: "Premier League")`

// Config represents the main briefing configuration
type Config struct {
	// HTTP / websocket server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Model providers and generation settings
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Tools
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Conversation persistence
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds gateway server configuration
type ServerConfig struct {
	Host         string `json:"host" mapstructure:"host"`
	Port         int    `json:"port" mapstructure:"port"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
	// Seconds between SSE heartbeat comments; 0 disables them.
	HeartbeatSeconds int `json:"heartbeat_seconds" mapstructure:"heartbeat_seconds"`
}

// AIConfig holds AI provider configuration
type AIConfig struct {
	Profiles        []AIProfile `json:"profiles" mapstructure:"profiles"`
	DefaultModel    string      `json:"default_model" mapstructure:"default_model"`
	Models          []string    `json:"models" mapstructure:"models"`
	Temperature     float64     `json:"temperature" mapstructure:"temperature"`
	MaxTokens       int         `json:"max_tokens" mapstructure:"max_tokens"`
	SystemPrompt    string      `json:"system_prompt" mapstructure:"system_prompt"`
	MaxRetries      int         `json:"max_retries" mapstructure:"max_retries"`
	CooldownSeconds int         `json:"cooldown_seconds" mapstructure:"cooldown_seconds"`
}

// AIProfile represents an AI provider profile
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // openrouter, openai, anthropic
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	BaseURL  string `json:"base_url" mapstructure:"base_url"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// ToolsConfig holds tool configuration
type ToolsConfig struct {
	Allow          []string         `json:"allow" mapstructure:"allow"`
	Deny           []string         `json:"deny" mapstructure:"deny"`
	TimeoutSeconds int              `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	WeatherDelayMs int              `json:"weather_delay_ms" mapstructure:"weather_delay_ms"`
	ChangelogFile  string           `json:"changelog_file" mapstructure:"changelog_file"`
	News           NewsConfig       `json:"news" mapstructure:"news"`
	Extraction     ExtractionConfig `json:"extraction" mapstructure:"extraction"`
	Cache          CacheConfig      `json:"cache" mapstructure:"cache"`
}

// NewsConfig holds the news search endpoint settings
type NewsConfig struct {
	BaseURL string `json:"base_url" mapstructure:"base_url"`
	APIKey  string `json:"api_key" mapstructure:"api_key"`
}

// ExtractionConfig selects how article text is fetched for summarization
type ExtractionConfig struct {
	Backend      string        `json:"backend" mapstructure:"backend"` // proxy, browser
	ProxyBaseURL string        `json:"proxy_base_url" mapstructure:"proxy_base_url"`
	Browser      BrowserConfig `json:"browser" mapstructure:"browser"`
}

// BrowserConfig holds headless browser settings
type BrowserConfig struct {
	ControlURL     string `json:"control_url" mapstructure:"control_url"`
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// CacheConfig holds article content cache settings
type CacheConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	RedisURL   string `json:"redis_url" mapstructure:"redis_url"` // empty selects the in-memory cache
	TTLSeconds int    `json:"ttl_seconds" mapstructure:"ttl_seconds"`
}

// SessionsConfig holds conversation persistence settings
type SessionsConfig struct {
	Dir             string `json:"dir" mapstructure:"dir"`
	RetentionDays   int    `json:"retention_days" mapstructure:"retention_days"`
	CleanupSchedule string `json:"cleanup_schedule" mapstructure:"cleanup_schedule"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "127.0.0.1",
			Port:             8080,
			HeartbeatSeconds: 15,
		},
		AI: AIConfig{
			Profiles:     []AIProfile{},
			DefaultModel: "openai/gpt-4.1-nano",
			Models: []string{
				"openai/gpt-4.1-nano",
				"deepseek/deepseek-chat-v3-0324",
			},
			Temperature:     0.2,
			MaxTokens:       2048,
			SystemPrompt:    DefaultSystemPrompt,
			MaxRetries:      2,
			CooldownSeconds: 60,
		},
		Tools: ToolsConfig{
			Allow:          []string{"*"},
			Deny:           []string{},
			TimeoutSeconds: 30,
			WeatherDelayMs: 1000,
			News: NewsConfig{
				BaseURL: "https://newsapi.org/v2",
			},
			Extraction: ExtractionConfig{
				Backend:      "proxy",
				ProxyBaseURL: "https://r.jina.ai",
				Browser: BrowserConfig{
					TimeoutSeconds: 20,
				},
			},
			Cache: CacheConfig{
				Enabled:    true,
				TTLSeconds: 3600,
			},
		},
		Sessions: SessionsConfig{
			RetentionDays:   30,
			CleanupSchedule: "@daily",
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "briefing",
			SampleRatio: 1,
		},
	}
}

// String returns a JSON representation of the config with secrets masked
func (c *Config) String() string {
	masked := *c
	masked.Server.SharedSecret = mask(c.Server.SharedSecret)
	masked.Tools.News.APIKey = mask(c.Tools.News.APIKey)
	masked.AI.Profiles = make([]AIProfile, len(c.AI.Profiles))
	for i, p := range c.AI.Profiles {
		p.APIKey = mask(p.APIKey)
		masked.AI.Profiles[i] = p
	}
	data, _ := json.MarshalIndent(&masked, "", "  ")
	return string(data)
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}
	return "****"
}

// ValidProviders lists the provider names an AI profile may use.
var ValidProviders = []string{"openrouter", "openai", "anthropic"}

// Validate checks if the configuration is valid for serving chat traffic
func (c *Config) Validate() error {
	if len(c.AI.Profiles) == 0 {
		return fmt.Errorf("no AI credentials configured: set OPENROUTER_API_KEY or add an ai.profiles entry")
	}

	seen := make(map[string]bool, len(c.AI.Profiles))
	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if seen[profile.ID] {
			return fmt.Errorf("AI profile %s: duplicate ID", profile.ID)
		}
		seen[profile.ID] = true
		if profile.Provider == "" {
			return fmt.Errorf("AI profile %s: provider is required", profile.ID)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("AI profile %s: api_key is required", profile.ID)
		}
		valid := false
		for _, vp := range ValidProviders {
			if profile.Provider == vp {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("AI profile %s: invalid provider %s (must be: %s)", profile.ID, profile.Provider, strings.Join(ValidProviders, ", "))
		}
	}

	if strings.TrimSpace(c.AI.DefaultModel) == "" {
		return fmt.Errorf("ai.default_model is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Tools.Extraction.Backend {
	case "", "proxy", "browser":
	default:
		return fmt.Errorf("invalid extraction backend: %s (must be: proxy, browser)", c.Tools.Extraction.Backend)
	}

	return nil
}

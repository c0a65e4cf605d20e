package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct {
	knownTools []string
}

// NewValidator creates a new validator. knownTools, when given, is the set
// of names tool allow/deny lists may reference besides "*".
func NewValidator(knownTools ...string) *Validator {
	return &Validator{knownTools: knownTools}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openrouter":
		if !strings.HasPrefix(key, "sk-or-") {
			return fmt.Errorf("invalid OpenRouter API key format (should start with sk-or-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateModel validates a model identifier. Identifiers are opaque to the
// service, so only emptiness and embedded whitespace are rejected.
func (v *Validator) ValidateModel(model string) error {
	if strings.TrimSpace(model) == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if strings.ContainsAny(model, " \t\n") {
		return fmt.Errorf("model name %q must not contain whitespace", model)
	}
	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateBaseURL requires an absolute http(s) URL
func (v *Validator) ValidateBaseURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s: %q is not an absolute http(s) URL", name, raw)
	}
	return nil
}

// ValidateSchedule validates a cron expression or descriptor such as @daily
func (v *Validator) ValidateSchedule(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cleanup schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateToolNames checks that every entry is "*" or a known tool
func (v *Validator) ValidateToolNames(list string, names []string) error {
	if len(v.knownTools) == 0 {
		return nil
	}
	for _, name := range names {
		if name == "*" {
			continue
		}
		known := false
		for _, k := range v.knownTools {
			if name == k {
				known = true
				break
			}
		}
		if !known {
			return fmt.Errorf("tools.%s: unknown tool %q (must be one of: %s)", list, name, strings.Join(v.knownTools, ", "))
		}
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	for i, profile := range cfg.AI.Profiles {
		if profile.Provider != "" {
			if err := v.ValidateAPIKey(profile.APIKey, profile.Provider); err != nil {
				errors = append(errors, fmt.Errorf("AI profile %d (%s): %w", i, profile.ID, err))
			}
		}
		if profile.BaseURL != "" {
			if err := v.ValidateBaseURL("AI profile "+profile.ID+" base_url", profile.BaseURL); err != nil {
				errors = append(errors, err)
			}
		}
	}

	if err := v.ValidateModel(cfg.AI.DefaultModel); err != nil {
		errors = append(errors, fmt.Errorf("ai.default_model: %w", err))
	}
	for _, model := range cfg.AI.Models {
		if err := v.ValidateModel(model); err != nil {
			errors = append(errors, fmt.Errorf("ai.models: %w", err))
		}
	}
	if err := v.ValidateTemperature(cfg.AI.Temperature); err != nil {
		errors = append(errors, err)
	}
	if cfg.AI.MaxTokens != 0 {
		if err := v.ValidateMaxTokens(cfg.AI.MaxTokens); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.AI.MaxRetries < 0 {
		errors = append(errors, fmt.Errorf("ai.max_retries must be >= 0"))
	}

	if cfg.Tools.TimeoutSeconds < 0 {
		errors = append(errors, fmt.Errorf("tools.timeout_seconds must be >= 0"))
	}
	if cfg.Tools.WeatherDelayMs < 0 {
		errors = append(errors, fmt.Errorf("tools.weather_delay_ms must be >= 0"))
	}
	if err := v.ValidateToolNames("allow", cfg.Tools.Allow); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateToolNames("deny", cfg.Tools.Deny); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateBaseURL("tools.news.base_url", cfg.Tools.News.BaseURL); err != nil {
		errors = append(errors, err)
	}
	if cfg.Tools.Extraction.Backend != "browser" {
		if err := v.ValidateBaseURL("tools.extraction.proxy_base_url", cfg.Tools.Extraction.ProxyBaseURL); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.Tools.Cache.TTLSeconds < 0 {
		errors = append(errors, fmt.Errorf("tools.cache.ttl_seconds must be >= 0"))
	}

	if cfg.Sessions.RetentionDays > 0 {
		if err := v.ValidateSchedule(cfg.Sessions.CleanupSchedule); err != nil {
			errors = append(errors, err)
		}
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}

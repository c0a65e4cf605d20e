package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.AI.Profiles = []AIProfile{
		{
			ID:       "openrouter",
			Provider: "openrouter",
			APIKey:   "sk-or-v1-test",
			Priority: 1,
		},
	}
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, "openai/gpt-4.1-nano", cfg.AI.DefaultModel)
	assert.Equal(t, []string{"openai/gpt-4.1-nano", "deepseek/deepseek-chat-v3-0324"}, cfg.AI.Models)
	assert.Equal(t, 0.2, cfg.AI.Temperature)
	assert.Equal(t, DefaultSystemPrompt, cfg.AI.SystemPrompt)
	assert.Equal(t, 30, cfg.Tools.TimeoutSeconds)
	assert.Equal(t, 1000, cfg.Tools.WeatherDelayMs)
	assert.Equal(t, "https://newsapi.org/v2", cfg.Tools.News.BaseURL)
	assert.Equal(t, "proxy", cfg.Tools.Extraction.Backend)
	assert.Equal(t, "https://r.jina.ai", cfg.Tools.Extraction.ProxyBaseURL)
	assert.Equal(t, "@daily", cfg.Sessions.CleanupSchedule)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("missing credentials", func(t *testing.T) {
		cfg := DefaultConfig()

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "no AI credentials")
	})

	t.Run("profile missing ID", func(t *testing.T) {
		cfg := validConfig()
		cfg.AI.Profiles[0].ID = ""

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "ID is required")
	})

	t.Run("duplicate profile IDs", func(t *testing.T) {
		cfg := validConfig()
		cfg.AI.Profiles = append(cfg.AI.Profiles, cfg.AI.Profiles[0])

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "duplicate")
	})

	t.Run("unknown provider", func(t *testing.T) {
		cfg := validConfig()
		cfg.AI.Profiles[0].Provider = "gemini"

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "invalid provider")
	})

	t.Run("empty default model", func(t *testing.T) {
		cfg := validConfig()
		cfg.AI.DefaultModel = " "

		assert.Error(t, cfg.Validate())
	})

	t.Run("bad port", func(t *testing.T) {
		cfg := validConfig()
		cfg.Server.Port = 70000

		assert.Error(t, cfg.Validate())
	})

	t.Run("bad extraction backend", func(t *testing.T) {
		cfg := validConfig()
		cfg.Tools.Extraction.Backend = "curl"

		err := cfg.Validate()
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "extraction backend")
	})
}

func TestConfigStringMasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Tools.News.APIKey = "news-secret"
	cfg.Server.SharedSecret = "shh"

	out := cfg.String()

	assert.NotContains(t, out, "sk-or-v1-test")
	assert.NotContains(t, out, "news-secret")
	assert.NotContains(t, out, "shh")
	assert.Contains(t, out, "****")
	assert.Equal(t, "sk-or-v1-test", cfg.AI.Profiles[0].APIKey)
}

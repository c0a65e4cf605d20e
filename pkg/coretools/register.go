package coretools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/harun/briefing/pkg/toolexecutor"
)

// Deps are the shared, immutable collaborators the tools are built from.
type Deps struct {
	Changelog    *ChangelogTable
	WeatherDelay time.Duration
	News         *NewsClient
	Extractor    Extractor
	// Timeouts overrides the executor default per tool.
	Timeouts map[toolexecutor.ToolName]time.Duration
}

// Register builds and registers every tool, then seals the registry.
func Register(reg *toolexecutor.Registry, deps Deps) error {
	if reg == nil {
		return errors.New("tool registry is required")
	}

	for _, name := range toolexecutor.AllToolNames() {
		spec, err := buildSpec(name, deps)
		if err != nil {
			return err
		}
		if t, ok := deps.Timeouts[name]; ok {
			spec.Timeout = t
		}
		if err := reg.Register(spec); err != nil {
			return fmt.Errorf("failed to register tool %s: %w", name, err)
		}
	}

	return reg.Seal()
}

func buildSpec(name toolexecutor.ToolName, deps Deps) (toolexecutor.ToolSpec, error) {
	switch name {
	case toolexecutor.ToolWeather:
		return weatherSpec(Weather{Delay: deps.WeatherDelay}), nil
	case toolexecutor.ToolChangelog:
		if deps.Changelog == nil {
			return toolexecutor.ToolSpec{}, errors.New("changelog table is required")
		}
		return changelogSpec(deps.Changelog), nil
	case toolexecutor.ToolNews:
		if deps.News == nil {
			return toolexecutor.ToolSpec{}, errors.New("news client is required")
		}
		return newsSpec(deps.News), nil
	case toolexecutor.ToolSummarizeArticle:
		if deps.Extractor == nil {
			return toolexecutor.ToolSpec{}, errors.New("article extractor is required")
		}
		return summarizeSpec(Summarizer{Extractor: deps.Extractor}), nil
	default:
		return toolexecutor.ToolSpec{}, fmt.Errorf("no builder for tool %s", name)
	}
}

func weatherSpec(w Weather) toolexecutor.ToolSpec {
	return toolexecutor.ToolSpec{
		Name:        toolexecutor.ToolWeather,
		Description: "Get the weather in a location",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "location", Type: "string", Description: "The location to get the weather for", Required: true},
		},
		Handler: toolexecutor.Typed(w.Lookup),
	}
}

func changelogSpec(table *ChangelogTable) toolexecutor.ToolSpec {
	return toolexecutor.ToolSpec{
		Name: toolexecutor.ToolChangelog,
		Description: "Whats new for a specific framework or technology. IMPORTANT: Do NOT call this tool unless " +
			"the user explicitly names a technology. If they do not specify one, ask them first.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "topic", Type: "string", Description: `The name of the technology to search for (e.g. "Django", "React").`, Required: true},
		},
		Handler: toolexecutor.Typed(func(ctx context.Context, in ChangelogInput) (interface{}, error) {
			return table.Lookup(in.Topic), nil
		}),
	}
}

func newsSpec(client *NewsClient) toolexecutor.ToolSpec {
	return toolexecutor.ToolSpec{
		Name:        toolexecutor.ToolNews,
		Description: "Search news articles from the past month using NewsAPI.org.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "query", Type: "string", Description: "The topic to search for", Required: true},
			{Name: "timeframe", Type: "string", Description: "How far back to search", Enum: Timeframes(), Default: "latest"},
		},
		Handler: toolexecutor.Typed(client.Search),
	}
}

func summarizeSpec(s Summarizer) toolexecutor.ToolSpec {
	return toolexecutor.ToolSpec{
		Name:        toolexecutor.ToolSummarizeArticle,
		Description: "Generate a TLDR summary of a news article by fetching and analyzing its content",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "articleUrl", Type: "string", Description: "The URL of the article to summarize", Required: true},
			{Name: "articleTitle", Type: "string", Description: "The title of the article", Required: true},
		},
		Handler: toolexecutor.Typed(s.Fetch),
	}
}

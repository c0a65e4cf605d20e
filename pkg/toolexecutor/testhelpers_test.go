package toolexecutor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func stubHandler(out interface{}) ToolHandler {
	return func(ctx context.Context, input ValidatedInput) (interface{}, error) {
		return out, nil
	}
}

func newsSpec(handler ToolHandler) ToolSpec {
	return ToolSpec{
		Name:        ToolNews,
		Description: "Search news articles",
		Parameters: []ToolParameter{
			{Name: "query", Type: "string", Description: "The topic to search for", Required: true},
			{Name: "timeframe", Type: "string", Description: "How far back to search", Enum: []string{"day", "week", "month", "latest"}, Default: "latest"},
		},
		Handler: handler,
	}
}

func simpleSpec(name ToolName, field string, handler ToolHandler) ToolSpec {
	return ToolSpec{
		Name:        name,
		Description: "test tool " + string(name),
		Parameters: []ToolParameter{
			{Name: field, Type: "string", Description: field, Required: true},
		},
		Handler: handler,
	}
}

// fullRegistry registers all four tools with stub handlers.
func fullRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.Register(simpleSpec(ToolWeather, "location", stubHandler(map[string]interface{}{"temperature": 20}))))
	require.NoError(t, reg.Register(simpleSpec(ToolChangelog, "topic", stubHandler(map[string]interface{}{"releases": []string{}}))))
	require.NoError(t, reg.Register(newsSpec(func(ctx context.Context, input ValidatedInput) (interface{}, error) {
		return input.Args, nil
	})))
	require.NoError(t, reg.Register(ToolSpec{
		Name:        ToolSummarizeArticle,
		Description: "Summarize an article",
		Parameters: []ToolParameter{
			{Name: "articleUrl", Type: "string", Description: "url", Required: true},
			{Name: "articleTitle", Type: "string", Description: "title", Required: true},
		},
		Handler: stubHandler(map[string]interface{}{"content": "text"}),
	}))
	return reg
}

package toolexecutor

import (
	"errors"
	"fmt"
)

// ToolName is one of the fixed set of tools the service offers.
type ToolName string

const (
	ToolWeather          ToolName = "weather"
	ToolChangelog        ToolName = "changelog"
	ToolNews             ToolName = "news"
	ToolSummarizeArticle ToolName = "summarize_article"
)

// ErrUnknownTool is returned for a name outside AllToolNames.
var ErrUnknownTool = errors.New("unknown tool")

// AllToolNames returns every tool name in declaration order.
func AllToolNames() []ToolName {
	return []ToolName{ToolWeather, ToolChangelog, ToolNews, ToolSummarizeArticle}
}

// ParseToolName maps a model-supplied name onto the closed set.
func ParseToolName(s string) (ToolName, error) {
	for _, name := range AllToolNames() {
		if string(name) == s {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTool, s)
}

func (n ToolName) String() string { return string(n) }

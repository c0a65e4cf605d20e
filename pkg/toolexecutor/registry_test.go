package toolexecutor

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseToolName(t *testing.T) {
	for _, name := range AllToolNames() {
		parsed, err := ParseToolName(string(name))
		require.NoError(t, err)
		assert.Equal(t, name, parsed)
	}

	_, err := ParseToolName("exec")
	assert.True(t, errors.Is(err, ErrUnknownTool))
}

func TestRegistry_Register(t *testing.T) {
	t.Run("should register a known tool", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register(newsSpec(stubHandler(nil))))

		spec, ok := reg.Get(ToolNews)
		require.True(t, ok)
		assert.Equal(t, "Search news articles", spec.Description)
	})

	t.Run("should reject names outside the closed set", func(t *testing.T) {
		reg := NewRegistry()
		err := reg.Register(simpleSpec(ToolName("exec"), "cmd", stubHandler(nil)))
		assert.True(t, errors.Is(err, ErrUnknownTool))
	})

	t.Run("should reject duplicates", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register(newsSpec(stubHandler(nil))))
		err := reg.Register(newsSpec(stubHandler(nil)))
		assert.True(t, errors.Is(err, ErrDuplicateTool))
	})

	t.Run("should reject invalid parameter declarations", func(t *testing.T) {
		tests := []struct {
			name  string
			param ToolParameter
		}{
			{"empty name", ToolParameter{Type: "string", Description: "d"}},
			{"empty type", ToolParameter{Name: "x", Description: "d"}},
			{"unsupported type", ToolParameter{Name: "x", Type: "object", Description: "d"}},
			{"missing description", ToolParameter{Name: "x", Type: "string"}},
			{"enum on number", ToolParameter{Name: "x", Type: "number", Description: "d", Enum: []string{"1"}}},
			{"default outside enum", ToolParameter{Name: "x", Type: "string", Description: "d", Enum: []string{"a"}, Default: "b"}},
			{"required with default", ToolParameter{Name: "x", Type: "string", Description: "d", Required: true, Default: "a"}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				reg := NewRegistry()
				err := reg.Register(ToolSpec{
					Name:        ToolWeather,
					Description: "weather",
					Parameters:  []ToolParameter{tt.param},
					Handler:     stubHandler(nil),
				})
				assert.Error(t, err)
			})
		}
	})

	t.Run("should reject nil handler and empty description", func(t *testing.T) {
		reg := NewRegistry()
		assert.Error(t, reg.Register(ToolSpec{Name: ToolWeather, Description: "weather"}))
		assert.Error(t, reg.Register(ToolSpec{Name: ToolWeather, Handler: stubHandler(nil)}))
	})
}

func TestRegistry_Seal(t *testing.T) {
	t.Run("should fail when a tool is missing", func(t *testing.T) {
		reg := NewRegistry()
		require.NoError(t, reg.Register(newsSpec(stubHandler(nil))))

		err := reg.Seal()
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrMissingTools))
		assert.Contains(t, err.Error(), "weather")
		assert.Contains(t, err.Error(), "summarize_article")
		assert.False(t, reg.Sealed())
	})

	t.Run("should freeze a complete registry", func(t *testing.T) {
		reg := fullRegistry(t)
		require.NoError(t, reg.Seal())
		assert.True(t, reg.Sealed())

		err := reg.Register(newsSpec(stubHandler(nil)))
		assert.True(t, errors.Is(err, ErrRegistrySealed))
	})
}

func TestRegistry_ListAndDefinitions(t *testing.T) {
	reg := fullRegistry(t)

	specs := reg.List()
	require.Len(t, specs, 4)
	for i, name := range AllToolNames() {
		assert.Equal(t, name, specs[i].Name)
	}

	defs := reg.Definitions(nil)
	require.Len(t, defs, 4)

	news := defs[2]
	assert.Equal(t, "news", news.Name)
	assert.Equal(t, false, news.Parameters["additionalProperties"])
	assert.Equal(t, []string{"query"}, news.Parameters["required"])
	props := news.Parameters["properties"].(map[string]interface{})
	timeframe := props["timeframe"].(map[string]interface{})
	assert.Equal(t, "latest", timeframe["default"])

	restricted := reg.Definitions(&ToolPolicy{Allow: []string{"*"}, Deny: []string{"weather"}})
	require.Len(t, restricted, 3)
	assert.Equal(t, "changelog", restricted[0].Name)
}

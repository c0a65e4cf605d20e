package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

var (
	ErrDuplicateTool  = errors.New("tool already registered")
	ErrRegistrySealed = errors.New("tool registry is sealed")
	ErrMissingTools   = errors.New("tools not registered")
)

// ToolParameter declares one input field.
type ToolParameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Enum        []string    `json:"enum,omitempty"`
	Default     interface{} `json:"default,omitempty"`
}

// ToolHandler runs a tool on already validated input.
type ToolHandler func(ctx context.Context, input ValidatedInput) (interface{}, error)

// ToolSpec is a tool's metadata and handler.
type ToolSpec struct {
	Name        ToolName
	Description string
	Parameters  []ToolParameter
	// Timeout overrides the executor default when positive.
	Timeout time.Duration
	Handler ToolHandler
}

// Definition is the provider-facing description of a tool.
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

type registeredTool struct {
	spec      ToolSpec
	schema    *gojsonschema.Schema
	schemaDoc map[string]interface{}
}

// Registry holds the tool specs. It is written during startup and read-only
// once sealed.
type Registry struct {
	mu     sync.RWMutex
	tools  map[ToolName]*registeredTool
	sealed bool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[ToolName]*registeredTool)}
}

// Register validates spec, compiles its input schema and stores it.
func (r *Registry) Register(spec ToolSpec) error {
	if _, err := ParseToolName(string(spec.Name)); err != nil {
		return err
	}
	if err := validateSpec(spec); err != nil {
		return fmt.Errorf("invalid tool definition %s: %w", spec.Name, err)
	}

	doc := buildSchemaDocument(spec.Parameters)
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", spec.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("%w: cannot register %s", ErrRegistrySealed, spec.Name)
	}
	if _, exists := r.tools[spec.Name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, spec.Name)
	}

	params := make([]ToolParameter, len(spec.Parameters))
	copy(params, spec.Parameters)
	spec.Parameters = params

	r.tools[spec.Name] = &registeredTool{spec: spec, schema: schema, schemaDoc: doc}

	log.Debug().Str("tool", string(spec.Name)).Msg("Tool registered")

	return nil
}

// Seal fails unless every name in AllToolNames is registered, then freezes
// the registry.
func (r *Registry) Seal() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var missing []string
	for _, name := range AllToolNames() {
		if _, ok := r.tools[name]; !ok {
			missing = append(missing, string(name))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingTools, strings.Join(missing, ", "))
	}
	r.sealed = true
	return nil
}

// Sealed reports whether Seal succeeded.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Get returns the spec registered under name.
func (r *Registry) Get(name ToolName) (ToolSpec, bool) {
	t, ok := r.lookup(name)
	if !ok {
		return ToolSpec{}, false
	}
	return t.spec, true
}

func (r *Registry) lookup(name ToolName) (*registeredTool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// List returns registered specs in declaration order.
func (r *Registry) List() []ToolSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()

	specs := make([]ToolSpec, 0, len(r.tools))
	for _, name := range AllToolNames() {
		if t, ok := r.tools[name]; ok {
			specs = append(specs, t.spec)
		}
	}
	return specs
}

// Definitions returns provider-facing definitions for the tools policy allows.
// A nil policy allows every tool.
func (r *Registry) Definitions(policy *ToolPolicy) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.tools))
	for _, name := range AllToolNames() {
		t, ok := r.tools[name]
		if !ok || !policy.IsToolAllowed(string(name)) {
			continue
		}
		defs = append(defs, Definition{
			Name:        string(name),
			Description: t.spec.Description,
			Parameters:  t.schemaDoc,
		})
	}
	return defs
}

func validateSpec(spec ToolSpec) error {
	if spec.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if spec.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	seen := make(map[string]bool, len(spec.Parameters))
	for _, param := range spec.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if seen[param.Name] {
			return fmt.Errorf("duplicate parameter %s", param.Name)
		}
		seen[param.Name] = true
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}

		validTypes := map[string]bool{
			"string": true, "number": true, "boolean": true, "integer": true,
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}

		if len(param.Enum) > 0 && param.Type != "string" {
			return fmt.Errorf("enum parameter %s must be a string", param.Name)
		}
		if param.Default != nil {
			if param.Required {
				return fmt.Errorf("required parameter %s cannot declare a default", param.Name)
			}
			if len(param.Enum) > 0 && !containsString(param.Enum, fmt.Sprint(param.Default)) {
				return fmt.Errorf("default %v for %s is not one of %v", param.Default, param.Name, param.Enum)
			}
		}
	}

	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

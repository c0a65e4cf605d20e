package coretools

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed changelog.yaml
var defaultChangelogYAML []byte

// Release is one versioned entry of a changelog.
type Release struct {
	Version string   `json:"version" yaml:"version"`
	Date    string   `json:"date" yaml:"date"`
	Changes []string `json:"changes" yaml:"changes"`
}

type changelogEntry struct {
	Technology string    `yaml:"technology"`
	Releases   []Release `yaml:"releases"`
}

// ChangelogTable is an immutable technology -> releases lookup. Keys are
// lower-case and kept in file order.
type ChangelogTable struct {
	keys    []string
	entries map[string][]Release
}

// ChangelogInput is the changelog tool's input.
type ChangelogInput struct {
	Topic string `json:"topic"`
}

// ChangelogHit is returned when the topic is known.
type ChangelogHit struct {
	Technology string    `json:"technology"`
	Releases   []Release `json:"releases"`
}

// ChangelogMiss is returned when the topic is unknown.
type ChangelogMiss struct {
	Error string `json:"error"`
	Hint  string `json:"hint"`
}

// ParseChangelog decodes a YAML list of {technology, releases}.
func ParseChangelog(data []byte) (*ChangelogTable, error) {
	var raw []changelogEntry
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse changelog: %w", err)
	}

	t := &ChangelogTable{entries: make(map[string][]Release, len(raw))}
	for i, e := range raw {
		key := normalizeTopic(e.Technology)
		if key == "" {
			return nil, fmt.Errorf("changelog entry %d: technology is required", i)
		}
		if _, dup := t.entries[key]; dup {
			return nil, fmt.Errorf("changelog entry %d: duplicate technology %q", i, key)
		}
		t.keys = append(t.keys, key)
		t.entries[key] = e.Releases
	}
	return t, nil
}

// LoadChangelogFile reads a changelog table from a YAML file.
func LoadChangelogFile(path string) (*ChangelogTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read changelog file: %w", err)
	}
	return ParseChangelog(data)
}

// DefaultChangelog returns the built-in table.
func DefaultChangelog() *ChangelogTable {
	t, err := ParseChangelog(defaultChangelogYAML)
	if err != nil {
		panic(fmt.Sprintf("embedded changelog is invalid: %v", err))
	}
	return t
}

// Keys returns the lookup keys in table order.
func (t *ChangelogTable) Keys() []string {
	out := make([]string, len(t.keys))
	copy(out, t.keys)
	return out
}

// Lookup resolves topic case- and whitespace-insensitively. The result is a
// ChangelogHit or a ChangelogMiss.
func (t *ChangelogTable) Lookup(topic string) interface{} {
	releases, ok := t.entries[normalizeTopic(topic)]
	if !ok {
		return ChangelogMiss{
			Error: `No records found for "` + topic + `".`,
			Hint:  strings.Join(t.keys, ", "),
		}
	}
	out := make([]Release, len(releases))
	copy(out, releases)
	return ChangelogHit{Technology: topic, Releases: out}
}

func normalizeTopic(topic string) string {
	return strings.ToLower(strings.TrimSpace(topic))
}

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/iancoleman/strcase"
	"gopkg.in/yaml.v3"
)

// Settings are the persisted defaults merged under command-line flags.
type Settings struct {
	Model        string               `yaml:"model"`
	AuthType     string               `yaml:"auth_type"`
	ApprovalMode string               `yaml:"approval_mode"`
	MaxTurns     int                  `yaml:"max_turns"`
	MCPServers   map[string]MCPServer `yaml:"mcp_servers"`
}

// MCPServer describes one stdio MCP server to launch at startup.
type MCPServer struct {
	Command string   `yaml:"command"`
	Args    []string `yaml:"args"`
}

// defaultSettingsPath is the conventional settings location, or "" when
// no config directory is resolvable.
func defaultSettingsPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "tern", "settings.yaml")
}

// loadSettings reads the YAML settings file. A missing file yields empty
// settings; a malformed one is an error. Mapping keys are normalized to
// snake_case first, so camelCase and kebab-case spellings of the same
// setting are accepted.
func loadSettings(path string) (*Settings, error) {
	var s Settings
	if path == "" {
		return &s, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &s, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	normalized, err := yaml.Marshal(normalizeKeys(raw))
	if err != nil {
		return nil, fmt.Errorf("normalize settings: %w", err)
	}
	if err := yaml.Unmarshal(normalized, &s); err != nil {
		return nil, fmt.Errorf("parse settings %s: %w", path, err)
	}
	return &s, nil
}

// normalizeKeys rewrites every mapping key to snake_case, recursively.
func normalizeKeys(v any) any {
	switch m := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			out[strcase.ToSnake(k)] = normalizeKeys(val)
		}
		return out
	case []any:
		for i, val := range m {
			m[i] = normalizeKeys(val)
		}
		return m
	}
	return v
}

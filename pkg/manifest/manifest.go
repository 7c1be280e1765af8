// Package manifest loads declarative command-backed tools from a JSON file
// and keeps them registered, hot-reloading the file on change. Re-registering
// relies on the registry's last-writer-wins semantics.
package manifest

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/drover-ai/drover/pkg/tool"
)

// Entry declares one command-backed tool.
type Entry struct {
	Name        string           `json:"name"`
	Description string           `json:"description"`
	Command     string           `json:"command"`
	Args        []string         `json:"args,omitempty"`
	Parameters  []tool.Parameter `json:"parameters,omitempty"`
	Exclusive   bool             `json:"exclusive,omitempty"`
	Checks      []string         `json:"checks,omitempty"`
	TimeoutSecs int              `json:"timeout_seconds,omitempty"`
}

// Manifest is the parsed manifest file.
type Manifest struct {
	Tools []Entry `json:"tools"`
}

// Load parses the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tool manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse tool manifest: %w", err)
	}

	seen := map[string]bool{}
	for i, entry := range m.Tools {
		if entry.Name == "" {
			return nil, fmt.Errorf("manifest tool %d: name is required", i)
		}
		if entry.Command == "" {
			return nil, fmt.Errorf("manifest tool %s: command is required", entry.Name)
		}
		if seen[entry.Name] {
			return nil, fmt.Errorf("manifest tool %s: duplicate name", entry.Name)
		}
		seen[entry.Name] = true
	}

	return &m, nil
}

// Register adds every manifest tool to the registry, replacing earlier
// registrations of the same name.
func (m *Manifest) Register(registry *tool.Registry) error {
	for _, entry := range m.Tools {
		entry := entry
		reg := tool.Registration{
			Name: entry.Name,
			NewConfig: func() interface{} {
				return &tool.FuncConfig{
					Description: entry.Description,
					Parameters:  entry.Parameters,
					Exclusive:   entry.Exclusive,
					Checks:      entry.Checks,
				}
			},
			Construct: func(ctx context.Context, config interface{}, rt tool.Runtime) (tool.Tool, error) {
				cfg, ok := config.(*tool.FuncConfig)
				if !ok {
					return nil, &tool.ConfigurationError{
						Reason: fmt.Sprintf("manifest tool %s: unexpected config type %T", entry.Name, config),
					}
				}
				return tool.NewFuncTool(entry.Name, *cfg, commandHandler(entry))
			},
		}
		if err := registry.Register(reg); err != nil {
			return err
		}
	}

	log.Info().Int("tools", len(m.Tools)).Msg("Manifest tools registered")
	return nil
}

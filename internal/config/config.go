package config

import (
	"encoding/json"
	"fmt"
)

// Config is the main drover configuration.
type Config struct {
	// AI provider credentials
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Agent loop settings
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Sub-agent assistants reachable through the platform API
	SubAgents SubAgentsConfig `json:"sub_agents" mapstructure:"sub_agents"`

	// MCP servers to bridge tools from
	MCPServers []MCPServerConfig `json:"mcp_servers" mapstructure:"mcp_servers"`

	// Tools
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Session persistence
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`

	// Metrics endpoint
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// AIConfig holds AI provider configuration.
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile represents an AI provider profile.
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// AgentConfig configures the plan/execute loop.
type AgentConfig struct {
	Model         string   `json:"model" mapstructure:"model"`
	Temperature   float64  `json:"temperature" mapstructure:"temperature"`
	MaxTokens     int      `json:"max_tokens" mapstructure:"max_tokens"`
	SystemPrompt  string   `json:"system_prompt" mapstructure:"system_prompt"`
	MaxIterations int      `json:"max_iterations" mapstructure:"max_iterations"`
	MaxToolCalls  int      `json:"max_tool_calls" mapstructure:"max_tool_calls"`
	DisabledTools []string `json:"disabled_tools" mapstructure:"disabled_tools"`
}

// SubAgentsConfig holds the platform API endpoint plus the assistants exposed
// as tools.
type SubAgentsConfig struct {
	BaseURL    string            `json:"base_url" mapstructure:"base_url"`
	APIKey     string            `json:"api_key" mapstructure:"api_key"`
	Assistants []AssistantConfig `json:"assistants" mapstructure:"assistants"`
}

// AssistantConfig describes one remote assistant exposed as a tool.
type AssistantConfig struct {
	Name             string   `json:"name" mapstructure:"name"`
	AssistantID      string   `json:"assistant_id" mapstructure:"assistant_id"`
	Description      string   `json:"description" mapstructure:"description"`
	ReuseSession     bool     `json:"reuse_session" mapstructure:"reuse_session"`
	PollIntervalSecs int      `json:"poll_interval_seconds" mapstructure:"poll_interval_seconds"`
	MaxWaitSecs      int      `json:"max_wait_seconds" mapstructure:"max_wait_seconds"`
	Exclusive        bool     `json:"exclusive" mapstructure:"exclusive"`
	Checks           []string `json:"checks" mapstructure:"checks"`
}

// MCPServerConfig describes one stdio MCP server.
type MCPServerConfig struct {
	Name    string            `json:"name" mapstructure:"name"`
	Command string            `json:"command" mapstructure:"command"`
	Args    []string          `json:"args" mapstructure:"args"`
	Env     map[string]string `json:"env" mapstructure:"env"`
}

// ToolsConfig holds tool registration settings.
type ToolsConfig struct {
	// ManifestPath points at a JSON manifest of handler-less declarative
	// tools; changes are hot-reloaded.
	ManifestPath string `json:"manifest_path" mapstructure:"manifest_path"`
}

// SessionsConfig holds session store settings.
type SessionsConfig struct {
	Path           string `json:"path" mapstructure:"path"`
	CleanupAgeDays int    `json:"cleanup_age_days" mapstructure:"cleanup_age_days"`
	MaxEntries     int    `json:"max_entries" mapstructure:"max_entries"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Host    string `json:"host" mapstructure:"host"`
	Port    int    `json:"port" mapstructure:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values.
func DefaultConfig() *Config {
	return &Config{
		AI: AIConfig{
			Profiles: []AIProfile{},
		},
		Agent: AgentConfig{
			Model:         "claude-sonnet-4",
			Temperature:   0.7,
			MaxTokens:     4096,
			MaxIterations: 8,
			MaxToolCalls:  8,
		},
		Sessions: SessionsConfig{
			CleanupAgeDays: 7,
			MaxEntries:     500,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Host:    "0.0.0.0",
			Port:    9090,
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if len(c.AI.Profiles) == 0 {
		return fmt.Errorf("no AI credentials configured: at least one AI profile is required")
	}

	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if profile.Provider != "anthropic" && profile.Provider != "openai" {
			return fmt.Errorf("AI profile %s: invalid provider %s (must be: anthropic, openai)", profile.ID, profile.Provider)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("AI profile %s: api_key is required", profile.ID)
		}
	}

	if c.Agent.Model == "" {
		return fmt.Errorf("agent model is required")
	}
	if c.Agent.MaxIterations < 0 {
		return fmt.Errorf("agent max_iterations cannot be negative")
	}
	if c.Agent.MaxToolCalls < 0 {
		return fmt.Errorf("agent max_tool_calls cannot be negative")
	}

	seen := map[string]bool{}
	for i, assistant := range c.SubAgents.Assistants {
		if assistant.Name == "" {
			return fmt.Errorf("sub-agent %d: name is required", i)
		}
		if assistant.AssistantID == "" {
			return fmt.Errorf("sub-agent %s: assistant_id is required", assistant.Name)
		}
		if seen[assistant.Name] {
			return fmt.Errorf("sub-agent %s: duplicate name", assistant.Name)
		}
		seen[assistant.Name] = true
	}
	if len(c.SubAgents.Assistants) > 0 && c.SubAgents.BaseURL == "" {
		return fmt.Errorf("sub_agents base_url is required when assistants are configured")
	}

	for i, server := range c.MCPServers {
		if server.Name == "" {
			return fmt.Errorf("MCP server %d: name is required", i)
		}
		if server.Command == "" {
			return fmt.Errorf("MCP server %s: command is required", server.Name)
		}
	}

	return nil
}

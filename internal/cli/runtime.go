package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/drover-ai/drover/internal/config"
	"github.com/drover-ai/drover/internal/logger"
	"github.com/drover-ai/drover/pkg/agent"
	"github.com/drover-ai/drover/pkg/coretools"
	"github.com/drover-ai/drover/pkg/manifest"
	"github.com/drover-ai/drover/pkg/session"
	"github.com/drover-ai/drover/pkg/subagent"
	"github.com/drover-ai/drover/pkg/tool"
)

const mcpStartTimeout = 30 * time.Second

// runtime bundles the long-lived collaborators a command needs.
type runtime struct {
	cfg    *config.Config
	log    *logger.Logger
	store  *session.Store
	closer []func() error
}

func (r *runtime) Close() {
	for i := len(r.closer) - 1; i >= 0; i-- {
		if err := r.closer[i](); err != nil {
			r.log.Warn().Err(err).Msg("Shutdown step failed")
		}
	}
}

// newRuntime loads configuration, sets up logging, and opens the session
// store. Callers must Close it.
func newRuntime() (*runtime, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level := cfg.Logging.Level
	if logLevel != "" {
		level = logLevel
	}

	lg, err := logger.New(logger.Config{
		Level:     level,
		File:      cfg.Logging.File,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up logging: %w", err)
	}

	store, err := session.New(cfg.Sessions.Path)
	if err != nil {
		_ = lg.Close()
		return nil, fmt.Errorf("failed to open session store: %w", err)
	}

	return &runtime{
		cfg:    cfg,
		log:    lg,
		store:  store,
		closer: []func() error{lg.Close, store.Close},
	}, nil
}

// newPlanner picks the highest-priority AI profile. Lower priority values win.
func newPlanner(cfg *config.Config) (agent.Planner, error) {
	if len(cfg.AI.Profiles) == 0 {
		return nil, fmt.Errorf("no AI credentials configured")
	}

	profiles := make([]config.AIProfile, len(cfg.AI.Profiles))
	copy(profiles, cfg.AI.Profiles)
	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].Priority < profiles[j].Priority
	})

	selected := profiles[0]
	switch selected.Provider {
	case "anthropic":
		return agent.NewAnthropicPlanner(selected.APIKey), nil
	case "openai":
		return agent.NewOpenAIPlanner(selected.APIKey), nil
	default:
		return nil, fmt.Errorf("unknown AI provider %q", selected.Provider)
	}
}

// buildRegistry assembles the tool registry: core tools plus the manifest's
// declarative command tools.
func buildRegistry(cfg *config.Config, workspaceRoot string) (*tool.Registry, error) {
	registry := tool.NewRegistry()

	if err := coretools.Register(registry, coretools.Options{WorkspaceRoot: workspaceRoot}); err != nil {
		return nil, err
	}

	if cfg.Tools.ManifestPath != "" {
		m, err := manifest.Load(cfg.Tools.ManifestPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load tool manifest: %w", err)
		}
		if err := m.Register(registry); err != nil {
			return nil, err
		}
	}

	return registry, nil
}

// buildTools constructs every tool available to a turn: registry-built tools,
// sub-agent assistants, and MCP-bridged server tools. The returned cleanup
// stops any MCP clients that were started.
func buildTools(ctx context.Context, cfg *config.Config, registry *tool.Registry, memory subagent.ChatMemory, rt tool.Runtime) ([]tool.Tool, func(), error) {
	var tools []tool.Tool
	var clients []*tool.MCPClient

	cleanup := func() {
		for _, client := range clients {
			if err := client.Stop(); err != nil {
				rt.Logger.Warn().Err(err).Msg("Failed to stop MCP client")
			}
		}
	}

	for _, name := range registry.Names() {
		toolCfg, err := registry.BuildConfig(name, nil)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		built, err := registry.Build(ctx, name, toolCfg, rt)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		tools = append(tools, built)
	}

	if len(cfg.SubAgents.Assistants) > 0 {
		transport := subagent.NewHTTPTransport(cfg.SubAgents.BaseURL, cfg.SubAgents.APIKey)
		for _, assistant := range cfg.SubAgents.Assistants {
			subTool, err := subagent.NewTool(assistant.Name, subagent.Config{
				AssistantID:  assistant.AssistantID,
				Description:  assistant.Description,
				ReuseSession: assistant.ReuseSession,
				PollInterval: time.Duration(assistant.PollIntervalSecs) * time.Second,
				MaxWait:      time.Duration(assistant.MaxWaitSecs) * time.Second,
				Exclusive:    assistant.Exclusive,
				Checks:       assistant.Checks,
			}, transport, memory, rt)
			if err != nil {
				cleanup()
				return nil, nil, err
			}
			tools = append(tools, subTool)
		}
	}

	for _, server := range cfg.MCPServers {
		client := tool.NewMCPClient(server.Name, server.Command, server.Args, mcpStartTimeout)
		if err := client.Start(ctx); err != nil {
			rt.Logger.Warn().Str("server", server.Name).Err(err).Msg("Failed to start MCP server, skipping")
			continue
		}
		clients = append(clients, client)

		defs, err := client.ListTools(ctx)
		if err != nil {
			rt.Logger.Warn().Str("server", server.Name).Err(err).Msg("Failed to list MCP tools, skipping")
			continue
		}
		for _, def := range defs {
			mcpTool, err := tool.NewMCPTool(client, def)
			if err != nil {
				rt.Logger.Warn().Str("server", server.Name).Str("tool", def.Name).Err(err).Msg("Skipping MCP tool")
				continue
			}
			tools = append(tools, mcpTool)
		}
	}

	return tools, cleanup, nil
}

// resolveWorkspaceRoot defaults the workspace to the current directory.
func resolveWorkspaceRoot(flagValue string) (string, error) {
	if flagValue != "" {
		return filepath.Abs(flagValue)
	}
	return os.Getwd()
}

func planOptions(cfg *config.Config) agent.PlanOptions {
	return agent.PlanOptions{
		Model:        cfg.Agent.Model,
		Temperature:  cfg.Agent.Temperature,
		MaxTokens:    cfg.Agent.MaxTokens,
		SystemPrompt: cfg.Agent.SystemPrompt,
	}
}

package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drover-ai/drover/internal/config"
)

func TestRootCommand(t *testing.T) {
	root := GetRootCmd()
	assert.Equal(t, "drover", root.Use)
	assert.Equal(t, version, root.Version)
}

func TestRootCommand_Subcommands(t *testing.T) {
	names := map[string]bool{}
	for _, cmd := range GetRootCmd().Commands() {
		names[cmd.Name()] = true
	}

	for _, expected := range []string{"run", "serve", "tools", "sessions", "config"} {
		assert.True(t, names[expected], "missing subcommand %s", expected)
	}
}

func TestRootCommand_GlobalFlags(t *testing.T) {
	root := GetRootCmd()
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
	assert.NotNil(t, root.PersistentFlags().Lookup("log-level"))
}

func TestNewPlanner_PicksHighestPriority(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.AI.Profiles = []config.AIProfile{
		{ID: "backup", Provider: "openai", APIKey: "k2", Priority: 2},
		{ID: "primary", Provider: "anthropic", APIKey: "k1", Priority: 1},
	}

	planner, err := newPlanner(cfg)
	require.NoError(t, err)
	assert.Equal(t, "anthropic", planner.Provider())
}

func TestNewPlanner_Validation(t *testing.T) {
	cfg := config.DefaultConfig()
	_, err := newPlanner(cfg)
	assert.Error(t, err)

	cfg.AI.Profiles = []config.AIProfile{{ID: "x", Provider: "mystery", APIKey: "k"}}
	_, err = newPlanner(cfg)
	assert.Error(t, err)
}

func TestReferenceCollector_Dedupes(t *testing.T) {
	collector := &referenceCollector{}
	collector.AddReferences([]string{"researcher:1:1", "researcher:1:2"})
	collector.AddReferences([]string{"researcher:1:1", "writer:3:1"})

	assert.Equal(t, []string{"researcher:1:1", "researcher:1:2", "writer:3:1"}, collector.All())
}

func TestBuildRegistry_IncludesCoreTools(t *testing.T) {
	cfg := config.DefaultConfig()
	registry, err := buildRegistry(cfg, t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, registry.Names(), "read_file")
	assert.Contains(t, registry.Names(), "clock")
}

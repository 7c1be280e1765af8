package cli

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/drover-ai/drover/pkg/agent"
	"github.com/drover-ai/drover/pkg/commandqueue"
	"github.com/drover-ai/drover/pkg/session"
	"github.com/drover-ai/drover/pkg/tool"
	"github.com/drover-ai/drover/pkg/toolmanager"
)

var (
	runSession   string
	runMessage   string
	runWorkspace string
	runForceTool string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one agent turn",
	Long: `Run one agent turn: send a user message through the plan/execute loop
and print the final response. Turns in the same session are serialized and
share persisted history.`,
	RunE: runTurn,
}

func init() {
	runCmd.Flags().StringVarP(&runSession, "session", "s", "default", "session key")
	runCmd.Flags().StringVarP(&runMessage, "message", "m", "", "user message (required)")
	runCmd.Flags().StringVarP(&runWorkspace, "workspace", "w", "", "workspace root for file tools (default current directory)")
	runCmd.Flags().StringVar(&runForceTool, "tool", "", "force a specific tool for this turn")
	_ = runCmd.MarkFlagRequired("message")

	rootCmd.AddCommand(runCmd)
}

func runTurn(cmd *cobra.Command, args []string) error {
	rt, err := newRuntime()
	if err != nil {
		return err
	}
	defer rt.Close()

	workspaceRoot, err := resolveWorkspaceRoot(runWorkspace)
	if err != nil {
		return err
	}

	planner, err := newPlanner(rt.cfg)
	if err != nil {
		return err
	}

	registry, err := buildRegistry(rt.cfg, workspaceRoot)
	if err != nil {
		return err
	}

	queue := commandqueue.New()
	defer queue.Close()

	outcome, err := queue.EnqueueWithContext(cmd.Context(), commandqueue.SessionLane(runSession),
		func(ctx context.Context) (interface{}, error) {
			return executeTurn(ctx, rt, planner, registry, workspaceRoot)
		}, nil)
	if err != nil {
		return err
	}

	// The chat surface already printed the assistant text.
	_ = outcome.(*agent.TurnOutcome)
	return nil
}

func executeTurn(ctx context.Context, rt *runtime, planner agent.Planner, registry *tool.Registry, workspaceRoot string) (*agent.TurnOutcome, error) {
	turnID := uuid.NewString()
	turnLogger := rt.log.With().
		Str("session", runSession).
		Str("turnId", turnID).
		Logger()

	toolRuntime := tool.Runtime{
		SessionKey: runSession,
		TurnID:     turnID,
		Logger:     turnLogger,
	}

	tools, cleanup, err := buildTools(ctx, rt.cfg, registry, rt.store, toolRuntime)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	manager, err := toolmanager.New(toolmanager.Config{
		Tools:         tools,
		DisabledTools: rt.cfg.Agent.DisabledTools,
		MaxToolCalls:  rt.cfg.Agent.MaxToolCalls,
		Logger:        turnLogger,
	})
	if err != nil {
		return nil, err
	}
	if runForceTool != "" {
		if err := manager.ForceTool(runForceTool); err != nil {
			return nil, err
		}
	}

	if err := rt.store.CreateSession(runSession); err != nil {
		return nil, err
	}
	history, err := session.NewHistory(rt.store, runSession)
	if err != nil {
		return nil, err
	}
	history.AppendUser(runMessage)

	references := &referenceCollector{}
	loop, err := agent.NewLoop(agent.LoopConfig{
		Planner:       planner,
		Manager:       manager,
		History:       history,
		References:    references,
		Chat:          &consoleChat{},
		MaxIterations: rt.cfg.Agent.MaxIterations,
		Options:       planOptions(rt.cfg),
		Logger:        turnLogger,
	})
	if err != nil {
		return nil, err
	}

	outcome, err := loop.Run(ctx)
	if err != nil {
		return nil, err
	}

	if refs := references.All(); len(refs) > 0 {
		turnLogger.Info().Strs("references", refs).Msg("Turn references collected")
	}
	turnLogger.Info().
		Str("reason", string(outcome.Reason)).
		Int("iterations", outcome.Iterations).
		Msg("Turn finished")

	return outcome, nil
}

// consoleChat surfaces loop messages on stdout.
type consoleChat struct {
	mu sync.Mutex
}

func (c *consoleChat) UpsertAssistantMessage(ctx context.Context, iteration int, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Println(strings.TrimSpace(text))
	return nil
}

func (c *consoleChat) ShowWarning(ctx context.Context, text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Println("! " + text)
	return nil
}

func (c *consoleChat) ThinkingShown() bool { return false }

// referenceCollector accumulates unique citation keys across iterations.
type referenceCollector struct {
	mu   sync.Mutex
	seen map[string]bool
	refs []string
}

func (r *referenceCollector) AddReferences(refs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = make(map[string]bool)
	}
	for _, ref := range refs {
		if !r.seen[ref] {
			r.seen[ref] = true
			r.refs = append(r.refs, ref)
		}
	}
}

func (r *referenceCollector) All() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.refs))
	copy(out, r.refs)
	return out
}

package tools

import (
	"context"
	"fmt"

	"github.com/cat9999aaa/moneyclaw/internal/replication"
)

// SpawnChildTool triggers the replication subsystem's spawn protocol. The
// tool call succeeds or fails atomically with the spawn attempt. Neither this
// tool nor the agent loop that dispatches it checks credit affordability.
type SpawnChildTool struct {
	Manager *replication.Manager
}

func (t *SpawnChildTool) Name() string { return "replication.spawn_child" }
func (t *SpawnChildTool) Description() string {
	return "Spawn a sibling automaton in a fresh sandbox. The child mints its own wallet during init; this automaton funds it once verified."
}

func (t *SpawnChildTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"name":           map[string]interface{}{"type": "string"},
			"genesis_prompt": map[string]interface{}{"type": "string", "description": "the purpose and instructions given to the child"},
		},
		"required": []string{"name", "genesis_prompt"},
	}
}

func (t *SpawnChildTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	name, ok := stringArg(args, "name")
	if !ok || name == "" {
		return "", fmt.Errorf("replication.spawn_child: missing required argument %q", "name")
	}
	genesis, _ := stringArg(args, "genesis_prompt")

	child, err := t.Manager.Spawn(ctx, replication.SpawnRequest{
		Name:          name,
		GenesisPrompt: genesis,
		InitCommand:   "moneyclaw",
		InitArgs:      []string{"init-wallet"},
		StartCommand:  "moneyclaw",
		StartArgs:     []string{"run"},
	})
	if err != nil {
		return "", fmt.Errorf("replication.spawn_child: %w", err)
	}
	return fmt.Sprintf("spawned child %s (%s), status=%s", child.ID, child.Name, child.Status), nil
}

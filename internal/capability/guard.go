package capability

import (
	"context"
	"fmt"
)

// requireAgent fails with AGENT_NOT_FOUND unless the agent row exists.
func requireAgent(ctx context.Context, s Store, agentID int64) error {
	ok, err := s.AgentExists(ctx, agentID)
	if err != nil {
		return fmt.Errorf("check agent %d: %w", agentID, err)
	}
	if !ok {
		return errAgentNotFound(agentID)
	}
	return nil
}

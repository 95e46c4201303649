package store

import (
	"context"
	"fmt"
)

// AgentExists reports whether an agent row with the given id exists. The
// agents table belongs to the agent registry and is only read here.
func (s *Store) AgentExists(ctx context.Context, agentID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM agents WHERE id = $1)`, agentID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("get agent %d: %w", agentID, err)
	}
	return exists, nil
}

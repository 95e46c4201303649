package capability

import "context"

// Store is the persistence the registry operations run against. It is
// injected into the Service so tests can substitute a double.
type Store interface {
	// AgentExists reports whether the external agents table has a row with
	// the given primary key.
	AgentExists(ctx context.Context, agentID int64) (bool, error)

	// WriteCapability inserts the capability, or with upsert overwrites
	// version, active, metadata and updated_at of an existing row. Without
	// upsert a conflicting row yields ErrDuplicateCapability.
	WriteCapability(ctx context.Context, agentID int64, spec Spec, upsert bool) (WriteOutcome, error)

	// GetCapability returns the stored row for (agentID, skillName).
	GetCapability(ctx context.Context, agentID int64, skillName string) (Record, error)

	// ListByAgent returns an agent's capabilities ordered by skill name
	// ascending, then version descending, both compared as raw strings.
	ListByAgent(ctx context.Context, f AgentFilter) ([]Record, error)

	// ListGroups aggregates capabilities across all agents.
	ListGroups(ctx context.Context, f GroupFilter) ([]Group, error)

	// DeactivateCapability flips active to false and returns the number of
	// rows affected.
	DeactivateCapability(ctx context.Context, agentID int64, skillName string) (int64, error)
}

// Publisher receives committed capability changes.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

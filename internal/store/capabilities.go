package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/nidhogg/nuka-capabilities/internal/capability"
)

// uniqueViolation is the SQLSTATE for a unique constraint conflict.
const uniqueViolation = "23505"

// WriteCapability inserts a capability row. With upsert, a conflicting row
// is updated in place instead; the returned outcome says which happened.
func (s *Store) WriteCapability(ctx context.Context, agentID int64, spec capability.Spec, upsert bool) (capability.WriteOutcome, error) {
	meta := nullableJSON(spec.Metadata)

	if !upsert {
		_, err := s.db.Exec(ctx, `
			INSERT INTO agent_capabilities (agent_id, skill_name, version, active, metadata)
			VALUES ($1, $2, $3, $4, $5)`,
			agentID, spec.SkillName, spec.Version, spec.Active, meta,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				return 0, fmt.Errorf("insert capability %s: %w", spec.SkillName, capability.ErrDuplicateCapability)
			}
			return 0, fmt.Errorf("insert capability %s: %w", spec.SkillName, err)
		}
		return capability.Created, nil
	}

	var id int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO agent_capabilities (agent_id, skill_name, version, active, metadata)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (agent_id, skill_name) DO NOTHING
		RETURNING id`,
		agentID, spec.SkillName, spec.Version, spec.Active, meta,
	).Scan(&id)
	if err == nil {
		return capability.Created, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("insert capability %s: %w", spec.SkillName, err)
	}

	// The pair already exists: overwrite it. Rows are never deleted, so the
	// conflicting row is still there.
	tag, err := s.db.Exec(ctx, `
		UPDATE agent_capabilities
		SET version = $3, active = $4, metadata = $5, updated_at = NOW()
		WHERE agent_id = $1 AND skill_name = $2`,
		agentID, spec.SkillName, spec.Version, spec.Active, meta,
	)
	if err != nil {
		return 0, fmt.Errorf("update capability %s: %w", spec.SkillName, err)
	}
	if tag.RowsAffected() == 0 {
		return 0, fmt.Errorf("update capability %s: %w", spec.SkillName, capability.ErrCapabilityNotFound)
	}
	return capability.Updated, nil
}

// GetCapability returns the canonical stored row for (agentID, skillName).
func (s *Store) GetCapability(ctx context.Context, agentID int64, skillName string) (capability.Record, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, agent_id, skill_name, version, active, metadata, registered_at, updated_at
		FROM agent_capabilities
		WHERE agent_id = $1 AND skill_name = $2`, agentID, skillName)

	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return capability.Record{}, fmt.Errorf("get capability %s: %w", skillName, capability.ErrCapabilityNotFound)
	}
	if err != nil {
		return capability.Record{}, fmt.Errorf("get capability %s: %w", skillName, err)
	}
	return rec, nil
}

// ListByAgent returns an agent's capabilities ordered by skill name
// ascending, then version descending. Both use byte-wise collation, so
// "2.0.0" sorts above "10.0.0".
func (s *Store) ListByAgent(ctx context.Context, f capability.AgentFilter) ([]capability.Record, error) {
	query := `
		SELECT id, agent_id, skill_name, version, active, metadata, registered_at, updated_at
		FROM agent_capabilities
		WHERE agent_id = $1`
	args := []any{f.AgentID}
	if f.ActiveOnly {
		query += ` AND active = TRUE`
	}
	if f.SkillName != "" {
		args = append(args, f.SkillName)
		query += fmt.Sprintf(` AND skill_name = $%d`, len(args))
	}
	query += ` ORDER BY skill_name COLLATE "C" ASC, version COLLATE "C" DESC`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list capabilities: %w", err)
	}
	defer rows.Close()

	var out []capability.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan capability: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListGroups aggregates capabilities across agents according to f.GroupBy.
func (s *Store) ListGroups(ctx context.Context, f capability.GroupFilter) ([]capability.Group, error) {
	where, args := groupWhere(f)
	if f.GroupBy == capability.GroupByAgent {
		return s.listByAgentGroups(ctx, where, args)
	}

	versionCol, groupCols, orderBy := "ac.version", "ac.skill_name, ac.version",
		`ac.skill_name COLLATE "C" ASC, ac.version COLLATE "C" DESC`
	if f.GroupBy == capability.GroupBySkill {
		versionCol, groupCols, orderBy = "NULL::text", "ac.skill_name", `ac.skill_name COLLATE "C" ASC`
	}

	query := `
		SELECT ac.skill_name, ` + versionCol + `,
		       COUNT(DISTINCT ac.agent_id),
		       json_agg(json_build_object(
		           'agent_id', ac.agent_id,
		           'agent_name', a.name,
		           'active', ac.active) ORDER BY ac.agent_id)
		FROM agent_capabilities ac
		JOIN agents a ON a.id = ac.agent_id` + where + `
		GROUP BY ` + groupCols + `
		ORDER BY ` + orderBy

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list capability groups: %w", err)
	}
	defer rows.Close()

	var out []capability.Group
	for rows.Next() {
		var g capability.Group
		var count int64
		var agentsJSON []byte
		if err := rows.Scan(&g.SkillName, &g.Version, &count, &agentsJSON); err != nil {
			return nil, fmt.Errorf("scan capability group: %w", err)
		}
		if err := json.Unmarshal(agentsJSON, &g.Agents); err != nil {
			return nil, fmt.Errorf("decode group agents: %w", err)
		}
		g.AgentCount = int(count)
		out = append(out, g)
	}
	return out, rows.Err()
}

func (s *Store) listByAgentGroups(ctx context.Context, where string, args []any) ([]capability.Group, error) {
	query := `
		SELECT ac.agent_id, a.name, bool_or(ac.active),
		       json_agg(json_build_object(
		           'skill_name', ac.skill_name,
		           'version', ac.version,
		           'active', ac.active) ORDER BY ac.skill_name COLLATE "C" ASC, ac.version COLLATE "C" DESC)
		FROM agent_capabilities ac
		JOIN agents a ON a.id = ac.agent_id` + where + `
		GROUP BY ac.agent_id, a.name
		ORDER BY ac.agent_id`

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list capability groups: %w", err)
	}
	defer rows.Close()

	var out []capability.Group
	for rows.Next() {
		var (
			id         int64
			name       string
			anyActive  bool
			skillsJSON []byte
		)
		if err := rows.Scan(&id, &name, &anyActive, &skillsJSON); err != nil {
			return nil, fmt.Errorf("scan capability group: %w", err)
		}
		g := capability.Group{
			AgentID:    &id,
			AgentName:  &name,
			AgentCount: 1,
			Agents:     []capability.Holder{{AgentID: id, AgentName: name, Active: anyActive}},
		}
		if err := json.Unmarshal(skillsJSON, &g.Skills); err != nil {
			return nil, fmt.Errorf("decode group skills: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// DeactivateCapability sets active to false and returns the rows affected.
func (s *Store) DeactivateCapability(ctx context.Context, agentID int64, skillName string) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE agent_capabilities
		SET active = FALSE, updated_at = NOW()
		WHERE agent_id = $1 AND skill_name = $2`, agentID, skillName)
	if err != nil {
		return 0, fmt.Errorf("deactivate capability %s: %w", skillName, err)
	}
	return tag.RowsAffected(), nil
}

func groupWhere(f capability.GroupFilter) (string, []any) {
	var conds []string
	var args []any
	if f.SkillName != "" {
		args = append(args, f.SkillName)
		conds = append(conds, fmt.Sprintf("ac.skill_name = $%d", len(args)))
	}
	if f.Version != "" {
		args = append(args, f.Version)
		conds = append(conds, fmt.Sprintf("ac.version = $%d", len(args)))
	}
	if f.ActiveOnly {
		conds = append(conds, "ac.active = TRUE")
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "\n\t\tWHERE " + strings.Join(conds, " AND "), args
}

func scanRecord(row pgx.Row) (capability.Record, error) {
	var rec capability.Record
	var meta *string
	err := row.Scan(&rec.ID, &rec.AgentID, &rec.SkillName, &rec.Version, &rec.Active,
		&meta, &rec.RegisteredAt, &rec.UpdatedAt)
	if err != nil {
		return capability.Record{}, err
	}
	if meta != nil {
		rec.Metadata = json.RawMessage(*meta)
	}
	return rec, nil
}

// nullableJSON maps absent metadata to SQL NULL and keeps the JSON text as is
// otherwise, preserving key order.
func nullableJSON(raw json.RawMessage) any {
	if raw == nil {
		return nil
	}
	return string(raw)
}

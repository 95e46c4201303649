// Package capability implements the agent capability registry: input
// validation, the agent-existence guard, the four registry operations and
// the response envelope they share.
package capability

import (
	"encoding/json"
	"time"
)

// Record is a stored capability row. Metadata holds the exact JSON text that
// was registered, or nil when none was supplied.
type Record struct {
	ID           int64           `json:"id"`
	AgentID      int64           `json:"-"`
	SkillName    string          `json:"skill_name"`
	Version      string          `json:"version"`
	Active       bool            `json:"active"`
	Metadata     json.RawMessage `json:"metadata"`
	RegisteredAt time.Time       `json:"registered_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// Spec is one capability to write for an agent.
type Spec struct {
	SkillName string          `json:"skill_name"`
	Version   string          `json:"version"`
	Active    bool            `json:"active"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

// WriteOutcome tells whether a write created a row or modified an existing one.
type WriteOutcome int

const (
	Created WriteOutcome = iota + 1
	Updated
)

func (o WriteOutcome) String() string {
	switch o {
	case Created:
		return "created"
	case Updated:
		return "updated"
	default:
		return "unknown"
	}
}

// GroupBy selects the aggregation granularity of a registry-wide listing.
type GroupBy string

const (
	// GroupBySkillVersion is the default: one group per (skill, version).
	GroupBySkillVersion GroupBy = ""
	GroupBySkill        GroupBy = "skill"
	GroupByAgent        GroupBy = "agent"
)

// AgentFilter narrows the capabilities fetched for a single agent.
type AgentFilter struct {
	AgentID    int64
	ActiveOnly bool
	SkillName  string
}

// GroupFilter narrows and shapes a registry-wide listing.
type GroupFilter struct {
	SkillName  string
	Version    string
	ActiveOnly bool
	GroupBy    GroupBy
}

// Holder is an agent that holds a capability within a group.
type Holder struct {
	AgentID   int64  `json:"agent_id"`
	AgentName string `json:"agent_name"`
	Active    bool   `json:"active"`
}

// HeldSkill is a capability listed under an agent when grouping by agent.
type HeldSkill struct {
	SkillName string `json:"skill_name"`
	Version   string `json:"version"`
	Active    bool   `json:"active"`
}

// Group is one row of a registry-wide listing. SkillName and Version are nil
// when the grouping mode aggregates them away; AgentID, AgentName and Skills
// are only set when grouping by agent.
type Group struct {
	SkillName  *string     `json:"skill_name"`
	Version    *string     `json:"version"`
	AgentID    *int64      `json:"agent_id,omitempty"`
	AgentName  *string     `json:"agent_name,omitempty"`
	AgentCount int         `json:"agent_count"`
	Agents     []Holder    `json:"agents"`
	Skills     []HeldSkill `json:"skills,omitempty"`
}

// EventType names a capability change.
type EventType string

const (
	EventRegistered  EventType = "registered"
	EventUpdated     EventType = "updated"
	EventDeactivated EventType = "deactivated"
)

// Event describes a committed capability change.
type Event struct {
	Type      EventType `json:"type"`
	AgentID   int64     `json:"agent_id"`
	SkillName string    `json:"skill_name"`
	Version   string    `json:"version,omitempty"`
	Active    bool      `json:"active"`
	At        time.Time `json:"at"`
}

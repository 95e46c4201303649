package capability

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Envelope is the uniform result of every registry operation. Success
// results and *Failure both implement it.
type Envelope interface {
	OK() bool
}

// Failure is the envelope of a recoverable or runtime failure.
type Failure struct {
	Success bool           `json:"success"`
	Error   Code           `json:"error"`
	Message string         `json:"message"`
	Details map[string]any `json:"details"`
}

func (f *Failure) OK() bool { return false }

// RegisteredCapability is the canonical row echoed back after a write.
type RegisteredCapability struct {
	ID           int64     `json:"id"`
	SkillName    string    `json:"skill_name"`
	Version      string    `json:"version"`
	Active       bool      `json:"active"`
	RegisteredAt time.Time `json:"registered_at"`
}

// RegisterResult is the success envelope of Register.
type RegisterResult struct {
	Success      bool                   `json:"success"`
	AgentID      int64                  `json:"agent_id"`
	Registered   int                    `json:"capabilities_registered"`
	Updated      int                    `json:"capabilities_updated"`
	Capabilities []RegisteredCapability `json:"capabilities"`
	Message      string                 `json:"message"`
}

func (r *RegisterResult) OK() bool { return true }

// GetResult is the success envelope of Get. Formatted is only set for the
// human format.
type GetResult struct {
	Success      bool     `json:"success"`
	AgentID      int64    `json:"agent_id"`
	Capabilities []Record `json:"capabilities"`
	TotalCount   int      `json:"total_count"`
	ActiveCount  int      `json:"active_count"`
	Formatted    string   `json:"formatted,omitempty"`
}

func (r *GetResult) OK() bool { return true }

// ListResult is the success envelope of List.
type ListResult struct {
	Success      bool    `json:"success"`
	Capabilities []Group `json:"capabilities"`
	TotalSkills  int     `json:"total_skills"`
}

func (r *ListResult) OK() bool { return true }

// DeactivateResult is the success envelope of Deactivate.
type DeactivateResult struct {
	Success   bool   `json:"success"`
	AgentID   int64  `json:"agent_id"`
	SkillName string `json:"skill_name"`
	Message   string `json:"message"`
}

func (r *DeactivateResult) OK() bool { return true }

// fail converts err into a Failure. Registry errors keep their code; any
// other error is reported as a database failure with its message preserved.
func fail(err error, message string) *Failure {
	var ce *Error
	if errors.As(err, &ce) {
		return &Failure{Error: ce.Code, Message: ce.Message, Details: ce.Details}
	}
	return &Failure{
		Error:   CodeDatabase,
		Message: message,
		Details: map[string]any{"error": err.Error()},
	}
}

// RenderHuman renders an agent's capabilities as a line-oriented summary.
func RenderHuman(agentID int64, caps []Record, activeCount int) string {
	lines := []string{
		fmt.Sprintf("Agent %d Capabilities:", agentID),
		fmt.Sprintf("Total: %d | Active: %d", len(caps), activeCount),
		"",
	}
	for _, c := range caps {
		mark := "✗"
		if c.Active {
			mark = "✓"
		}
		lines = append(lines, fmt.Sprintf("  %s %s v%s", mark, c.SkillName, c.Version))
	}
	return strings.Join(lines, "\n")
}

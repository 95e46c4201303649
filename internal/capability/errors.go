package capability

import (
	"errors"
	"fmt"
)

// Code is a machine-readable failure code carried in the envelope.
type Code string

const (
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeAgentNotFound       Code = "AGENT_NOT_FOUND"
	CodeDuplicateCapability Code = "DUPLICATE_CAPABILITY"
	CodeCapabilityNotFound  Code = "CAPABILITY_NOT_FOUND"
	CodeDatabase            Code = "DATABASE_ERROR"
)

// ErrDuplicateCapability is returned by a Store when a non-upsert write hits
// the (agent_id, skill_name) unique constraint.
var ErrDuplicateCapability = errors.New("duplicate capability")

// ErrCapabilityNotFound is returned by a Store lookup that matched no row.
var ErrCapabilityNotFound = errors.New("capability not found")

// Error is a recoverable registry failure reported through the envelope.
type Error struct {
	Code    Code
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ValidationError reports a malformed request. It is returned to the caller
// as an error rather than folded into a Failure envelope.
type ValidationError struct {
	Field   string
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid input (%s): %s", e.Rule, e.Message)
	}
	return fmt.Sprintf("invalid %s (%s): %s", e.Field, e.Rule, e.Message)
}

// IsValidation reports whether err is or wraps a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func errAgentNotFound(agentID int64) *Error {
	return &Error{
		Code:    CodeAgentNotFound,
		Message: fmt.Sprintf("Agent with ID %d not found", agentID),
		Details: map[string]any{"agent_id": agentID},
	}
}

func errDuplicate(agentID int64, skill string) *Error {
	return &Error{
		Code:    CodeDuplicateCapability,
		Message: fmt.Sprintf("Capability '%s' already exists for agent %d. Use upsert=true to update.", skill, agentID),
		Details: map[string]any{"skill_name": skill, "agent_id": agentID},
	}
}

func errCapabilityNotFound(agentID int64, skill string) *Error {
	return &Error{
		Code:    CodeCapabilityNotFound,
		Message: fmt.Sprintf("Capability '%s' not found for agent %d", skill, agentID),
		Details: map[string]any{"agent_id": agentID, "skill_name": skill},
	}
}

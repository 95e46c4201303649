package capability

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Format selects how Get renders its result.
type Format string

const (
	FormatJSON  Format = "json"
	FormatHuman Format = "human"
)

// RegisterInput is a validated register request.
type RegisterInput struct {
	AgentID      int64
	Capabilities []Spec
	Upsert       bool
}

// GetInput is a validated per-agent lookup.
type GetInput struct {
	AgentID    int64
	ActiveOnly bool
	SkillName  string
	Format     Format
}

// ListInput is a validated registry-wide listing.
type ListInput struct {
	SkillName  string
	Version    string
	ActiveOnly bool
	GroupBy    GroupBy
}

// DeactivateInput is a validated deactivation request.
type DeactivateInput struct {
	AgentID   int64
	SkillName string
}

const semverPattern = `^[0-9]+\\.[0-9]+\\.[0-9]+$`

// RegisterSchema is the input schema of the register operation.
var RegisterSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "agent_id": {"type": "integer", "minimum": 1, "maximum": 9007199254740991, "description": "Agent ID"},
    "capabilities": {
      "type": "array",
      "minItems": 1,
      "description": "Capabilities to register, processed in order",
      "items": {
        "type": "object",
        "properties": {
          "skill_name": {"type": "string", "minLength": 1, "maxLength": 255},
          "version": {"type": "string", "pattern": "` + semverPattern + `", "description": "MAJOR.MINOR.PATCH"},
          "active": {"type": "boolean", "default": true},
          "metadata": {"type": ["object", "null"]}
        },
        "required": ["skill_name", "version"]
      }
    },
    "upsert": {"type": "boolean", "default": true, "description": "Update existing capabilities instead of failing"}
  },
  "required": ["agent_id", "capabilities"]
}`)

// GetSchema is the input schema of the per-agent lookup.
var GetSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "agent_id": {"type": "integer", "minimum": 1, "maximum": 9007199254740991, "description": "Agent ID"},
    "active_only": {"type": "boolean", "default": true},
    "skill_name": {"type": "string", "description": "Exact skill name filter"},
    "format": {"type": "string", "enum": ["json", "human"], "default": "json"}
  },
  "required": ["agent_id"]
}`)

// ListSchema is the input schema of the registry-wide listing.
var ListSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "skill_name": {"type": "string", "description": "Exact skill name filter"},
    "version": {"type": "string", "pattern": "` + semverPattern + `"},
    "active_only": {"type": "boolean", "default": true},
    "group_by": {"type": "string", "enum": ["skill", "agent"], "description": "Omit to group by skill and version"}
  }
}`)

// DeactivateSchema is the input schema of the deactivate operation.
var DeactivateSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "agent_id": {"type": "integer", "minimum": 1, "maximum": 9007199254740991, "description": "Agent ID"},
    "skill_name": {"type": "string", "minLength": 1}
  },
  "required": ["agent_id", "skill_name"]
}`)

var (
	registerSchema   = jsonschema.MustCompileString("register.json", string(RegisterSchema))
	getSchema        = jsonschema.MustCompileString("get.json", string(GetSchema))
	listSchema       = jsonschema.MustCompileString("list.json", string(ListSchema))
	deactivateSchema = jsonschema.MustCompileString("deactivate.json", string(DeactivateSchema))
)

// ParseRegister validates raw register arguments and applies defaults.
func ParseRegister(raw []byte) (RegisterInput, error) {
	args, err := check(registerSchema, raw)
	if err != nil {
		return RegisterInput{}, err
	}

	in := RegisterInput{Upsert: true}
	var items []members
	if err := firstErr(
		args.decode("", "agent_id", &in.AgentID),
		args.decode("", "upsert", &in.Upsert),
		args.decode("", "capabilities", &items),
	); err != nil {
		return RegisterInput{}, err
	}
	for i, item := range items {
		path := fmt.Sprintf("capabilities.%d.", i)
		spec := Spec{Active: true}
		if err := firstErr(
			item.decode(path, "skill_name", &spec.SkillName),
			item.decode(path, "version", &spec.Version),
			item.decode(path, "active", &spec.Active),
		); err != nil {
			return RegisterInput{}, err
		}
		meta, err := normalizeMetadata(item["metadata"])
		if err != nil {
			return RegisterInput{}, err
		}
		spec.Metadata = meta
		in.Capabilities = append(in.Capabilities, spec)
	}
	return in, nil
}

// ParseGet validates raw lookup arguments and applies defaults.
func ParseGet(raw []byte) (GetInput, error) {
	args, err := check(getSchema, raw)
	if err != nil {
		return GetInput{}, err
	}
	in := GetInput{ActiveOnly: true, Format: FormatJSON}
	if err := firstErr(
		args.decode("", "agent_id", &in.AgentID),
		args.decode("", "active_only", &in.ActiveOnly),
		args.decode("", "skill_name", &in.SkillName),
		args.decode("", "format", &in.Format),
	); err != nil {
		return GetInput{}, err
	}
	return in, nil
}

// ParseList validates raw listing arguments and applies defaults.
func ParseList(raw []byte) (ListInput, error) {
	args, err := check(listSchema, raw)
	if err != nil {
		return ListInput{}, err
	}
	in := ListInput{ActiveOnly: true}
	if err := firstErr(
		args.decode("", "skill_name", &in.SkillName),
		args.decode("", "version", &in.Version),
		args.decode("", "active_only", &in.ActiveOnly),
		args.decode("", "group_by", &in.GroupBy),
	); err != nil {
		return ListInput{}, err
	}
	return in, nil
}

// ParseDeactivate validates raw deactivation arguments.
func ParseDeactivate(raw []byte) (DeactivateInput, error) {
	args, err := check(deactivateSchema, raw)
	if err != nil {
		return DeactivateInput{}, err
	}
	var in DeactivateInput
	if err := firstErr(
		args.decode("", "agent_id", &in.AgentID),
		args.decode("", "skill_name", &in.SkillName),
	); err != nil {
		return DeactivateInput{}, err
	}
	return in, nil
}

// members holds the fields of a JSON object keyed by exact name, so typed
// inputs see only the keys the schema checked.
type members map[string]json.RawMessage

// decode reads the member named key into dst. Absent members leave dst
// untouched so callers can preset defaults.
func (m members) decode(path, key string, dst any) error {
	raw, ok := m[key]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		// Schema-valid numbers such as 1.0 or 1e3 that do not fit an int64.
		return &ValidationError{Field: path + key, Rule: "type", Message: err.Error()}
	}
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// check validates raw against schema and splits the top-level object into
// its members.
func check(schema *jsonschema.Schema, raw []byte) (members, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		raw = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, &ValidationError{Rule: "json", Message: err.Error()}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &ValidationError{Rule: "json", Message: "unexpected data after top-level value"}
	}
	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return nil, fromSchemaError(ve)
		}
		return nil, &ValidationError{Rule: "schema", Message: err.Error()}
	}
	var m members
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, &ValidationError{Rule: "type", Message: err.Error()}
	}
	return m, nil
}

var quotedName = regexp.MustCompile(`'([^']+)'`)

// fromSchemaError reduces a jsonschema error tree to its first leaf, picked
// deterministically by instance then keyword location.
func fromSchemaError(ve *jsonschema.ValidationError) *ValidationError {
	var leaves []*jsonschema.ValidationError
	var walk func(e *jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			leaves = append(leaves, e)
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	sort.SliceStable(leaves, func(i, j int) bool {
		if leaves[i].InstanceLocation != leaves[j].InstanceLocation {
			return leaves[i].InstanceLocation < leaves[j].InstanceLocation
		}
		return leaves[i].KeywordLocation < leaves[j].KeywordLocation
	})
	leaf := leaves[0]

	rule := leaf.KeywordLocation
	if i := strings.LastIndex(rule, "/"); i >= 0 {
		rule = rule[i+1:]
	}
	field := strings.ReplaceAll(strings.TrimPrefix(leaf.InstanceLocation, "/"), "/", ".")
	if rule == "required" {
		if m := quotedName.FindStringSubmatch(leaf.Message); m != nil {
			if field != "" {
				field += "."
			}
			field += m[1]
		}
	}
	return &ValidationError{Field: field, Rule: rule, Message: leaf.Message}
}

// normalizeMetadata compacts supplied metadata, keeping key order, and maps
// an explicit null to absent.
func normalizeMetadata(raw json.RawMessage) (json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return nil, &ValidationError{Field: "metadata", Rule: "json", Message: err.Error()}
	}
	return json.RawMessage(buf.Bytes()), nil
}

package capability

import (
	"errors"
	"strings"
	"testing"
)

func TestParseRegisterDefaults(t *testing.T) {
	in, err := ParseRegister([]byte(`{"agent_id": 11, "capabilities": [{"skill_name": "tdd-workflow", "version": "2.0.1"}]}`))
	if err != nil {
		t.Fatalf("ParseRegister: %v", err)
	}
	if in.AgentID != 11 {
		t.Errorf("agent_id = %d, want 11", in.AgentID)
	}
	if !in.Upsert {
		t.Error("upsert should default to true")
	}
	if len(in.Capabilities) != 1 {
		t.Fatalf("got %d capabilities, want 1", len(in.Capabilities))
	}
	c := in.Capabilities[0]
	if !c.Active {
		t.Error("active should default to true")
	}
	if c.Metadata != nil {
		t.Errorf("metadata = %s, want nil", c.Metadata)
	}
}

func TestParseRegisterExplicitValues(t *testing.T) {
	in, err := ParseRegister([]byte(`{
		"agent_id": 3,
		"upsert": false,
		"capabilities": [
			{"skill_name": "a", "version": "0.0.1", "active": false},
			{"skill_name": "b", "version": "10.20.30", "metadata": null}
		],
		"unknown": "ignored"
	}`))
	if err != nil {
		t.Fatalf("ParseRegister: %v", err)
	}
	if in.Upsert {
		t.Error("expected upsert=false")
	}
	if in.Capabilities[0].Active {
		t.Error("expected first capability inactive")
	}
	if in.Capabilities[1].Metadata != nil {
		t.Errorf("null metadata should be absent, got %s", in.Capabilities[1].Metadata)
	}
}

func TestParseRegisterMetadataKeepsKeyOrder(t *testing.T) {
	in, err := ParseRegister([]byte(`{"agent_id": 1, "capabilities": [
		{"skill_name": "s", "version": "1.0.0", "metadata": {"zeta": 1, "alpha": {"y": [true, null], "x": "v"}}}
	]}`))
	if err != nil {
		t.Fatalf("ParseRegister: %v", err)
	}
	want := `{"zeta":1,"alpha":{"y":[true,null],"x":"v"}}`
	if got := string(in.Capabilities[0].Metadata); got != want {
		t.Errorf("metadata = %s, want %s", got, want)
	}
}

func TestParseRejectsInvalidInput(t *testing.T) {
	long := strings.Repeat("x", 256)
	tests := []struct {
		name  string
		parse func([]byte) error
		input string
		field string
		rule  string
	}{
		{"register version missing patch", register, `{"agent_id": 1, "capabilities": [{"skill_name": "s", "version": "1.2"}]}`, "capabilities.0.version", "pattern"},
		{"register version with prefix", register, `{"agent_id": 1, "capabilities": [{"skill_name": "s", "version": "v1.2.3"}]}`, "capabilities.0.version", "pattern"},
		{"register zero agent", register, `{"agent_id": 0, "capabilities": [{"skill_name": "s", "version": "1.2.3"}]}`, "agent_id", "minimum"},
		{"register string agent", register, `{"agent_id": "11", "capabilities": [{"skill_name": "s", "version": "1.2.3"}]}`, "agent_id", "type"},
		{"register fractional agent", register, `{"agent_id": 1.5, "capabilities": [{"skill_name": "s", "version": "1.2.3"}]}`, "agent_id", "type"},
		{"register missing agent", register, `{"capabilities": [{"skill_name": "s", "version": "1.2.3"}]}`, "agent_id", "required"},
		{"register empty capabilities", register, `{"agent_id": 1, "capabilities": []}`, "capabilities", "minItems"},
		{"register empty skill", register, `{"agent_id": 1, "capabilities": [{"skill_name": "", "version": "1.2.3"}]}`, "capabilities.0.skill_name", "minLength"},
		{"register long skill", register, `{"agent_id": 1, "capabilities": [{"skill_name": "` + long + `", "version": "1.2.3"}]}`, "capabilities.0.skill_name", "maxLength"},
		{"register metadata not object", register, `{"agent_id": 1, "capabilities": [{"skill_name": "s", "version": "1.2.3", "metadata": "x"}]}`, "capabilities.0.metadata", "type"},
		{"register upsert not bool", register, `{"agent_id": 1, "upsert": "yes", "capabilities": [{"skill_name": "s", "version": "1.2.3"}]}`, "upsert", "type"},
		{"get bad format", get, `{"agent_id": 1, "format": "xml"}`, "format", "enum"},
		{"get negative agent", get, `{"agent_id": -4}`, "agent_id", "minimum"},
		{"get agent beyond exact float range", get, `{"agent_id": 9007199254740992}`, "agent_id", "maximum"},
		{"register version only in other case", register, `{"agent_id": 1, "capabilities": [{"skill_name": "s", "VERSION": "1.2.3"}]}`, "capabilities.0.version", "required"},
		{"get agent only in other case", get, `{"Agent_Id": 11}`, "agent_id", "required"},
		{"deactivate skill only in other case", deactivate, `{"agent_id": 1, "SKILL_NAME": "s"}`, "skill_name", "required"},
		{"register trailing value", register, `{"agent_id": 1, "capabilities": [{"skill_name": "s", "version": "1.2.3"}]} {}`, "", "json"},
		{"get integral float agent", get, `{"agent_id": 1.0}`, "agent_id", "type"},
		{"list version missing patch", list, `{"version": "1.2"}`, "version", "pattern"},
		{"list bad group", list, `{"group_by": "team"}`, "group_by", "enum"},
		{"list active_only not bool", list, `{"active_only": "true"}`, "active_only", "type"},
		{"deactivate empty skill", deactivate, `{"agent_id": 1, "skill_name": ""}`, "skill_name", "minLength"},
		{"deactivate missing skill", deactivate, `{"agent_id": 1}`, "skill_name", "required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.parse([]byte(tt.input))
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Errorf("field = %q, want %q (%v)", ve.Field, tt.field, ve)
			}
			if ve.Rule != tt.rule {
				t.Errorf("rule = %q, want %q (%v)", ve.Rule, tt.rule, ve)
			}
		})
	}
}

func TestParseIgnoresCaseVariantKeys(t *testing.T) {
	reg, err := ParseRegister([]byte(`{"agent_id": 11, "capabilities": [
		{"skill_name": "s", "version": "1.0.0", "VERSION": "1.2", "Skill_Name": "", "Active": false}
	], "Agent_ID": -5, "Upsert": false}`))
	if err != nil {
		t.Fatalf("ParseRegister: %v", err)
	}
	c := reg.Capabilities[0]
	if reg.AgentID != 11 || !reg.Upsert || c.SkillName != "s" || c.Version != "1.0.0" || !c.Active {
		t.Errorf("case variants leaked into %+v", reg)
	}

	lst, err := ParseList([]byte(`{"version": "1.0.0", "Version": "1.2"}`))
	if err != nil || lst.Version != "1.0.0" {
		t.Errorf("ParseList = %+v, %v", lst, err)
	}

	g, err := ParseGet([]byte(`{"agent_id": 11, "Agent_Id": -5}`))
	if err != nil || g.AgentID != 11 {
		t.Errorf("ParseGet = %+v, %v", g, err)
	}

	d, err := ParseDeactivate([]byte(`{"agent_id": 11, "skill_name": "tdd-workflow", "SKILL_NAME": ""}`))
	if err != nil || d.SkillName != "tdd-workflow" {
		t.Errorf("ParseDeactivate = %+v, %v", d, err)
	}
}

func TestParseDuplicateKeyValidatesLastValue(t *testing.T) {
	_, err := ParseList([]byte(`{"version": "1.0.0", "version": "1.2"}`))
	var ve *ValidationError
	if !errors.As(err, &ve) || ve.Field != "version" || ve.Rule != "pattern" {
		t.Fatalf("expected version pattern error, got %v", err)
	}

	in, err := ParseList([]byte(`{"version": "1.2", "version": "1.0.0"}`))
	if err != nil || in.Version != "1.0.0" {
		t.Errorf("ParseList = %+v, %v", in, err)
	}
}

func TestParseMalformedJSON(t *testing.T) {
	_, err := ParseGet([]byte(`{"agent_id": `))
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if ve.Rule != "json" {
		t.Errorf("rule = %q, want json", ve.Rule)
	}
	if !IsValidation(err) {
		t.Error("IsValidation should report true")
	}
}

func TestParseGetDefaults(t *testing.T) {
	in, err := ParseGet([]byte(`{"agent_id": 7}`))
	if err != nil {
		t.Fatalf("ParseGet: %v", err)
	}
	if !in.ActiveOnly || in.Format != FormatJSON || in.SkillName != "" {
		t.Errorf("unexpected defaults: %+v", in)
	}
}

func TestParseListEmptyBody(t *testing.T) {
	for _, body := range []string{"", "{}", "  "} {
		in, err := ParseList([]byte(body))
		if err != nil {
			t.Fatalf("ParseList(%q): %v", body, err)
		}
		if !in.ActiveOnly || in.GroupBy != GroupBySkillVersion {
			t.Errorf("ParseList(%q) = %+v", body, in)
		}
	}
}

func TestParseDeactivate(t *testing.T) {
	in, err := ParseDeactivate([]byte(`{"agent_id": 11, "skill_name": "tdd-workflow"}`))
	if err != nil {
		t.Fatalf("ParseDeactivate: %v", err)
	}
	if in.AgentID != 11 || in.SkillName != "tdd-workflow" {
		t.Errorf("got %+v", in)
	}
}

func register(b []byte) error   { _, err := ParseRegister(b); return err }
func get(b []byte) error        { _, err := ParseGet(b); return err }
func list(b []byte) error       { _, err := ParseList(b); return err }
func deactivate(b []byte) error { _, err := ParseDeactivate(b); return err }

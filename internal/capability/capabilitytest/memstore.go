// Package capabilitytest provides an in-memory capability.Store for tests.
package capabilitytest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/nidhogg/nuka-capabilities/internal/capability"
)

// MemStore is an in-memory capability.Store with the same ordering and
// grouping rules as the Postgres store.
type MemStore struct {
	mu     sync.Mutex
	agents map[int64]string
	rows   []*capability.Record
	nextID int64
	err    error

	// Writes counts WriteCapability and DeactivateCapability calls.
	Writes int
}

// NewMemStore creates an empty store.
func NewMemStore() *MemStore {
	return &MemStore{agents: make(map[int64]string)}
}

// AddAgent seeds a row in the agents table.
func (m *MemStore) AddAgent(id int64, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[id] = name
}

// FailWith makes every subsequent call return err. Pass nil to recover.
func (m *MemStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Rows returns a copy of every stored capability for the agent.
func (m *MemStore) Rows(agentID int64) []capability.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []capability.Record
	for _, r := range m.rows {
		if r.AgentID == agentID {
			out = append(out, *r)
		}
	}
	return out
}

func (m *MemStore) AgentExists(ctx context.Context, agentID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	_, ok := m.agents[agentID]
	return ok, nil
}

func (m *MemStore) WriteCapability(ctx context.Context, agentID int64, spec capability.Spec, upsert bool) (capability.WriteOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Writes++
	if m.err != nil {
		return 0, m.err
	}

	now := time.Now().UTC()
	if r := m.find(agentID, spec.SkillName); r != nil {
		if !upsert {
			return 0, capability.ErrDuplicateCapability
		}
		r.Version = spec.Version
		r.Active = spec.Active
		r.Metadata = spec.Metadata
		r.UpdatedAt = now
		return capability.Updated, nil
	}

	m.nextID++
	m.rows = append(m.rows, &capability.Record{
		ID:           m.nextID,
		AgentID:      agentID,
		SkillName:    spec.SkillName,
		Version:      spec.Version,
		Active:       spec.Active,
		Metadata:     spec.Metadata,
		RegisteredAt: now,
		UpdatedAt:    now,
	})
	return capability.Created, nil
}

func (m *MemStore) GetCapability(ctx context.Context, agentID int64, skillName string) (capability.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return capability.Record{}, m.err
	}
	r := m.find(agentID, skillName)
	if r == nil {
		return capability.Record{}, capability.ErrCapabilityNotFound
	}
	return *r, nil
}

func (m *MemStore) ListByAgent(ctx context.Context, f capability.AgentFilter) ([]capability.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	var out []capability.Record
	for _, r := range m.rows {
		if r.AgentID != f.AgentID {
			continue
		}
		if f.ActiveOnly && !r.Active {
			continue
		}
		if f.SkillName != "" && r.SkillName != f.SkillName {
			continue
		}
		out = append(out, *r)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return skillVersionLess(out[i].SkillName, out[i].Version, out[j].SkillName, out[j].Version)
	})
	return out, nil
}

func (m *MemStore) ListGroups(ctx context.Context, f capability.GroupFilter) ([]capability.Group, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}

	var matched []*capability.Record
	for _, r := range m.rows {
		if _, ok := m.agents[r.AgentID]; !ok {
			continue
		}
		if f.SkillName != "" && r.SkillName != f.SkillName {
			continue
		}
		if f.Version != "" && r.Version != f.Version {
			continue
		}
		if f.ActiveOnly && !r.Active {
			continue
		}
		matched = append(matched, r)
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].AgentID < matched[j].AgentID })

	if f.GroupBy == capability.GroupByAgent {
		return m.groupByAgent(matched), nil
	}

	type key struct{ skill, version string }
	index := make(map[key]int)
	var groups []capability.Group
	for _, r := range matched {
		k := key{skill: r.SkillName}
		if f.GroupBy != capability.GroupBySkill {
			k.version = r.Version
		}
		i, ok := index[k]
		if !ok {
			g := capability.Group{SkillName: strPtr(r.SkillName)}
			if f.GroupBy != capability.GroupBySkill {
				g.Version = strPtr(r.Version)
			}
			groups = append(groups, g)
			i = len(groups) - 1
			index[k] = i
		}
		groups[i].Agents = append(groups[i].Agents, capability.Holder{
			AgentID:   r.AgentID,
			AgentName: m.agents[r.AgentID],
			Active:    r.Active,
		})
	}
	for i := range groups {
		groups[i].AgentCount = distinctAgents(groups[i].Agents)
	}
	sort.SliceStable(groups, func(i, j int) bool {
		return skillVersionLess(deref(groups[i].SkillName), deref(groups[i].Version),
			deref(groups[j].SkillName), deref(groups[j].Version))
	})
	return groups, nil
}

func (m *MemStore) groupByAgent(matched []*capability.Record) []capability.Group {
	var groups []capability.Group
	for _, r := range matched {
		if n := len(groups); n == 0 || *groups[n-1].AgentID != r.AgentID {
			id, name := r.AgentID, m.agents[r.AgentID]
			groups = append(groups, capability.Group{
				AgentID:    &id,
				AgentName:  &name,
				AgentCount: 1,
				Agents:     []capability.Holder{{AgentID: id, AgentName: name}},
			})
		}
		g := &groups[len(groups)-1]
		if r.Active {
			g.Agents[0].Active = true
		}
		g.Skills = append(g.Skills, capability.HeldSkill{
			SkillName: r.SkillName,
			Version:   r.Version,
			Active:    r.Active,
		})
	}
	for i := range groups {
		skills := groups[i].Skills
		sort.SliceStable(skills, func(a, b int) bool {
			return skillVersionLess(skills[a].SkillName, skills[a].Version, skills[b].SkillName, skills[b].Version)
		})
	}
	return groups
}

func (m *MemStore) DeactivateCapability(ctx context.Context, agentID int64, skillName string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Writes++
	if m.err != nil {
		return 0, m.err
	}
	r := m.find(agentID, skillName)
	if r == nil {
		return 0, nil
	}
	r.Active = false
	r.UpdatedAt = time.Now().UTC()
	return 1, nil
}

func (m *MemStore) find(agentID int64, skillName string) *capability.Record {
	for _, r := range m.rows {
		if r.AgentID == agentID && r.SkillName == skillName {
			return r
		}
	}
	return nil
}

// skillVersionLess orders by skill ascending, then version descending, both
// compared byte-wise.
func skillVersionLess(skillA, versionA, skillB, versionB string) bool {
	if skillA != skillB {
		return skillA < skillB
	}
	return versionA > versionB
}

func distinctAgents(hs []capability.Holder) int {
	seen := make(map[int64]struct{}, len(hs))
	for _, h := range hs {
		seen[h.AgentID] = struct{}{}
	}
	return len(seen)
}

func strPtr(s string) *string { return &s }

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

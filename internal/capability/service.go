package capability

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Service runs the registry operations against an injected Store. It holds
// no mutable state; concurrent writes to the same (agent, skill) resolve at
// the store, last write wins.
type Service struct {
	store     Store
	publisher Publisher
	logger    *zap.Logger
}

// NewService creates a Service. publisher may be nil.
func NewService(store Store, publisher Publisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, publisher: publisher, logger: logger}
}

// Register writes each capability in order, creating or (with upsert)
// updating rows. The first failing capability aborts the rest.
func (s *Service) Register(ctx context.Context, in RegisterInput) Envelope {
	res, err := s.register(ctx, in)
	if err != nil {
		s.logger.Warn("register capabilities failed",
			zap.Int64("agent_id", in.AgentID), zap.Error(err))
		return fail(err, "Failed to register capabilities")
	}
	s.logger.Info("capabilities registered",
		zap.Int64("agent_id", in.AgentID),
		zap.Int("created", res.Registered),
		zap.Int("updated", res.Updated))
	return res
}

func (s *Service) register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	if err := requireAgent(ctx, s.store, in.AgentID); err != nil {
		return nil, err
	}

	res := &RegisterResult{
		Success:      true,
		AgentID:      in.AgentID,
		Capabilities: make([]RegisteredCapability, 0, len(in.Capabilities)),
	}
	for _, spec := range in.Capabilities {
		outcome, err := s.store.WriteCapability(ctx, in.AgentID, spec, in.Upsert)
		if err != nil {
			if errors.Is(err, ErrDuplicateCapability) && !in.Upsert {
				return nil, errDuplicate(in.AgentID, spec.SkillName)
			}
			return nil, fmt.Errorf("write capability %q: %w", spec.SkillName, err)
		}

		evType := EventRegistered
		switch outcome {
		case Created:
			res.Registered++
		case Updated:
			res.Updated++
			evType = EventUpdated
		}

		rec, err := s.store.GetCapability(ctx, in.AgentID, spec.SkillName)
		if err != nil {
			return nil, fmt.Errorf("fetch capability %q: %w", spec.SkillName, err)
		}
		res.Capabilities = append(res.Capabilities, RegisteredCapability{
			ID:           rec.ID,
			SkillName:    rec.SkillName,
			Version:      rec.Version,
			Active:       rec.Active,
			RegisteredAt: rec.RegisteredAt,
		})

		s.publish(ctx, Event{
			Type:      evType,
			AgentID:   in.AgentID,
			SkillName: rec.SkillName,
			Version:   rec.Version,
			Active:    rec.Active,
		})
	}
	res.Message = fmt.Sprintf("Registered %d new, updated %d existing capabilities for agent %d",
		res.Registered, res.Updated, in.AgentID)
	return res, nil
}

// Get returns an agent's capabilities, optionally rendered for humans.
func (s *Service) Get(ctx context.Context, in GetInput) Envelope {
	if err := requireAgent(ctx, s.store, in.AgentID); err != nil {
		return fail(err, "Failed to retrieve capabilities")
	}

	caps, err := s.store.ListByAgent(ctx, AgentFilter{
		AgentID:    in.AgentID,
		ActiveOnly: in.ActiveOnly,
		SkillName:  in.SkillName,
	})
	if err != nil {
		s.logger.Warn("get capabilities failed", zap.Int64("agent_id", in.AgentID), zap.Error(err))
		return fail(err, "Failed to retrieve capabilities")
	}
	if caps == nil {
		caps = []Record{}
	}

	res := &GetResult{
		Success:      true,
		AgentID:      in.AgentID,
		Capabilities: caps,
		TotalCount:   len(caps),
	}
	for _, c := range caps {
		if c.Active {
			res.ActiveCount++
		}
	}
	if in.Format == FormatHuman {
		res.Formatted = RenderHuman(in.AgentID, caps, res.ActiveCount)
	}
	return res
}

// List aggregates capabilities across all agents.
func (s *Service) List(ctx context.Context, in ListInput) Envelope {
	groups, err := s.store.ListGroups(ctx, GroupFilter{
		SkillName:  in.SkillName,
		Version:    in.Version,
		ActiveOnly: in.ActiveOnly,
		GroupBy:    in.GroupBy,
	})
	if err != nil {
		s.logger.Warn("list capabilities failed", zap.Error(err))
		return fail(err, "Failed to list capabilities")
	}
	if groups == nil {
		groups = []Group{}
	}
	return &ListResult{Success: true, Capabilities: groups, TotalSkills: len(groups)}
}

// Deactivate marks a single capability inactive.
func (s *Service) Deactivate(ctx context.Context, in DeactivateInput) Envelope {
	if err := s.deactivate(ctx, in); err != nil {
		s.logger.Warn("deactivate capability failed",
			zap.Int64("agent_id", in.AgentID),
			zap.String("skill_name", in.SkillName),
			zap.Error(err))
		return fail(err, "Failed to deactivate capability")
	}
	s.logger.Info("capability deactivated",
		zap.Int64("agent_id", in.AgentID), zap.String("skill_name", in.SkillName))
	return &DeactivateResult{
		Success:   true,
		AgentID:   in.AgentID,
		SkillName: in.SkillName,
		Message:   fmt.Sprintf("Capability '%s' deactivated for agent %d", in.SkillName, in.AgentID),
	}
}

func (s *Service) deactivate(ctx context.Context, in DeactivateInput) error {
	if err := requireAgent(ctx, s.store, in.AgentID); err != nil {
		return err
	}
	n, err := s.store.DeactivateCapability(ctx, in.AgentID, in.SkillName)
	if err != nil {
		return fmt.Errorf("deactivate capability %q: %w", in.SkillName, err)
	}
	if n == 0 {
		return errCapabilityNotFound(in.AgentID, in.SkillName)
	}
	s.publish(ctx, Event{
		Type:      EventDeactivated,
		AgentID:   in.AgentID,
		SkillName: in.SkillName,
	})
	return nil
}

// publish forwards a committed change; failures are logged only.
func (s *Service) publish(ctx context.Context, ev Event) {
	if s.publisher == nil {
		return
	}
	ev.At = time.Now().UTC()
	if err := s.publisher.Publish(ctx, ev); err != nil {
		s.logger.Warn("publish capability event failed",
			zap.String("type", string(ev.Type)),
			zap.Int64("agent_id", ev.AgentID),
			zap.String("skill_name", ev.SkillName),
			zap.Error(err))
	}
}
